package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vasyahuyasa/ipscan/iptree"
)

func Test_dumpTree(t *testing.T) {
	tests := []struct {
		name    string
		blocks  []string
		format  string
		want    string
		wantErr bool
	}{
		{
			name:   "cidr merges siblings",
			blocks: []string{"10.0.0.0/24", "10.0.1.0/24"},
			format: dumpFormatCIDR,
			want:   "10.0.0.0/23\n",
		},
		{
			name:   "default format is cidr",
			blocks: []string{"10.0.1.0/24", "10.0.2.0/24"},
			want:   "10.0.1.0/24\n10.0.2.0/24\n",
		},
		{
			name:   "range joins unaligned neighbours",
			blocks: []string{"10.0.1.0/24", "10.0.2.0/24", "192.168.0.0/16"},
			format: dumpFormatRange,
			want:   "10.0.1.0-10.0.2.255\n192.168.0.0-192.168.255.255\n",
		},
		{
			name:   "empty tree",
			format: dumpFormatRange,
			want:   "",
		},
		{
			name:    "unknown format",
			blocks:  []string{"10.0.0.0/8"},
			format:  "json",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := iptree.New()
			for _, s := range tt.blocks {
				b, err := iptree.ParseBlock(s)
				require.NoError(t, err)
				require.NoError(t, tree.InsertBlock(b))
			}

			out := &bytes.Buffer{}

			err := dumpTree(out, tree, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, out.String())
		})
	}
}
