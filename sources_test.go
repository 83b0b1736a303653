package main

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vasyahuyasa/ipscan/iptree"
	"github.com/vasyahuyasa/ipscan/linebuf"
)

const awsTestRanges = `{
  "syncToken": "1580419873",
  "createDate": "2020-01-30-21-31-13",
  "prefixes": [
    {
      "ip_prefix": "15.177.8.0/21",
      "region": "us-west-1",
      "service": "ROUTE53_HEALTHCHECKS",
      "network_border_group": "us-west-1"
    },
    {
      "ip_prefix": "52.94.76.0/22",
      "region": "us-west-2",
      "service": "AMAZON",
      "network_border_group": "us-west-2"
    },
    {
      "ip_prefix": "52.95.255.1/28",
      "region": "us-west-2",
      "service": "AMAZON",
      "network_border_group": "us-west-2"
    }
  ]
}`

func newTestLoader() (*loader, *iptree.Tree, *metrics) {
	tree := iptree.New()
	m := newMetrics(prometheus.NewRegistry())

	return newLoader(tree, linebuf.New(), m), tree, m
}

func Test_loader_loadSource_File(t *testing.T) {
	clear, makeFile := tmpFileCreator()
	defer clear()

	tests := []struct {
		name        string
		cfg         sourceConfig
		contains    []uint32
		notContains []uint32
		wantAdded   float64
	}{
		{
			name: "simple text file",
			cfg: sourceConfig{
				Src:  makeFile(t, `123.123.123.123`),
				Type: "txt",
			},
			contains:    []uint32{ip4(123, 123, 123, 123)},
			notContains: []uint32{ip4(123, 123, 123, 122)},
			wantAdded:   1,
		},
		{
			name: "type defaults to txt",
			cfg: sourceConfig{
				Src: makeFile(t, "10.0.0.0/8\n"),
			},
			contains:  []uint32{ip4(10, 200, 3, 4)},
			wantAdded: 1,
		},
		{
			name: "simple text file with comment",
			cfg: sourceConfig{
				Src: makeFile(t, `####
						123.123.123.123 # simple ip addr
						###
						# 1.1.1.1 commented out`),
				Type: "txt",
			},
			contains:    []uint32{ip4(123, 123, 123, 123)},
			notContains: []uint32{ip4(1, 1, 1, 1)},
			wantAdded:   1,
		},
		{
			name: "simple text mask16",
			cfg: sourceConfig{
				Src:  makeFile(t, `123.123.0.0/16`),
				Type: "txt",
			},
			contains:    []uint32{ip4(123, 123, 123, 123), ip4(123, 123, 0, 0)},
			notContains: []uint32{ip4(123, 124, 0, 0)},
			wantAdded:   1,
		},
		{
			name: "only the first address of a line",
			cfg: sourceConfig{
				Src:  makeFile(t, "blocked 192.168.1.1 since 10.0.0.1\n"),
				Type: "txt",
			},
			contains:    []uint32{ip4(192, 168, 1, 1)},
			notContains: []uint32{ip4(10, 0, 0, 1)},
			wantAdded:   1,
		},
		{
			name: "malformed lines are skipped",
			cfg: sourceConfig{
				Src: makeFile(t, `no address here
10.0.0.1/24
1.2.3.4/40
172.16.0.0/12
`),
				Type: "txt",
			},
			contains:    []uint32{ip4(172, 20, 1, 1)},
			notContains: []uint32{ip4(10, 0, 0, 1), ip4(1, 2, 3, 4)},
			wantAdded:   1,
		},
		{
			name: "crlf line endings",
			cfg: sourceConfig{
				Src:  makeFile(t, "1.1.1.1\r\n2.2.2.0/24\r\n"),
				Type: "txt",
			},
			contains:  []uint32{ip4(1, 1, 1, 1), ip4(2, 2, 2, 200)},
			wantAdded: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, tree, m := newTestLoader()

			if err := l.loadSource(tt.cfg); err != nil {
				t.Fatal(err)
			}

			for _, ip := range tt.contains {
				if !tree.Contains(ip) {
					t.Errorf("tree does not contain %s", iptree.FormatIP(ip))
				}
			}

			for _, ip := range tt.notContains {
				if tree.Contains(ip) {
					t.Errorf("tree contains %s", iptree.FormatIP(ip))
				}
			}

			if got := testutil.ToFloat64(m.loadedBlocks); got != tt.wantAdded {
				t.Errorf("loaded blocks = %v, want %v", got, tt.wantAdded)
			}
		})
	}
}

func Test_loader_loadSource_Webserver(t *testing.T) {
	clear, makeServer := tmpWebServerCreator()
	defer clear()

	tests := []struct {
		name        string
		cfg         sourceConfig
		contains    []uint32
		notContains []uint32
	}{
		{
			name: "text list over http",
			cfg: sourceConfig{
				Src:  makeServer(t, "8.8.8.8\n8.8.4.0/24"),
				Type: "txt",
			},
			contains:    []uint32{ip4(8, 8, 8, 8), ip4(8, 8, 4, 4)},
			notContains: []uint32{ip4(8, 8, 8, 9)},
		},
		{
			name: "AWS ip ranges with filter",
			cfg: sourceConfig{
				Src:              makeServer(t, awsTestRanges),
				Type:             "aws_ip_ranges",
				AwsServiceFilter: []string{"ROUTE53_HEALTHCHECKS"},
			},
			contains:    []uint32{ip4(15, 177, 8, 245), ip4(15, 177, 15, 255)},
			notContains: []uint32{ip4(52, 94, 76, 1), ip4(15, 177, 16, 0)},
		},
		{
			name: "AWS ip ranges without filter",
			cfg: sourceConfig{
				Src:  makeServer(t, awsTestRanges),
				Type: "AWS_IP_RANGES",
			},
			contains: []uint32{ip4(15, 177, 8, 245), ip4(52, 94, 76, 1)},
			// host bits set, rejected
			notContains: []uint32{ip4(52, 95, 255, 1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, tree, _ := newTestLoader()

			if err := l.loadSource(tt.cfg); err != nil {
				t.Fatal(err)
			}

			for _, ip := range tt.contains {
				if !tree.Contains(ip) {
					t.Errorf("tree does not contain %s", iptree.FormatIP(ip))
				}
			}

			for _, ip := range tt.notContains {
				if tree.Contains(ip) {
					t.Errorf("tree contains %s", iptree.FormatIP(ip))
				}
			}
		})
	}
}

func Test_loader_loadSource_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "{not json")
	}))
	defer broken.Close()

	tests := []struct {
		name string
		cfg  sourceConfig
	}{
		{
			name: "missing file",
			cfg:  sourceConfig{Src: "/nonexistent/ipscan/list.txt", Type: "txt"},
		},
		{
			name: "http status",
			cfg:  sourceConfig{Src: ts.URL, Type: "txt"},
		},
		{
			name: "bad AWS json",
			cfg:  sourceConfig{Src: broken.URL, Type: "aws_ip_ranges"},
		},
		{
			name: "unknown type",
			cfg:  sourceConfig{Src: "x", Type: "csv"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, tree, _ := newTestLoader()

			if err := l.loadSource(tt.cfg); err == nil {
				t.Errorf("loadSource() expected error")
			}

			if !tree.IsEmpty() {
				t.Errorf("tree is not empty")
			}
		})
	}
}

func Test_loader_loadIP(t *testing.T) {
	tests := []struct {
		name       string
		ip         string
		wantErr    bool
		wantReason string
	}{
		{name: "address", ip: "192.0.2.1"},
		{name: "block", ip: "192.0.2.0/24"},
		{name: "host bits", ip: "192.0.2.1/24", wantErr: true, wantReason: rejectInvalidCIDR},
		{name: "prefix", ip: "192.0.2.0/33", wantErr: true, wantReason: rejectInvalidPrefix},
		{name: "no address", ip: "localhost", wantErr: true, wantReason: rejectNoAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, tree, m := newTestLoader()

			err := l.loadIP(tt.ip)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadIP() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr {
				if !tree.Contains(ip4(192, 0, 2, 1)) {
					t.Errorf("tree does not contain 192.0.2.1")
				}
				return
			}

			if got := testutil.ToFloat64(m.rejectedBlocks.WithLabelValues(tt.wantReason)); got != 1 {
				t.Errorf("rejected %s = %v, want 1", tt.wantReason, got)
			}
		})
	}
}

func Test_sourceConfig_validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     sourceConfig
		wantErr bool
	}{
		{name: "txt", cfg: sourceConfig{Src: "list.txt"}},
		{name: "txt without src", cfg: sourceConfig{Type: "txt"}, wantErr: true},
		{name: "aws", cfg: sourceConfig{Src: "https://ip-ranges.amazonaws.com/ip-ranges.json", Type: "aws_ip_ranges"}},
		{name: "geoip", cfg: sourceConfig{Src: "GeoLite2-Country.mmdb", Type: "geoip", Countries: []string{"CN"}}},
		{name: "geoip without countries", cfg: sourceConfig{Src: "GeoLite2-Country.mmdb", Type: "geoip"}, wantErr: true},
		{name: "hosts by names", cfg: sourceConfig{Type: "hosts", Names: []string{"example.org"}}},
		{name: "hosts without names", cfg: sourceConfig{Type: "hosts"}, wantErr: true},
		{name: "unknown", cfg: sourceConfig{Src: "x", Type: "csv"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.validate(); (err != nil) != tt.wantErr {
				t.Errorf("sourceConfig.validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_stripComment(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{line: "1.2.3.4", want: "1.2.3.4"},
		{line: "1.2.3.4 # office", want: "1.2.3.4 "},
		{line: "# 1.2.3.4", want: ""},
		{line: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := string(stripComment([]byte(tt.line))); got != tt.want {
				t.Errorf("stripComment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func ip4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func tmpWebServerCreator() (clear func(), factory func(t *testing.T, content string) string) {
	var servers []*httptest.Server

	return func() {
			for _, server := range servers {
				server.Close()
			}
		},
		func(t *testing.T, content string) string {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, content)
			}))

			servers = append(servers, server)

			return server.URL
		}
}

func tmpFileCreator() (clear func(), factory func(t *testing.T, content string) string) {
	var files []string

	return func() {
			for _, fname := range files {
				os.Remove(fname)
			}
		},
		func(t *testing.T, content string) string {
			file, err := ioutil.TempFile("", "*.txt")
			if err != nil {
				t.Fatal(err)
			}

			fname := file.Name()
			files = append(files, fname)

			if _, err = file.WriteString(content); err != nil {
				t.Fatal(err)
			}

			defer file.Close()

			return fname
		}
}
