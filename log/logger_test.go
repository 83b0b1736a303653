package log

import (
	"bytes"
	stdlog "log"
	"os"
	"testing"
)

func TestWarnfAndDebugf(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	SetFlags(0)
	defer func() {
		SetOutput(os.Stderr)
		SetFlags(stdlog.LstdFlags)
		SetVerbose(true)
		EnableDebug(false)
	}()

	tests := []struct {
		name    string
		verbose bool
		debug   bool
		want    string
	}{
		{name: "defaults", verbose: true, debug: false, want: "warning: w\n"},
		{name: "quiet", verbose: false, debug: false, want: ""},
		{name: "debug", verbose: false, debug: true, want: "d\n"},
		{name: "all", verbose: true, debug: true, want: "warning: w\nd\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			SetVerbose(tt.verbose)
			EnableDebug(tt.debug)

			Warnf("w")
			Debugf("d")

			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}
