package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/vasyahuyasa/ipscan/ipextract"
	"github.com/vasyahuyasa/ipscan/iptree"
	"github.com/vasyahuyasa/ipscan/linebuf"
	"github.com/vasyahuyasa/ipscan/log"
)

// filter prints the lines of its inputs whose selected IP is (or, inverted,
// is not) in the tree. A line without a selected IP never matches.
type filter struct {
	tree    *iptree.Tree
	buf     *linebuf.Buffer
	scanner *ipextract.Scanner
	out     io.Writer
	metrics *metrics

	position int
	invert   bool

	warnedOutOfBounds bool
}

func newFilter(tree *iptree.Tree, buf *linebuf.Buffer, out io.Writer, m *metrics, position int, invert bool) *filter {
	return &filter{
		tree:     tree,
		buf:      buf,
		scanner:  ipextract.NewScanner(),
		out:      out,
		metrics:  m,
		position: position,
		invert:   invert,
	}
}

// run filters r until the end of the stream. If r is an io.Closer it is
// closed when run returns.
func (f *filter) run(r io.Reader) error {
	if err := f.buf.Init(r); err != nil {
		f.buf.Close()
		f.metrics.inputErrors.Inc()
		return fmt.Errorf("cannot read input: %w", err)
	}

	defer f.buf.Close()

	for {
		err := f.buf.LoadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			f.metrics.inputErrors.Inc()
			return fmt.Errorf("cannot read input: %w", err)
		}

		if f.matchLine(f.buf.Line()) == f.invert {
			continue
		}

		if err := f.buf.WriteLine(f.out); err != nil {
			return &writeError{err: err}
		}

		f.metrics.printedLines.Inc()
	}
}

func (f *filter) matchLine(line []byte) bool {
	matched, err := ipextract.Match(f.scanner.Scan(line), f.position, f.tree.Contains)

	switch {
	case errors.Is(err, ipextract.ErrOutOfBounds):
		f.metrics.lines.WithLabelValues(resultOutOfBounds).Inc()

		if !f.warnedOutOfBounds {
			log.Warnf("IP position %d is out of bounds for at least some lines in the input stream", f.position)
			f.warnedOutOfBounds = true
		}

	case errors.Is(err, ipextract.ErrNoAddress):
		f.metrics.lines.WithLabelValues(resultNoAddress).Inc()
		log.Debugf("no IP address in %q", line)

	case matched:
		f.metrics.lines.WithLabelValues(resultMatch).Inc()

	default:
		f.metrics.lines.WithLabelValues(resultNoMatch).Inc()
	}

	return matched
}

type writeError struct {
	err error
}

func (e *writeError) Error() string {
	return fmt.Sprintf("cannot write output: %v", e.err)
}

func (e *writeError) Unwrap() error {
	return e.err
}
