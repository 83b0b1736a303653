package main

import (
	"bufio"
	"fmt"
	"io"

	"go4.org/netipx"

	"github.com/vasyahuyasa/ipscan/iptree"
)

const (
	dumpFormatCIDR  = "cidr"
	dumpFormatRange = "range"
)

func dumpTree(w io.Writer, tree *iptree.Tree, format string) error {
	switch format {
	case "", dumpFormatCIDR:
		return tree.Dump(w)
	case dumpFormatRange:
		return dumpRanges(w, tree)
	default:
		return fmt.Errorf("unknown dump format %q (supported: %s, %s)", format, dumpFormatCIDR, dumpFormatRange)
	}
}

// dumpRanges prints first-last ranges. Unlike the CIDR dump, neighbouring
// blocks that do not share an aligned parent are merged.
func dumpRanges(w io.Writer, tree *iptree.Tree) error {
	builder := netipx.IPSetBuilder{}

	for _, p := range tree.Prefixes() {
		builder.AddPrefix(p)
	}

	set, err := builder.IPSet()
	if err != nil {
		return fmt.Errorf("cannot build ip set: %w", err)
	}

	bw := bufio.NewWriter(w)

	for _, r := range set.Ranges() {
		if _, err := fmt.Fprintln(bw, r.String()); err != nil {
			return fmt.Errorf("cannot dump ranges: %w", err)
		}
	}

	return bw.Flush()
}
