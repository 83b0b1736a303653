// Package iptree stores IPv4 address blocks in a bitwise trie.
//
// Whenever a block is added the tree is collapsed: a subtree where every
// address is included is replaced by a single Full node, and a subtree with no
// addresses stays Empty. Storage is therefore proportional to the number of
// boundaries between included and excluded ranges, which suits large
// continuous blocks.
//
// A Tree is not safe for concurrent use.
package iptree

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
)

type nodeKind uint8

const (
	kindEmpty nodeKind = iota
	kindFull
	kindBranch
)

// node is Empty as its zero value. Only branches own children.
type node struct {
	kind     nodeKind
	children *[2]node
}

type Tree struct {
	root     node
	branches int
}

func New() *Tree {
	return &Tree{}
}

// Insert adds the block ip/prefix. The tree is left untouched when the block
// is invalid.
func (t *Tree) Insert(ip uint32, prefix int) error {
	if err := Validate(uint64(ip), prefix); err != nil {
		return err
	}

	t.branches += t.root.insert(ip, 31, 31-prefix)

	return nil
}

func (t *Tree) InsertBlock(b Block) error {
	return t.Insert(b.IP, b.Prefix)
}

// Contains reports whether ip is covered by an inserted block.
func (t *Tree) Contains(ip uint32) bool {
	n := &t.root

	for bit := 31; ; bit-- {
		switch n.kind {
		case kindFull:
			return true
		case kindEmpty:
			return false
		}

		n = &n.children[(ip>>uint(bit))&1]
	}
}

func (t *Tree) IsEmpty() bool {
	return t.root.kind == kindEmpty
}

// Branches returns the number of branch nodes currently allocated.
func (t *Tree) Branches() int {
	return t.branches
}

// Walk calls fn for every maximal Full subtree in ascending address order.
// Walking stops early when fn returns false.
func (t *Tree) Walk(fn func(b Block) bool) {
	t.root.walk(0, 31, fn)
}

func (t *Tree) Blocks() []Block {
	var blocks []Block

	t.Walk(func(b Block) bool {
		blocks = append(blocks, b)
		return true
	})

	return blocks
}

func (t *Tree) Prefixes() []netip.Prefix {
	var prefixes []netip.Prefix

	t.Walk(func(b Block) bool {
		prefixes = append(prefixes, b.Prefix4())
		return true
	})

	return prefixes
}

// Dump writes the minimal set of blocks covering the tree, one a.b.c.d/n per
// line.
func (t *Tree) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)

	var err error

	t.Walk(func(b Block) bool {
		_, err = fmt.Fprintln(bw, b.String())
		return err == nil
	})

	if err != nil {
		return fmt.Errorf("cannot dump tree: %w", err)
	}

	return bw.Flush()
}

// insert returns the change in the number of branch nodes.
// bit is the address bit this node splits on, end is the last bit that
// belongs to the network part of the block being added (-1 for a /32).
func (n *node) insert(ip uint32, bit, end int) int {
	if n.kind == kindFull {
		return 0
	}

	if bit <= end {
		freed := n.release()
		*n = node{kind: kindFull}
		return -freed
	}

	delta := 0

	if n.kind == kindEmpty {
		*n = node{kind: kindBranch, children: &[2]node{}}
		delta++
	}

	delta += n.children[(ip>>uint(bit))&1].insert(ip, bit-1, end)

	if n.children[0].kind == kindFull && n.children[1].kind == kindFull {
		*n = node{kind: kindFull}
		delta--
	}

	return delta
}

// release drops the branch structure below n and returns how many branch
// nodes went away, n itself included.
func (n *node) release() int {
	if n.kind != kindBranch {
		return 0
	}

	freed := 1 + n.children[0].release() + n.children[1].release()
	n.children = nil

	return freed
}

func (n *node) walk(ip uint32, bit int, fn func(Block) bool) bool {
	switch n.kind {
	case kindEmpty:
		return true
	case kindFull:
		return fn(Block{IP: ip, Prefix: 31 - bit})
	}

	if !n.children[0].walk(ip, bit-1, fn) {
		return false
	}

	return n.children[1].walk(ip|1<<uint(bit), bit-1, fn)
}
