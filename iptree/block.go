package iptree

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

var (
	ErrInvalidIP     = errors.New("invalid IP address")
	ErrInvalidCIDR   = errors.New("invalid CIDR block")
	ErrInvalidPrefix = errors.New("invalid prefix length")
)

// BlockError reports a block rejected by Validate.
type BlockError struct {
	IP     uint64
	Prefix int
	Err    error
}

func (e *BlockError) Error() string {
	if e.IP > 0xffffffff {
		return fmt.Sprintf("%d/%d: %v", e.IP, e.Prefix, e.Err)
	}

	return fmt.Sprintf("%s: %v", Block{IP: uint32(e.IP), Prefix: e.Prefix}, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// Block is an IPv4 CIDR block.
type Block struct {
	IP     uint32
	Prefix int
}

// Validate checks that ip fits in 32 bits, prefix is within [0,32] and no
// host bit of ip is set.
func Validate(ip uint64, prefix int) error {
	if ip > 0xffffffff {
		return &BlockError{IP: ip, Prefix: prefix, Err: ErrInvalidIP}
	}

	if prefix < 0 || prefix > 32 {
		return &BlockError{IP: ip, Prefix: prefix, Err: ErrInvalidPrefix}
	}

	if uint32(ip)&^Mask(prefix) != 0 {
		return &BlockError{IP: ip, Prefix: prefix, Err: ErrInvalidCIDR}
	}

	return nil
}

// Mask returns the network mask for prefix. prefix must be within [0,32].
func Mask(prefix int) uint32 {
	return ^uint32(0) << uint(32-prefix)
}

func (b Block) Valid() bool {
	return Validate(uint64(b.IP), b.Prefix) == nil
}

// Masked returns b with its host bits cleared.
func (b Block) Masked() Block {
	return Block{IP: b.IP & Mask(b.Prefix), Prefix: b.Prefix}
}

// Size is the number of addresses in the block.
func (b Block) Size() uint64 {
	return 1 << uint(32-b.Prefix)
}

func (b Block) Addr() netip.Addr {
	return AddrFrom(b.IP)
}

func (b Block) Prefix4() netip.Prefix {
	return netip.PrefixFrom(b.Addr(), b.Prefix)
}

func (b Block) String() string {
	return FormatIP(b.IP) + "/" + strconv.Itoa(b.Prefix)
}

func FormatIP(ip uint32) string {
	var buf [15]byte

	out := strconv.AppendUint(buf[:0], uint64(ip>>24), 10)
	out = append(out, '.')
	out = strconv.AppendUint(out, uint64((ip>>16)&0xff), 10)
	out = append(out, '.')
	out = strconv.AppendUint(out, uint64((ip>>8)&0xff), 10)
	out = append(out, '.')
	out = strconv.AppendUint(out, uint64(ip&0xff), 10)

	return string(out)
}

func AddrFrom(ip uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)})
}

// AddrTo returns the 32-bit form of an IPv4 (or IPv4-mapped IPv6) address.
func AddrTo(addr netip.Addr) (uint32, bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, false
	}

	b := addr.As4()

	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}

// ParseBlock parses a strict a.b.c.d or a.b.c.d/n literal. Surrounding
// whitespace is ignored. Host bits are kept so Validate can reject them.
func ParseBlock(s string) (Block, error) {
	s = strings.TrimSpace(s)

	prefix := 32
	addrPart := s

	if i := strings.IndexByte(s, '/'); i != -1 {
		addrPart = s[:i]

		p, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return Block{}, fmt.Errorf("cannot parse prefix of %q: %w", s, ErrInvalidPrefix)
		}

		prefix = p
	}

	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return Block{}, fmt.Errorf("cannot parse %q: %w", s, ErrInvalidIP)
	}

	ip, ok := AddrTo(addr)
	if !ok {
		return Block{}, fmt.Errorf("%q is not IPv4: %w", s, ErrInvalidIP)
	}

	if prefix < 0 || prefix > 32 {
		return Block{}, &BlockError{IP: uint64(ip), Prefix: prefix, Err: ErrInvalidPrefix}
	}

	return Block{IP: ip, Prefix: prefix}, nil
}
