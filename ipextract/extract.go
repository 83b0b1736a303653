// Package ipextract finds dotted-decimal IPv4 literals, optionally followed by
// a /prefix, in arbitrary bytes.
//
// The scanner is tolerant rather than a validator: octets are accumulated
// without a range check (modulo 256) and prefixes are taken as written. A
// malformed partial literal is abandoned without hiding a valid literal that
// follows it.
package ipextract

import "fmt"

// DefaultPrefix is used when a literal has no /prefix suffix.
const DefaultPrefix = 32

type Candidate struct {
	IP     uint32
	Prefix int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%d.%d.%d.%d/%d", c.IP>>24, (c.IP>>16)&0xff, (c.IP>>8)&0xff, c.IP&0xff, c.Prefix)
}

type state uint8

const (
	stateScan state = iota
	stateOctet1
	stateDot1
	stateOctet2
	stateDot2
	stateOctet3
	stateDot3
	stateOctet4
	statePrefix1
	statePrefix2
)

var stateNames = [...]string{
	stateScan:    "scan",
	stateOctet1:  "octet1",
	stateDot1:    "dot1",
	stateOctet2:  "octet2",
	stateDot2:    "dot2",
	stateOctet3:  "octet3",
	stateDot3:    "dot3",
	stateOctet4:  "octet4",
	statePrefix1: "prefix1",
	statePrefix2: "prefix2",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("state(%d)", s)
}

// machine holds the accumulators of the literal being read.
type machine struct {
	state  state
	ip     uint32
	octet  uint8
	prefix int
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (m *machine) reset() {
	*m = machine{state: stateScan, prefix: DefaultPrefix}
}

// fold shifts the pending octet into ip.
func (m *machine) fold() {
	m.ip = m.ip<<8 | uint32(m.octet)
	m.octet = 0
}

func (m *machine) accumulate(c byte) {
	m.octet = m.octet*10 + (c - '0')
}

// step consumes one byte and reports whether a literal was completed by it.
// On found the caller reads ip/prefix before the machine is reset.
func (m *machine) step(c byte) (found bool) {
	switch m.state {
	case stateScan:
		if isDigit(c) {
			m.ip = 0
			m.octet = c - '0'
			m.state = stateOctet1
		}

	case stateOctet1, stateOctet2, stateOctet3:
		switch {
		case isDigit(c):
			m.accumulate(c)
		case c == '.':
			m.state++
		default:
			m.state = stateScan
		}

	case stateDot1, stateDot2, stateDot3:
		if !isDigit(c) {
			m.state = stateScan
			break
		}

		m.fold()
		m.octet = c - '0'
		m.state++

	case stateOctet4:
		switch {
		case isDigit(c):
			m.accumulate(c)
		case c == '/':
			m.fold()
			m.state = statePrefix1
		default:
			m.fold()
			return true
		}

	case statePrefix1:
		if !isDigit(c) {
			m.prefix = DefaultPrefix
			return true
		}

		m.prefix = int(c - '0')
		m.state = statePrefix2

	case statePrefix2:
		if isDigit(c) {
			m.prefix = m.prefix*10 + int(c-'0')
		}

		return true
	}

	return false
}

// finish handles the end of input and reports whether a pending literal is
// complete.
func (m *machine) finish() (found bool) {
	switch m.state {
	case stateOctet4:
		m.fold()
		return true
	case statePrefix1:
		m.prefix = DefaultPrefix
		return true
	case statePrefix2:
		return true
	}

	return false
}

// Scanner is a reusable scan context. The slice returned by Scan is owned by
// the Scanner and valid until the next call.
type Scanner struct {
	m     machine
	cands []Candidate
}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan returns the literals found in data, left to right.
func (s *Scanner) Scan(data []byte) []Candidate {
	s.cands = s.cands[:0]
	s.m.reset()

	for _, c := range data {
		if s.m.step(c) {
			s.emit()
		}
	}

	if s.m.finish() {
		s.emit()
	}

	return s.cands
}

// First returns the leftmost literal in data.
func (s *Scanner) First(data []byte) (Candidate, bool) {
	s.m.reset()

	for _, c := range data {
		if s.m.step(c) {
			return Candidate{IP: s.m.ip, Prefix: s.m.prefix}, true
		}
	}

	if s.m.finish() {
		return Candidate{IP: s.m.ip, Prefix: s.m.prefix}, true
	}

	return Candidate{}, false
}

func (s *Scanner) emit() {
	s.cands = append(s.cands, Candidate{IP: s.m.ip, Prefix: s.m.prefix})
	s.m.reset()
}

// Extract returns a freshly allocated list of the literals found in data.
func Extract(data []byte) []Candidate {
	var s Scanner

	cands := s.Scan(data)
	if len(cands) == 0 {
		return nil
	}

	return cands
}
