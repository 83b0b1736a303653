package ipextract

import "errors"

var (
	ErrNoAddress   = errors.New("no IP address found")
	ErrOutOfBounds = errors.New("IP position out of bounds")
)

// Select picks the candidates a match is tested against. Position 0 selects
// all of them (a match on any counts), k > 0 selects the k-th from the left
// and k < 0 the k-th from the right.
func Select(cands []Candidate, pos int) ([]Candidate, error) {
	if len(cands) == 0 {
		return nil, ErrNoAddress
	}

	if pos == 0 {
		return cands, nil
	}

	idx := pos - 1
	if pos < 0 {
		idx = len(cands) + pos
	}

	if idx < 0 || idx >= len(cands) {
		return nil, ErrOutOfBounds
	}

	return cands[idx : idx+1], nil
}

// Match reports whether any selected candidate satisfies contains.
func Match(cands []Candidate, pos int, contains func(ip uint32) bool) (bool, error) {
	selected, err := Select(cands, pos)
	if err != nil {
		return false, err
	}

	for _, c := range selected {
		if contains(c.IP) {
			return true, nil
		}
	}

	return false, nil
}
