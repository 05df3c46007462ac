package prefixset

import (
	"net/netip"

	"github.com/prefixset/prefixset/internal/varint"
)

// Set is an immutable, compact IP-prefix set produced by Builder.Build.
// Once built, a Set holds a single contiguous byte buffer and answers
// Contains by walking it; it has no mutable state and is safe for
// unsynchronized concurrent use by any number of goroutines.
type Set struct {
	buf   []byte
	bits  int
	empty bool // true only for a Set built from a Builder that never received an Add
	stats BuildStats
}

// Bits returns the address width this Set was built for: 32 or 128.
func (s *Set) Bits() int {
	return s.bits
}

// Stats reports how Build converged to produce this Set. It is purely
// diagnostic: two Sets built from the same prefixes always agree on
// Contains regardless of what Stats reports.
func (s *Set) Stats() BuildStats {
	return s.stats
}

// Contains reports whether addr falls within any prefix the set was
// built from. It never fails: a query against a well-formed Set
// either returns true or false.
func (s *Set) Contains(addr netip.Addr) bool {
	if s.empty {
		return false
	}

	var addrBytes []byte
	switch s.bits {
	case 32:
		if !addr.Is4() {
			return false
		}
		a4 := addr.As4()
		addrBytes = a4[:]
	case 128:
		if addr.Is4() {
			return false
		}
		a16 := addr.As16()
		addrBytes = a16[:]
	default:
		return false
	}

	offset := 0
	for i := 0; i < s.bits; i++ {
		leftDelta, n := varint.Read(s.buf[offset:])
		rightDelta, _ := varint.Read(s.buf[offset+n:])

		if leftDelta == 0 && rightDelta == 0 {
			return true // reached a Matched node
		}

		bit := bitAt(addrBytes, i)
		if bit == 0 {
			if leftDelta == 0 {
				return false
			}
			offset += int(leftDelta)
		} else {
			if rightDelta == 0 {
				return false
			}
			offset = offset + n + int(rightDelta)
		}
	}

	// All address bits consumed without hitting a Matched node or a
	// missing child. The loop only decodes nodes at depths 0 to bits-1,
	// so this is where every lookup matching a full-length (/32 or /128)
	// prefix ends: the node reached at depth bits exists only because
	// Builder.Add marked it Matched.
	return true
}
