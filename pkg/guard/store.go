// Package guard provides an HTTP middleware that allows or blocks requests
// based on client IP membership in a prefix set.
package guard

import (
	"net/netip"
	"sync/atomic"

	"github.com/prefixset/prefixset"
)

// snapshot holds the two address-family sets and their combined entry count
// together so a reader never observes a v4/v6 pair from two different
// generations.
type snapshot struct {
	v4    *prefixset.Set
	v6    *prefixset.Set
	count int
}

// Store provides thread-safe prefix-set membership testing using lock-free
// reads. A new set pair is published atomically; readers in flight continue
// to see the prior generation until their next lookup.
type Store struct {
	data atomic.Value // holds *snapshot
}

// NewStore creates an empty Store. Contains returns false for every address
// until Update publishes a set.
func NewStore() *Store {
	s := &Store{}
	s.data.Store(&snapshot{})
	return s
}

// Contains reports whether addr is present in the currently published sets.
func (s *Store) Contains(addr netip.Addr) bool {
	data := s.data.Load().(*snapshot)
	if addr.Is4() || addr.Is4In6() {
		if data.v4 == nil {
			return false
		}
		return data.v4.Contains(addr.Unmap())
	}
	if data.v6 == nil {
		return false
	}
	return data.v6.Contains(addr)
}

// Update atomically replaces the published sets. Either set may be nil,
// meaning no addresses of that family are currently known.
func (s *Store) Update(v4, v6 *prefixset.Set, count int) {
	s.data.Store(&snapshot{v4: v4, v6: v6, count: count})
}

// Count returns the number of prefixes behind the currently published sets.
func (s *Store) Count() int {
	data := s.data.Load().(*snapshot)
	return data.count
}
