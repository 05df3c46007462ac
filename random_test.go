package prefixset

import (
	"math/rand"
	"net/netip"
	"testing"
)

func randomIP4(prng *rand.Rand) netip.Addr {
	var b [4]byte
	for i := range b {
		b[i] = byte(prng.Intn(256))
	}
	return netip.AddrFrom4(b)
}

func randomPrefix4(prng *rand.Rand) (netip.Addr, int) {
	bits := prng.Intn(33)
	return netip.PrefixFrom(randomIP4(prng), bits).Masked().Addr(), bits
}

// refContains is the property-based reference: an address is in the
// set iff some inserted (prefix, len) shares its top len bits.
func refContains(prefixes [][2]any, addr netip.Addr) bool {
	for _, p := range prefixes {
		pfx := p[0].(netip.Addr)
		bits := p[1].(int)
		if netip.PrefixFrom(pfx, bits).Contains(addr) {
			return true
		}
	}
	return false
}

func TestRandomAgainstReference(t *testing.T) {
	prng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		n := prng.Intn(200)
		var prefixes [][2]any
		b := NewV4()
		for i := 0; i < n; i++ {
			addr, bits := randomPrefix4(prng)
			b.Add(addr, bits)
			prefixes = append(prefixes, [2]any{addr, bits})
		}
		s := b.Build()

		for i := 0; i < 100; i++ {
			probe := randomIP4(prng)
			want := refContains(prefixes, probe)
			got := s.Contains(probe)
			if got != want {
				t.Fatalf("trial %d: Contains(%s) = %v, want %v (n=%d prefixes)", trial, probe, got, want, n)
			}
		}
	}
}

func TestRandomSubsumption(t *testing.T) {
	prng := rand.New(rand.NewSource(3))

	for trial := 0; trial < 20; trial++ {
		addr, bits := randomPrefix4(prng)
		if bits == 32 {
			continue
		}
		narrowerBits := bits + 1 + prng.Intn(32-bits)
		narrower := addr

		b1 := NewV4()
		b1.Add(addr, bits)
		s1 := b1.Build()

		b2 := NewV4()
		b2.Add(addr, bits)
		b2.Add(narrower, narrowerBits)
		s2 := b2.Build()

		for i := 0; i < 50; i++ {
			probe := randomIP4(prng)
			if s1.Contains(probe) != s2.Contains(probe) {
				t.Fatalf("trial %d: adding narrower prefix %s/%d changed Contains(%s)", trial, narrower, narrowerBits, probe)
			}
		}
	}
}
