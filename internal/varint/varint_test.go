package varint

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 2, 63, 64, 127, 128, 129, 255, 256,
		1 << 13, 1<<13 - 1, 1 << 14, 1 << 20, 1 << 21,
		math.MaxUint32, math.MaxUint32 + 1, math.MaxUint64,
	}

	for _, v := range values {
		buf := Append(nil, v)
		got, n := Read(buf)
		if got != v {
			t.Errorf("Read(Append(%d)) = %d, want %d", v, got, v)
		}
		if n != len(buf) {
			t.Errorf("Read(Append(%d)) consumed %d bytes, want %d", v, n, len(buf))
		}
	}
}

func TestZeroIsOneByte(t *testing.T) {
	buf := Append(nil, 0)
	if len(buf) != 1 || buf[0] != 0x00 {
		t.Fatalf("Append(0) = %v, want [0x00]", buf)
	}
}

func TestShortestForm(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
	}
	for _, c := range cases {
		buf := Append(nil, c.v)
		if len(buf) != c.want {
			t.Errorf("Append(%d) produced %d bytes, want %d", c.v, len(buf), c.want)
		}
	}
}

func TestAppendPreservesPrefix(t *testing.T) {
	buf := []byte{0xAA, 0xBB}
	out := Append(buf, 300)
	if out[0] != 0xAA || out[1] != 0xBB {
		t.Fatalf("Append clobbered existing prefix: %v", out)
	}
	v, n := Read(out[2:])
	if v != 300 || n != 2 {
		t.Fatalf("Read after prefix = (%d, %d), want (300, 2)", v, n)
	}
}
