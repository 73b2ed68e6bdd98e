package domain

import "testing"

// newTestSpace builds the m=8, R=256 ring used throughout the scenarios
// this node's behavior is checked against.
func newTestSpace(t *testing.T) Space {
	t.Helper()
	sp, err := NewSpace(8, 3)
	if err != nil {
		t.Fatalf("NewSpace failed: %v", err)
	}
	return sp
}

func TestBetweenWholeRingWhenEqual(t *testing.T) {
	sp := newTestSpace(t)
	a := sp.FromUint64(78)

	for _, v := range []uint64{0, 1, 78, 200, 255} {
		x := sp.FromUint64(v)
		if !x.Between(a, a) {
			t.Errorf("Between(%d, %d, %d) = false, want true (whole ring)", v, 78, 78)
		}
	}
}

func TestBetweenLinear(t *testing.T) {
	sp := newTestSpace(t)
	a := sp.FromUint64(78)
	b := sp.FromUint64(150)

	cases := []struct {
		x    uint64
		want bool
	}{
		{78, false},  // strictly greater than a
		{79, true},
		{150, true},  // inclusive upper bound
		{151, false},
		{200, false},
	}
	for _, c := range cases {
		x := sp.FromUint64(c.x)
		if got := x.Between(a, b); got != c.want {
			t.Errorf("Between(%d, 78, 150) = %v, want %v", c.x, got, c.want)
		}
	}
}

func TestBetweenWrapAround(t *testing.T) {
	sp := newTestSpace(t)
	a := sp.FromUint64(200)
	b := sp.FromUint64(78)

	cases := []struct {
		x    uint64
		want bool
	}{
		{201, true},
		{255, true},
		{0, true},
		{78, true},
		{79, false},
		{150, false},
		{200, false},
	}
	for _, c := range cases {
		x := sp.FromUint64(c.x)
		if got := x.Between(a, b); got != c.want {
			t.Errorf("Between(%d, 200, 78) = %v, want %v", c.x, got, c.want)
		}
	}
}

func TestOffsetFingerStart(t *testing.T) {
	sp := newTestSpace(t)
	self := sp.FromUint64(116)

	cases := []struct {
		k    int
		want uint64
	}{
		{0, 117},   // 116 + 2^0
		{1, 118},   // 116 + 2^1
		{2, 120},   // 116 + 2^2
		{3, 124},   // 116 + 2^3
		{7, 244},   // 116 + 2^7
	}
	for _, c := range cases {
		got, err := sp.Offset(self, c.k)
		if err != nil {
			t.Fatalf("Offset(116, %d) error: %v", c.k, err)
		}
		want := sp.FromUint64(c.want)
		if !got.Equal(want) {
			t.Errorf("Offset(116, %d) = %s, want %s", c.k, got.ToHexString(false), want.ToHexString(false))
		}
	}
}

func TestOffsetWrapsModuloRing(t *testing.T) {
	sp := newTestSpace(t)
	self := sp.FromUint64(250)

	got, err := sp.Offset(self, 4) // 250 + 16 = 266 mod 256 = 10
	if err != nil {
		t.Fatalf("Offset error: %v", err)
	}
	want := sp.FromUint64(10)
	if !got.Equal(want) {
		t.Errorf("Offset(250, 4) = %s, want %s", got.ToHexString(false), want.ToHexString(false))
	}
}

func TestReplicaKeysDeterministicAndDistinct(t *testing.T) {
	sp := newTestSpace(t)
	base := sp.NewIdFromString("some-key")

	rep1 := sp.ReplicaKeys(base, 3)
	rep2 := sp.ReplicaKeys(base, 3)

	if len(rep1) != 3 {
		t.Fatalf("expected 3 replica keys, got %d", len(rep1))
	}
	if !rep1[0].Equal(base) {
		t.Errorf("first replica key must equal the base key")
	}
	for i := range rep1 {
		if !rep1[i].Equal(rep2[i]) {
			t.Errorf("ReplicaKeys is not deterministic at index %d", i)
		}
	}
	if rep1[0].Equal(rep1[1]) || rep1[1].Equal(rep1[2]) {
		t.Errorf("replica keys collapsed to the same identifier")
	}
}

func TestNewIdFromStringIsSHA256Derived(t *testing.T) {
	sp, err := NewSpace(256, 3)
	if err != nil {
		t.Fatalf("NewSpace failed: %v", err)
	}
	id := sp.NewIdFromString("hello")
	if err := sp.IsValidID(id); err != nil {
		t.Fatalf("derived ID invalid: %v", err)
	}
	if len(id) != 32 {
		t.Fatalf("expected 32-byte (256-bit) SHA-256 digest, got %d bytes", len(id))
	}
}

func TestFromHexStringRejectsOutOfRange(t *testing.T) {
	sp := newTestSpace(t)
	if _, err := sp.FromHexString("1ff"); err == nil {
		t.Errorf("expected error for value exceeding 8-bit space")
	}
	id, err := sp.FromHexString("4e") // 78
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Equal(sp.FromUint64(78)) {
		t.Errorf("FromHexString(4e) != FromUint64(78)")
	}
}
