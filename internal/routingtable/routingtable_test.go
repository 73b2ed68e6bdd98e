package routingtable

import (
	"testing"

	"dhtnode/internal/domain"
)

func testSpace(t *testing.T) domain.Space {
	t.Helper()
	sp, err := domain.NewSpace(8, 3)
	if err != nil {
		t.Fatalf("NewSpace failed: %v", err)
	}
	return sp
}

func node(sp domain.Space, id uint64, addr string) domain.NodeRef {
	return domain.NodeRef{ID: sp.FromUint64(id), Addr: addr}
}

func TestInitSingleNode(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)
	rt.InitSingleNode()

	for k := 0; k < rt.M(); k++ {
		got, ok := rt.GetFinger(k)
		if !ok || !got.Equal(self) {
			t.Fatalf("finger[%d] = %+v, want self", k, got)
		}
	}
	succ, ok := rt.FirstSuccessor()
	if !ok || !succ.Equal(self) {
		t.Fatalf("FirstSuccessor = %+v, want self", succ)
	}
	pred, ok := rt.GetPredecessor()
	if !ok || !pred.Equal(self) {
		t.Fatalf("GetPredecessor = %+v, want self", pred)
	}
}

func TestFingerStartFormula(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)

	// finger[0].start = (78 + 1) mod 256 = 79
	want0 := sp.FromUint64(79)
	if got := rt.FingerStart(0); !got.Equal(want0) {
		t.Errorf("FingerStart(0) = %s, want %s", got.String(), want0.String())
	}
	// finger[3].start = (78 + 8) mod 256 = 86
	want3 := sp.FromUint64(86)
	if got := rt.FingerStart(3); !got.Equal(want3) {
		t.Errorf("FingerStart(3) = %s, want %s", got.String(), want3.String())
	}
	// finger[7].start = (78 + 128) mod 256 = 206
	want7 := sp.FromUint64(206)
	if got := rt.FingerStart(7); !got.Equal(want7) {
		t.Errorf("FingerStart(7) = %s, want %s", got.String(), want7.String())
	}
}

func TestClosestPrecedingFinger(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)

	n116 := node(sp, 116, "n116:9000")
	n150 := node(sp, 150, "n150:9000")
	n200 := node(sp, 200, "n200:9000")

	rt.SetFinger(0, n116)
	rt.SetFinger(1, n116)
	rt.SetFinger(2, n116)
	rt.SetFinger(3, n116)
	rt.SetFinger(4, n150)
	rt.SetFinger(5, n200)
	rt.SetFinger(6, n200)
	rt.SetFinger(7, n200)

	// Looking for 200: the closest preceding finger strictly between
	// (78, 200) should be n150.
	got := rt.ClosestPrecedingFinger(sp.FromUint64(200), 1)
	if !got.Equal(n150) {
		t.Errorf("ClosestPrecedingFinger(200, 1) = %+v, want %+v", got, n150)
	}
}

func TestClosestPrecedingFingerFallBackSkipsCloserCandidates(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)

	n116 := node(sp, 116, "n116:9000")
	n150 := node(sp, 150, "n150:9000")

	rt.SetFinger(4, n116)
	rt.SetFinger(5, n150)

	target := sp.FromUint64(200)
	if got := rt.ClosestPrecedingFinger(target, 1); !got.Equal(n150) {
		t.Fatalf("fallback 1 = %+v, want %+v", got, n150)
	}
	if got := rt.ClosestPrecedingFinger(target, 2); !got.Equal(n116) {
		t.Fatalf("fallback 2 = %+v, want %+v", got, n116)
	}
	if got := rt.ClosestPrecedingFinger(target, 3); !got.Equal(self) {
		t.Fatalf("fallback 3 (exhausted) = %+v, want self", got)
	}
}

func TestClosestPrecedingFingerFallsBackToSelf(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)

	got := rt.ClosestPrecedingFinger(sp.FromUint64(200), 1)
	if !got.Equal(self) {
		t.Errorf("ClosestPrecedingFinger with empty table = %+v, want self", got)
	}
}

func TestPromoteCandidateShiftsAndPads(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)

	n1 := node(sp, 116, "n116:9000")
	n2 := node(sp, 150, "n150:9000")
	n3 := node(sp, 200, "n200:9000")
	rt.SetSuccessorList([]domain.NodeRef{n1, n2, n3})

	rt.PromoteCandidate(1)

	got := rt.SuccessorList()
	if len(got) != 2 || !got[0].Equal(n2) || !got[1].Equal(n3) {
		t.Fatalf("SuccessorList after promote = %+v, want [%+v %+v]", got, n2, n3)
	}
}

func TestSetSuccessorListLengthMismatchIsNoOp(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)

	rt.SetSuccessorList([]domain.NodeRef{node(sp, 1, "a")})
	if got := rt.SuccessorList(); len(got) != 0 {
		t.Fatalf("expected no-op on length mismatch, got %+v", got)
	}
}

func TestPredecessorClear(t *testing.T) {
	sp := testSpace(t)
	self := node(sp, 78, "n78:9000")
	rt := New(self, sp, 3)

	rt.SetPredecessor(node(sp, 50, "n50:9000"))
	if _, ok := rt.GetPredecessor(); !ok {
		t.Fatal("expected predecessor to be set")
	}
	rt.ClearPredecessor()
	if _, ok := rt.GetPredecessor(); ok {
		t.Fatal("expected predecessor to be cleared")
	}
}
