package node

import (
	"context"
	"testing"
	"time"

	"dhtnode/internal/dhterr"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/peerrpc"
	"dhtnode/internal/routingtable"
	"dhtnode/internal/storage"
)

func testNode(t *testing.T, id uint64, addr string) (*Node, domain.Space) {
	t.Helper()
	sp, err := domain.NewSpace(8, 3)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	self := domain.NodeRef{ID: sp.FromUint64(id), Addr: addr}
	rt := routingtable.New(self, sp, 3)
	rt.InitSingleNode()
	cp := peerrpc.NewPool(&logger.NopLogger{}, sp, time.Second, 0)
	n := New(rt, storage.NewMemoryStore(&logger.NopLogger{}), cp, Config{
		ReplicationCount: 2,
		StabilizeEvery:   time.Hour,
		FixFingerEvery:   time.Hour,
		CheckPredEvery:   time.Hour,
	})
	return n, sp
}

func TestFindSuccessorRecLocalTerminal(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")

	succ, _, err := n.FindSuccessorRec(context.Background(), sp.FromUint64(10), false)
	if err != nil {
		t.Fatalf("FindSuccessorRec: %v", err)
	}
	if !succ.Equal(n.Self()) {
		t.Fatalf("single-node ring: successor = %+v, want self", succ)
	}
}

func TestUpdateFingerTableAdoptsCloserCandidate(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")
	better := domain.NodeRef{ID: sp.FromUint64(90), Addr: "n90:9000"}

	if err := n.UpdateFingerTable(context.Background(), 0, better); err != nil {
		t.Fatalf("UpdateFingerTable: %v", err)
	}
	got, ok := n.RoutingTable().GetFinger(0)
	if !ok || !got.Equal(better) {
		t.Fatalf("finger[0] = %+v, want %+v", got, better)
	}
}

func TestUpdateFingerTableRejectsFartherCandidate(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")
	closer := domain.NodeRef{ID: sp.FromUint64(90), Addr: "n90:9000"}
	if err := n.UpdateFingerTable(context.Background(), 0, closer); err != nil {
		t.Fatalf("UpdateFingerTable: %v", err)
	}

	farther := domain.NodeRef{ID: sp.FromUint64(95), Addr: "n95:9000"}
	if err := n.UpdateFingerTable(context.Background(), 0, farther); err != nil {
		t.Fatalf("UpdateFingerTable: %v", err)
	}

	got, ok := n.RoutingTable().GetFinger(0)
	if !ok || !got.Equal(closer) {
		t.Fatalf("finger[0] = %+v, want unchanged %+v", got, closer)
	}
}

func TestUpdateFingerTableKeepsSuccessor0Mirrored(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")
	candidate := domain.NodeRef{ID: sp.FromUint64(90), Addr: "n90:9000"}

	if err := n.UpdateFingerTable(context.Background(), 0, candidate); err != nil {
		t.Fatalf("UpdateFingerTable: %v", err)
	}
	succ, ok := n.RoutingTable().FirstSuccessor()
	if !ok || !succ.Equal(candidate) {
		t.Fatalf("successor_list[0] = %+v, want %+v", succ, candidate)
	}
}

func TestDHTPutRejectsKeyOutsideResponsibility(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")
	n.RoutingTable().SetPredecessor(domain.NodeRef{ID: sp.FromUint64(50), Addr: "n50:9000"})

	// self owns (50, 78]; 10 falls outside that range.
	rec := domain.StoredRecord{Key: sp.FromUint64(10), RawKey: "k", Value: "v", TTL: time.Minute}
	err := n.DHTPut(context.Background(), rec)
	if err == nil {
		t.Fatal("expected not_responsible error for out-of-range key")
	}
	if dhterr.KindOf(err) != dhterr.KindNotResponsible {
		t.Fatalf("error kind = %v, want %v", dhterr.KindOf(err), dhterr.KindNotResponsible)
	}
}

func TestDHTGetAcceptsKeyWithinResponsibility(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")
	n.RoutingTable().SetPredecessor(domain.NodeRef{ID: sp.FromUint64(50), Addr: "n50:9000"})

	key := sp.FromUint64(60) // falls in (50, 78]
	if err := n.s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "v", TTL: time.Minute}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	recs, err := n.DHTGet(context.Background(), key)
	if err != nil {
		t.Fatalf("DHTGet: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestFixFingerTickNeverTouchesFinger0(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")
	sentinel := domain.NodeRef{ID: sp.FromUint64(90), Addr: "n90:9000"}
	n.RoutingTable().SetFinger(0, sentinel)

	// Force nextFinger to wrap back to 0 under a naive (next+1) mod m.
	n.nextFinger.Store(int32(n.rt.M() - 1))
	n.fixFingerTick()

	got, ok := n.RoutingTable().GetFinger(0)
	if !ok || !got.Equal(sentinel) {
		t.Fatalf("finger[0] = %+v, want untouched %+v", got, sentinel)
	}
}

func TestUpdatePredecessorAdoptsCloserCandidate(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")

	// Key 60 falls in (50, 78], the range self keeps after adopting a
	// predecessor at 50; it must never be selected for handoff.
	n.s.Put(domain.StoredRecord{Key: sp.FromUint64(60), RawKey: "k60", Value: "v", TTL: time.Minute})

	candidate := domain.NodeRef{ID: sp.FromUint64(50), Addr: "n50:9000"}
	if err := n.UpdatePredecessor(context.Background(), candidate); err != nil {
		t.Fatalf("UpdatePredecessor: %v", err)
	}

	pred, ok := n.RoutingTable().GetPredecessor()
	if !ok || !pred.Equal(candidate) {
		t.Fatalf("predecessor = %+v, want %+v", pred, candidate)
	}
	if got := n.s.Get(sp.FromUint64(60)); len(got) != 1 {
		t.Fatalf("expected key 60 to remain local (owned range), got %d values", len(got))
	}
}

func TestReplicationCountClampsToKnownRingSize(t *testing.T) {
	n, _ := testNode(t, 78, "n78:9000")
	n.cfg.ReplicationCount = 10 // far more than the single known node

	if got := n.replicationCount(0); got != 1 {
		t.Fatalf("replicationCount = %d, want 1 (clamped to known ring size)", got)
	}
}

func TestHandleLeaveIgnoresNonPredecessor(t *testing.T) {
	n, sp := testNode(t, 78, "n78:9000")
	other := domain.NodeRef{ID: sp.FromUint64(1), Addr: "n1:9000"}

	n.HandleLeave(other) // other is not the predecessor (self): must be a no-op
	if _, ok := n.RoutingTable().GetPredecessor(); !ok {
		t.Fatal("expected predecessor (self, from InitSingleNode) to remain set")
	}
}
