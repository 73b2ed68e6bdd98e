package node

import (
	"context"
	"fmt"
	"time"

	"dhtnode/internal/dhterr"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/peerrpc"
	"dhtnode/internal/telemetry/lookuptrace"
)

// GetNodeID answers the peer RPC get_node_id; used by peers as a cheap
// liveness probe.
func (n *Node) GetNodeID(ctx context.Context) (domain.ID, error) {
	return n.rt.Self().ID, nil
}

// GetNodeInfo answers the peer RPC get_node_info.
func (n *Node) GetNodeInfo(ctx context.Context) (domain.NodeRef, *domain.NodeRef, []domain.NodeRef, error) {
	var pred *domain.NodeRef
	if p, ok := n.rt.GetPredecessor(); ok {
		pred = &p
	}
	return n.rt.Self(), pred, n.rt.SuccessorList(), nil
}

// UpdatePredecessor is the Notify half of stabilization: the caller
// believes it may be this node's predecessor.
//
// If the candidate lies in (pred, self) it replaces the current
// predecessor, and the base-key range this node no longer owns but the
// new predecessor does, (old_pred, candidate], is handed off
// asynchronously. Replica keys already placed by C4 are never moved by
// handoff; only the base key range changes hands.
func (n *Node) UpdatePredecessor(ctx context.Context, candidate domain.NodeRef) error {
	self := n.rt.Self()
	if candidate.IsZero() || candidate.Equal(self) {
		return nil
	}

	pred, ok := n.rt.GetPredecessor()
	if !ok || candidate.ID.Between(pred.ID, self.ID) {
		if err := n.cp.AddRef(candidate.Addr); err != nil {
			n.lgr.Warn("UpdatePredecessor: addref failed", logger.FNode("candidate", candidate), logger.F("err", err))
		}
		n.rt.SetPredecessor(candidate)
		if ok {
			if err := n.cp.Release(pred.Addr); err != nil {
				n.lgr.Warn("UpdatePredecessor: release failed", logger.FNode("old", pred), logger.F("err", err))
			}
		}

		handoffFrom := self.ID
		if ok {
			handoffFrom = pred.ID
		}
		records := n.s.ExtractRange(handoffFrom, candidate.ID)
		if len(records) > 0 {
			go n.handoff(candidate, records)
		}
		n.lgr.Info("UpdatePredecessor: predecessor updated", logger.FNode("new", candidate))
	}
	return nil
}

func (n *Node) handoff(to domain.NodeRef, records []domain.StoredRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()
	cli, err := n.cp.GetFromPool(to.Addr)
	if err != nil {
		cli, err = n.cp.DialEphemeral(to.Addr)
		if err != nil {
			n.lgr.Error("handoff: could not reach new owner", logger.FNode("to", to), logger.F("err", err))
			return
		}
	}

	byKey := make(map[string][]domain.StoredRecord)
	keyByHex := make(map[string]domain.ID)
	for _, rec := range records {
		k := rec.Key.String()
		byKey[k] = append(byKey[k], rec)
		keyByHex[k] = rec.Key
	}

	transferred := 0
	for k, recs := range byKey {
		ok := true
		for _, rec := range recs {
			if err := cli.DHTPut(ctx, rec); err != nil {
				n.lgr.Warn("handoff: record transfer failed", logger.FRecord("record", rec), logger.F("err", err))
				ok = false
				break
			}
		}
		if ok {
			n.s.Delete(keyByHex[k])
			transferred++
		}
	}
	n.lgr.Info("handoff: transferred key range", logger.FNode("to", to), logger.F("keys_transferred", transferred), logger.F("keys_total", len(byKey)))
}

// UpdateSuccessor directly sets one successor-list slot at a peer's
// request. Join does not send it: a joining node seeds its own successor
// list from its successor's get_node_info reply (seedSuccessorList).
func (n *Node) UpdateSuccessor(ctx context.Context, index int, succ domain.NodeRef) error {
	n.rt.SetSuccessor(index, succ)
	return nil
}

// UpdateFingerTable applies the classic Chord update_finger_table(s,i)
// push: if origin.id falls strictly between self and this node's current
// finger[index] (open on both ends), origin is a better owner of that
// finger than whatever is there now, so this node adopts it and forwards
// the same push to its own predecessor — the update_others cascade that
// propagates a new node's arrival backwards around the ring.
func (n *Node) UpdateFingerTable(ctx context.Context, index int, origin domain.NodeRef) error {
	self := n.rt.Self()
	if origin.Equal(self) {
		return nil
	}
	current, ok := n.rt.GetFinger(index)
	adopt := !ok || (origin.ID.Between(self.ID, current.ID) && !origin.ID.Equal(current.ID))
	if !adopt {
		return nil
	}
	n.rt.SetFinger(index, origin)
	if index == 0 {
		n.rt.SetSuccessor(0, origin)
	}
	if pred, ok := n.rt.GetPredecessor(); ok && !pred.Equal(origin) && !pred.Equal(self) {
		go n.forwardUpdateFingerTable(pred, index, origin)
	}
	return nil
}

// forwardUpdateFingerTable continues the update_others cascade: pred might
// also need to adopt origin for the same finger index.
func (n *Node) forwardUpdateFingerTable(pred domain.NodeRef, index int, origin domain.NodeRef) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()
	cli, err := n.cp.GetFromPool(pred.Addr)
	if err != nil {
		cli, err = n.cp.DialEphemeral(pred.Addr)
		if err != nil {
			n.lgr.Warn("UpdateFingerTable: could not reach predecessor to forward", logger.FNode("predecessor", pred), logger.F("err", err))
			return
		}
	}
	if err := cli.UpdateFingerTable(ctx, index, origin); err != nil {
		n.lgr.Warn("UpdateFingerTable: forward failed", logger.FNode("predecessor", pred), logger.F("index", index), logger.F("err", err))
	}
}

// FindSuccessorRec implements the recursive greedy lookup: if target
// falls in (self, successor], the successor owns it — after a liveness
// probe confirms it is still actually there to own it — otherwise forward
// to the closest preceding finger and recurse there. A forward hop whose
// RPC fails is retried against the next-closest finger
// (ClosestPrecedingFinger's fall_back parameter) rather than failing the
// whole lookup outright; this is the timeout-driven fallback routing that
// keeps a lookup alive across a single bad peer. Hop tracing, when
// enabled, accumulates one HopRecord per hop for the client TRACE
// operation.
func (n *Node) FindSuccessorRec(ctx context.Context, target domain.ID, trace bool) (domain.NodeRef, []peerrpc.HopRecord, error) {
	self := n.rt.Self()
	succ, ok := n.rt.FirstSuccessor()
	if !ok {
		return domain.NodeRef{}, nil, dhterr.New(dhterr.KindInternal, "routing table not initialized")
	}

	start := time.Now()
	if target.Between(self.ID, succ.ID) {
		if err := n.probeAlive(ctx, succ); err != nil {
			return domain.NodeRef{}, nil, dhterr.Wrap(dhterr.KindUnavailable, "last hop not responding", err)
		}
		var hops []peerrpc.HopRecord
		if trace {
			hops = []peerrpc.HopRecord{{Node: self, Elapsed: time.Since(start).Microseconds(), Outcome: "terminal"}}
		}
		return succ, hops, nil
	}

	var hops []peerrpc.HopRecord
	for fallBack := 1; ; fallBack++ {
		next := n.rt.ClosestPrecedingFinger(target, fallBack)
		if next.Equal(self) {
			return domain.NodeRef{}, hops, dhterr.New(dhterr.KindUnavailable, "no suitable alternatives")
		}

		hop := peerrpc.HopRecord{Node: self, Elapsed: time.Since(start).Microseconds(), Outcome: "forward:" + next.Addr}

		cli, err := n.cp.GetFromPool(next.Addr)
		if err != nil {
			cli, err = n.cp.DialEphemeral(next.Addr)
		}
		if err != nil {
			n.lgr.Warn("FindSuccessorRec: dial next hop failed, trying fall_back", logger.FNode("next", next), logger.F("fall_back", fallBack), logger.F("err", err))
			continue
		}

		remoteSucc, remoteHops, err := cli.FindSuccessorRec(ctx, target, trace)
		if err != nil {
			n.lgr.Warn("FindSuccessorRec: forward hop failed, trying fall_back", logger.FNode("next", next), logger.F("fall_back", fallBack), logger.F("err", err))
			continue
		}
		if trace {
			hops = append(hops, hop)
			hops = append(hops, remoteHops...)
		}
		return remoteSucc, hops, nil
	}
}

// probeAlive confirms peer is actually responsive before this node
// declares it the authoritative answer to a lookup. self never needs
// probing: it cannot be unreachable from itself.
func (n *Node) probeAlive(ctx context.Context, peer domain.NodeRef) error {
	if peer.Equal(n.rt.Self()) {
		return nil
	}
	cli, err := n.cp.GetFromPool(peer.Addr)
	if err != nil {
		cli, err = n.cp.DialEphemeral(peer.Addr)
		if err != nil {
			return err
		}
	}
	probeCtx, cancel := context.WithTimeout(ctx, n.cp.FailureTimeout())
	defer cancel()
	_, err = cli.GetNodeID(probeCtx)
	return err
}

// responsible reports whether self currently owns key, i.e. key falls in
// (predecessor.id, self.id]. With no predecessor known yet (a
// single-node ring still settling) every key is accepted rather than
// rejected outright.
func (n *Node) responsible(key domain.ID) bool {
	self := n.rt.Self()
	pred, ok := n.rt.GetPredecessor()
	if !ok || pred.Equal(self) {
		return true
	}
	return key.Between(pred.ID, self.ID)
}

// DHTPut answers the peer RPC dht_put. The caller (a replica's owner
// lookup) is expected to have already routed rec.Key to this node, but
// that routing can be stale by the time the RPC lands — e.g. a
// predecessor change mid-flight moved the key range elsewhere — so the
// responsibility check is re-verified here rather than trusted blindly.
func (n *Node) DHTPut(ctx context.Context, rec domain.StoredRecord) error {
	if !n.responsible(rec.Key) {
		return dhterr.New(dhterr.KindNotResponsible, "not responsible for key "+rec.Key.String())
	}
	if err := n.s.Put(rec); err != nil {
		return dhterr.Wrap(dhterr.KindInvalidArgument, "put rejected", err)
	}
	return nil
}

// DHTGet answers the peer RPC dht_get, subject to the same responsibility
// check as DHTPut.
func (n *Node) DHTGet(ctx context.Context, key domain.ID) ([]domain.StoredRecord, error) {
	if !n.responsible(key) {
		return nil, dhterr.New(dhterr.KindNotResponsible, "not responsible for key "+key.String())
	}
	return n.s.Get(key), nil
}

// replicationCount returns requested (or n.cfg.ReplicationCount when
// requested <= 0), clamped to the number of distinct nodes currently known
// (successor list plus finger table), so a freshly booted small ring never
// rejects a write outright.
func (n *Node) replicationCount(requested int) int {
	known := map[string]struct{}{n.rt.Self().Addr: {}}
	for _, s := range n.rt.SuccessorList() {
		known[s.Addr] = struct{}{}
	}
	for _, f := range n.rt.Fingers() {
		known[f.Addr] = struct{}{}
	}
	want := requested
	if want <= 0 {
		want = n.cfg.ReplicationCount
	}
	if want <= 0 {
		want = 1
	}
	if want > len(known) {
		n.lgr.Warn("replicationCount: clamping to known ring size",
			logger.F("requested", want), logger.F("known", len(known)))
		return len(known)
	}
	return want
}

// lookupOwner finds the node responsible for id, locally when possible.
func (n *Node) lookupOwner(ctx context.Context, id domain.ID) (domain.NodeRef, error) {
	owner, _, err := n.FindSuccessorRec(ctx, id, false)
	if err != nil {
		return domain.NodeRef{}, fmt.Errorf("lookup owner for %s: %w", id.String(), err)
	}
	return owner, nil
}

func (n *Node) storeAt(ctx context.Context, owner domain.NodeRef, rec domain.StoredRecord) error {
	if owner.Equal(n.rt.Self()) {
		return n.DHTPut(ctx, rec)
	}
	cli, err := n.cp.GetFromPool(owner.Addr)
	if err != nil {
		cli, err = n.cp.DialEphemeral(owner.Addr)
		if err != nil {
			return dhterr.Wrap(dhterr.KindConnection, "dial replica owner", err)
		}
	}
	return cli.DHTPut(ctx, rec)
}

func (n *Node) fetchAt(ctx context.Context, owner domain.NodeRef, key domain.ID) ([]domain.StoredRecord, error) {
	if owner.Equal(n.rt.Self()) {
		return n.DHTGet(ctx, key)
	}
	cli, err := n.cp.GetFromPool(owner.Addr)
	if err != nil {
		cli, err = n.cp.DialEphemeral(owner.Addr)
		if err != nil {
			return nil, dhterr.Wrap(dhterr.KindConnection, "dial replica owner", err)
		}
	}
	return cli.DHTGet(ctx, key)
}

// Put replicates rawKey/value to replication replica keys derived from
// baseKey (C4) — or n.cfg.ReplicationCount when replication <= 0 — and
// applies partial-success semantics: the call succeeds if at least one
// replica accepted the write.
func (n *Node) Put(ctx context.Context, baseKey domain.ID, rawKey, value string, ttl time.Duration, replication int) error {
	ttl, err := domain.ValidateTTL(ttl)
	if err != nil {
		return dhterr.Wrap(dhterr.KindInvalidArgument, "put", err)
	}
	replicas := n.rt.Space().ReplicaKeys(baseKey, n.replicationCount(replication))

	var succeeded int
	var lastErr error
	for _, key := range replicas {
		owner, err := n.lookupOwner(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		rec := domain.StoredRecord{Key: key, RawKey: rawKey, Value: value, TTL: ttl, StoredAt: time.Now()}
		if err := n.storeAt(ctx, owner, rec); err != nil {
			n.lgr.Warn("Put: replica write failed", logger.F("key", rawKey), logger.FNode("owner", owner), logger.F("err", err))
			lastErr = err
			continue
		}
		succeeded++
	}
	if succeeded == 0 {
		if lastErr != nil {
			return fmt.Errorf("put: all %d replica writes failed: %w", len(replicas), lastErr)
		}
		return dhterr.New(dhterr.KindInternal, "put: no replicas attempted")
	}
	n.lgr.Info("Put: replicated", logger.F("key", rawKey), logger.F("succeeded", succeeded), logger.F("replicas", len(replicas)))
	return nil
}

// Get fans out to every replica of baseKey and merges the live values
// observed across responding replicas, deduplicated by value.
func (n *Node) Get(ctx context.Context, baseKey domain.ID) ([]domain.StoredRecord, error) {
	replicas := n.rt.Space().ReplicaKeys(baseKey, n.replicationCount(0))

	seen := make(map[string]struct{})
	var merged []domain.StoredRecord
	var lastErr error
	var responded int
	for _, key := range replicas {
		owner, err := n.lookupOwner(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		recs, err := n.fetchAt(ctx, owner, key)
		if err != nil {
			lastErr = err
			continue
		}
		responded++
		for _, r := range recs {
			if _, ok := seen[r.Value]; ok {
				continue
			}
			seen[r.Value] = struct{}{}
			merged = append(merged, r)
		}
	}
	if responded == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("get: all %d replica reads failed: %w", len(replicas), lastErr)
		}
		return nil, dhterr.New(dhterr.KindInternal, "get: no replicas attempted")
	}
	return merged, nil
}

// TraceResult is the outcome of a Trace client operation: the hop path of
// the first replica's lookup, plus a one-line summary of the rest.
type TraceResult struct {
	Primary      domain.NodeRef
	PrimaryHops  []peerrpc.HopRecord
	OtherOwners  []domain.NodeRef
	RepliesTotal int
	RepliesOK    int
}

// Trace performs the same replica fan-out as Get and Put's lookup phase,
// but reports the routing path instead of reading or writing a value.
func (n *Node) Trace(ctx context.Context, baseKey domain.ID) (TraceResult, error) {
	replicas := n.rt.Space().ReplicaKeys(baseKey, n.replicationCount(0))
	if len(replicas) == 0 {
		return TraceResult{}, dhterr.New(dhterr.KindInvalidArgument, "trace: no replica keys")
	}

	ctx = lookuptrace.WithLookup(ctx)
	primary, hops, err := n.FindSuccessorRec(ctx, replicas[0], true)
	if err != nil {
		return TraceResult{}, fmt.Errorf("trace: primary lookup failed: %w", err)
	}
	res := TraceResult{Primary: primary, PrimaryHops: hops, RepliesTotal: len(replicas), RepliesOK: 1}

	for _, key := range replicas[1:] {
		owner, err := n.lookupOwner(ctx, key)
		if err != nil {
			continue
		}
		res.OtherOwners = append(res.OtherOwners, owner)
		res.RepliesOK++
	}
	return res, nil
}

// HandleLeave processes a graceful leave notification from a predecessor.
func (n *Node) HandleLeave(leaving domain.NodeRef) {
	pred, ok := n.rt.GetPredecessor()
	if !ok || !leaving.Equal(pred) {
		return
	}
	n.rt.ClearPredecessor()
	if err := n.cp.Release(leaving.Addr); err != nil {
		n.lgr.Warn("HandleLeave: release failed", logger.FNode("leaving", leaving), logger.F("err", err))
	}
	n.lgr.Info("HandleLeave: predecessor removed", logger.FNode("leaving", leaving))
}
