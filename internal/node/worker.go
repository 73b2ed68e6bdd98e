package node

import (
	"context"
	"time"

	"dhtnode/internal/dhterr"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/peerrpc"
)

// dial returns a pooled client for addr if one is already referenced,
// otherwise an ephemeral one-off client.
func (n *Node) dial(addr string) (*peerrpc.Client, error) {
	if cli, err := n.cp.GetFromPool(addr); err == nil {
		return cli, nil
	}
	return n.cp.DialEphemeral(addr)
}

const joinRetryInterval = 3 * time.Second

// Join contacts bootstrapAddr to learn this node's successor, seeds its
// successor list and finger table from that successor's own routing
// state, and finally pushes update_finger_table to every node whose
// finger should now point here (update_others). If bootstrapAddr is
// empty, the node instead initializes a single-node ring.
func (n *Node) Join(ctx context.Context, bootstrapAddr string) error {
	if bootstrapAddr == "" {
		n.rt.InitSingleNode()
		n.setState(Active)
		n.lgr.Info("Join: starting a new single-node ring")
		return nil
	}

	succ, err := n.resolveSuccessorWithRetry(ctx, bootstrapAddr)
	if err != nil {
		return err
	}
	self := n.rt.Self()
	if succ.Equal(self) {
		return dhterr.New(dhterr.KindInvalidArgument, "join: ring already contains this node's id")
	}

	if err := n.cp.AddRef(succ.Addr); err != nil {
		n.lgr.Warn("Join: addref successor failed", logger.FNode("succ", succ), logger.F("err", err))
	}
	if err := n.seedSuccessorList(ctx, succ); err != nil {
		n.lgr.Warn("Join: could not seed successor list from successor, starting with just the resolved successor", logger.FNode("succ", succ), logger.F("err", err))
		n.rt.SetSuccessor0(succ)
	}
	n.populateFingerTable(ctx, succ)

	n.setState(Active)
	n.lgr.Info("Join: joined ring via bootstrap", logger.F("bootstrap", bootstrapAddr), logger.FNode("successor", succ))

	go n.updateOthers(context.Background())
	return nil
}

// resolveSuccessorWithRetry contacts bootstrapAddr for this node's
// successor, retrying every 3s while the bootstrap contact (or the ring
// it belongs to) is unresponsive, per spec.md §4.7's bootstrap retry
// loop: a brief network blip at startup shouldn't abort the join.
func (n *Node) resolveSuccessorWithRetry(ctx context.Context, bootstrapAddr string) (domain.NodeRef, error) {
	self := n.rt.Self()
	if err := n.cp.AddRef(bootstrapAddr); err != nil {
		n.lgr.Warn("Join: addref bootstrap contact failed", logger.F("bootstrap", bootstrapAddr), logger.F("err", err))
	}

	ticker := time.NewTicker(joinRetryInterval)
	defer ticker.Stop()

	for {
		cli, err := n.dial(bootstrapAddr)
		if err == nil {
			var succ domain.NodeRef
			succ, _, err = cli.FindSuccessorRec(ctx, self.ID, false)
			if err == nil {
				return succ, nil
			}
		}
		n.lgr.Warn("Join: bootstrap not yet reachable, retrying", logger.F("bootstrap", bootstrapAddr), logger.F("err", err))

		select {
		case <-ctx.Done():
			return domain.NodeRef{}, dhterr.Wrap(dhterr.KindUnavailable, "join: bootstrap never became reachable", ctx.Err())
		case <-ticker.C:
		}
	}
}

// seedSuccessorList seeds the full successor list from succ's own
// get_node_info reply, per spec.md §4.7 step 2, instead of leaving every
// slot but index 0 empty until fix_finger happens to refresh them one at
// a time.
func (n *Node) seedSuccessorList(ctx context.Context, succ domain.NodeRef) error {
	self := n.rt.Self()
	cli, err := n.dial(succ.Addr)
	if err != nil {
		return err
	}
	_, _, remoteList, err := cli.GetNodeInfo(ctx)
	if err != nil {
		return err
	}
	n.rt.SetSuccessorList(mergeSuccessorList(succ, remoteList, self, n.rt.SuccListSize()))
	n.rt.SetFinger(0, succ)
	return nil
}

// mergeSuccessorList builds a successor list headed by head, filled out
// from candidates (typically head's own successor list), skipping self
// and head itself, and padded with zero entries to size.
func mergeSuccessorList(head domain.NodeRef, candidates []domain.NodeRef, self domain.NodeRef, size int) []domain.NodeRef {
	list := make([]domain.NodeRef, 0, size)
	list = append(list, head)
	for _, s := range candidates {
		if len(list) >= size {
			break
		}
		if s.Equal(self) || s.Equal(head) {
			continue
		}
		list = append(list, s)
	}
	for len(list) < size {
		list = append(list, domain.NodeRef{})
	}
	return list
}

// populateFingerTable resolves each finger beyond index 0 individually,
// per spec.md §4.7 step 3: finger[k]'s start can reuse finger[k-1]'s
// resolved owner when that owner already covers it
// (finger[k].start ∈ [self.id, finger[k-1].successor.id)), and only
// falls back to a lookup RPC when it doesn't. A finger that fails to
// resolve is left for fix_finger to retry later instead of aborting the
// whole join.
func (n *Node) populateFingerTable(ctx context.Context, succ domain.NodeRef) {
	self := n.rt.Self()
	m := n.rt.M()
	n.rt.SetFinger(0, succ)
	prev := succ
	for k := 1; k < m; k++ {
		start := n.rt.FingerStart(k)
		if start.Equal(self.ID) || (start.Between(self.ID, prev.ID) && !start.Equal(prev.ID)) {
			n.rt.SetFinger(k, prev)
			continue
		}
		owner, _, err := n.FindSuccessorRec(ctx, start, false)
		if err != nil {
			n.lgr.Warn("Join: could not resolve finger, leaving for fix_finger", logger.F("finger", k), logger.F("err", err))
			continue
		}
		n.rt.SetFinger(k, owner)
		prev = owner
	}
}

// updateOthers implements spec.md §4.7 step 5: for every finger index k,
// find the node that should currently be the predecessor of
// (self.id - 2^k) mod R and push update_finger_table(self, k) to it, so
// an existing node whose finger[k] should now point here learns about
// this node's arrival instead of waiting on its own fix_finger tick.
func (n *Node) updateOthers(ctx context.Context) {
	self := n.rt.Self()
	space := n.rt.Space()
	m := n.rt.M()
	for k := 0; k < m; k++ {
		target, err := space.SubMod(self.ID, space.PowerOfTwoMod(k))
		if err != nil {
			n.lgr.Warn("updateOthers: could not compute target", logger.F("finger", k), logger.F("err", err))
			continue
		}
		pred, err := n.findPredecessorOf(ctx, target)
		if err != nil {
			n.lgr.Warn("updateOthers: could not find predecessor", logger.F("finger", k), logger.F("err", err))
			continue
		}
		if pred.Equal(self) {
			continue
		}
		cli, err := n.dial(pred.Addr)
		if err != nil {
			n.lgr.Warn("updateOthers: could not dial predecessor", logger.FNode("pred", pred), logger.F("err", err))
			continue
		}
		if err := cli.UpdateFingerTable(ctx, k, self); err != nil {
			n.lgr.Warn("updateOthers: update_finger_table failed", logger.FNode("pred", pred), logger.F("finger", k), logger.F("err", err))
		}
	}
}

// findPredecessorOf resolves the node immediately preceding id on the
// ring. id's owner (via find_successor_rec) is the node that would
// receive update_finger_table for a finger whose target is id; that
// owner's own predecessor pointer is exactly the node we need to push
// the update to, except when this node itself owns id.
func (n *Node) findPredecessorOf(ctx context.Context, id domain.ID) (domain.NodeRef, error) {
	self := n.rt.Self()
	owner, _, err := n.FindSuccessorRec(ctx, id, false)
	if err != nil {
		return domain.NodeRef{}, err
	}
	if owner.Equal(self) {
		if pred, ok := n.rt.GetPredecessor(); ok {
			return pred, nil
		}
		return self, nil
	}
	cli, err := n.dial(owner.Addr)
	if err != nil {
		return domain.NodeRef{}, err
	}
	_, pred, _, err := cli.GetNodeInfo(ctx)
	if err != nil {
		return domain.NodeRef{}, err
	}
	if pred == nil {
		return owner, nil
	}
	return *pred, nil
}

// StartStabilizers launches the maintenance loop: Chord stabilization,
// one-finger-per-tick fixing, predecessor liveness checks, and periodic
// storage expiry, each on its own ticker, the same composition as the
// teacher's StartStabilizers.
func (n *Node) StartStabilizers(ctx context.Context) {
	go n.tickLoop(ctx, n.cfg.StabilizeEvery, "stabilize", n.stabilize)
	go n.tickLoop(ctx, n.cfg.FixFingerEvery, "fix_finger", n.fixFingerTick)
	go n.tickLoop(ctx, n.cfg.CheckPredEvery, "check_predecessor", n.checkPredecessor)
	go n.tickLoop(ctx, n.cfg.StabilizeEvery, "expire_tick", func() { n.s.ExpireTick(time.Now()) })
}

func (n *Node) tickLoop(ctx context.Context, every time.Duration, name string, fn func()) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.lgr.Info(name + " stopped")
			return
		case <-ticker.C:
			fn()
		}
	}
}

// stabilize is update_successor_list, spec.md §4.7 step 1: pull the
// successor's own successor list and adopt it (mergeSuccessorList),
// then check whether the successor's predecessor pointer suggests a
// closer successor and, if it corroborates, switch to it
// (adoptCloserSuccessor). Either way it finishes by notifying the
// resulting successor that this node may now be its predecessor. When
// the successor is unreachable it promotes the next candidate from the
// successor list, reverting to single-node mode if none remain.
func (n *Node) stabilize() {
	self := n.rt.Self()
	succ, ok := n.rt.FirstSuccessor()
	if !ok {
		n.lgr.Error("stabilize: successor not set")
		return
	}
	if succ.Equal(self) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()

	cli, err := n.dial(succ.Addr)
	if err != nil {
		n.lgr.Warn("stabilize: successor not in pool", logger.FNode("succ", succ), logger.F("err", err))
		n.promoteOrReset(succ)
		return
	}
	_, pred, remoteList, err := cli.GetNodeInfo(ctx)
	if err != nil {
		n.lgr.Warn("stabilize: successor unresponsive", logger.FNode("succ", succ), logger.F("err", err))
		n.promoteOrReset(succ)
		return
	}

	n.rt.SetSuccessorList(mergeSuccessorList(succ, remoteList, self, n.rt.SuccListSize()))

	if pred != nil && !pred.Equal(self) && pred.ID.Between(self.ID, succ.ID) {
		if err := n.adoptCloserSuccessor(ctx, succ, *pred); err == nil {
			succ = *pred
		}
	}

	if succ.Equal(self) {
		return
	}
	cli, err = n.dial(succ.Addr)
	if err != nil {
		n.lgr.Warn("stabilize: successor not in pool for notify", logger.FNode("succ", succ), logger.F("err", err))
		return
	}
	if err := cli.UpdatePredecessor(ctx, self); err != nil {
		n.lgr.Warn("stabilize: notify failed", logger.FNode("succ", succ), logger.F("err", err))
	}
}

// adoptCloserSuccessor probes a candidate successor that our current
// successor's predecessor pointer suggests is actually closer, and
// switches to it only if the candidate corroborates by advertising a
// successor list that still contains the old successor. This is
// update_successor_list's sanity check against a stale or malicious peer
// steering this node onto a bogus ring segment: without it, a single bad
// GetNodeInfo reply could move finger[0] anywhere on the ring.
func (n *Node) adoptCloserSuccessor(ctx context.Context, oldSucc, candidate domain.NodeRef) error {
	if err := n.cp.AddRef(candidate.Addr); err != nil {
		n.lgr.Warn("stabilize: addref candidate successor failed", logger.FNode("candidate", candidate), logger.F("err", err))
	}
	cli, err := n.dial(candidate.Addr)
	if err != nil {
		_ = n.cp.Release(candidate.Addr)
		return err
	}
	_, _, candList, err := cli.GetNodeInfo(ctx)
	if err != nil {
		_ = n.cp.Release(candidate.Addr)
		return err
	}
	corroborated := false
	for _, s := range candList {
		if s.Equal(oldSucc) {
			corroborated = true
			break
		}
	}
	if !corroborated {
		n.lgr.Warn("stabilize: candidate successor did not corroborate, reverting",
			logger.FNode("candidate", candidate), logger.FNode("old", oldSucc))
		_ = n.cp.Release(candidate.Addr)
		return dhterr.New(dhterr.KindInternal, "candidate successor did not corroborate")
	}
	n.rt.SetSuccessor0(candidate)
	if err := n.cp.Release(oldSucc.Addr); err != nil {
		n.lgr.Warn("stabilize: release old successor failed", logger.FNode("old", oldSucc), logger.F("err", err))
	}
	n.lgr.Info("stabilize: adopted closer successor", logger.FNode("old", oldSucc), logger.FNode("new", candidate))
	return nil
}

func (n *Node) promoteOrReset(dead domain.NodeRef) {
	for i := 1; i < n.rt.SuccListSize(); i++ {
		candidate, ok := n.rt.GetSuccessor(i)
		if !ok {
			continue
		}
		n.rt.PromoteCandidate(i)
		if err := n.cp.Release(dead.Addr); err != nil {
			n.lgr.Warn("promoteOrReset: release dead successor failed", logger.FNode("dead", dead), logger.F("err", err))
		}
		n.lgr.Warn("promoteOrReset: promoted successor candidate", logger.FNode("dead", dead), logger.FNode("new", candidate))
		return
	}
	n.lgr.Warn("promoteOrReset: no candidates left, reverting to single-node ring", logger.FNode("dead", dead))
	n.rt.InitSingleNode()
}

// fixFingerTick refreshes one finger table entry per call, cycling
// through entries [1, m) over time instead of recomputing the whole
// table on every tick. finger[0] is excluded: it is owned exclusively by
// stabilize (update_successor_list), never by fix_finger.
func (n *Node) fixFingerTick() {
	m := n.rt.M()
	if m <= 1 {
		return
	}
	k := int(n.nextFinger.Add(1)) % m
	if k == 0 {
		k = 1
	}
	start := n.rt.FingerStart(k)

	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()
	owner, _, err := n.FindSuccessorRec(ctx, start, false)
	if err != nil {
		n.lgr.Warn("fixFinger: lookup failed", logger.F("finger", k), logger.F("err", err))
		return
	}
	n.rt.SetFinger(k, owner)
}

// checkPredecessor verifies the current predecessor is still alive and
// clears it if not.
func (n *Node) checkPredecessor() {
	pred, ok := n.rt.GetPredecessor()
	if !ok || pred.Equal(n.rt.Self()) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()

	cli, err := n.cp.GetFromPool(pred.Addr)
	if err != nil {
		n.rt.ClearPredecessor()
		return
	}
	if _, err := cli.GetNodeID(ctx); err != nil {
		n.lgr.Warn("checkPredecessor: predecessor unresponsive, clearing", logger.FNode("pred", pred), logger.F("err", err))
		if err := n.cp.Release(pred.Addr); err != nil {
			n.lgr.Warn("checkPredecessor: release failed", logger.FNode("pred", pred), logger.F("err", err))
		}
		n.rt.ClearPredecessor()
	}
}
