// Package routingtable implements the per-node Chord routing state: an
// m-entry finger table plus a bounded successor list, with per-entry
// locking so lookups and stabilization can run concurrently.
package routingtable

import (
	"fmt"
	"sync"

	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
)

// routingEntry holds a single node reference behind its own lock, so a
// reader of one finger never blocks on a writer of another.
type routingEntry struct {
	mu   sync.RWMutex
	node domain.NodeRef
	set  bool
}

func (e *routingEntry) get() (domain.NodeRef, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.node, e.set
}

func (e *routingEntry) put(n domain.NodeRef) {
	e.mu.Lock()
	e.node = n
	e.set = !n.IsZero()
	e.mu.Unlock()
}

func (e *routingEntry) clear() {
	e.mu.Lock()
	e.node = domain.NodeRef{}
	e.set = false
	e.mu.Unlock()
}

// fingerEntry is one row of the finger table: the ring position it covers
// and the live successor of that position as last observed.
type fingerEntry struct {
	start domain.ID
	routingEntry
}

// RoutingTable holds the Chord routing state owned by a single node: its
// m fingers, its bounded successor list, and its predecessor.
type RoutingTable struct {
	logger logger.Logger
	space  domain.Space
	self   domain.NodeRef

	fingers []*fingerEntry

	successorList []*routingEntry
	succListSize  int

	predecessor *routingEntry
}

// New creates a routing table for self. Fingers and successors start
// empty; InitSingleNode or stabilization fills them in.
func New(self domain.NodeRef, space domain.Space, succListSize int, opts ...Option) *RoutingTable {
	rt := &RoutingTable{
		self:          self,
		space:         space,
		succListSize:  succListSize,
		successorList: make([]*routingEntry, succListSize),
		predecessor:   &routingEntry{},
		logger:        &logger.NopLogger{},
	}
	rt.fingers = make([]*fingerEntry, space.Bits)
	for k := range rt.fingers {
		start, err := space.Offset(self.ID, k)
		if err != nil {
			start = space.Zero()
		}
		rt.fingers[k] = &fingerEntry{start: start}
	}
	for i := range rt.successorList {
		rt.successorList[i] = &routingEntry{}
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger.Debug("routing table initialized", logger.F("m", len(rt.fingers)), logger.F("succ_list_size", succListSize))
	return rt
}

// InitSingleNode points every finger, the successor list head, and the
// predecessor at self, the state of a freshly bootstrapped ring.
func (rt *RoutingTable) InitSingleNode() {
	for _, f := range rt.fingers {
		f.put(rt.self)
	}
	rt.successorList[0].put(rt.self)
	rt.predecessor.put(rt.self)
	rt.logger.Debug("routing table set to single-node ring")
}

// Space returns the identifier space configuration.
func (rt *RoutingTable) Space() domain.Space { return rt.space }

// Self returns the local node owning this routing table.
func (rt *RoutingTable) Self() domain.NodeRef { return rt.self }

// SuccListSize returns the configured size of the successor list.
func (rt *RoutingTable) SuccListSize() int { return rt.succListSize }

// M returns the number of finger table entries (the ring's bit-length).
func (rt *RoutingTable) M() int { return len(rt.fingers) }

// FingerStart returns finger[k].start = (self.id + 2^k) mod R.
func (rt *RoutingTable) FingerStart(k int) domain.ID {
	return rt.fingers[k].start
}

// GetFinger returns the node currently believed to own finger k's start,
// and whether that finger has been populated yet.
func (rt *RoutingTable) GetFinger(k int) (domain.NodeRef, bool) {
	if k < 0 || k >= len(rt.fingers) {
		rt.logger.Warn("GetFinger: index out of range", logger.F("requested", k))
		return domain.NodeRef{}, false
	}
	node, ok := rt.fingers[k].get()
	return node, ok
}

// SetFinger updates finger k's successor node.
func (rt *RoutingTable) SetFinger(k int, node domain.NodeRef) {
	if k < 0 || k >= len(rt.fingers) {
		rt.logger.Warn("SetFinger: index out of range", logger.F("requested", k))
		return
	}
	rt.fingers[k].put(node)
	rt.logger.Debug("SetFinger: updated", logger.F("index", k), logger.FNode("node", node))
}

// Fingers returns a snapshot of every populated finger, in table order.
func (rt *RoutingTable) Fingers() []domain.NodeRef {
	out := make([]domain.NodeRef, 0, len(rt.fingers))
	for _, f := range rt.fingers {
		if node, ok := f.get(); ok {
			out = append(out, node)
		}
	}
	return out
}

// ClosestPrecedingFinger scans the finger table backwards from the
// highest-order entry and returns the fallBack-th distinct node it finds
// strictly between self and id (fallBack=1 is the first found, which in a
// finger table ordered around the ring is the closest; 2 the next, and so
// on). Callers use increasing fallBack to retry a
// forward hop against a different candidate when the closest one is
// unreachable, per the lookup's timeout-driven fallback routing. It
// returns self once fallBack exceeds the number of distinct candidates
// available, signaling "no suitable alternatives left".
func (rt *RoutingTable) ClosestPrecedingFinger(id domain.ID, fallBack int) domain.NodeRef {
	if fallBack < 1 {
		fallBack = 1
	}
	skip := fallBack - 1
	seen := make(map[string]struct{})
	for k := len(rt.fingers) - 1; k >= 0; k-- {
		node, ok := rt.fingers[k].get()
		if !ok || node.IsZero() || node.Equal(rt.self) {
			continue
		}
		if !node.ID.Between(rt.self.ID, id) || node.ID.Equal(id) {
			continue
		}
		if _, dup := seen[node.Addr]; dup {
			continue
		}
		seen[node.Addr] = struct{}{}
		if skip > 0 {
			skip--
			continue
		}
		return node
	}
	return rt.self
}

// GetSuccessor returns the i-th entry of the successor list.
func (rt *RoutingTable) GetSuccessor(i int) (domain.NodeRef, bool) {
	if i < 0 || i >= len(rt.successorList) {
		rt.logger.Warn("GetSuccessor: index out of range",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[0..%d]", len(rt.successorList)-1)),
		)
		return domain.NodeRef{}, false
	}
	return rt.successorList[i].get()
}

// FirstSuccessor is GetSuccessor(0).
func (rt *RoutingTable) FirstSuccessor() (domain.NodeRef, bool) {
	return rt.GetSuccessor(0)
}

// SetSuccessor updates the i-th successor list entry.
func (rt *RoutingTable) SetSuccessor(i int, node domain.NodeRef) {
	if i < 0 || i >= len(rt.successorList) {
		rt.logger.Warn("SetSuccessor: index out of range",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[0..%d]", len(rt.successorList)-1)),
		)
		return
	}
	rt.successorList[i].put(node)
	rt.logger.Debug("SetSuccessor: updated", logger.F("index", i), logger.FNode("successor", node))
}

// SuccessorList returns every populated successor, in order, skipping
// unset entries.
func (rt *RoutingTable) SuccessorList() []domain.NodeRef {
	out := make([]domain.NodeRef, 0, len(rt.successorList))
	for _, e := range rt.successorList {
		if node, ok := e.get(); ok {
			out = append(out, node)
		}
	}
	return out
}

// SetSuccessorList replaces the entire successor list. The input must
// have exactly succListSize elements; zero-value NodeRef entries clear
// that slot.
func (rt *RoutingTable) SetSuccessorList(nodes []domain.NodeRef) {
	if len(nodes) != len(rt.successorList) {
		rt.logger.Warn("SetSuccessorList: length mismatch",
			logger.F("expected", len(rt.successorList)),
			logger.F("got", len(nodes)),
		)
		return
	}
	for i, node := range nodes {
		if node.IsZero() {
			rt.successorList[i].clear()
			continue
		}
		rt.successorList[i].put(node)
	}
	rt.logger.Debug("SetSuccessorList: replaced", logger.F("count", len(nodes)))
}

// PromoteCandidate restructures the successor list after the head
// successor is found dead: the entry at i becomes the new head, every
// later entry shifts forward, and the list is padded with empty slots.
func (rt *RoutingTable) PromoteCandidate(i int) {
	if i <= 0 || i >= rt.succListSize {
		rt.logger.Warn("PromoteCandidate: invalid index",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[1..%d]", rt.succListSize-1)),
		)
		return
	}
	candidate, ok := rt.GetSuccessor(i)
	if !ok {
		rt.logger.Warn("PromoteCandidate: candidate is unset", logger.F("index", i))
		return
	}
	newList := make([]domain.NodeRef, 0, rt.succListSize)
	newList = append(newList, candidate)
	for j := i + 1; j < rt.succListSize; j++ {
		if succ, ok := rt.GetSuccessor(j); ok {
			newList = append(newList, succ)
		}
	}
	for len(newList) < rt.succListSize {
		newList = append(newList, domain.NodeRef{})
	}
	rt.SetSuccessorList(newList)
	rt.fingers[0].put(candidate)
	rt.logger.Debug("PromoteCandidate: promoted", logger.F("from_index", i), logger.FNode("candidate", candidate))
}

// SetSuccessor0 updates successor-list slot 0 and finger[0] together. The
// two must never diverge: finger[0] is owned exclusively by the
// successor-maintenance path, never by fix_finger.
func (rt *RoutingTable) SetSuccessor0(node domain.NodeRef) {
	rt.SetSuccessor(0, node)
	rt.fingers[0].put(node)
}

// GetPredecessor returns the current predecessor, and whether it is set.
func (rt *RoutingTable) GetPredecessor() (domain.NodeRef, bool) {
	return rt.predecessor.get()
}

// SetPredecessor updates the predecessor pointer.
func (rt *RoutingTable) SetPredecessor(node domain.NodeRef) {
	rt.predecessor.put(node)
	rt.logger.Debug("SetPredecessor: updated", logger.FNode("predecessor", node))
}

// ClearPredecessor unsets the predecessor, used when check_predecessor
// detects it has failed.
func (rt *RoutingTable) ClearPredecessor() {
	rt.predecessor.clear()
	rt.logger.Debug("ClearPredecessor: predecessor cleared")
}

// DebugLog emits a single structured snapshot of the full routing table,
// reading entries directly under their locks to avoid the per-call debug
// noise of the getters above.
func (rt *RoutingTable) DebugLog() {
	pred, predSet := rt.predecessor.get()

	successors := make([]map[string]any, 0, len(rt.successorList))
	for i, e := range rt.successorList {
		node, ok := e.get()
		if !ok {
			successors = append(successors, map[string]any{"index": i, "node": nil})
			continue
		}
		successors = append(successors, map[string]any{"index": i, "id": node.ID.String(), "addr": node.Addr})
	}

	fingers := make([]map[string]any, 0, len(rt.fingers))
	for k, f := range rt.fingers {
		node, ok := f.get()
		entry := map[string]any{"k": k, "start": f.start.String()}
		if ok {
			entry["id"] = node.ID.String()
			entry["addr"] = node.Addr
		}
		fingers = append(fingers, entry)
	}

	rt.logger.Debug("routing table snapshot",
		logger.FNode("self", rt.self),
		logger.F("predecessor_set", predSet),
		logger.FNode("predecessor", pred),
		logger.F("successors", successors),
		logger.F("fingers", fingers),
	)
}
