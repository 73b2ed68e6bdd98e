// Package node implements the Chord node agent: lookup, join and
// stabilization, the client-facing put/get/trace API, and the local
// state machine that ties them to the routing table and storage.
package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dhtnode/internal/dhterr"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/peerrpc"
	"dhtnode/internal/routingtable"
	"dhtnode/internal/storage"
)

// State is the node agent's lifecycle state.
type State int32

const (
	Booting State = iota
	Active
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Booting:
		return "booting"
	case Active:
		return "active"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Config bundles the tunables for a Node's maintenance loop and
// replication behavior.
type Config struct {
	ReplicationCount int
	StabilizeEvery   time.Duration
	FixFingerEvery   time.Duration
	CheckPredEvery   time.Duration
}

// Node is the Chord agent owning one node's routing table, local store and
// peer connection pool.
type Node struct {
	lgr logger.Logger
	rt  *routingtable.RoutingTable
	s   storage.Store
	cp  *peerrpc.Pool
	cfg Config

	state atomic.Int32

	nextFinger atomic.Int32 // round-robin index consumed by fixFingerTick

	ready     chan struct{}
	readyOnce sync.Once
}

// New constructs a node agent around an already-initialized routing table,
// local store and peer client pool.
func New(rt *routingtable.RoutingTable, s storage.Store, cp *peerrpc.Pool, cfg Config, opts ...Option) *Node {
	n := &Node{
		rt:    rt,
		s:     s,
		cp:    cp,
		cfg:   cfg,
		lgr:   &logger.NopLogger{},
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.state.Store(int32(Booting))
	return n
}

// Self returns the local node information.
func (n *Node) Self() domain.NodeRef { return n.rt.Self() }

// Space returns the identifier space used by this node.
func (n *Node) Space() domain.Space { return n.rt.Space() }

// RoutingTable exposes the node's routing table, mainly for the peer RPC
// server and CLI inspection commands.
func (n *Node) RoutingTable() *routingtable.RoutingTable { return n.rt }

// State returns the node's current lifecycle state.
func (n *Node) State() State { return State(n.state.Load()) }

func (n *Node) setState(s State) {
	n.state.Store(int32(s))
	if s == Active {
		n.readyOnce.Do(func() { close(n.ready) })
	}
}

// WaitActive blocks until the node finishes booting (Join has populated
// its routing table) or ctx is done. Peer RPCs that depend on the finger
// table being populated — find_successor_rec, update_predecessor,
// update_successor, update_finger_table — suspend on this before running,
// rather than acting on a routing table that is still empty.
func (n *Node) WaitActive(ctx context.Context) error {
	select {
	case <-n.ready:
		return nil
	case <-ctx.Done():
		return dhterr.Wrap(dhterr.KindUnavailable, "node still booting", ctx.Err())
	}
}
