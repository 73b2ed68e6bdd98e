package peerrpc

import (
	"context"

	"dhtnode/internal/domain"
)

// HopRecord is one traced hop of a recursive lookup, independent of the
// wire encoding used to report it back to a client.
type HopRecord struct {
	Node    domain.NodeRef
	Elapsed int64 // microseconds
	Outcome string
}

// Handler is implemented by the node agent and invoked by the gin server
// for every decoded peer request. Each method receives already-validated,
// already-decoded arguments; Handler implementations return a dhterr.Error
// (via errors produced by internal/dhterr) to control the response's
// error.kind.
type Handler interface {
	GetNodeID(ctx context.Context) (domain.ID, error)
	GetNodeInfo(ctx context.Context) (self domain.NodeRef, pred *domain.NodeRef, succList []domain.NodeRef, err error)
	UpdatePredecessor(ctx context.Context, candidate domain.NodeRef) error
	UpdateSuccessor(ctx context.Context, index int, succ domain.NodeRef) error
	UpdateFingerTable(ctx context.Context, index int, candidate domain.NodeRef) error
	FindSuccessorRec(ctx context.Context, target domain.ID, trace bool) (domain.NodeRef, []HopRecord, error)
	DHTPut(ctx context.Context, rec domain.StoredRecord) error
	DHTGet(ctx context.Context, key domain.ID) ([]domain.StoredRecord, error)

	// WaitActive blocks until the node has finished joining the ring, or ctx
	// is done. The server calls this before dispatching any RPC whose
	// handler depends on a populated finger table.
	WaitActive(ctx context.Context) error
}
