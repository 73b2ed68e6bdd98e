package bootstrap

import (
	"context"

	"dhtnode/internal/domain"
)

// Bootstrap discovers peer-RPC addresses to join an existing ring, and
// optionally registers/deregisters this node so future joiners can find it.
type Bootstrap interface {
	// Discover returns a list of known peer-RPC addresses.
	Discover(ctx context.Context) ([]string, error)
	// Register adds the current node to the discovery mechanism, if the
	// mechanism needs it (e.g. Route53); a no-op otherwise.
	Register(ctx context.Context, self domain.NodeRef) error
	// Deregister removes the current node from the discovery mechanism.
	Deregister(ctx context.Context, self domain.NodeRef) error
}
