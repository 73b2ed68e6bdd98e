package node

import "dhtnode/internal/logger"

type Option func(*Node)

// WithLogger sets the logger used by the node agent.
func WithLogger(l logger.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.lgr = l
		}
	}
}
