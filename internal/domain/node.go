package domain

// NodeRef identifies a participant in the DHT ring.
type NodeRef struct {
	ID   ID     // identifier in the ring space
	Addr string // peer RPC address, e.g. "127.0.0.1:5000"
}

// Equal reports whether two node references identify the same peer.
func (n NodeRef) Equal(other NodeRef) bool {
	return n.ID.Equal(other.ID) && n.Addr == other.Addr
}

// IsZero reports whether n carries no identifier (an unset reference).
func (n NodeRef) IsZero() bool {
	return len(n.ID) == 0
}
