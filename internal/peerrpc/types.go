// Package peerrpc implements the node-to-node control plane: a small set
// of JSON operations posted to POST /peer, used for ring maintenance
// (successor/predecessor/finger updates, recursive lookup) and for
// forwarding a client's put/get to the replica that owns a key.
package peerrpc

import "encoding/json"

// Op names the peer operation carried in a Request. These are the only
// operations a node exposes to other nodes.
type Op string

const (
	OpGetNodeID         Op = "get_node_id"
	OpGetNodeInfo       Op = "get_node_info"
	OpUpdatePredecessor Op = "update_predecessor"
	OpUpdateSuccessor   Op = "update_successor"
	OpUpdateFingerTable Op = "update_finger_table"
	OpFindSuccessorRec  Op = "find_successor_rec"
	OpDHTPut            Op = "dht_put"
	OpDHTGet            Op = "dht_get"
)

// Request is the envelope every peer call sends.
type Request struct {
	Op   Op              `json:"op"`
	Args json.RawMessage `json:"args"`
}

// ErrorPayload mirrors dhterr.Error across the wire.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the envelope every peer call answers with.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// NodeRefWire is the wire form of domain.NodeRef.
type NodeRefWire struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// NodeInfoResult answers get_node_info.
type NodeInfoResult struct {
	Self          NodeRefWire   `json:"self"`
	Predecessor   *NodeRefWire  `json:"predecessor,omitempty"`
	SuccessorList []NodeRefWire `json:"successor_list"`
}

// UpdatePredecessorArgs carries the Notify candidate.
type UpdatePredecessorArgs struct {
	Candidate NodeRefWire `json:"candidate"`
}

// UpdateSuccessorArgs sets one successor-list slot directly on the
// receiver.
type UpdateSuccessorArgs struct {
	Index     int         `json:"index"`
	Successor NodeRefWire `json:"successor"`
}

// UpdateFingerTableArgs asks the receiver to consider candidate as the
// owner of finger index i, the classic Chord update_finger_table(s,i)
// push used right after a join.
type UpdateFingerTableArgs struct {
	Index     int         `json:"index"`
	Candidate NodeRefWire `json:"candidate"`
}

// FindSuccessorRecArgs carries the lookup target and whether the caller
// wants hop tracing accumulated in the reply.
type FindSuccessorRecArgs struct {
	Target string `json:"target"`
	Trace  bool   `json:"trace"`
}

// HopRecordWire is one traced hop of a recursive lookup.
type HopRecordWire struct {
	NodeID    string `json:"node_id"`
	Addr      string `json:"addr"`
	ElapsedUs int64  `json:"elapsed_us"`
	Outcome   string `json:"outcome"`
}

// FindSuccessorRecResult answers find_successor_rec.
type FindSuccessorRecResult struct {
	Successor NodeRefWire     `json:"successor"`
	Hops      []HopRecordWire `json:"hops,omitempty"`
}

// RecordWire is the wire form of domain.StoredRecord.
type RecordWire struct {
	Key      string `json:"key"`
	RawKey   string `json:"raw_key"`
	Value    string `json:"value"`
	TTLMs    int64  `json:"ttl_ms"`
	StoredAt int64  `json:"stored_at_unix_ms"`
}

// DHTPutArgs carries one record to be stored by the receiver, which is
// expected to be (or to believe it is) the owner of Record.Key.
type DHTPutArgs struct {
	Record RecordWire `json:"record"`
}

// DHTGetArgs requests every live value under Key from the receiver.
type DHTGetArgs struct {
	Key string `json:"key"`
}

// DHTGetResult answers dht_get.
type DHTGetResult struct {
	Records []RecordWire `json:"records"`
}
