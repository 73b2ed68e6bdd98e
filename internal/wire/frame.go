// Package wire implements the bit-exact binary client-API protocol: a
// 2-byte big-endian size header, a 2-byte big-endian type, and a
// type-specific payload. Unlike the peer RPC layer (JSON over HTTP), this
// protocol exchanges raw value bytes over a plain net.Conn, grounded in the
// header/length-prefixed framing idiom used throughout
// sandeepkv93-network-programming's filetransfer and dht examples.
package wire

import "errors"

// Message types, bit-exact per the wire specification.
const (
	TypePut        uint16 = 500
	TypeGet        uint16 = 501
	TypeTrace      uint16 = 502
	TypeGetReply   uint16 = 503
	TypeTraceReply uint16 = 504
	TypeError      uint16 = 505
)

// KeyLen is the fixed on-wire identifier length (32 bytes, SHA-256 space).
const KeyLen = 32

// HopRecordLen is the fixed size of one trace-hop record.
const HopRecordLen = 64

// MaxFrameLen is the largest frame the 2-byte size header can express, and
// the hard cap TRACE_REPLY must be constructed under.
const MaxFrameLen = 0xFFFF

// headerLen is the size+type prefix every frame starts with.
const headerLen = 4

var (
	// ErrFrameTooLarge is returned when constructing a frame (chiefly
	// TRACE_REPLY) would exceed MaxFrameLen.
	ErrFrameTooLarge = errors.New("wire: frame exceeds 65535-byte limit")
	// ErrShortKey is returned when a key field is not exactly KeyLen bytes.
	ErrShortKey = errors.New("wire: key must be 32 bytes")
	// ErrUnknownType is returned for a type header wire does not recognize.
	ErrUnknownType = errors.New("wire: unknown message type")
)
