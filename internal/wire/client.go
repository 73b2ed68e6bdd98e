package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"dhtnode/internal/domain"
)

// Client is a minimal binary-protocol client for a single node's client-API
// port, modeled on sandeepkv93-network-programming/filetransfer's
// dial-write-read idiom: a fresh connection per request, no pooling.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a client dialing addr with the given per-request
// timeout.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", c.addr, err)
	}
	conn.SetDeadline(time.Now().Add(c.timeout))
	return conn, nil
}

// Put sends a PUT request and returns once the node has acknowledged
// success (connection closed cleanly) or reports an ERROR frame.
func (c *Client) Put(key domain.ID, value []byte, ttl time.Duration, replication int) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	frame, err := EncodePut(PutRequest{Key: key, TTL: ttl, Replication: replication, Value: value})
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("wire: write PUT: %w", err)
	}

	typ, payload, err := ReadFrame(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Clean close with no frame at all is the success path: PUT
			// has no dedicated ack.
			return nil
		}
		return fmt.Errorf("wire: read PUT reply: %w", err)
	}
	if typ == TypeError {
		return errorFromFrame(payload)
	}
	return fmt.Errorf("wire: unexpected reply type %d to PUT", typ)
}

// Get sends a GET request and collects every GET_REPLY frame until the
// server closes the connection.
func (c *Client) Get(key domain.ID) ([][]byte, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	frame, err := EncodeGet(key)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("wire: write GET: %w", err)
	}

	var values [][]byte
	for {
		typ, payload, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return values, nil // clean close: end of the GET_REPLY stream.
			}
			return values, fmt.Errorf("wire: read GET_REPLY: %w", err)
		}
		switch typ {
		case TypeGetReply:
			_, value, err := DecodeGetReply(payload)
			if err != nil {
				return values, err
			}
			values = append(values, value)
		case TypeError:
			return nil, errorFromFrame(payload)
		default:
			return values, fmt.Errorf("wire: unexpected reply type %d to GET", typ)
		}
	}
}

// TraceResult is the client-side decoding of a TRACE_REPLY.
type TraceResult struct {
	Key  domain.ID
	Hops []Hop
}

// Trace sends a TRACE request and returns the decoded hop list.
func (c *Client) Trace(key domain.ID) (TraceResult, error) {
	conn, err := c.dial()
	if err != nil {
		return TraceResult{}, err
	}
	defer conn.Close()

	frame, err := EncodeTrace(key)
	if err != nil {
		return TraceResult{}, err
	}
	if _, err := conn.Write(frame); err != nil {
		return TraceResult{}, fmt.Errorf("wire: write TRACE: %w", err)
	}

	typ, payload, err := ReadFrame(conn)
	if err != nil {
		return TraceResult{}, fmt.Errorf("wire: read TRACE reply: %w", err)
	}
	switch typ {
	case TypeTraceReply:
		k, hops, err := DecodeTraceReply(payload)
		if err != nil {
			return TraceResult{}, err
		}
		return TraceResult{Key: k, Hops: hops}, nil
	case TypeError:
		return TraceResult{}, errorFromFrame(payload)
	default:
		return TraceResult{}, fmt.Errorf("wire: unexpected reply type %d to TRACE", typ)
	}
}

func errorFromFrame(payload []byte) error {
	ef, err := DecodeError(payload)
	if err != nil {
		return fmt.Errorf("wire: malformed ERROR frame: %w", err)
	}
	return fmt.Errorf("wire: node rejected request type %d for key %s", ef.RequestedType, ef.RequestedKey.String())
}
