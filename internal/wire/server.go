package wire

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"dhtnode/internal/ctxutil"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/node"
)

// requestTimeout bounds how long a single client connection's request may
// take to service before the connection is closed.
const requestTimeout = 10 * time.Second

// Server accepts client-API connections and services PUT/GET/TRACE
// requests against a concrete *node.Node, framed per the binary wire
// protocol. Modeled on the teacher's accept-loop/per-connection-goroutine
// shape (internal/server/server.go), with the gRPC service dispatch
// replaced by ReadFrame/type-switch dispatch.
type Server struct {
	listener net.Listener
	n        *node.Node
	lgr      logger.Logger
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a client-API server bound to lis, servicing requests
// against n.
func NewServer(lis net.Listener, n *node.Node, lgr logger.Logger) *Server {
	if lgr == nil {
		lgr = &logger.NopLogger{}
	}
	return &Server{listener: lis, n: n, lgr: lgr, quit: make(chan struct{})}
}

// Serve accepts connections until Close is called, handling each on its
// own goroutine. It blocks until the listener is closed.
func (s *Server) Serve() error {
	s.lgr.Info("wire: client-API server listening", logger.F("addr", s.listener.Addr().String()))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				return fmt.Errorf("wire: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// finish.
func (s *Server) Close() error {
	close(s.quit)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	typ, payload, err := ReadFrame(conn)
	if err != nil {
		s.lgr.Warn("wire: failed to read request frame", logger.F("err", err), logger.F("remote", conn.RemoteAddr().String()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := ctxutil.CheckContext(ctx); err != nil {
		s.lgr.Warn("wire: request context already invalid", logger.F("err", err))
		s.writeError(conn, typ, s.n.Space().Zero())
		return
	}

	switch typ {
	case TypePut:
		s.handlePut(ctx, conn, payload)
	case TypeGet:
		s.handleGet(ctx, conn, payload)
	case TypeTrace:
		s.handleTrace(ctx, conn, payload)
	default:
		s.writeError(conn, typ, s.n.Space().Zero())
	}
}

func (s *Server) handlePut(ctx context.Context, conn net.Conn, payload []byte) {
	req, err := DecodePut(payload)
	if err != nil {
		s.lgr.Warn("wire: malformed PUT", logger.F("err", err))
		s.writeError(conn, TypePut, s.n.Space().Zero())
		return
	}
	if err := s.n.Put(ctx, req.Key, req.Key.String(), string(req.Value), req.TTL, req.Replication); err != nil {
		s.lgr.Warn("wire: PUT failed", logger.F("key", req.Key.String()), logger.F("err", err))
		s.writeError(conn, TypePut, req.Key)
		return
	}
	// PUT has no dedicated reply frame: success is the connection closing
	// cleanly (the deferred conn.Close in handleConn) without an ERROR.
}

func (s *Server) handleGet(ctx context.Context, conn net.Conn, payload []byte) {
	key, err := DecodeKeyOnly(payload)
	if err != nil {
		s.lgr.Warn("wire: malformed GET", logger.F("err", err))
		s.writeError(conn, TypeGet, s.n.Space().Zero())
		return
	}
	recs, err := s.n.Get(ctx, key)
	if err != nil {
		s.lgr.Warn("wire: GET failed", logger.F("key", key.String()), logger.F("err", err))
		s.writeError(conn, TypeGet, key)
		return
	}
	for _, rec := range recs {
		frame, err := EncodeGetReply(key, []byte(rec.Value))
		if err != nil {
			s.lgr.Error("wire: encode GET_REPLY", logger.F("err", err))
			return
		}
		if _, err := conn.Write(frame); err != nil {
			s.lgr.Warn("wire: write GET_REPLY", logger.F("err", err))
			return
		}
	}
	// EOF (connection close, deferred by the caller) signals end of stream.
}

func (s *Server) handleTrace(ctx context.Context, conn net.Conn, payload []byte) {
	key, err := DecodeKeyOnly(payload)
	if err != nil {
		s.lgr.Warn("wire: malformed TRACE", logger.F("err", err))
		s.writeError(conn, TypeTrace, s.n.Space().Zero())
		return
	}
	result, err := s.n.Trace(ctx, key)
	if err != nil {
		s.lgr.Warn("wire: TRACE failed", logger.F("key", key.String()), logger.F("err", err))
		s.writeError(conn, TypeTrace, key)
		return
	}

	hops := make([]Hop, 0, len(result.PrimaryHops))
	for _, h := range result.PrimaryHops {
		hops = append(hops, HopFromAddr(h.Node.ID, h.Node.Addr))
	}
	frame, err := EncodeTraceReply(key, hops)
	if err != nil {
		// The hop path outgrew the 65535-byte frame cap; report the
		// truncated-but-still-useful prefix rather than nothing.
		s.lgr.Warn("wire: TRACE_REPLY too large, truncating hop list", logger.F("hops", len(hops)), logger.F("err", err))
		for len(hops) > 0 {
			hops = hops[:len(hops)-1]
			if frame, err = EncodeTraceReply(key, hops); err == nil {
				break
			}
		}
		if err != nil {
			s.writeError(conn, TypeTrace, key)
			return
		}
	}
	if _, err := conn.Write(frame); err != nil {
		s.lgr.Warn("wire: write TRACE_REPLY", logger.F("err", err))
	}
}

func (s *Server) writeError(conn net.Conn, requestedType uint16, key domain.ID) {
	if len(key) == 0 {
		key = s.n.Space().Zero()
	}
	frame, err := EncodeError(ErrorFrame{RequestedType: requestedType, RequestedKey: key})
	if err != nil {
		s.lgr.Error("wire: encode ERROR frame", logger.F("err", err))
		return
	}
	if _, err := conn.Write(frame); err != nil {
		s.lgr.Warn("wire: write ERROR frame", logger.F("err", err))
	}
}
