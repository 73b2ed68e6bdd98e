package peerrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"dhtnode/internal/ctxutil"
	"dhtnode/internal/dhterr"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/telemetry/lookuptrace"
)

// Server exposes a node's Handler over POST /peer.
type Server struct {
	engine  *gin.Engine
	handler Handler
	space   domain.Space
	lgr     logger.Logger
	limiter *rate.Limiter
}

// NewServer builds the gin engine. rps/burst bound the rate of accepted
// peer requests; a request over the limit is rejected with a "refused"
// error rather than queued, so a struggling node sheds load instead of
// piling up latency.
func NewServer(h Handler, sp domain.Space, lgr logger.Logger, rps float64, burst int) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:  gin.New(),
		handler: h,
		space:   sp,
		lgr:     lgr,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	s.engine.Use(gin.Recovery())
	s.engine.POST("/peer", s.handlePeer)
	return s
}

// Handler returns the net/http handler backing this server, for use with
// http.Server or httptest. Requests whose context carries the lookup
// baggage flag (set by node.Trace) get an otelhttp span; ordinary
// maintenance traffic does not.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "peer", otelhttp.WithFilter(lookuptrace.Filter))
}

func (s *Server) handlePeer(c *gin.Context) {
	reqID := uuid.NewString()
	lgr := s.lgr.With(logger.F("req_id", reqID))

	if !s.limiter.Allow() {
		lgr.Warn("peer request throttled")
		c.JSON(http.StatusTooManyRequests, Response{
			OK:    false,
			Error: &ErrorPayload{Kind: string(dhterr.KindRefused), Message: "rate limit exceeded"},
		})
		return
	}

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			OK:    false,
			Error: &ErrorPayload{Kind: string(dhterr.KindSchema), Message: err.Error()},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := ctxutil.CheckContext(ctx); err != nil {
		lgr.Warn("peer request context already invalid", logger.F("err", err))
		c.JSON(http.StatusOK, Response{
			OK:    false,
			Error: &ErrorPayload{Kind: string(dhterr.KindOf(err)), Message: err.Error()},
		})
		return
	}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		lgr.Warn("peer op failed", logger.F("op", req.Op), logger.F("err", err))
		c.JSON(http.StatusOK, Response{
			OK:    false,
			Error: &ErrorPayload{Kind: string(dhterr.KindOf(err)), Message: err.Error()},
		})
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			OK:    false,
			Error: &ErrorPayload{Kind: string(dhterr.KindInternal), Message: err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, Response{OK: true, Result: raw})
}

// opsRequiringActive are the RPCs whose handlers read or mutate the finger
// table; spec.md §4.9 requires these to suspend until Join has finished
// populating it, rather than act on a routing table that is still empty.
var opsRequiringActive = map[Op]bool{
	OpUpdatePredecessor: true,
	OpUpdateSuccessor:   true,
	OpUpdateFingerTable: true,
	OpFindSuccessorRec:  true,
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	if opsRequiringActive[req.Op] {
		if err := s.handler.WaitActive(ctx); err != nil {
			return nil, err
		}
	}

	switch req.Op {
	case OpGetNodeID:
		id, err := s.handler.GetNodeID(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": id.String()}, nil

	case OpGetNodeInfo:
		self, pred, succList, err := s.handler.GetNodeInfo(ctx)
		if err != nil {
			return nil, err
		}
		res := NodeInfoResult{Self: toWireNode(self), SuccessorList: toWireNodes(succList)}
		if pred != nil {
			w := toWireNode(*pred)
			res.Predecessor = &w
		}
		return res, nil

	case OpUpdatePredecessor:
		var args UpdatePredecessorArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode update_predecessor args", err)
		}
		cand, err := fromWireNode(s.space, args.Candidate)
		if err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode candidate", err)
		}
		return nil, s.handler.UpdatePredecessor(ctx, cand)

	case OpUpdateSuccessor:
		var args UpdateSuccessorArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode update_successor args", err)
		}
		succ, err := fromWireNode(s.space, args.Successor)
		if err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode successor", err)
		}
		return nil, s.handler.UpdateSuccessor(ctx, args.Index, succ)

	case OpUpdateFingerTable:
		var args UpdateFingerTableArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode update_finger_table args", err)
		}
		cand, err := fromWireNode(s.space, args.Candidate)
		if err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode candidate", err)
		}
		return nil, s.handler.UpdateFingerTable(ctx, args.Index, cand)

	case OpFindSuccessorRec:
		var args FindSuccessorRecArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode find_successor_rec args", err)
		}
		target, err := s.space.FromHexString(args.Target)
		if err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode target", err)
		}
		succ, hops, err := s.handler.FindSuccessorRec(ctx, target, args.Trace)
		if err != nil {
			return nil, err
		}
		res := FindSuccessorRecResult{Successor: toWireNode(succ)}
		for _, h := range hops {
			res.Hops = append(res.Hops, HopRecordWire{
				NodeID: h.Node.ID.String(), Addr: h.Node.Addr,
				ElapsedUs: h.Elapsed, Outcome: h.Outcome,
			})
		}
		return res, nil

	case OpDHTPut:
		var args DHTPutArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode dht_put args", err)
		}
		rec, err := fromWireRecord(s.space, args.Record)
		if err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode record", err)
		}
		return nil, s.handler.DHTPut(ctx, rec)

	case OpDHTGet:
		var args DHTGetArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode dht_get args", err)
		}
		key, err := s.space.FromHexString(args.Key)
		if err != nil {
			return nil, dhterr.Wrap(dhterr.KindSchema, "decode key", err)
		}
		recs, err := s.handler.DHTGet(ctx, key)
		if err != nil {
			return nil, err
		}
		return DHTGetResult{Records: toWireRecords(recs)}, nil

	default:
		return nil, dhterr.New(dhterr.KindSchema, "unknown op: "+string(req.Op))
	}
}
