package peerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dhtnode/internal/dhterr"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/telemetry/lookuptrace"
)

// Client is a thin JSON-over-HTTP client for one peer's /peer endpoint.
type Client struct {
	addr       string
	httpClient *http.Client
	space      domain.Space
}

func newClient(addr string, sp domain.Space, timeout time.Duration) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithFilter(lookuptrace.Filter))
	return &Client{addr: addr, space: sp, httpClient: &http.Client{Timeout: timeout, Transport: transport}}
}

func (c *Client) call(ctx context.Context, op Op, args, result any) error {
	body, err := json.Marshal(Request{Op: op, Args: mustRaw(args)})
	if err != nil {
		return dhterr.Wrap(dhterr.KindInternal, "encode request", err)
	}
	url := fmt.Sprintf("http://%s/peer", c.addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dhterr.Wrap(dhterr.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return dhterr.Wrap(dhterr.KindTimeout, "peer call timed out", err)
		}
		return dhterr.Wrap(dhterr.KindConnection, "peer call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return dhterr.New(dhterr.KindRefused, "peer rejected request: rate limited")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return dhterr.Wrap(dhterr.KindConnection, "read peer response", err)
	}
	var env Response
	if err := json.Unmarshal(raw, &env); err != nil {
		return dhterr.Wrap(dhterr.KindSchema, "decode peer response", err)
	}
	if !env.OK {
		kind := dhterr.KindInternal
		msg := "peer returned failure"
		if env.Error != nil {
			kind = dhterr.Kind(env.Error.Kind)
			msg = env.Error.Message
		}
		return dhterr.New(kind, msg)
	}
	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return dhterr.Wrap(dhterr.KindSchema, "decode peer result", err)
	}
	return nil
}

func mustRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// GetNodeID asks addr for its own identifier; used as a liveness probe.
func (c *Client) GetNodeID(ctx context.Context) (domain.ID, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, OpGetNodeID, nil, &res); err != nil {
		return nil, err
	}
	return c.space.FromHexString(res.ID)
}

// GetNodeInfo fetches addr's self, predecessor and successor list.
func (c *Client) GetNodeInfo(ctx context.Context) (domain.NodeRef, *domain.NodeRef, []domain.NodeRef, error) {
	var res NodeInfoResult
	if err := c.call(ctx, OpGetNodeInfo, nil, &res); err != nil {
		return domain.NodeRef{}, nil, nil, err
	}
	self, err := fromWireNode(c.space, res.Self)
	if err != nil {
		return domain.NodeRef{}, nil, nil, dhterr.Wrap(dhterr.KindSchema, "decode self", err)
	}
	var pred *domain.NodeRef
	if res.Predecessor != nil {
		p, err := fromWireNode(c.space, *res.Predecessor)
		if err != nil {
			return domain.NodeRef{}, nil, nil, dhterr.Wrap(dhterr.KindSchema, "decode predecessor", err)
		}
		pred = &p
	}
	succList := make([]domain.NodeRef, 0, len(res.SuccessorList))
	for _, w := range res.SuccessorList {
		n, err := fromWireNode(c.space, w)
		if err != nil {
			return domain.NodeRef{}, nil, nil, dhterr.Wrap(dhterr.KindSchema, "decode successor list", err)
		}
		succList = append(succList, n)
	}
	return self, pred, succList, nil
}

// UpdatePredecessor notifies addr that candidate might be its predecessor.
func (c *Client) UpdatePredecessor(ctx context.Context, candidate domain.NodeRef) error {
	return c.call(ctx, OpUpdatePredecessor, UpdatePredecessorArgs{Candidate: toWireNode(candidate)}, nil)
}

// UpdateSuccessor directly sets addr's successor-list slot index.
func (c *Client) UpdateSuccessor(ctx context.Context, index int, succ domain.NodeRef) error {
	return c.call(ctx, OpUpdateSuccessor, UpdateSuccessorArgs{Index: index, Successor: toWireNode(succ)}, nil)
}

// UpdateFingerTable pushes candidate as a possible owner of addr's finger
// index, the join-time propagation step of classic Chord.
func (c *Client) UpdateFingerTable(ctx context.Context, index int, candidate domain.NodeRef) error {
	return c.call(ctx, OpUpdateFingerTable, UpdateFingerTableArgs{Index: index, Candidate: toWireNode(candidate)}, nil)
}

// FindSuccessorRec asks addr to continue a recursive lookup for target.
func (c *Client) FindSuccessorRec(ctx context.Context, target domain.ID, trace bool) (domain.NodeRef, []HopRecord, error) {
	var res FindSuccessorRecResult
	err := c.call(ctx, OpFindSuccessorRec, FindSuccessorRecArgs{Target: target.String(), Trace: trace}, &res)
	if err != nil {
		return domain.NodeRef{}, nil, err
	}
	succ, err := fromWireNode(c.space, res.Successor)
	if err != nil {
		return domain.NodeRef{}, nil, dhterr.Wrap(dhterr.KindSchema, "decode successor", err)
	}
	hops := make([]HopRecord, 0, len(res.Hops))
	for _, h := range res.Hops {
		id, err := c.space.FromHexString(h.NodeID)
		if err != nil {
			continue
		}
		hops = append(hops, HopRecord{
			Node:    domain.NodeRef{ID: id, Addr: h.Addr},
			Elapsed: h.ElapsedUs,
			Outcome: h.Outcome,
		})
	}
	return succ, hops, nil
}

// DHTPut asks addr to store rec, under the assumption addr owns rec.Key.
func (c *Client) DHTPut(ctx context.Context, rec domain.StoredRecord) error {
	return c.call(ctx, OpDHTPut, DHTPutArgs{Record: toWireRecord(rec)}, nil)
}

// DHTGet asks addr for every live value stored under key.
func (c *Client) DHTGet(ctx context.Context, key domain.ID) ([]domain.StoredRecord, error) {
	var res DHTGetResult
	if err := c.call(ctx, OpDHTGet, DHTGetArgs{Key: key.String()}, &res); err != nil {
		return nil, err
	}
	out := make([]domain.StoredRecord, 0, len(res.Records))
	for _, w := range res.Records {
		r, err := fromWireRecord(c.space, w)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// poolEntry is a refcounted, reusable client plus its last-activity time,
// the same shape as the teacher's client.Manager connEntry, generalized
// with an explicit reference count: a client stays pooled as long as the
// routing table still points at it, even between idle-eviction sweeps.
type poolEntry struct {
	client   *Client
	refs     int
	lastUsed time.Time
}

// Pool manages reusable peer clients keyed by address, with idle eviction
// for entries nobody references and an explicit AddRef/Release protocol
// for entries the routing table is actively pointing at.
type Pool struct {
	lgr            logger.Logger
	space          domain.Space
	mu             sync.Mutex
	entries        map[string]*poolEntry
	requestTimeout time.Duration
	idleTTL        time.Duration
	stopCh         chan struct{}
}

// NewPool creates a pool. requestTimeout bounds every RPC issued through
// it; idleTTL, if > 0, evicts unreferenced entries idle that long.
func NewPool(lgr logger.Logger, space domain.Space, requestTimeout, idleTTL time.Duration) *Pool {
	p := &Pool{
		lgr:            lgr,
		space:          space,
		entries:        make(map[string]*poolEntry),
		requestTimeout: requestTimeout,
		idleTTL:        idleTTL,
		stopCh:         make(chan struct{}),
	}
	if idleTTL > 0 {
		go p.evictLoop()
	}
	return p
}

// FailureTimeout is the timeout applied to maintenance RPCs.
func (p *Pool) FailureTimeout() time.Duration { return p.requestTimeout }

// AddRef creates (if needed) and pins a client for addr. Call once per
// routing-table slot that now points at addr.
func (p *Pool) AddRef(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[addr]
	if !ok {
		e = &poolEntry{client: newClient(addr, p.space, p.requestTimeout)}
		p.entries[addr] = e
	}
	e.refs++
	e.lastUsed = time.Now()
	return nil
}

// Release unpins one reference to addr. When refs reaches zero the entry
// becomes eligible for idle eviction but is not removed immediately, so a
// node flapping in and out of the routing table doesn't pay dial cost on
// every flap.
func (p *Pool) Release(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[addr]
	if !ok {
		return nil
	}
	if e.refs > 0 {
		e.refs--
	}
	e.lastUsed = time.Now()
	return nil
}

// GetFromPool returns the client for addr if one is already pooled
// (referenced or not yet evicted), without creating a new one.
func (p *Pool) GetFromPool(addr string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[addr]
	if !ok {
		return nil, dhterr.New(dhterr.KindUnavailable, "client not in pool: "+addr)
	}
	e.lastUsed = time.Now()
	return e.client, nil
}

// DialEphemeral returns an unpooled, unreferenced client for a one-off
// call. HTTP clients in this pool hold no persistent connection state
// worth explicitly tearing down, unlike the teacher's gRPC connections.
func (p *Pool) DialEphemeral(addr string) (*Client, error) {
	return newClient(addr, p.space, p.requestTimeout), nil
}

// DebugLog emits a structured snapshot of the pool contents.
func (p *Pool) DebugLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]map[string]any, 0, len(p.entries))
	for addr, e := range p.entries {
		entries = append(entries, map[string]any{"addr": addr, "refs": e.refs})
	}
	p.lgr.Debug("peer client pool snapshot", logger.F("entries", entries))
}

// Close stops the eviction loop. Pooled clients hold no persistent
// connections to close.
func (p *Pool) Close() {
	close(p.stopCh)
}

func (p *Pool) evictLoop() {
	t := time.NewTicker(p.idleTTL)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, e := range p.entries {
		if e.refs == 0 && now.Sub(e.lastUsed) >= p.idleTTL {
			delete(p.entries, addr)
		}
	}
}
