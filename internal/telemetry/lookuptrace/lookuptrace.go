// Package lookuptrace scopes the otelhttp instrumentation wrapping
// internal/peerrpc to find_successor_rec hops, so stabilize/fix-finger/
// check-predecessor traffic doesn't flood a trace backend with maintenance
// noise. Context propagation (trace context and baggage) across hops is
// handled by otelhttp itself via the global TextMapPropagator; this package
// only carries the lookup flag and decides which requests get a span.
package lookuptrace

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/baggage"
)

const lookupBaggageKey = "x-dht-lookup"

// WithLookup marks ctx as belonging to a recursive lookup chain. Call this
// once at the client-API entrypoint (Trace) before the first
// find_successor_rec hop; the flag rides along as OTel baggage through
// every peer RPC issued from a context derived from the result.
func WithLookup(ctx context.Context) context.Context {
	member, err := baggage.NewMember(lookupBaggageKey, "true")
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// IsLookup reports whether ctx carries the lookup baggage flag, whether set
// locally by WithLookup or recovered from an incoming request's propagated
// baggage.
func IsLookup(ctx context.Context) bool {
	return baggage.FromContext(ctx).Member(lookupBaggageKey).Value() == "true"
}

// Filter is an otelhttp.WithFilter predicate: only requests carrying the
// lookup flag get an instrumentation span. Wire it into both the peer-RPC
// server's otelhttp.NewHandler and the peer-RPC client's
// otelhttp.NewTransport so a single flag set at the lookup's origin governs
// tracing on every hop, in both directions.
//
// On the client side the flag lives in r.Context()'s baggage, set by
// WithLookup before the request was built. otelhttp evaluates filters
// before extracting incoming headers into the request context, so on the
// server side the flag isn't there yet; the raw "baggage" header is
// checked directly instead.
func Filter(r *http.Request) bool {
	if IsLookup(r.Context()) {
		return true
	}
	return strings.Contains(r.Header.Get("baggage"), lookupBaggageKey+"=true")
}
