package wire

import (
	"net"
	"testing"
	"time"

	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	"dhtnode/internal/node"
	"dhtnode/internal/peerrpc"
	"dhtnode/internal/routingtable"
	"dhtnode/internal/storage"
)

// startTestServer wires a single-node ring behind a wire.Server listening
// on an ephemeral loopback port, and returns a client dialed to it.
func startTestServer(t *testing.T) *Client {
	t.Helper()
	sp, err := domain.NewSpace(256, 3)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	self := domain.NodeRef{ID: sp.NewIdFromString("wire-test-node"), Addr: "127.0.0.1:0"}
	rt := routingtable.New(self, sp, 3)
	rt.InitSingleNode()
	cp := peerrpc.NewPool(&logger.NopLogger{}, sp, time.Second, 0)
	n := node.New(rt, storage.NewMemoryStore(&logger.NopLogger{}), cp, node.Config{
		ReplicationCount: 1,
		StabilizeEvery:   time.Hour,
		FixFingerEvery:   time.Hour,
		CheckPredEvery:   time.Hour,
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := NewServer(lis, n, &logger.NopLogger{})
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	return NewClient(lis.Addr().String(), 2*time.Second)
}

func TestClientPutGetRoundTrip(t *testing.T) {
	cli := startTestServer(t)
	key := make(domain.ID, KeyLen)
	key[KeyLen-1] = 42

	if err := cli.Put(key, []byte("hello-wire"), time.Minute, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}

	values, err := cli.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(values) != 1 || string(values[0]) != "hello-wire" {
		t.Fatalf("Get = %v, want [hello-wire]", values)
	}
}

func TestClientGetOnEmptyKeyReturnsNoValues(t *testing.T) {
	cli := startTestServer(t)
	key := make(domain.ID, KeyLen)
	key[KeyLen-1] = 99

	values, err := cli.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("Get = %v, want empty", values)
	}
}

func TestClientTraceReturnsTerminalHop(t *testing.T) {
	cli := startTestServer(t)
	key := make(domain.ID, KeyLen)
	key[KeyLen-1] = 5

	result, err := cli.Trace(key)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(result.Hops) == 0 {
		t.Fatal("expected at least one hop in a single-node ring trace")
	}
}
