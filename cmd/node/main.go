// Command node runs a single Chord DHT ring member: a peer-RPC listener
// for routing/maintenance traffic and a binary client-API listener for
// put/get/trace requests.
package main

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dhtnode/internal/bootstrap"
	"dhtnode/internal/config"
	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
	zapfactory "dhtnode/internal/logger/zap"
	"dhtnode/internal/node"
	"dhtnode/internal/peerrpc"
	"dhtnode/internal/routingtable"
	"dhtnode/internal/storage"
	"dhtnode/internal/telemetry"
	"dhtnode/internal/wire"
)

func main() {
	var (
		configPath      string
		overlayHostname string
		hostname        string
		bootstrapPort   int
		port            int
		hostkey         string
	)

	root := &cobra.Command{
		Use:   "node",
		Short: "Run a Chord DHT node",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start serving peer-RPC and client-API traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, overlayHostname, hostname, bootstrapPort, port, hostkey)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "config/node.ini", "path to the node's INI configuration file")
	serve.Flags().StringVarP(&overlayHostname, "overlay-hostname", "I", "", "bootstrap peer's hostname (overrides DHT.OVERLAY_HOSTNAME)")
	serve.Flags().StringVarP(&hostname, "hostname", "i", "", "local bind hostname (overrides DHT.HOSTNAME)")
	serve.Flags().IntVarP(&bootstrapPort, "bootstrap-port", "B", 0, "bootstrap peer's client-API port (overrides BOOTSTRAP.PORT)")
	serve.Flags().IntVarP(&port, "port", "b", 0, "local client-API port (overrides DHT.PORT)")
	serve.Flags().StringVarP(&hostkey, "hostkey", "h", "", "PEM public-key path used to derive this node's id (overrides HOSTKEY)")

	root.AddCommand(serve)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath, overlayHostname, hostname string, bootstrapPort, port int, hostkey string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration from %q: %w", configPath, err)
	}
	cfg.ApplyFlagOverrides(overlayHostname, hostname, bootstrapPort, port, hostkey)
	if err := cfg.ResolveHostname(); err != nil {
		return fmt.Errorf("resolve hostname: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewZapAdapter(zapLog)
	} else {
		lgr = &logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	space, err := domain.NewSpace(cfg.DHT.IDBits, cfg.FaultTolerance.SuccessorListSize)
	if err != nil {
		return fmt.Errorf("initialize identifier space: %w", err)
	}

	id, err := nodeID(space, cfg)
	if err != nil {
		return fmt.Errorf("derive node id: %w", err)
	}

	self := domain.NodeRef{ID: id, Addr: cfg.PeerAddr()}
	lgr = lgr.Named("node").With(logger.FNode("self", self))
	lgr.Info("node initializing", logger.F("peer_addr", cfg.PeerAddr()))

	shutdownTracer := telemetry.InitTracer(cfg.Tracing, "dhtnode", id)
	defer func() { _ = shutdownTracer(context.Background()) }()

	rt := routingtable.New(self, space, cfg.FaultTolerance.SuccessorListSize, routingtable.WithLogger(lgr.Named("routingtable")))
	pool := peerrpc.NewPool(lgr.Named("peerpool"), space, cfg.FaultTolerance.FailureTimeout, 0)
	defer pool.Close()
	store := storage.NewMemoryStore(lgr.Named("storage"))

	n := node.New(rt, store, pool, node.Config{
		ReplicationCount: cfg.FaultTolerance.SuccessorListSize,
		StabilizeEvery:   cfg.FaultTolerance.StabilizationInterval,
		FixFingerEvery:   cfg.FaultTolerance.FixFingerInterval,
		CheckPredEvery:   cfg.FaultTolerance.StabilizationInterval,
	}, node.WithLogger(lgr))

	peerLis, err := net.Listen("tcp", cfg.PeerAddr())
	if err != nil {
		return fmt.Errorf("listen on peer-RPC address %s: %w", cfg.PeerAddr(), err)
	}
	peerSrv := peerrpc.NewServer(n, space, lgr.Named("peerrpc"), 200, 400)
	httpSrv := &http.Server{Handler: peerSrv.Handler()}

	wireLis, err := net.Listen("tcp", cfg.ClientAddr())
	if err != nil {
		_ = peerLis.Close()
		return fmt.Errorf("listen on client-API address %s: %w", cfg.ClientAddr(), err)
	}
	wireSrv := wire.NewServer(wireLis, n, lgr.Named("wire"))

	serveErr := make(chan error, 2)
	go func() { serveErr <- httpSrv.Serve(peerLis) }()
	go func() { serveErr <- wireSrv.Serve() }()
	lgr.Info("listeners started", logger.F("peer_addr", cfg.PeerAddr()), logger.F("client_addr", cfg.ClientAddr()))

	register, err := newBootstrap(cfg)
	if err != nil {
		return err
	}

	joinCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	peers, err := register.Discover(joinCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve bootstrap peers: %w", err)
	}

	bootstrapAddr := ""
	if len(peers) > 0 {
		bootstrapAddr = peers[0]
	}
	if err := n.Join(context.Background(), bootstrapAddr); err != nil {
		return fmt.Errorf("join ring: %w", err)
	}

	regCtx, regCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := register.Register(regCtx, self); err != nil {
		lgr.Warn("bootstrap registration failed", logger.F("err", err))
	}
	regCancel()
	defer func() {
		dCtx, dCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dCancel()
		if err := register.Deregister(dCtx, self); err != nil {
			lgr.Warn("bootstrap deregistration failed", logger.F("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	n.StartStabilizers(ctx)
	lgr.Info("stabilization workers started")

	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received, stopping gracefully")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = wireSrv.Close()
		return nil
	case err := <-serveErr:
		stop()
		return fmt.Errorf("server terminated unexpectedly: %w", err)
	}
}

func newBootstrap(cfg *config.Config) (bootstrap.Bootstrap, error) {
	switch cfg.Bootstrap.Mode {
	case "static", "dns":
		peers, err := bootstrap.ResolveBootstrap(cfg, &logger.NopLogger{})
		if err != nil {
			return nil, fmt.Errorf("resolve bootstrap peers: %w", err)
		}
		return bootstrap.NewStaticBootstrap(peers), nil
	case "route53":
		return bootstrap.NewRoute53Bootstrap(cfg.Bootstrap.Route53)
	default:
		return nil, fmt.Errorf("unsupported bootstrap mode: %s", cfg.Bootstrap.Mode)
	}
}

// nodeID derives the local node's identifier: from the SHA-256 digest of
// the DER-encoded public key at cfg.HostKey when set, otherwise by
// hashing the node's own client-API address.
func nodeID(space domain.Space, cfg *config.Config) (domain.ID, error) {
	if cfg.HostKey == "" {
		return space.NewIdFromString(cfg.ClientAddr()), nil
	}

	raw, err := os.ReadFile(cfg.HostKey)
	if err != nil {
		return nil, fmt.Errorf("read hostkey %s: %w", cfg.HostKey, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("hostkey %s: not a PEM file", cfg.HostKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("hostkey %s: parse public key: %w", cfg.HostKey, err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("hostkey %s: re-encode public key: %w", cfg.HostKey, err)
	}
	digest := sha256.Sum256(der)

	buf := make([]byte, space.ByteLen)
	copy(buf, digest[:space.ByteLen])
	extraBits := space.ByteLen*8 - space.Bits
	if extraBits > 0 {
		mask := byte(0xFF >> extraBits)
		buf[0] &= mask
	}
	return domain.ID(buf), nil
}
