package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"dhtnode/internal/logger"
)

// FileLoggerConfig configures lumberjack-backed file rotation when
// Logger.Mode is "file".
type FileLoggerConfig struct {
	Path       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// LoggerConfig controls the zap logger's level, encoding and sink.
type LoggerConfig struct {
	Active   bool
	Level    string
	Encoding string
	Mode     string // "stdout" or "file"
	File     FileLoggerConfig
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled  bool
	Exporter string // "stdout" or "otlp"
	Endpoint string
}

// FaultToleranceConfig tunes the stabilization loop.
type FaultToleranceConfig struct {
	SuccessorListSize     int
	StabilizationInterval time.Duration
	FixFingerInterval     time.Duration
	FailureTimeout        time.Duration
}

// Route53Config configures DNS-registration-based peer discovery.
type Route53Config struct {
	HostedZoneID string
	DomainSuffix string
	TTL          int64
	Region       string
}

// BootstrapConfig describes how this node discovers a ring to join.
type BootstrapConfig struct {
	Port    int
	Mode    string // "static" or "dns"
	Peers   []string
	Route53 Route53Config
}

// DHTConfig describes the identifier space and local bind address.
type DHTConfig struct {
	Hostname        string
	Port            int
	OverlayHostname string // bootstrap peer's hostname; "" means be the bootstrap
	IDBits          int
	Mode            string // "public" or "private", used to auto-pick a bind IP
}

// Config is the full node configuration, loaded from an INI file per
// spec.md §6: `[DHT] HOSTNAME/PORT`, `[DHT] OVERLAY_HOSTNAME`,
// `[BOOTSTRAP] PORT`, a bare `HOSTKEY` path, and a bare `LOG` path.
type Config struct {
	DHT            DHTConfig
	Bootstrap      BootstrapConfig
	Logger         LoggerConfig
	Tracing        TracingConfig
	FaultTolerance FaultToleranceConfig

	// HostKey is a PEM public-key file path; when set, self.id derives
	// from the SHA-256 of its DER encoding instead of the bind address.
	HostKey string
	// Log is a convenience override: if set, logging switches to file
	// mode at this path.
	Log string
}

// PeerPortOffset is added to the client-API port to derive the peer-RPC
// port, per spec.md §6 ("peer RPC runs on a derived offset, e.g.
// client-port + 3086").
const PeerPortOffset = 3086

// ClientAddr returns the "host:port" the binary client-API listener binds.
func (cfg *Config) ClientAddr() string {
	return fmt.Sprintf("%s:%d", cfg.DHT.Hostname, cfg.DHT.Port)
}

// PeerAddr returns the "host:port" the peer-RPC listener binds.
func (cfg *Config) PeerAddr() string {
	return fmt.Sprintf("%s:%d", cfg.DHT.Hostname, cfg.DHT.Port+PeerPortOffset)
}

// BootstrapPeerAddr returns the peer-RPC address of the bootstrap contact,
// or "" if this node is meant to start a new ring.
func (cfg *Config) BootstrapPeerAddr() string {
	if cfg.DHT.OverlayHostname == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", cfg.DHT.OverlayHostname, cfg.Bootstrap.Port+PeerPortOffset)
}

func defaultConfig() *Config {
	return &Config{
		DHT: DHTConfig{
			Hostname: "0.0.0.0",
			Port:     7000,
			IDBits:   256,
			Mode:     "private",
		},
		Bootstrap: BootstrapConfig{
			Port: 7000,
			Mode: "static",
		},
		Logger: LoggerConfig{
			Active:   true,
			Level:    "info",
			Encoding: "console",
			Mode:     "stdout",
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
		FaultTolerance: FaultToleranceConfig{
			SuccessorListSize:     3,
			StabilizationInterval: time.Second,
			FixFingerInterval:     time.Second,
			FailureTimeout:        2 * time.Second,
		},
	}
}

// LoadConfig parses an INI file at path into a Config seeded with defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	dflt := f.Section(ini.DefaultSection)
	cfg.HostKey = dflt.Key("HOSTKEY").MustString(cfg.HostKey)
	cfg.Log = dflt.Key("LOG").MustString(cfg.Log)
	if cfg.Log != "" {
		cfg.Logger.Mode = "file"
		cfg.Logger.File.Path = cfg.Log
	}

	dht := f.Section("DHT")
	cfg.DHT.Hostname = dht.Key("HOSTNAME").MustString(cfg.DHT.Hostname)
	cfg.DHT.Port = dht.Key("PORT").MustInt(cfg.DHT.Port)
	cfg.DHT.OverlayHostname = dht.Key("OVERLAY_HOSTNAME").MustString(cfg.DHT.OverlayHostname)
	cfg.DHT.IDBits = dht.Key("IDBITS").MustInt(cfg.DHT.IDBits)
	cfg.DHT.Mode = dht.Key("MODE").MustString(cfg.DHT.Mode)

	bs := f.Section("BOOTSTRAP")
	cfg.Bootstrap.Port = bs.Key("PORT").MustInt(cfg.Bootstrap.Port)
	cfg.Bootstrap.Mode = bs.Key("MODE").MustString(cfg.Bootstrap.Mode)
	if peers := bs.Key("PEERS").String(); peers != "" {
		cfg.Bootstrap.Peers = strings.Split(peers, ",")
	}
	cfg.Bootstrap.Route53.HostedZoneID = bs.Key("ROUTE53_HOSTED_ZONE_ID").String()
	cfg.Bootstrap.Route53.DomainSuffix = bs.Key("ROUTE53_DOMAIN_SUFFIX").String()
	cfg.Bootstrap.Route53.TTL = bs.Key("ROUTE53_TTL").MustInt64(300)
	cfg.Bootstrap.Route53.Region = bs.Key("ROUTE53_REGION").String()

	lg := f.Section("LOGGER")
	cfg.Logger.Active = lg.Key("ACTIVE").MustBool(cfg.Logger.Active)
	cfg.Logger.Level = lg.Key("LEVEL").MustString(cfg.Logger.Level)
	cfg.Logger.Encoding = lg.Key("ENCODING").MustString(cfg.Logger.Encoding)
	cfg.Logger.Mode = lg.Key("MODE").MustString(cfg.Logger.Mode)
	cfg.Logger.File.Path = lg.Key("FILE_PATH").MustString(cfg.Logger.File.Path)
	cfg.Logger.File.MaxSize = lg.Key("FILE_MAX_SIZE_MB").MustInt(cfg.Logger.File.MaxSize)
	cfg.Logger.File.MaxBackups = lg.Key("FILE_MAX_BACKUPS").MustInt(cfg.Logger.File.MaxBackups)
	cfg.Logger.File.MaxAge = lg.Key("FILE_MAX_AGE_DAYS").MustInt(cfg.Logger.File.MaxAge)
	cfg.Logger.File.Compress = lg.Key("FILE_COMPRESS").MustBool(cfg.Logger.File.Compress)

	tr := f.Section("TRACING")
	cfg.Tracing.Enabled = tr.Key("ENABLED").MustBool(cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = tr.Key("EXPORTER").MustString(cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = tr.Key("ENDPOINT").MustString(cfg.Tracing.Endpoint)

	ft := f.Section("FAULTTOLERANCE")
	cfg.FaultTolerance.SuccessorListSize = ft.Key("SUCCESSOR_LIST_SIZE").MustInt(cfg.FaultTolerance.SuccessorListSize)
	cfg.FaultTolerance.StabilizationInterval = ft.Key("STABILIZATION_INTERVAL").MustDuration(cfg.FaultTolerance.StabilizationInterval)
	cfg.FaultTolerance.FixFingerInterval = ft.Key("FIX_FINGER_INTERVAL").MustDuration(cfg.FaultTolerance.FixFingerInterval)
	cfg.FaultTolerance.FailureTimeout = ft.Key("FAILURE_TIMEOUT").MustDuration(cfg.FaultTolerance.FailureTimeout)

	return cfg, nil
}

// ApplyFlagOverrides applies the §6.3 short-flag overrides, following the
// teacher's flag-then-file precedence: a non-empty/non-zero flag value
// always wins over whatever LoadConfig populated.
//
//	-I overlayHostname   bootstrap peer hostname (DHT.OverlayHostname)
//	-i hostname          local bind hostname (DHT.Hostname)
//	-B bootstrapPort      bootstrap peer's client-API port (Bootstrap.Port)
//	-b port               local client-API port (DHT.Port)
//	-h hostkey            HOSTKEY PEM path
func (cfg *Config) ApplyFlagOverrides(overlayHostname, hostname string, bootstrapPort, port int, hostkey string) {
	if overlayHostname != "" {
		cfg.DHT.OverlayHostname = overlayHostname
	}
	if hostname != "" {
		cfg.DHT.Hostname = hostname
	}
	if bootstrapPort != 0 {
		cfg.Bootstrap.Port = bootstrapPort
	}
	if port != 0 {
		cfg.DHT.Port = port
	}
	if hostkey != "" {
		cfg.HostKey = hostkey
	}
}

// Validate performs structural validation, mirroring the teacher's
// accumulate-all-errors-then-report style.
func (cfg *Config) Validate() error {
	var errs []string

	if cfg.DHT.IDBits <= 0 {
		errs = append(errs, "dht.idBits must be > 0")
	}
	if cfg.DHT.Port <= 0 || cfg.DHT.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dht.port must be in (0,65535], got %d", cfg.DHT.Port))
	}
	switch cfg.DHT.Mode {
	case "public", "private":
	default:
		errs = append(errs, fmt.Sprintf("invalid dht.mode: %s", cfg.DHT.Mode))
	}
	if cfg.DHT.OverlayHostname != "" {
		if cfg.Bootstrap.Port <= 0 || cfg.Bootstrap.Port > 65535 {
			errs = append(errs, fmt.Sprintf("bootstrap.port must be in (0,65535], got %d", cfg.Bootstrap.Port))
		}
	}
	switch cfg.Bootstrap.Mode {
	case "static":
		for _, p := range cfg.Bootstrap.Peers {
			if _, _, err := net.SplitHostPort(p); err != nil {
				errs = append(errs, fmt.Sprintf("invalid peer address %q in bootstrap.peers: %v", p, err))
			}
		}
	case "dns":
		if cfg.DHT.OverlayHostname == "" {
			errs = append(errs, "dht.overlay_hostname is required when bootstrap.mode=dns")
		}
	case "route53":
		if cfg.Bootstrap.Route53.HostedZoneID == "" {
			errs = append(errs, "bootstrap.route53_hosted_zone_id is required when bootstrap.mode=route53")
		}
		if cfg.Bootstrap.Route53.DomainSuffix == "" {
			errs = append(errs, "bootstrap.route53_domain_suffix is required when bootstrap.mode=route53")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid bootstrap.mode: %s (must be static, dns or route53)", cfg.Bootstrap.Mode))
	}

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Mode {
	case "stdout":
	case "file":
		if cfg.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required when logger.mode=file")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Sprintf("invalid tracing.exporter: %s", cfg.Tracing.Exporter))
		}
		if cfg.Tracing.Endpoint == "" && cfg.Tracing.Exporter == "otlp" {
			errs = append(errs, "tracing.endpoint is required when tracing.exporter=otlp")
		}
	}

	if cfg.FaultTolerance.SuccessorListSize <= 0 {
		errs = append(errs, "faulttolerance.successor_list_size must be > 0")
	}
	if cfg.FaultTolerance.StabilizationInterval <= 0 {
		errs = append(errs, "faulttolerance.stabilization_interval must be > 0")
	}
	if cfg.FaultTolerance.FailureTimeout <= 0 {
		errs = append(errs, "faulttolerance.failure_timeout must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogConfig prints the loaded configuration at DEBUG level.
func (cfg *Config) LogConfig(lgr logger.Logger) {
	lgr.Debug("loaded configuration",
		logger.F("dht.hostname", cfg.DHT.Hostname),
		logger.F("dht.port", cfg.DHT.Port),
		logger.F("dht.overlayHostname", cfg.DHT.OverlayHostname),
		logger.F("dht.idBits", cfg.DHT.IDBits),
		logger.F("dht.mode", cfg.DHT.Mode),
		logger.F("bootstrap.port", cfg.Bootstrap.Port),
		logger.F("bootstrap.mode", cfg.Bootstrap.Mode),
		logger.F("bootstrap.peers", cfg.Bootstrap.Peers),
		logger.F("logger.level", cfg.Logger.Level),
		logger.F("logger.mode", cfg.Logger.Mode),
		logger.F("logger.file.path", cfg.Logger.File.Path),
		logger.F("tracing.enabled", cfg.Tracing.Enabled),
		logger.F("tracing.exporter", cfg.Tracing.Exporter),
		logger.F("faultTolerance.successorListSize", cfg.FaultTolerance.SuccessorListSize),
		logger.F("faultTolerance.stabilizationInterval", cfg.FaultTolerance.StabilizationInterval.String()),
		logger.F("faultTolerance.fixFingerInterval", cfg.FaultTolerance.FixFingerInterval.String()),
		logger.F("faultTolerance.failureTimeout", cfg.FaultTolerance.FailureTimeout.String()),
		logger.F("hostKey", cfg.HostKey),
	)
}
