// Package config defines the overlay's YAML configuration schema, its
// environment-variable override layer (built on internal/configloader) and
// structural validation.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"overlay/internal/configloader"
	"overlay/internal/logger"
)

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

// TopologyConfig carries the tree shape (domain.Topology) as loaded config.
type TopologyConfig struct {
	Fanout         int     `yaml:"fanout"`
	TreeMapperRoot float64 `yaml:"treeMapperRoot"`
}

// TimeoutsConfig names every configurable timeout from spec §6.3.
type TimeoutsConfig struct {
	Join         time.Duration `yaml:"join"`
	Leave        time.Duration `yaml:"leave"`
	Replacement  time.Duration `yaml:"replacement"`
	SearchExact  time.Duration `yaml:"searchExact"`
	FindQuery    time.Duration `yaml:"findQuery"`
	Subscription time.Duration `yaml:"subscription"`
}

// AlgorithmTypesConfig selects a pluggable algorithm per slot, as spec §6.3
// requires (e.g. different DSN placement or replacement strategies).
type AlgorithmTypesConfig struct {
	Replacement  string `yaml:"replacement"`
	SearchExact  string `yaml:"searchExact"`
	DSNPlacement string `yaml:"dsnPlacement"`
}

// JoinInfoConfig selects how this peer locates an entry point to join
// through: ROOT (it is the first peer), KNOWN_ENDPOINT (static peer list) or
// DISCOVERY (DNS / multicast discovery).
type JoinInfoConfig struct {
	Mode string `yaml:"mode"` // "root" | "known_endpoint" | "discovery"
}

type EsearchConfig struct {
	TimestampStorageLimit int `yaml:"timestampStorageLimit"`
}

type DiscoveryConfig struct {
	Mode          string   `yaml:"mode"` // "static" | "dns" | "multicast"
	DNSName       string   `yaml:"dnsName"`
	SRV           bool     `yaml:"srv"`
	Port          int      `yaml:"port"`
	Peers         []string `yaml:"peers"`
	MulticastAddr string   `yaml:"multicastAddr"`
}

type RegisterConfig struct {
	Enabled      bool   `yaml:"enabled"`
	HostedZoneID string `yaml:"hostedZoneId"`
	DomainSuffix string `yaml:"domainSuffix"`
	TTL          int64  `yaml:"ttl"`
}

type BootstrapConfig struct {
	JoinInfo  JoinInfoConfig  `yaml:"joinInfo"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Register  RegisterConfig  `yaml:"register"`
}

type DHTConfig struct {
	Mode       string               `yaml:"mode"` // "public" | "private"
	Topology   TopologyConfig       `yaml:"topology"`
	Timeouts   TimeoutsConfig       `yaml:"timeouts"`
	Algorithms AlgorithmTypesConfig `yaml:"algorithms"`
	Esearch    EsearchConfig        `yaml:"esearch"`
	Bootstrap  BootstrapConfig      `yaml:"bootstrap"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type NodeConfig struct {
	Id     string       `yaml:"id"`
	Server ServerConfig `yaml:"server"`
}

type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	DHT       DHTConfig       `yaml:"dht"`
	Node      NodeConfig      `yaml:"node"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoadConfig reads and parses path as YAML. Call ApplyEnvOverrides and then
// ValidateConfig before using the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := configloader.LoadYAML(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvOverrides applies the deployment-dependent environment variable
// overrides documented below, using the generic typed helpers in
// internal/configloader.
//
//	NODE_ID, NODE_HOST, NODE_PORT
//	BOOTSTRAP_JOIN_MODE
//	BOOTSTRAP_DISCOVERY_MODE, BOOTSTRAP_DNSNAME, BOOTSTRAP_SRV, BOOTSTRAP_PORT, BOOTSTRAP_PEERS, BOOTSTRAP_MULTICAST_ADDR
//	REGISTER_ENABLED, REGISTER_ZONE_ID, REGISTER_SUFFIX, REGISTER_TTL
//	TRACE_ENABLED, TRACE_EXPORTER, TRACE_ENDPOINT
//	LOGGER_ENABLED, LOGGER_LEVEL, LOGGER_ENCODING, LOGGER_MODE, LOGGER_FILE_PATH
func (cfg *Config) ApplyEnvOverrides() {
	configloader.OverrideString(&cfg.Node.Id, "NODE_ID")
	configloader.OverrideString(&cfg.Node.Server.Host, "NODE_HOST")
	configloader.OverrideInt(&cfg.Node.Server.Port, "NODE_PORT")

	configloader.OverrideString(&cfg.DHT.Bootstrap.JoinInfo.Mode, "BOOTSTRAP_JOIN_MODE")
	configloader.OverrideString(&cfg.DHT.Bootstrap.Discovery.Mode, "BOOTSTRAP_DISCOVERY_MODE")
	configloader.OverrideString(&cfg.DHT.Bootstrap.Discovery.DNSName, "BOOTSTRAP_DNSNAME")
	configloader.OverrideBool(&cfg.DHT.Bootstrap.Discovery.SRV, "BOOTSTRAP_SRV")
	configloader.OverrideInt(&cfg.DHT.Bootstrap.Discovery.Port, "BOOTSTRAP_PORT")
	configloader.OverrideStringSlice(&cfg.DHT.Bootstrap.Discovery.Peers, "BOOTSTRAP_PEERS")
	configloader.OverrideString(&cfg.DHT.Bootstrap.Discovery.MulticastAddr, "BOOTSTRAP_MULTICAST_ADDR")

	configloader.OverrideBool(&cfg.DHT.Bootstrap.Register.Enabled, "REGISTER_ENABLED")
	configloader.OverrideString(&cfg.DHT.Bootstrap.Register.HostedZoneID, "REGISTER_ZONE_ID")
	configloader.OverrideString(&cfg.DHT.Bootstrap.Register.DomainSuffix, "REGISTER_SUFFIX")
	configloader.OverrideInt64(&cfg.DHT.Bootstrap.Register.TTL, "REGISTER_TTL")

	configloader.OverrideBool(&cfg.Telemetry.Tracing.Enabled, "TRACE_ENABLED")
	configloader.OverrideString(&cfg.Telemetry.Tracing.Exporter, "TRACE_EXPORTER")
	configloader.OverrideString(&cfg.Telemetry.Tracing.Endpoint, "TRACE_ENDPOINT")

	configloader.OverrideBool(&cfg.Logger.Active, "LOGGER_ENABLED")
	configloader.OverrideString(&cfg.Logger.Level, "LOGGER_LEVEL")
	configloader.OverrideString(&cfg.Logger.Encoding, "LOGGER_ENCODING")
	configloader.OverrideString(&cfg.Logger.Mode, "LOGGER_MODE")
	configloader.OverrideString(&cfg.Logger.File.Path, "LOGGER_FILE_PATH")
}

// ValidateConfig performs structural validation only -- it does not check
// domain-level consistency beyond what's needed to construct a Topology.
func (cfg *Config) ValidateConfig() error {
	var errs []string

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.encoding: %s", cfg.Logger.Encoding))
	}
	switch cfg.Logger.Mode {
	case "stdout":
	case "file":
		if cfg.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required when mode=file")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	switch cfg.DHT.Mode {
	case "public", "private":
	default:
		errs = append(errs, fmt.Sprintf("invalid dht.mode: %s", cfg.DHT.Mode))
	}
	if cfg.DHT.Topology.Fanout < 2 {
		errs = append(errs, "dht.topology.fanout must be >= 2")
	}
	if cfg.DHT.Timeouts.Join <= 0 || cfg.DHT.Timeouts.Leave <= 0 || cfg.DHT.Timeouts.Replacement <= 0 ||
		cfg.DHT.Timeouts.SearchExact <= 0 || cfg.DHT.Timeouts.FindQuery <= 0 || cfg.DHT.Timeouts.Subscription <= 0 {
		errs = append(errs, "dht.timeouts.* must all be > 0")
	}
	if cfg.DHT.Esearch.TimestampStorageLimit <= 0 {
		errs = append(errs, "dht.esearch.timestampStorageLimit must be > 0")
	}

	switch cfg.DHT.Bootstrap.JoinInfo.Mode {
	case "root":
	case "known_endpoint":
		for _, p := range cfg.DHT.Bootstrap.Discovery.Peers {
			if _, _, err := net.SplitHostPort(p); err != nil {
				errs = append(errs, fmt.Sprintf("invalid peer address %q: %v", p, err))
			}
		}
	case "discovery":
		switch cfg.DHT.Bootstrap.Discovery.Mode {
		case "dns":
			if cfg.DHT.Bootstrap.Discovery.DNSName == "" {
				errs = append(errs, "bootstrap.discovery.dnsName is required in mode=dns")
			}
		case "multicast":
			if cfg.DHT.Bootstrap.Discovery.MulticastAddr == "" {
				errs = append(errs, "bootstrap.discovery.multicastAddr is required in mode=multicast")
			}
		default:
			errs = append(errs, fmt.Sprintf("invalid bootstrap.discovery.mode: %s", cfg.DHT.Bootstrap.Discovery.Mode))
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid bootstrap.joinInfo.mode: %s (must be root, known_endpoint or discovery)", cfg.DHT.Bootstrap.JoinInfo.Mode))
	}

	if cfg.DHT.Bootstrap.Register.Enabled {
		if cfg.DHT.Bootstrap.Register.HostedZoneID == "" {
			errs = append(errs, "bootstrap.register.hostedZoneId is required when register.enabled=true")
		}
		if cfg.DHT.Bootstrap.Register.DomainSuffix == "" {
			errs = append(errs, "bootstrap.register.domainSuffix is required when register.enabled=true")
		}
		if cfg.DHT.Bootstrap.Register.TTL <= 0 {
			errs = append(errs, "bootstrap.register.ttl must be > 0 when register.enabled=true")
		}
	}

	if cfg.Node.Server.Port < 0 || cfg.Node.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("node.server.port must be in [0,65535], got %d", cfg.Node.Server.Port))
	}

	if cfg.Telemetry.Tracing.Enabled {
		switch cfg.Telemetry.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Sprintf("invalid telemetry.tracing.exporter: %s", cfg.Telemetry.Tracing.Exporter))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogConfig prints the loaded configuration at DEBUG level, for diagnosing
// startup issues.
func (cfg *Config) LogConfig(lgr logger.Logger) {
	lgr.Debug("loaded configuration",
		logger.F("logger.mode", cfg.Logger.Mode),
		logger.F("dht.mode", cfg.DHT.Mode),
		logger.F("dht.topology.fanout", cfg.DHT.Topology.Fanout),
		logger.F("dht.topology.treeMapperRoot", cfg.DHT.Topology.TreeMapperRoot),
		logger.F("dht.timeouts.join", cfg.DHT.Timeouts.Join.String()),
		logger.F("dht.timeouts.searchExact", cfg.DHT.Timeouts.SearchExact.String()),
		logger.F("dht.esearch.timestampStorageLimit", cfg.DHT.Esearch.TimestampStorageLimit),
		logger.F("bootstrap.joinInfo.mode", cfg.DHT.Bootstrap.JoinInfo.Mode),
		logger.F("bootstrap.discovery.mode", cfg.DHT.Bootstrap.Discovery.Mode),
		logger.F("bootstrap.register.enabled", cfg.DHT.Bootstrap.Register.Enabled),
		logger.F("node.id", cfg.Node.Id),
		logger.F("node.server.host", cfg.Node.Server.Host),
		logger.F("node.server.port", cfg.Node.Server.Port),
		logger.F("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled),
	)
}
