// Package config loads the agent's runtime configuration: chain
// parameters, RPC endpoints, the signer boundary, recharge/halting
// thresholds, logging, and the metrics/API HTTP surfaces.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Chain    ChainConfig    `mapstructure:"chain"    yaml:"chain"`
	Signer   SignerConfig   `mapstructure:"signer"   yaml:"signer"`
	Recharge RechargeConfig `mapstructure:"recharge" yaml:"recharge"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log"      yaml:"log"`
	Store    StoreConfig    `mapstructure:"store"    yaml:"store"`
}

// ChainConfig holds the EVM chain and RPC provider parameters.
type ChainConfig struct {
	ChainID            uint64   `mapstructure:"chain_id"            yaml:"chain_id"            env:"CHAIN_ID"`
	RPCEndpoints       []string `mapstructure:"rpc_endpoints"       yaml:"rpc_endpoints"       env:"CHAIN_RPC_ENDPOINTS"`
	CollateralRegistry string   `mapstructure:"collateral_registry" yaml:"collateral_registry" env:"CHAIN_COLLATERAL_REGISTRY"`
	CkETHHelper        string   `mapstructure:"cketh_helper"        yaml:"cketh_helper"        env:"CHAIN_CKETH_HELPER"`
}

// SignerConfig selects and configures the signer boundary (§4.2).
type SignerConfig struct {
	// Kind selects the signer implementation: "local" (keys generated and
	// held in process memory; KeystoreDir and KeystorePass are not read) or
	// "remote", which passes Validate but is rejected at startup as not
	// implemented.
	Kind           string `mapstructure:"kind"             yaml:"kind"             env:"SIGNER_KIND"`
	KeystoreDir    string `mapstructure:"keystore_dir"     yaml:"keystore_dir"     env:"SIGNER_KEYSTORE_DIR"`
	KeystorePass   string `mapstructure:"keystore_pass"    yaml:"keystore_pass"    env:"SIGNER_KEYSTORE_PASS"`
	RemoteEndpoint string `mapstructure:"remote_endpoint"  yaml:"remote_endpoint"  env:"SIGNER_REMOTE_ENDPOINT"`
}

// RechargeConfig configures the ckETH mint loop and the cycles swap.
type RechargeConfig struct {
	ExchangeRateEndpoint string `mapstructure:"exchange_rate_endpoint" yaml:"exchange_rate_endpoint"`
	LedgerEndpoint       string `mapstructure:"ledger_endpoint"        yaml:"ledger_endpoint"`
	// Principal is the hex-encoded 32-byte account identifier credited by
	// the ckETH helper's deposit call during a mint cycle.
	Principal string `mapstructure:"principal" yaml:"principal"`
}

// APIConfig configures the HTTP API: read-only queries plus the
// configuration and swap operations registered by server/api IRHandlers.
type APIConfig struct {
	Enabled           bool          `mapstructure:"enabled"             yaml:"enabled"`
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"    yaml:"max_header_bytes"`
	// EnableCORS permits cross-origin requests, for a browser-based
	// operator dashboard served from a different origin than this API.
	EnableCORS bool `mapstructure:"enable_cors" yaml:"enable_cors"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Port    int    `mapstructure:"port"    yaml:"port"    env:"METRICS_PORT"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig configures the zerolog base logger.
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// StoreConfig configures the stable store's snapshot file.
type StoreConfig struct {
	Path             string        `mapstructure:"path"              yaml:"path"`
	CheckpointPeriod time.Duration `mapstructure:"checkpoint_period" yaml:"checkpoint_period"`
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Signer.KeystorePass) == "" {
		if pass := strings.TrimSpace(os.Getenv("IR_SIGNER_KEYSTORE_PASS")); pass != "" {
			cfg.Signer.KeystorePass = pass
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.rpc_endpoints", []string{})

	v.SetDefault("signer.kind", "local")
	v.SetDefault("signer.keystore_dir", "./keystore")

	v.SetDefault("recharge.exchange_rate_endpoint", "")
	v.SetDefault("recharge.ledger_endpoint", "")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8081")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.max_header_bytes", 1048576)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("store.path", "./ir-manager.snapshot.yaml")
	v.SetDefault("store.checkpoint_period", "1m")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id must be set")
	}
	if len(c.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("chain.rpc_endpoints must contain at least one endpoint")
	}
	if c.Signer.Kind != "local" && c.Signer.Kind != "remote" {
		return fmt.Errorf("signer.kind must be \"local\" or \"remote\", got %q", c.Signer.Kind)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1-65535 when metrics enabled, got %d", c.Metrics.Port)
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr must be set when api is enabled")
	}
	return nil
}

// Default returns a default configuration suitable for tests.
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			ChainID:      1,
			RPCEndpoints: []string{"http://localhost:8545"},
		},
		Signer: SignerConfig{
			Kind:        "local",
			KeystoreDir: "./keystore",
		},
		API: APIConfig{
			Enabled:           true,
			ListenAddr:        ":8081",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			EnableCORS:        false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
		Store: StoreConfig{
			Path:             "./ir-manager.snapshot.yaml",
			CheckpointPeriod: time.Minute,
		},
	}
}
