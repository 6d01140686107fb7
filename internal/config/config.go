// Package config provides daemon configuration for klingsign.
// Pipeline parameters (fee ratios, expiries, timers) MUST be defined here.
// No hardcoded values should exist elsewhere in the codebase.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/chain"
)

// =============================================================================
// Network Types
// =============================================================================

// NetworkType represents mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// ChainNetwork converts to the chain registry's network type.
func (n NetworkType) ChainNetwork() chain.Network {
	if n == Testnet {
		return chain.Testnet
	}
	return chain.Mainnet
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KLINGSIGN_"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Configuration
// =============================================================================

// Config holds all configuration for the daemon.
type Config struct {
	// NetworkType is the network type (mainnet or testnet).
	NetworkType NetworkType `yaml:"network_type"`

	RPC      RPCConfig      `yaml:"rpc"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Backends holds chain RPC configurations per chain slug.
	// If not specified, defaults to public endpoints.
	Backends map[string]*backend.Config `yaml:"backends,omitempty"`

	// Gateways overrides bridge gateway contract addresses per chain slug.
	Gateways map[string]string `yaml:"gateways,omitempty"`

	// Assets and Routes extend the built-in chain catalog.
	Assets []*chain.Asset `yaml:"assets,omitempty"`
	Routes []RouteConfig  `yaml:"routes,omitempty"`
}

// RPCConfig holds the JSON-RPC / WebSocket listener settings.
type RPCConfig struct {
	// Listen is the address the dispatcher listens on.
	Listen string `yaml:"listen"`

	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`

	// JSON switches to JSON lines output.
	JSON bool `yaml:"json,omitempty"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// RouteConfig declares a cross-chain route in the config file.
type RouteConfig struct {
	Origin   string `yaml:"origin"`
	Dest     string `yaml:"dest"`
	Protocol string `yaml:"protocol"`
}

// PipelineConfig holds transaction pipeline parameters.
type PipelineConfig struct {
	// CrossChainFeeRatio multiplies the destination fee when computing the
	// max transferable amount of a cross-chain transfer.
	CrossChainFeeRatio string `yaml:"cross_chain_fee_ratio"`

	// XcmMinAmountRatio multiplies the destination asset's minimum amount
	// to get the smallest amount an XCM transfer may send.
	XcmMinAmountRatio string `yaml:"xcm_min_amount_ratio"`

	// AutoLock locks every keypair after this long without a message.
	// Zero disables auto-lock.
	AutoLock time.Duration `yaml:"auto_lock"`

	// RequestExpiry bounds how long an external signing request may wait.
	RequestExpiry time.Duration `yaml:"request_expiry"`

	// ProposalExpiry is the default lifetime of a WalletConnect proposal.
	ProposalExpiry time.Duration `yaml:"proposal_expiry"`

	// SweepInterval is how often expired requests are swept.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TxPollInterval is how often broadcast transactions are checked.
	TxPollInterval time.Duration `yaml:"tx_poll_interval"`

	// EVMConfirmations marks an EVM transaction final at this depth.
	EVMConfirmations int64 `yaml:"evm_confirmations"`
}

// DefaultPipelineConfig returns the default pipeline configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		CrossChainFeeRatio: "2.0",
		XcmMinAmountRatio:  "1.2",
		AutoLock:           15 * time.Minute,
		RequestExpiry:      10 * time.Minute,
		ProposalExpiry:     5 * time.Minute,
		SweepInterval:      30 * time.Second,
		TxPollInterval:     6 * time.Second,
		EVMConfirmations:   12,
	}
}

// FeeRatio returns CrossChainFeeRatio as a decimal.
func (p PipelineConfig) FeeRatio() decimal.Decimal {
	return parseRatio(p.CrossChainFeeRatio, decimal.NewFromInt(2))
}

// XcmMinRatio returns XcmMinAmountRatio as a decimal.
func (p PipelineConfig) XcmMinRatio() decimal.Decimal {
	return parseRatio(p.XcmMinAmountRatio, decimal.RequireFromString("1.2"))
}

func parseRatio(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: Mainnet,
		RPC: RPCConfig{
			Listen: "127.0.0.1:8547",
		},
		Storage: StorageConfig{
			DataDir: "~/.klingsign",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Pipeline: DefaultPipelineConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9547",
		},
	}
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == Testnet
}

// GetBackendConfig returns the backend config for a chain slug.
// Returns default config if not explicitly configured.
func (c *Config) GetBackendConfig(slug string) *backend.Config {
	if c.Backends != nil {
		if cfg, ok := c.Backends[slug]; ok {
			return cfg
		}
	}
	if cfg, ok := backend.DefaultConfigs()[slug]; ok {
		return cfg
	}
	return nil
}

// GetBackendURL returns the backend URL for the chain on the configured network.
func (c *Config) GetBackendURL(slug string) string {
	cfg := c.GetBackendConfig(slug)
	if cfg == nil {
		return ""
	}
	return cfg.URL(c.NetworkType.ChainNetwork())
}

// Validate checks values that cannot be expressed in YAML types.
func (c *Config) Validate() error {
	if c.NetworkType != Mainnet && c.NetworkType != Testnet {
		return fmt.Errorf("%w: network_type %q", ErrInvalidConfig, c.NetworkType)
	}
	for name, v := range map[string]string{
		"cross_chain_fee_ratio": c.Pipeline.CrossChainFeeRatio,
		"xcm_min_amount_ratio":  c.Pipeline.XcmMinAmountRatio,
	} {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
		if d.LessThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: %s must be at least 1", ErrInvalidConfig, name)
		}
	}
	if c.Pipeline.AutoLock < 0 || c.Pipeline.RequestExpiry < 0 || c.Pipeline.ProposalExpiry < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	for _, r := range c.Routes {
		switch chain.BridgeProtocol(r.Protocol) {
		case chain.ProtocolXCM, chain.ProtocolGateway:
		default:
			return fmt.Errorf("%w: route %s->%s protocol %q", ErrInvalidConfig, r.Origin, r.Dest, r.Protocol)
		}
	}
	return nil
}

// ApplyCatalog adds the configured assets, routes and gateways to reg.
func (c *Config) ApplyCatalog(reg *chain.Registry) error {
	for _, a := range c.Assets {
		if _, ok := reg.Chain(a.OriginChain); !ok {
			return fmt.Errorf("asset %s: unknown chain %s", a.Slug, a.OriginChain)
		}
		if a.Slug == "" {
			a.Slug = chain.AssetSlug(a.OriginChain, a.Type, a.Symbol, a.ContractAddress)
		}
		reg.AddAsset(a)
	}
	for _, r := range c.Routes {
		reg.AddRoute(chain.Route{Origin: r.Origin, Dest: r.Dest, Protocol: chain.BridgeProtocol(r.Protocol)})
	}
	for slug, addr := range c.Gateways {
		p, ok := reg.Chain(slug)
		if !ok || !p.IsEVMCompatible() {
			return fmt.Errorf("gateway on %s: not an evm chain", slug)
		}
		if err := SetGatewayContract(p.ChainID, addr); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// EnvFileName is the optional dotenv file read from the data directory.
const EnvFileName = ".env"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
// Environment overrides are applied last.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := ExpandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	cfg := DefaultConfig()
	cfg.Storage.DataDir = dataDir

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadEnvFile(filepath.Join(expandedDir, EnvFileName)); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// loadEnvFile loads a dotenv file without overriding variables already set
// in the process environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from KLINGSIGN_* environment variables.
// KLINGSIGN_RPC_<SLUG> sets a chain's endpoint for the active network.
func (c *Config) ApplyEnv() error {
	if v := getEnv("NETWORK"); v != "" {
		c.NetworkType = NetworkType(strings.ToLower(v))
	}
	if v := getEnv("LISTEN"); v != "" {
		c.RPC.Listen = v
	}
	if v := getEnv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getEnv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := getEnv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := getEnv("CROSS_CHAIN_FEE_RATIO"); v != "" {
		c.Pipeline.CrossChainFeeRatio = v
	}
	if v := getEnv("AUTO_LOCK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sAUTO_LOCK: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Pipeline.AutoLock = d
	}

	for _, kv := range os.Environ() {
		key, url, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix+"RPC_") || url == "" {
			continue
		}
		slug := strings.ToLower(strings.TrimPrefix(key, EnvPrefix+"RPC_"))
		c.setBackendURL(slug, url)
	}
	return nil
}

func (c *Config) setBackendURL(slug, url string) {
	if c.Backends == nil {
		c.Backends = make(map[string]*backend.Config)
	}
	cfg, ok := c.Backends[slug]
	if !ok {
		cfg = &backend.Config{}
		if def, ok := backend.DefaultConfigs()[slug]; ok {
			*cfg = *def
		} else {
			cfg.Type = backend.TypeEVM
			p, known := chain.NewRegistry(c.NetworkType.ChainNetwork()).Chain(slug)
			if known && p.Type == chain.ChainTypeSubstrate {
				cfg.Type = backend.TypeSubstrate
			}
		}
		c.Backends[slug] = cfg
	}
	if c.IsTestnet() {
		cfg.TestnetURL = url
	} else {
		cfg.MainnetURL = url
	}
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# klingsign daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
