// Package backend provides chain RPC clients for reading balances and fees
// and for broadcasting signed transactions.
// This package never sees private keys - all signing happens in the keyring.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/substrate"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRPC                = errors.New("rpc error")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrNoBackend          = errors.New("no backend for chain")
	ErrNotEnoughBalance   = errors.New("not enough balance")
)

// Type represents the backend type.
type Type string

const (
	TypeEVM       Type = "evm"       // Ethereum JSON-RPC
	TypeSubstrate Type = "substrate" // Substrate JSON-RPC
)

// TxStatus is what a backend knows about a broadcast transaction.
type TxStatus struct {
	Hash          string `json:"hash"`
	Found         bool   `json:"found"`
	Failed        bool   `json:"failed"`
	BlockNumber   int64  `json:"blockNumber,omitempty"`
	Confirmations int64  `json:"confirmations"`
	Finalized     bool   `json:"finalized"`
}

// GasFees is a fee suggestion for EVM transactions.
type GasFees struct {
	GasPrice             *big.Int // legacy pricing
	BaseFee              *big.Int // nil when the chain has no base fee
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Backend is the part every chain client implements.
type Backend interface {
	// Type returns the backend type.
	Type() Type

	// Connect establishes connection to the backend.
	Connect(ctx context.Context) error

	// Close closes the connection.
	Close() error

	// IsConnected returns true if connected.
	IsConnected() bool

	GetBlockHeight(ctx context.Context) (int64, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)

	// GetTxStatus looks up a transaction. fromHeight bounds the search on
	// chains that cannot look transactions up by hash.
	GetTxStatus(ctx context.Context, hash string, fromHeight int64) (*TxStatus, error)
}

// EVM is a Backend for Ethereum-style chains.
type EVM interface {
	Backend

	ChainID(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	Nonce(ctx context.Context, address string) (uint64, error)
	SuggestFees(ctx context.Context, eip1559 bool) (*GasFees, error)
	EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
}

// Substrate is a Backend for Polkadot SDK chains.
type Substrate interface {
	Backend

	AccountInfo(ctx context.Context, address string) (*substrate.AccountInfo, error)
	AccountNonce(ctx context.Context, address string) (uint64, error)
	// AssetBalance reads a pallet-assets balance.
	AssetBalance(ctx context.Context, assetID uint32, address string) (*big.Int, error)
	RuntimeContext(ctx context.Context) (*substrate.RuntimeContext, error)
	// QueryFee returns the partial fee for a signed or fake-signed extrinsic.
	QueryFee(ctx context.Context, extrinsicHex string) (*big.Int, error)
}

// Config contains backend configuration.
type Config struct {
	Type       Type   `yaml:"type"`
	MainnetURL string `yaml:"mainnet"`
	TestnetURL string `yaml:"testnet"`

	// For nodes behind basic auth
	RPCUser string `yaml:"rpc_user,omitempty"`
	RPCPass string `yaml:"rpc_pass,omitempty"`

	// Optional settings
	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

// URL returns the endpoint for the given network.
func (c *Config) URL(network chain.Network) string {
	if network == chain.Testnet {
		return c.TestnetURL
	}
	return c.MainnetURL
}

// DefaultConfigs returns default backend configurations keyed by chain slug.
// A chain present on only one network leaves the other URL empty.
func DefaultConfigs() map[string]*Config {
	return map[string]*Config{
		"ethereum": {
			Type:       TypeEVM,
			MainnetURL: "https://eth.llamarpc.com",
		},
		"sepolia_ethereum": {
			Type:       TypeEVM,
			TestnetURL: "https://ethereum-sepolia-rpc.publicnode.com",
		},
		"binance": {
			Type:       TypeEVM,
			MainnetURL: "https://bsc-dataseed.binance.org",
		},
		"binance_test": {
			Type:       TypeEVM,
			TestnetURL: "https://data-seed-prebsc-1-s1.binance.org:8545",
		},
		"polygon": {
			Type:       TypeEVM,
			MainnetURL: "https://polygon-rpc.com",
		},
		"polygon_amoy": {
			Type:       TypeEVM,
			TestnetURL: "https://rpc-amoy.polygon.technology",
		},
		"arbitrum_one": {
			Type:       TypeEVM,
			MainnetURL: "https://arb1.arbitrum.io/rpc",
		},
		"base_mainnet": {
			Type:       TypeEVM,
			MainnetURL: "https://mainnet.base.org",
		},
		"base_sepolia": {
			Type:       TypeEVM,
			TestnetURL: "https://sepolia.base.org",
		},
		"moonbeam": {
			Type:       TypeEVM,
			MainnetURL: "https://rpc.api.moonbeam.network",
		},
		"moonbase": {
			Type:       TypeEVM,
			TestnetURL: "https://rpc.api.moonbase.moonbeam.network",
		},
		"polkadot": {
			Type:       TypeSubstrate,
			MainnetURL: "https://rpc.polkadot.io",
		},
		"statemint": {
			Type:       TypeSubstrate,
			MainnetURL: "https://polkadot-asset-hub-rpc.polkadot.io",
		},
		"kusama": {
			Type:       TypeSubstrate,
			MainnetURL: "https://kusama-rpc.polkadot.io",
		},
		"calamari": {
			Type:       TypeSubstrate,
			MainnetURL: "https://calamari.systems",
		},
		"westend": {
			Type:       TypeSubstrate,
			TestnetURL: "https://westend-rpc.polkadot.io",
		},
		"westend_assethub": {
			Type:       TypeSubstrate,
			TestnetURL: "https://westend-asset-hub-rpc.polkadot.io",
		},
	}
}

// New creates a backend from config for the given network.
func New(cfg *Config, network chain.Network) (Backend, error) {
	url := cfg.URL(network)
	if url == "" {
		return nil, fmt.Errorf("%w: no %s url", ErrNoBackend, network)
	}
	switch cfg.Type {
	case TypeEVM:
		return NewEVMBackend(url, cfg.RPCUser, cfg.RPCPass, cfg.Timeout), nil
	case TypeSubstrate:
		return NewSubstrateBackend(url, cfg.RPCUser, cfg.RPCPass, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}

// Registry holds backend instances by chain slug.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// NewDefaultRegistry creates a registry with default backends for the
// given network. overrides replace defaults per chain slug.
func NewDefaultRegistry(network chain.Network, overrides map[string]*Config) *Registry {
	r := NewRegistry()

	configs := DefaultConfigs()
	for slug, cfg := range overrides {
		configs[slug] = cfg
	}

	for slug, cfg := range configs {
		b, err := New(cfg, network)
		if err != nil {
			continue
		}
		r.Register(slug, b)
	}

	return r
}

// Register adds a backend to the registry.
func (r *Registry) Register(slug string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[slug] = backend
}

// Get returns a backend by chain slug.
func (r *Registry) Get(slug string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[slug]
	return b, ok
}

// EVM returns the EVM backend for a chain.
func (r *Registry) EVM(slug string) (EVM, error) {
	b, ok := r.Get(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, slug)
	}
	evm, ok := b.(EVM)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an evm backend", ErrUnsupportedBackend, slug)
	}
	return evm, nil
}

// Substrate returns the Substrate backend for a chain.
func (r *Registry) Substrate(slug string) (Substrate, error) {
	b, ok := r.Get(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, slug)
	}
	sub, ok := b.(Substrate)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a substrate backend", ErrUnsupportedBackend, slug)
	}
	return sub, nil
}

// List returns all registered chain slugs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.backends))
	for s := range r.backends {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)
	return slugs
}

// ConnectAll connects all registered backends. Chains that fail to connect
// are returned by slug; the remaining backends stay usable.
func (r *Registry) ConnectAll(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for slug, b := range r.All() {
		if err := b.Connect(ctx); err != nil {
			failed[slug] = err
		}
	}
	return failed
}

// CloseAll closes all registered backends.
func (r *Registry) CloseAll() {
	for _, b := range r.All() {
		b.Close()
	}
}

// All returns a copy of the backend map.
func (r *Registry) All() map[string]Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Backend, len(r.backends))
	for k, v := range r.backends {
		out[k] = v
	}
	return out
}
