// Package chain defines chain parameters, the asset registry and bridge
// routes for supported networks.
// Built-in values are hardcoded here; config can add or override entries.
package chain

import (
	"math/big"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ChainType is the transaction family a chain speaks natively.
type ChainType string

const (
	ChainTypeEVM       ChainType = "evm"       // Ethereum and EVM chains
	ChainTypeSubstrate ChainType = "substrate" // Polkadot SDK chains
)

// Params contains all parameters for a blockchain.
type Params struct {
	// Identity
	Slug        string    // ethereum, polkadot, statemint, ...
	Name        string    // Ethereum, Polkadot, ...
	Type        ChainType // evm or substrate
	Decimals    uint8     // native token decimals
	NativeToken string    // ETH, DOT, ...

	// BIP44 derivation
	CoinType       uint32
	DefaultPurpose uint32

	// EVM params
	ChainID         uint64 // zero for chains without an EVM
	SupportsEIP1559 bool

	// Substrate params
	GenesisHash string // empty for pure EVM chains
	SS58Prefix  uint16
	ParaID      uint32 // zero for relay chains and non-Polkadot chains
	RelayChain  string // relay slug for parachains
	Calls       map[string]substrate.CallIndex

	// Native token existential deposit in smallest units.
	ExistentialDeposit string

	// Behaviour flags
	KeepAlive           bool // losing the ED on the sender is an error, not a warning
	SupportsTransferAll bool
	Shielded            bool // chain carries shielded (zk) assets

	// Flat destination fee charged on XCM transfers into this chain.
	CrossChainFee string
}

// IsEVMCompatible reports whether the chain accepts EVM transactions.
func (p *Params) IsEVMCompatible() bool {
	return p.ChainID != 0
}

// IsPureEVM reports whether the chain has an EVM and no Substrate runtime.
func (p *Params) IsPureEVM() bool {
	return p.ChainID != 0 && p.GenesisHash == ""
}

// IsSubstrate reports whether the chain has a Substrate runtime.
func (p *Params) IsSubstrate() bool {
	return p.GenesisHash != ""
}

// CallIndex looks up a runtime call by its well-known name.
func (p *Params) CallIndex(name string) (substrate.CallIndex, bool) {
	idx, ok := p.Calls[name]
	return idx, ok
}

// ED returns the native existential deposit as an integer.
func (p *Params) ED() *big.Int {
	return helpers.MustBigInt(p.ExistentialDeposit)
}

// DestinationFee returns the configured XCM destination fee.
func (p *Params) DestinationFee() *big.Int {
	return helpers.MustBigInt(p.CrossChainFee)
}

// DerivationPath returns the BIP44 derivation path for this chain.
// Format: m/purpose'/coin'/account'/change/index
func (p *Params) DerivationPath(account, change, index uint32) []uint32 {
	return []uint32{
		p.DefaultPurpose + 0x80000000, // purpose' (hardened)
		p.CoinType + 0x80000000,       // coin_type' (hardened)
		account + 0x80000000,          // account' (hardened)
		change,                        // change (0=external, 1=internal)
		index,                         // address_index
	}
}

// DerivationPathString returns the derivation path as a string.
func (p *Params) DerivationPathString(account, change, index uint32) string {
	return formatPath(p.DefaultPurpose, p.CoinType, account, change, index)
}

func formatPath(purpose, coinType, account, change, index uint32) string {
	return "m/" +
		itoa(purpose) + "'/" +
		itoa(coinType) + "'/" +
		itoa(account) + "'/" +
		itoa(change) + "/" +
		itoa(index)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Built-in catalog, filled by init functions.
var (
	catalogChains = make(map[Network]map[string]*Params)
	catalogAssets = make(map[Network][]*Asset)
	catalogRoutes = make(map[Network][]Route)
)

// Register adds chain params to the built-in catalog.
func Register(network Network, params *Params) {
	if catalogChains[network] == nil {
		catalogChains[network] = make(map[string]*Params)
	}
	catalogChains[network][params.Slug] = params
}

// Registry is a mutable view of chains, assets and routes for one network.
// It starts from the built-in catalog and may be extended from config.
type Registry struct {
	network Network

	mu     sync.RWMutex
	chains map[string]*Params
	assets map[string]*Asset
	routes map[routeKey]Route
}

// NewRegistry returns a registry seeded with the built-in catalog.
func NewRegistry(network Network) *Registry {
	r := NewEmptyRegistry(network)
	for _, p := range catalogChains[network] {
		r.AddChain(p)
	}
	for _, a := range catalogAssets[network] {
		r.AddAsset(a)
	}
	for _, rt := range catalogRoutes[network] {
		r.AddRoute(rt)
	}
	return r
}

// NewEmptyRegistry returns a registry with nothing in it.
func NewEmptyRegistry(network Network) *Registry {
	return &Registry{
		network: network,
		chains:  make(map[string]*Params),
		assets:  make(map[string]*Asset),
		routes:  make(map[routeKey]Route),
	}
}

// Network returns the network this registry serves.
func (r *Registry) Network() Network {
	return r.network
}

// AddChain adds or replaces a chain.
func (r *Registry) AddChain(p *Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[p.Slug] = p
}

// Chain returns chain params by slug.
func (r *Registry) Chain(slug string) (*Params, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.chains[slug]
	return p, ok
}

// ChainByID returns the chain with the given EVM chain ID.
func (r *Registry) ChainByID(chainID uint64) (*Params, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.chains {
		if p.ChainID != 0 && p.ChainID == chainID {
			return p, true
		}
	}
	return nil, false
}

// ChainByGenesis returns the chain with the given genesis hash.
func (r *Registry) ChainByGenesis(genesis string) (*Params, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.chains {
		if p.GenesisHash != "" && p.GenesisHash == genesis {
			return p, true
		}
	}
	return nil, false
}

// Chains returns all chain slugs, sorted.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.chains))
	for slug := range r.chains {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// ListByType returns chain slugs whose primary type matches.
func (r *Registry) ListByType(t ChainType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for slug, p := range r.chains {
		if p.Type == t {
			out = append(out, slug)
		}
	}
	sort.Strings(out)
	return out
}
