package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// AssetType is the kind of token an asset entry describes.
type AssetType string

const (
	AssetNative AssetType = "NATIVE"
	AssetERC20  AssetType = "ERC20"
	AssetERC721 AssetType = "ERC721"
	AssetLocal  AssetType = "LOCAL" // pallet-assets token on a Substrate chain
)

// ShieldedPrefix marks zk asset symbols on shielded chains.
const ShieldedPrefix = "zk"

// Asset describes a token on a specific chain.
type Asset struct {
	Slug        string    `yaml:"slug" json:"slug"`
	Symbol      string    `yaml:"symbol" json:"symbol"`
	Name        string    `yaml:"name" json:"name"`
	Decimals    uint8     `yaml:"decimals" json:"decimals"`
	Type        AssetType `yaml:"type" json:"type"`
	OriginChain string    `yaml:"origin_chain" json:"originChain"`

	ContractAddress string `yaml:"contract_address,omitempty" json:"contractAddress,omitempty"`
	AssetID         uint32 `yaml:"asset_id,omitempty" json:"assetId,omitempty"`

	// MinAmount is the asset's existential deposit in smallest units.
	MinAmount string `yaml:"min_amount" json:"minAmount"`

	// MultiChainAsset groups the same asset across chains for XCM lookups.
	MultiChainAsset string `yaml:"multi_chain_asset,omitempty" json:"multiChainAsset,omitempty"`
}

// AssetSlug builds the canonical slug chain-TYPE-SYMBOL[-contract].
func AssetSlug(chain string, t AssetType, symbol, contract string) string {
	s := chain + "-" + string(t) + "-" + symbol
	if contract != "" {
		s += "-" + contract
	}
	return s
}

// IsNative reports whether the asset is its chain's native token.
func (a *Asset) IsNative() bool {
	return a.Type == AssetNative
}

// IsEVMContract reports whether the asset lives in an EVM contract.
func (a *Asset) IsEVMContract() bool {
	return a.Type == AssetERC20 || a.Type == AssetERC721
}

// IsFungible reports whether amounts of the asset are divisible values.
func (a *Asset) IsFungible() bool {
	return a.Type != AssetERC721
}

// MinAmountInt returns the existential deposit as an integer.
func (a *Asset) MinAmountInt() *big.Int {
	return helpers.MustBigInt(a.MinAmount)
}

// RegisterAsset adds an asset to the built-in catalog.
func RegisterAsset(network Network, a *Asset) {
	if a.Slug == "" {
		a.Slug = AssetSlug(a.OriginChain, a.Type, a.Symbol, a.ContractAddress)
	}
	catalogAssets[network] = append(catalogAssets[network], a)
}

// RegisterNative registers the native asset of a chain from its params.
func RegisterNative(network Network, p *Params, multiChain string) {
	RegisterAsset(network, &Asset{
		Symbol:          p.NativeToken,
		Name:            p.Name,
		Decimals:        p.Decimals,
		Type:            AssetNative,
		OriginChain:     p.Slug,
		MinAmount:       p.ExistentialDeposit,
		MultiChainAsset: multiChain,
	})
}

// AddAsset adds or replaces an asset. An empty slug is derived.
func (r *Registry) AddAsset(a *Asset) {
	if a.Slug == "" {
		a.Slug = AssetSlug(a.OriginChain, a.Type, a.Symbol, a.ContractAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.Slug] = a
}

// Asset returns an asset by slug.
func (r *Registry) Asset(slug string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[slug]
	return a, ok
}

// NativeAsset returns the native token of chain.
func (r *Registry) NativeAsset(chain string) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assets {
		if a.OriginChain == chain && a.Type == AssetNative {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no native asset for chain %s", chain)
}

// AssetsOn returns every asset whose origin is chain, sorted by slug.
func (r *Registry) AssetsOn(chain string) []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Asset
	for _, a := range r.assets {
		if a.OriginChain == chain {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// AssetByContract finds an EVM contract asset by address (case-insensitive).
func (r *Registry) AssetByContract(chain, contract string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assets {
		if a.OriginChain == chain && a.IsEVMContract() && strings.EqualFold(a.ContractAddress, contract) {
			return a, true
		}
	}
	return nil, false
}

// EqualAsset returns the asset on destChain sharing a's multi-chain group.
func (r *Registry) EqualAsset(destChain string, a *Asset) (*Asset, bool) {
	if a.MultiChainAsset == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cand := range r.assets {
		if cand.OriginChain == destChain && cand.MultiChainAsset == a.MultiChainAsset {
			return cand, true
		}
	}
	return nil, false
}

// IsShielded reports whether a is a zk asset on a shielded chain.
func (r *Registry) IsShielded(a *Asset) bool {
	if !strings.HasPrefix(a.Symbol, ShieldedPrefix) {
		return false
	}
	p, ok := r.Chain(a.OriginChain)
	return ok && p.Shielded
}
