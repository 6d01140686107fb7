package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// GatewayContracts holds bridge contract addresses for a specific EVM chain.
type GatewayContracts struct {
	// Gateway is the bridge gateway contract receiving sendToken calls.
	Gateway common.Address

	// DestinationParaID is where the gateway delivers by default.
	DestinationParaID uint32
}

var (
	gatewayMu sync.RWMutex

	// gatewayRegistry maps chainID -> contract addresses
	gatewayRegistry = map[uint64]*GatewayContracts{
		// Ethereum mainnet, delivering to Polkadot Asset Hub
		1: {
			Gateway:           common.HexToAddress("0x27ca963C279c93801941e1eB8799c23f407d68e7"),
			DestinationParaID: 1000,
		},

		// Ethereum Sepolia, delivering to Westend Asset Hub
		11155111: {
			Gateway:           common.HexToAddress("0x9ed8b47bc3417e3bd0507adc06e56e2fa360a4e9"),
			DestinationParaID: 1000,
		},
	}
)

// GetGatewayContracts returns contract addresses for a given chain ID.
// Returns nil if the chain is not registered.
func GetGatewayContracts(chainID uint64) *GatewayContracts {
	gatewayMu.RLock()
	defer gatewayMu.RUnlock()
	return gatewayRegistry[chainID]
}

// GetGatewayContract returns the gateway address for a given chain ID.
// Returns zero address if the chain has no gateway.
func GetGatewayContract(chainID uint64) common.Address {
	if c := GetGatewayContracts(chainID); c != nil {
		return c.Gateway
	}
	return common.Address{}
}

// IsGatewayDeployed returns true if a gateway exists on the given chain.
func IsGatewayDeployed(chainID uint64) bool {
	return GetGatewayContract(chainID) != (common.Address{})
}

// ListGatewayChains returns all chain IDs with a gateway, sorted.
func ListGatewayChains() []uint64 {
	gatewayMu.RLock()
	defer gatewayMu.RUnlock()
	var chains []uint64
	for chainID, c := range gatewayRegistry {
		if c.Gateway != (common.Address{}) {
			chains = append(chains, chainID)
		}
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	return chains
}

// SetGatewayContract sets the gateway address for a chain.
// Creates a new entry if the chain doesn't exist.
func SetGatewayContract(chainID uint64, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: gateway address %q", ErrInvalidConfig, address)
	}
	gatewayMu.Lock()
	defer gatewayMu.Unlock()
	if gatewayRegistry[chainID] == nil {
		gatewayRegistry[chainID] = &GatewayContracts{DestinationParaID: 1000}
	}
	gatewayRegistry[chainID].Gateway = common.HexToAddress(address)
	return nil
}
