package chain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingsign/internal/substrate"
)

// IsEVMAddress reports whether s is a 20-byte hex account address.
func IsEVMAddress(s string) bool {
	return common.IsHexAddress(s)
}

// IsSubstrateAddress reports whether s is a valid SS58 address.
func IsSubstrateAddress(s string) bool {
	return substrate.IsSS58Address(s)
}

// ValidAddressFor reports whether address is usable on a chain of type t.
func ValidAddressFor(t ChainType, address string) bool {
	switch t {
	case ChainTypeEVM:
		return IsEVMAddress(address)
	case ChainTypeSubstrate:
		return IsSubstrateAddress(address)
	default:
		return false
	}
}
