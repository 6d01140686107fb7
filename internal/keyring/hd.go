package keyring

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// ErrInvalidMnemonic is returned for mnemonics that fail the BIP39 checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenericSS58Prefix is the prefix accounts are stored under.
const GenericSS58Prefix = 42

// EVM accounts use m/44'/60'/0'/0/index.
const (
	evmPurpose  = 44
	evmCoinType = 60
)

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256) // 256 bits = 24 words
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// EVMDerivationPath returns the BIP44 path string for an EVM index.
func EVMDerivationPath(index uint32) string {
	p := chain.Params{DefaultPurpose: evmPurpose, CoinType: evmCoinType}
	return p.DerivationPathString(0, 0, index)
}

// SubstrateDerivationPath returns the hard junction path for an index.
// Index zero is the root key.
func SubstrateDerivationPath(index uint32) string {
	if index == 0 {
		return ""
	}
	return fmt.Sprintf("//%d", index)
}

// deriveEVMKey derives the secp256k1 key at m/44'/60'/0'/0/index.
func deriveEVMKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	defer helpers.SecureClear(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	key := master
	path := []uint32{
		hdkeychain.HardenedKeyStart + evmPurpose,
		hdkeychain.HardenedKeyStart + evmCoinType,
		hdkeychain.HardenedKeyStart + 0, // account'
		0,                               // change
		index,
	}
	for _, child := range path {
		if key, err = key.Derive(child); err != nil {
			return nil, fmt.Errorf("failed to derive %d: %w", child, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	raw := priv.Serialize()
	defer helpers.SecureClear(raw)
	return crypto.ToECDSA(raw)
}

// evmAddress returns the EIP-55 address of key.
func evmAddress(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// miniSecret derives the 32-byte Substrate mini secret from a mnemonic:
// PBKDF2-SHA512 over the BIP39 entropy, salted with "mnemonic".
func miniSecret(mnemonic string) ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, ErrInvalidMnemonic
	}
	defer helpers.SecureClear(entropy)

	seed := pbkdf2.Key(entropy, []byte("mnemonic"), 2048, 64, sha512.New)
	defer helpers.SecureClear(seed)

	out := make([]byte, 32)
	copy(out, seed[:32])
	return out, nil
}

// hardDeriveEd25519 applies the hard junction //index to an ed25519 seed.
func hardDeriveEd25519(seed []byte, index uint32) []byte {
	var cc [32]byte
	binary.LittleEndian.PutUint64(cc[:8], uint64(index))

	data := substrate.NewEncoder().
		ByteVec([]byte("Ed25519HDKD")).
		Raw(seed).
		Raw(cc[:]).
		Bytes()
	h := substrate.Blake2_256(data)
	return h[:]
}

// deriveEd25519Key derives the Substrate ed25519 key for index.
func deriveEd25519Key(mnemonic string, index uint32) (ed25519.PrivateKey, error) {
	seed, err := miniSecret(mnemonic)
	if err != nil {
		return nil, err
	}
	defer helpers.SecureClear(seed)

	if index > 0 {
		derived := hardDeriveEd25519(seed, index)
		defer helpers.SecureClear(derived)
		return ed25519.NewKeyFromSeed(derived), nil
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// substrateAddress returns the generic SS58 address of key.
func substrateAddress(key ed25519.PrivateKey) (string, error) {
	var id substrate.AccountID
	copy(id[:], key.Public().(ed25519.PublicKey))
	return substrate.EncodeSS58(id, GenericSS58Prefix)
}

// deriveAddress derives the address for chainType at index.
func deriveAddress(mnemonic string, chainType chain.ChainType, index uint32) (string, error) {
	switch chainType {
	case chain.ChainTypeEVM:
		key, err := deriveEVMKey(mnemonic, index)
		if err != nil {
			return "", err
		}
		return evmAddress(key), nil
	case chain.ChainTypeSubstrate:
		key, err := deriveEd25519Key(mnemonic, index)
		if err != nil {
			return "", err
		}
		defer helpers.SecureClear(key)
		return substrateAddress(key)
	default:
		return "", fmt.Errorf("unsupported chain type %q", chainType)
	}
}

func derivationPath(chainType chain.ChainType, index uint32) string {
	if chainType == chain.ChainTypeEVM {
		return EVMDerivationPath(index)
	}
	return SubstrateDerivationPath(index)
}
