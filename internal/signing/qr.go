package signing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// QR EVM signing modes.
const (
	QRMessage     = "message"
	QRTransaction = "transaction"
)

var errNoKeyring = errors.New("keyring not configured")

// UnsignedEVMPayload returns the bytes whose keccak256 is the signing hash
// of tx: the EIP-155 RLP list for legacy transactions, the typed envelope
// for EIP-1559 ones.
func UnsignedEVMPayload(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	switch tx.Type() {
	case types.LegacyTxType:
		return rlp.EncodeToBytes([]any{
			tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data(),
			chainID, uint(0), uint(0),
		})
	case types.DynamicFeeTxType:
		body, err := rlp.EncodeToBytes([]any{
			chainID, tx.Nonce(), tx.GasTipCap(), tx.GasFeeCap(), tx.Gas(),
			tx.To(), tx.Value(), tx.Data(), tx.AccessList(),
		})
		if err != nil {
			return nil, err
		}
		return append([]byte{types.DynamicFeeTxType}, body...), nil
	default:
		return nil, fmt.Errorf("%w: transaction type %d", ErrDeviceIncompatible, tx.Type())
	}
}

// decodeUnsignedEVM reverses UnsignedEVMPayload. Legacy payloads without
// a chain id return a nil chain id.
func decodeUnsignedEVM(raw []byte) (*types.Transaction, *big.Int, error) {
	if len(raw) == 0 {
		return nil, nil, errors.New("empty payload")
	}
	if raw[0] == types.DynamicFeeTxType {
		return decodeDynamic(raw[1:])
	}
	if raw[0] < 0xc0 {
		return nil, nil, fmt.Errorf("unknown transaction type %d", raw[0])
	}

	var f []rlp.RawValue
	if err := rlp.DecodeBytes(raw, &f); err != nil {
		return nil, nil, err
	}
	if len(f) < 6 {
		return nil, nil, fmt.Errorf("legacy transaction has %d fields", len(f))
	}
	var (
		tx       types.LegacyTx
		gasPrice = new(big.Int)
		value    = new(big.Int)
		err      error
	)
	if err = decodeAll(
		field{f[0], &tx.Nonce},
		field{f[1], gasPrice},
		field{f[2], &tx.Gas},
		field{f[4], value},
		field{f[5], &tx.Data},
	); err != nil {
		return nil, nil, err
	}
	if tx.To, err = decodeTo(f[3]); err != nil {
		return nil, nil, err
	}
	tx.GasPrice, tx.Value = gasPrice, value

	var chainID *big.Int
	if len(f) >= 7 {
		chainID = new(big.Int)
		if err := rlp.DecodeBytes(f[6], chainID); err != nil {
			return nil, nil, err
		}
		if chainID.Sign() == 0 {
			chainID = nil
		}
	}
	return types.NewTx(&tx), chainID, nil
}

func decodeDynamic(body []byte) (*types.Transaction, *big.Int, error) {
	var f []rlp.RawValue
	if err := rlp.DecodeBytes(body, &f); err != nil {
		return nil, nil, err
	}
	if len(f) < 9 {
		return nil, nil, fmt.Errorf("dynamic fee transaction has %d fields", len(f))
	}
	tx := types.DynamicFeeTx{
		ChainID:   new(big.Int),
		GasTipCap: new(big.Int),
		GasFeeCap: new(big.Int),
		Value:     new(big.Int),
	}
	err := decodeAll(
		field{f[0], tx.ChainID},
		field{f[1], &tx.Nonce},
		field{f[2], tx.GasTipCap},
		field{f[3], tx.GasFeeCap},
		field{f[4], &tx.Gas},
		field{f[6], tx.Value},
		field{f[7], &tx.Data},
		field{f[8], &tx.AccessList},
	)
	if err != nil {
		return nil, nil, err
	}
	if tx.To, err = decodeTo(f[5]); err != nil {
		return nil, nil, err
	}
	return types.NewTx(&tx), tx.ChainID, nil
}

type field struct {
	raw rlp.RawValue
	dst any
}

func decodeAll(fields ...field) error {
	for _, f := range fields {
		if err := rlp.DecodeBytes(f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

// decodeTo decodes the recipient. An empty value is a contract creation.
func decodeTo(raw rlp.RawValue) (*common.Address, error) {
	var b []byte
	if err := rlp.DecodeBytes(raw, &b); err != nil {
		return nil, err
	}
	switch len(b) {
	case 0:
		return nil, nil
	case common.AddressLength:
		addr := common.BytesToAddress(b)
		return &addr, nil
	default:
		return nil, fmt.Errorf("recipient has %d bytes", len(b))
	}
}

// ParsedEVMTx is a scanned, unsigned EVM transaction.
type ParsedEVMTx struct {
	Chain    string `json:"chain"`
	ChainID  uint64 `json:"chainId"`
	Nonce    uint64 `json:"nonce"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value"`
	Gas      uint64 `json:"gas"`
	GasPrice string `json:"gasPrice"` // max fee per gas for dynamic fee transactions
	Data     string `json:"data"`
	Hash     string `json:"hash"` // signing hash
}

// ParseEVMRLP decodes a scanned RLP transaction and matches its chain id
// against the known chains.
func (c *Coordinator) ParseEVMRLP(data string) (*ParsedEVMTx, error) {
	raw, err := helpers.HexToBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrInvalidQRPayload)
	}
	tx, chainID, err := decodeUnsignedEVM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQRPayload, err)
	}
	if chainID == nil || !chainID.IsUint64() {
		return nil, fmt.Errorf("%w: missing chain id", ErrInvalidQRPayload)
	}
	p, ok := c.chains.ChainByID(chainID.Uint64())
	if !ok {
		return nil, fmt.Errorf("%w: chain id %s", ErrUnsupportedChain, chainID)
	}

	out := &ParsedEVMTx{
		Chain:    p.Slug,
		ChainID:  p.ChainID,
		Nonce:    tx.Nonce(),
		Value:    tx.Value().String(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasFeeCap().String(),
		Data:     helpers.BytesToHex(tx.Data()),
		Hash:     types.LatestSignerForChainID(chainID).Hash(tx).Hex(),
	}
	if tx.To() != nil {
		out.To = tx.To().Hex()
	}
	return out, nil
}

// qrMessageBytes returns the bytes a QR message request signs: hex is
// decoded, anything else is signed as text.
func qrMessageBytes(message string) []byte {
	if helpers.IsHex(message) {
		b, _ := helpers.HexToBytes(message)
		return b
	}
	return []byte(message)
}

// SignQREVM signs for a local account acting as an air-gapped signer.
// mode QRMessage personal-signs message; otherwise message is an unsigned
// RLP transaction signed for chainID. The result is r || s || v as hex
// without a prefix.
func (c *Coordinator) SignQREVM(address string, chainID uint64, message, mode, password string) (string, error) {
	if c.keys == nil {
		return "", errNoKeyring
	}
	p, ok := c.chains.ChainByID(chainID)
	if !ok {
		return "", fmt.Errorf("%w: Cannot find network", ErrUnsupportedChain)
	}

	var out []byte
	err := c.keys.WithUnlocked(address, password, func(g *keyring.Guard) error {
		if mode == QRMessage {
			sig, err := g.PersonalSign(qrMessageBytes(message))
			out = sig
			return err
		}

		raw, err := helpers.HexToBytes(message)
		if err != nil {
			return fmt.Errorf("%w: Cannot create tx from %s", ErrInvalidQRPayload, message)
		}
		tx, txChainID, err := decodeUnsignedEVM(raw)
		if err != nil {
			return fmt.Errorf("%w: Cannot create tx from %s", ErrInvalidQRPayload, message)
		}
		if txChainID != nil && (!txChainID.IsUint64() || txChainID.Uint64() != chainID) {
			return fmt.Errorf("%w: transaction is for chain %s", ErrInvalidQRPayload, txChainID)
		}
		signed, err := g.SignEVMTx(tx, new(big.Int).SetUint64(chainID))
		if err != nil {
			return err
		}
		v, r, s := signed.RawSignatureValues()
		out = append(out, helpers.PadLeft(r.Bytes(), 32)...)
		out = append(out, helpers.PadLeft(s.Bytes(), 32)...)
		out = append(out, v.Bytes()...)
		return nil
	})
	if err != nil {
		return "", err
	}
	c.log.Debug("QR EVM payload signed", "address", address, "chain", p.Slug, "mode", mode)
	return hex.EncodeToString(out), nil
}

// SignQRSubstrate signs a SCALE payload for a local account acting as an
// air-gapped signer. The signature carries its MultiSignature type byte,
// except on EVM-compatible chains which expect the bare signature.
func (c *Coordinator) SignQRSubstrate(address, data, chainSlug, password string) (string, error) {
	if c.keys == nil {
		return "", errNoKeyring
	}
	p, ok := c.chains.Chain(chainSlug)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, chainSlug)
	}
	payload, err := helpers.HexToBytes(data)
	if err != nil || len(payload) == 0 {
		return "", fmt.Errorf("%w: not hex", ErrInvalidQRPayload)
	}

	var typed []byte
	err = c.keys.WithUnlocked(address, password, func(g *keyring.Guard) error {
		sig, err := g.SignSubstrate(substrate.HashIfLong(payload))
		if err != nil {
			return err
		}
		typed = append([]byte{byte(g.SignatureType())}, sig...)
		return nil
	})
	if err != nil {
		return "", err
	}

	signed := hex.EncodeToString(typed)
	if p.IsEVMCompatible() {
		signed = signed[2:]
	}
	return signed, nil
}
