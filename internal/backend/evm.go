package backend

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// EVMBackend implements EVM over an Ethereum JSON-RPC endpoint.
type EVMBackend struct {
	*rpcClient
}

// NewEVMBackend creates a new EVM JSON-RPC backend.
func NewEVMBackend(rpcURL, user, pass string, timeoutSec int) *EVMBackend {
	return &EVMBackend{rpcClient: newRPCClient(rpcURL, user, pass, timeoutSec)}
}

// Type returns TypeEVM.
func (e *EVMBackend) Type() Type {
	return TypeEVM
}

// Connect tests the connection with eth_blockNumber.
func (e *EVMBackend) Connect(ctx context.Context) error {
	if _, err := e.GetBlockHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	e.setConnected(true)
	return nil
}

func (e *EVMBackend) hexCall(ctx context.Context, method string, params ...interface{}) (string, error) {
	var out string
	if err := e.call(ctx, method, params, &out); err != nil {
		return "", err
	}
	return out, nil
}

// GetBlockHeight returns current block height.
func (e *EVMBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	h, err := e.hexCall(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	return int64(helpers.HexToUint64(h)), nil
}

// ChainID returns the chain ID.
func (e *EVMBackend) ChainID(ctx context.Context) (uint64, error) {
	h, err := e.hexCall(ctx, "eth_chainId")
	if err != nil {
		return 0, err
	}
	return helpers.HexToUint64(h), nil
}

// Balance returns the native balance of address in wei.
func (e *EVMBackend) Balance(ctx context.Context, address string) (*big.Int, error) {
	h, err := e.hexCall(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return nil, err
	}
	return helpers.HexToBigInt(h), nil
}

// Nonce returns the pending transaction count for address.
func (e *EVMBackend) Nonce(ctx context.Context, address string) (uint64, error) {
	h, err := e.hexCall(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	return helpers.HexToUint64(h), nil
}

// SuggestFees returns gas pricing. With eip1559 the max fee is twice the
// latest base fee plus the suggested tip.
func (e *EVMBackend) SuggestFees(ctx context.Context, eip1559 bool) (*GasFees, error) {
	gp, err := e.hexCall(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	fees := &GasFees{GasPrice: helpers.HexToBigInt(gp)}
	if !eip1559 {
		return fees, nil
	}

	var block struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
	}
	if err := e.call(ctx, "eth_getBlockByNumber", []interface{}{"latest", false}, &block); err != nil {
		return nil, err
	}
	if block.BaseFeePerGas == "" {
		// pre-London chain, fall back to legacy pricing
		return fees, nil
	}

	tip, err := e.hexCall(ctx, "eth_maxPriorityFeePerGas")
	if err != nil {
		return nil, err
	}

	fees.BaseFee = helpers.HexToBigInt(block.BaseFeePerGas)
	fees.MaxPriorityFeePerGas = helpers.HexToBigInt(tip)
	fees.MaxFeePerGas = new(big.Int).Add(new(big.Int).Mul(fees.BaseFee, big.NewInt(2)), fees.MaxPriorityFeePerGas)
	return fees, nil
}

// EstimateGas estimates gas for a transaction. Reverts caused by a low
// balance come back as ErrNotEnoughBalance.
func (e *EVMBackend) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	callObj := map[string]interface{}{
		"from": from,
	}
	if to != "" {
		callObj["to"] = to
	}
	if value != nil && value.Sign() > 0 {
		callObj["value"] = helpers.BigIntToHex(value)
	}
	if len(data) > 0 {
		callObj["data"] = helpers.BytesToHex(data)
	}

	h, err := e.hexCall(ctx, "eth_estimateGas", callObj)
	if err != nil {
		return 0, AdaptError(err)
	}
	return helpers.HexToUint64(h), nil
}

// Call executes a read-only contract call (eth_call).
func (e *EVMBackend) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	callObj := map[string]interface{}{
		"to":   to,
		"data": helpers.BytesToHex(data),
	}

	h, err := e.hexCall(ctx, "eth_call", callObj, "latest")
	if err != nil {
		return nil, AdaptError(err)
	}
	return helpers.HexToBytes(h)
}

// BroadcastTransaction broadcasts a signed transaction.
func (e *EVMBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	if !strings.HasPrefix(rawTxHex, "0x") {
		rawTxHex = "0x" + rawTxHex
	}

	txHash, err := e.hexCall(ctx, "eth_sendRawTransaction", rawTxHex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBroadcastFailed, AdaptError(err))
	}
	return txHash, nil
}

// GetTxStatus reads the receipt for hash.
func (e *EVMBackend) GetTxStatus(ctx context.Context, hash string, _ int64) (*TxStatus, error) {
	var receipt *struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		Status          string `json:"status"`
	}
	if err := e.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &receipt); err != nil {
		return nil, err
	}

	status := &TxStatus{Hash: hash}
	if receipt == nil || receipt.BlockNumber == "" {
		return status, nil
	}

	status.Found = true
	status.BlockNumber = int64(helpers.HexToUint64(receipt.BlockNumber))
	status.Failed = receipt.Status == "0x0"

	height, err := e.GetBlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	if height >= status.BlockNumber {
		status.Confirmations = height - status.BlockNumber + 1
	}
	return status, nil
}

var _ EVM = (*EVMBackend)(nil)
