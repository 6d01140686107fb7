// Package gateway provides a Go client for the bridge gateway contract that
// moves ERC-20 tokens from Ethereum into Polkadot parachains.
package gateway

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Klingon-tech/klingsign/internal/backend"
)

// MultiAddress kinds understood by the gateway.
const (
	KindIndex     uint8 = 0
	KindAddress32 uint8 = 1
	KindAddress20 uint8 = 2
)

// Address32 wraps a 32-byte Substrate account id.
func Address32(id [32]byte) MultiAddress {
	return MultiAddress{Kind: KindAddress32, Data: id[:]}
}

// Address20 wraps a 20-byte EVM account.
func Address20(addr common.Address) MultiAddress {
	return MultiAddress{Kind: KindAddress20, Data: addr.Bytes()}
}

var parsedABI abi.ABI

func init() {
	parsed, err := GatewayMetaData.GetAbi()
	if err != nil {
		panic(fmt.Sprintf("gateway: bad abi: %v", err))
	}
	parsedABI = *parsed
}

// PackSendToken returns calldata for sendToken without touching the network.
func PackSendToken(token common.Address, destParaID uint32, dest MultiAddress, destFee, amount *big.Int) ([]byte, error) {
	return parsedABI.Pack("sendToken", token, destParaID, dest, destFee, amount)
}

// Client is a wrapper around the gateway contract
type Client struct {
	eth             *ethclient.Client // nil when built over another caller
	contract        *GatewayCaller
	contractAddress common.Address
}

// Dial connects to rpcURL and binds the gateway at contractAddress.
func Dial(ctx context.Context, rpcURL string, contractAddress common.Address) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	c, err := NewClient(contractAddress, eth)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.eth = eth
	return c, nil
}

// NewClient binds the gateway over any contract caller.
func NewClient(contractAddress common.Address, caller bind.ContractCaller) (*Client, error) {
	contract, err := NewGatewayCaller(contractAddress, caller)
	if err != nil {
		return nil, fmt.Errorf("failed to bind contract: %w", err)
	}
	return &Client{contract: contract, contractAddress: contractAddress}, nil
}

// Close closes the underlying RPC connection, if the client owns one.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// ContractAddress returns the contract address
func (c *Client) ContractAddress() common.Address {
	return c.contractAddress
}

// QuoteFee returns the native fee the gateway charges for sendToken.
func (c *Client) QuoteFee(ctx context.Context, token common.Address, destParaID uint32, destFee *big.Int) (*big.Int, error) {
	fee, err := c.contract.QuoteSendTokenFee(&bind.CallOpts{Context: ctx}, token, destParaID, destFee)
	if err != nil {
		return nil, fmt.Errorf("failed to quote gateway fee: %w", backend.AdaptError(err))
	}
	return fee, nil
}

// IsTokenRegistered reports whether the gateway can bridge token.
func (c *Client) IsTokenRegistered(ctx context.Context, token common.Address) (bool, error) {
	return c.contract.IsTokenRegistered(&bind.CallOpts{Context: ctx}, token)
}

// evmCaller runs contract calls through a backend.EVM.
type evmCaller struct {
	evm backend.EVM
}

// CallerFromBackend adapts an EVM backend to bind.ContractCaller so the
// binding shares the daemon's RPC connection.
func CallerFromBackend(evm backend.EVM) bind.ContractCaller {
	return evmCaller{evm: evm}
}

// CodeAt reports no code. The binding only asks when a call returned
// nothing, which the gateway never does for a deployed contract.
func (e evmCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (e evmCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if call.To == nil {
		return nil, fmt.Errorf("contract call without a target")
	}
	return e.evm.Call(ctx, call.To.Hex(), call.Data)
}
