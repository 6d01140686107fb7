// Package token packs calldata for the ERC-20 and ERC-721 methods the
// wallet sends, and reads token balances through an EVM backend.
package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingsign/internal/backend"
)

// Gas limits used when estimation is unavailable.
const (
	DefaultTransferGas = uint64(21000)
	DefaultERC20Gas    = uint64(65000)
	DefaultERC721Gas   = uint64(120000)
	DefaultApproveGas  = uint64(60000)
)

const erc20JSON = `[
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc721JSON = `[
{"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	erc20ABI  abi.ABI
	erc721ABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20JSON)); err != nil {
		panic(fmt.Sprintf("token: bad erc20 abi: %v", err))
	}
	if erc721ABI, err = abi.JSON(strings.NewReader(erc721JSON)); err != nil {
		panic(fmt.Sprintf("token: bad erc721 abi: %v", err))
	}
}

// PackTransfer encodes transfer(to, amount).
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// PackApprove encodes approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PackBalanceOf encodes balanceOf(account).
func PackBalanceOf(account common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", account)
}

// PackAllowance encodes allowance(owner, spender).
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

// PackSafeTransferFrom encodes the ERC-721 safeTransferFrom(from, to, tokenId).
func PackSafeTransferFrom(from, to common.Address, tokenID *big.Int) ([]byte, error) {
	return erc721ABI.Pack("safeTransferFrom", from, to, tokenID)
}

// unpackUint decodes a single uint256 return value of method.
func unpackUint(method string, data []byte) (*big.Int, error) {
	out, err := erc20ABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}

// BalanceOf reads holder's balance of the ERC-20 at contract.
func BalanceOf(ctx context.Context, evm backend.EVM, contract, holder string) (*big.Int, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid token contract address: %s", contract)
	}
	if !common.IsHexAddress(holder) {
		return nil, fmt.Errorf("invalid address: %s", holder)
	}

	data, err := PackBalanceOf(common.HexToAddress(holder))
	if err != nil {
		return nil, err
	}
	res, err := evm.Call(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	return unpackUint("balanceOf", res)
}

// Allowance reads how much spender may move on owner's behalf.
func Allowance(ctx context.Context, evm backend.EVM, contract, owner, spender string) (*big.Int, error) {
	data, err := PackAllowance(common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	res, err := evm.Call(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	return unpackUint("allowance", res)
}
