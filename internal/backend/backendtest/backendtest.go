// Package backendtest provides in-memory chain backends for tests.
package backendtest

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/substrate"
)

var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// EVM is an in-memory backend.EVM.
type EVM struct {
	mu sync.Mutex

	ID            uint64
	Balances      map[string]*big.Int            // by lowercase address
	TokenBalances map[string]map[string]*big.Int // contract -> holder, lowercase
	NextNonce     uint64
	Fees          backend.GasFees
	Gas           uint64
	GasErr        error
	Height        int64
	BroadcastErr  error
	Broadcasts    []string
	Statuses      map[string]*backend.TxStatus
}

// NewEVM returns an EVM backend with a 1 wei gas price and 21000 gas.
func NewEVM(chainID uint64) *EVM {
	return &EVM{
		ID:            chainID,
		Balances:      make(map[string]*big.Int),
		TokenBalances: make(map[string]map[string]*big.Int),
		Fees:          backend.GasFees{GasPrice: big.NewInt(1)},
		Gas:           21000,
		Statuses:      make(map[string]*backend.TxStatus),
	}
}

// SetBalance sets the native balance of address.
func (e *EVM) SetBalance(address string, v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Balances[strings.ToLower(address)] = big.NewInt(v)
}

// SetTokenBalance sets holder's balance of the ERC-20 at contract.
func (e *EVM) SetTokenBalance(contract, holder string, v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := strings.ToLower(contract)
	if e.TokenBalances[c] == nil {
		e.TokenBalances[c] = make(map[string]*big.Int)
	}
	e.TokenBalances[c][strings.ToLower(holder)] = big.NewInt(v)
}

// SetStatus sets what GetTxStatus reports for hash.
func (e *EVM) SetStatus(st *backend.TxStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Statuses[st.Hash] = st
}

// Sent returns the raw transactions broadcast so far.
func (e *EVM) Sent() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Broadcasts...)
}

func (e *EVM) Type() backend.Type { return backend.TypeEVM }
func (e *EVM) Connect(context.Context) error { return nil }
func (e *EVM) Close() error { return nil }
func (e *EVM) IsConnected() bool { return true }
func (e *EVM) ChainID(context.Context) (uint64, error) { return e.ID, nil }

func (e *EVM) GetBlockHeight(context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Height, nil
}

func (e *EVM) BroadcastTransaction(_ context.Context, raw string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BroadcastErr != nil {
		return "", e.BroadcastErr
	}
	e.Broadcasts = append(e.Broadcasts, raw)
	return fmt.Sprintf("0x%064x", len(e.Broadcasts)), nil
}

func (e *EVM) GetTxStatus(_ context.Context, hash string, _ int64) (*backend.TxStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.Statuses[hash]; ok {
		cp := *st
		return &cp, nil
	}
	return &backend.TxStatus{Hash: hash}, nil
}

func (e *EVM) Balance(_ context.Context, address string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.Balances[strings.ToLower(address)]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (e *EVM) Nonce(context.Context, string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.NextNonce, nil
}

func (e *EVM) SuggestFees(_ context.Context, eip1559 bool) (*backend.GasFees, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fees := e.Fees
	if !eip1559 {
		fees.BaseFee, fees.MaxFeePerGas, fees.MaxPriorityFeePerGas = nil, nil, nil
	}
	return &fees, nil
}

func (e *EVM) EstimateGas(context.Context, string, string, *big.Int, []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.GasErr != nil {
		return 0, e.GasErr
	}
	return e.Gas, nil
}

// Call answers balanceOf from TokenBalances and returns 32 zero bytes for
// anything else.
func (e *EVM) Call(_ context.Context, to string, data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, 32)
	if len(data) >= 36 && bytes.Equal(data[:4], balanceOfSelector) {
		holder := "0x" + hex.EncodeToString(data[16:36])
		if v, ok := e.TokenBalances[strings.ToLower(to)][holder]; ok {
			v.FillBytes(out)
		}
	}
	return out, nil
}

// Substrate is an in-memory backend.Substrate. Accounts are keyed by
// account id, so any SS58 prefix finds them.
type Substrate struct {
	mu sync.Mutex

	Accounts     map[substrate.AccountID]*substrate.AccountInfo
	Assets       map[uint32]map[substrate.AccountID]*big.Int
	NextNonce    uint64
	Runtime      substrate.RuntimeContext
	Fee          *big.Int
	FeeErr       error
	Height       int64
	BroadcastErr error
	Broadcasts   []string
	Statuses     map[string]*backend.TxStatus
}

// NewSubstrate returns a Substrate backend with a zero fee.
func NewSubstrate() *Substrate {
	return &Substrate{
		Accounts: make(map[substrate.AccountID]*substrate.AccountInfo),
		Assets:   make(map[uint32]map[substrate.AccountID]*big.Int),
		Runtime:  substrate.RuntimeContext{SpecVersion: 1, TransactionVersion: 1},
		Fee:      new(big.Int),
		Statuses: make(map[string]*backend.TxStatus),
	}
}

func mustID(address string) substrate.AccountID {
	id, _, err := substrate.DecodeSS58(address)
	if err != nil {
		panic(fmt.Sprintf("backendtest: bad address %q: %v", address, err))
	}
	return id
}

// SetAccount sets the balances of address.
func (s *Substrate) SetAccount(address string, free, reserved, frozen int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := substrate.EmptyAccountInfo()
	info.Data.Free.SetInt64(free)
	info.Data.Reserved.SetInt64(reserved)
	info.Data.Frozen.SetInt64(frozen)
	s.Accounts[mustID(address)] = info
}

// SetAsset sets address's balance of a pallet-assets token.
func (s *Substrate) SetAsset(assetID uint32, address string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Assets[assetID] == nil {
		s.Assets[assetID] = make(map[substrate.AccountID]*big.Int)
	}
	s.Assets[assetID][mustID(address)] = big.NewInt(v)
}

// SetFee sets the partial fee QueryFee reports.
func (s *Substrate) SetFee(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fee = big.NewInt(v)
}

// SetStatus sets what GetTxStatus reports for hash.
func (s *Substrate) SetStatus(st *backend.TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statuses[st.Hash] = st
}

// Sent returns the extrinsics broadcast so far.
func (s *Substrate) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Broadcasts...)
}

func (s *Substrate) Type() backend.Type { return backend.TypeSubstrate }
func (s *Substrate) Connect(context.Context) error { return nil }
func (s *Substrate) Close() error { return nil }
func (s *Substrate) IsConnected() bool { return true }

func (s *Substrate) GetBlockHeight(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Height, nil
}

// BroadcastTransaction returns the blake2b hash of the extrinsic, as a node
// does.
func (s *Substrate) BroadcastTransaction(_ context.Context, raw string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BroadcastErr != nil {
		return "", s.BroadcastErr
	}
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return "", err
	}
	s.Broadcasts = append(s.Broadcasts, raw)
	h := substrate.Blake2_256(b)
	return "0x" + hex.EncodeToString(h[:]), nil
}

func (s *Substrate) GetTxStatus(_ context.Context, hash string, _ int64) (*backend.TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.Statuses[hash]; ok {
		cp := *st
		return &cp, nil
	}
	return &backend.TxStatus{Hash: hash}, nil
}

func (s *Substrate) AccountInfo(_ context.Context, address string) (*substrate.AccountInfo, error) {
	id, _, err := substrate.DecodeSS58(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.Accounts[id]; ok {
		cp := *info
		return &cp, nil
	}
	return substrate.EmptyAccountInfo(), nil
}

func (s *Substrate) AssetBalance(_ context.Context, assetID uint32, address string) (*big.Int, error) {
	id, _, err := substrate.DecodeSS58(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.Assets[assetID][id]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (s *Substrate) AccountNonce(context.Context, string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NextNonce, nil
}

func (s *Substrate) RuntimeContext(context.Context) (*substrate.RuntimeContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.Runtime
	return &rt, nil
}

func (s *Substrate) QueryFee(context.Context, string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FeeErr != nil {
		return nil, s.FeeErr
	}
	return new(big.Int).Set(s.Fee), nil
}

var (
	_ backend.EVM       = (*EVM)(nil)
	_ backend.Substrate = (*Substrate)(nil)
)
