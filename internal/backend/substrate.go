package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// SubstrateBackend implements Substrate over a node's JSON-RPC endpoint.
type SubstrateBackend struct {
	*rpcClient

	genesisMu   sync.Mutex
	genesis     [32]byte
	haveGenesis bool
}

// NewSubstrateBackend creates a new Substrate JSON-RPC backend.
func NewSubstrateBackend(rpcURL, user, pass string, timeoutSec int) *SubstrateBackend {
	return &SubstrateBackend{rpcClient: newRPCClient(rpcURL, user, pass, timeoutSec)}
}

// Type returns TypeSubstrate.
func (s *SubstrateBackend) Type() Type {
	return TypeSubstrate
}

// Connect fetches the genesis hash to test the connection.
func (s *SubstrateBackend) Connect(ctx context.Context) error {
	if _, err := s.genesisHash(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	s.setConnected(true)
	return nil
}

func (s *SubstrateBackend) genesisHash(ctx context.Context) ([32]byte, error) {
	s.genesisMu.Lock()
	defer s.genesisMu.Unlock()

	if s.haveGenesis {
		return s.genesis, nil
	}

	var h string
	if err := s.call(ctx, "chain_getBlockHash", []interface{}{0}, &h); err != nil {
		return [32]byte{}, err
	}
	g, err := decodeHash(h)
	if err != nil {
		return [32]byte{}, err
	}
	s.genesis, s.haveGenesis = g, true
	return g, nil
}

func decodeHash(h string) ([32]byte, error) {
	var out [32]byte
	raw, err := helpers.HexToBytes(h)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("hash has %d bytes", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// GetBlockHeight returns the best block number.
func (s *SubstrateBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var header struct {
		Number string `json:"number"`
	}
	if err := s.call(ctx, "chain_getHeader", nil, &header); err != nil {
		return 0, err
	}
	return int64(helpers.HexToUint64(header.Number)), nil
}

// AccountInfo reads System.Account for address.
func (s *SubstrateBackend) AccountInfo(ctx context.Context, address string) (*substrate.AccountInfo, error) {
	id, _, err := substrate.DecodeSS58(address)
	if err != nil {
		return nil, err
	}

	var raw *string
	key := helpers.BytesToHex(substrate.SystemAccountKey(id))
	if err := s.call(ctx, "state_getStorage", []interface{}{key}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return substrate.EmptyAccountInfo(), nil
	}

	data, err := helpers.HexToBytes(*raw)
	if err != nil {
		return nil, err
	}
	return substrate.DecodeAccountInfo(data)
}

// AssetBalance reads Assets.Account for assetID and address.
func (s *SubstrateBackend) AssetBalance(ctx context.Context, assetID uint32, address string) (*big.Int, error) {
	id, _, err := substrate.DecodeSS58(address)
	if err != nil {
		return nil, err
	}

	var raw *string
	key := helpers.BytesToHex(substrate.AssetAccountKey(assetID, id))
	if err := s.call(ctx, "state_getStorage", []interface{}{key}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return new(big.Int), nil
	}
	data, err := helpers.HexToBytes(*raw)
	if err != nil {
		return nil, err
	}
	return substrate.DecodeAssetBalance(data)
}

// AccountNonce returns the next nonce including pool transactions.
func (s *SubstrateBackend) AccountNonce(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	if err := s.call(ctx, "system_accountNextIndex", []interface{}{address}, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// RuntimeContext returns spec/tx versions and the genesis hash.
func (s *SubstrateBackend) RuntimeContext(ctx context.Context) (*substrate.RuntimeContext, error) {
	genesis, err := s.genesisHash(ctx)
	if err != nil {
		return nil, err
	}

	var version struct {
		SpecVersion        uint32 `json:"specVersion"`
		TransactionVersion uint32 `json:"transactionVersion"`
	}
	if err := s.call(ctx, "state_getRuntimeVersion", nil, &version); err != nil {
		return nil, err
	}

	return &substrate.RuntimeContext{
		SpecVersion:        version.SpecVersion,
		TransactionVersion: version.TransactionVersion,
		GenesisHash:        genesis,
		BlockHash:          genesis,
	}, nil
}

// QueryFee returns payment_queryInfo's partial fee.
func (s *SubstrateBackend) QueryFee(ctx context.Context, extrinsicHex string) (*big.Int, error) {
	var info struct {
		PartialFee json.RawMessage `json:"partialFee"`
	}
	if err := s.call(ctx, "payment_queryInfo", []interface{}{extrinsicHex}, &info); err != nil {
		return nil, AdaptError(err)
	}

	// nodes return the fee either as a JSON number or a decimal string
	fee := strings.Trim(string(info.PartialFee), `"`)
	v, ok := new(big.Int).SetString(fee, 0)
	if !ok {
		return nil, fmt.Errorf("unexpected partialFee %q", fee)
	}
	return v, nil
}

// BroadcastTransaction submits a signed extrinsic.
func (s *SubstrateBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	if !strings.HasPrefix(rawTxHex, "0x") {
		rawTxHex = "0x" + rawTxHex
	}

	var hash string
	if err := s.call(ctx, "author_submitExtrinsic", []interface{}{rawTxHex}, &hash); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBroadcastFailed, AdaptError(err))
	}
	return hash, nil
}

// GetTxStatus scans blocks from fromHeight up to the best block for an
// extrinsic with the given hash. Finality is judged against the finalized
// head.
func (s *SubstrateBackend) GetTxStatus(ctx context.Context, hash string, fromHeight int64) (*TxStatus, error) {
	status := &TxStatus{Hash: hash}

	best, err := s.GetBlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	finalized, err := s.finalizedHeight(ctx)
	if err != nil {
		return nil, err
	}

	if fromHeight <= 0 || fromHeight > best {
		fromHeight = best
	}

	want := strings.ToLower(hash)
	for n := fromHeight; n <= best; n++ {
		found, err := s.blockContains(ctx, n, want)
		if err != nil {
			return nil, err
		}
		if found {
			status.Found = true
			status.BlockNumber = n
			status.Confirmations = best - n + 1
			status.Finalized = n <= finalized
			return status, nil
		}
	}
	return status, nil
}

func (s *SubstrateBackend) finalizedHeight(ctx context.Context) (int64, error) {
	var head string
	if err := s.call(ctx, "chain_getFinalizedHead", nil, &head); err != nil {
		return 0, err
	}
	var header struct {
		Number string `json:"number"`
	}
	if err := s.call(ctx, "chain_getHeader", []interface{}{head}, &header); err != nil {
		return 0, err
	}
	return int64(helpers.HexToUint64(header.Number)), nil
}

func (s *SubstrateBackend) blockContains(ctx context.Context, height int64, hash string) (bool, error) {
	var blockHash string
	if err := s.call(ctx, "chain_getBlockHash", []interface{}{height}, &blockHash); err != nil {
		return false, err
	}

	var signed struct {
		Block struct {
			Extrinsics []string `json:"extrinsics"`
		} `json:"block"`
	}
	if err := s.call(ctx, "chain_getBlock", []interface{}{blockHash}, &signed); err != nil {
		return false, err
	}

	for _, x := range signed.Block.Extrinsics {
		raw, err := helpers.HexToBytes(x)
		if err != nil {
			continue
		}
		h := substrate.Blake2_256(raw)
		if helpers.BytesToHex(h[:]) == hash {
			return true, nil
		}
	}
	return false, nil
}

var _ Substrate = (*SubstrateBackend)(nil)
