package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/backend/backendtest"
	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/signing"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/submission"
	"github.com/Klingon-tech/klingsign/internal/subscription"
	"github.com/Klingon-tech/klingsign/internal/transaction"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const (
	testPassword = "Correct-Horse-1"
	evmChainID   = 11155111
	evmTo        = "0x6Fac4D18c912343BF86fa7049364Dd4E424Ab9C0"
)

type fixture struct {
	srv   *Server
	http  *httptest.Server
	evm   *backendtest.EVM
	keys  *keyring.Keyring
	auto  *keyring.AutoLock
	reqs  *request.Registry
	acct  *keyring.Account
	calls int
}

func newFixture(t *testing.T, origins ...string) *fixture {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	reg := chain.NewEmptyRegistry(chain.Testnet)
	reg.AddChain(&chain.Params{Slug: "evmtest", Name: "EVM Test", Type: chain.ChainTypeEVM, Decimals: 18, NativeToken: "ETH", ChainID: evmChainID})
	reg.AddAsset(&chain.Asset{Symbol: "ETH", Decimals: 18, Type: chain.AssetNative, OriginChain: "evmtest", MinAmount: "0"})

	f := &fixture{
		evm:  backendtest.NewEVM(evmChainID),
		keys: keyring.New(store),
	}
	bks := backend.NewRegistry()
	bks.Register("evmtest", f.evm)

	if f.acct, err = f.keys.CreateFromMnemonic("main", testMnemonic, testPassword, chain.ChainTypeEVM); err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	f.reqs = request.NewRegistry(request.Config{Metrics: m})
	resolver := balance.New(balance.Config{Chains: reg, Backends: bks})
	coord := signing.NewCoordinator(signing.Config{Requests: f.reqs, Chains: reg, Keys: f.keys, Store: store})
	sub := submission.New(submission.Config{
		Chains:       reg,
		Backends:     bks,
		Keys:         f.keys,
		External:     coord,
		Store:        store,
		Metrics:      m,
		PollInterval: time.Hour,
	})
	t.Cleanup(sub.Stop)

	f.auto = keyring.NewAutoLock(time.Hour, f.keys.LockAll)
	t.Cleanup(f.auto.Stop)

	f.srv = NewServer(Config{
		Requests:        f.reqs,
		Subscriptions:   subscription.NewMultiplexer(m),
		Resolver:        resolver,
		Builder:         transaction.NewBuilder(transaction.Config{Resolver: resolver, Signers: f.keys, Metrics: m}),
		Submission:      sub,
		Signing:         coord,
		Keys:            f.keys,
		AutoLock:        f.auto,
		Metrics:         m,
		AllowedOrigins:  origins,
		BalanceInterval: 10 * time.Millisecond,
	})
	go f.srv.wsHub.Run()
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.http.Close()
		f.srv.Stop()
	})
	return f
}

// rawResponse keeps the result undecoded.
type rawResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	ID     interface{}     `json:"id"`
}

func (f *fixture) call(t *testing.T, method string, params any) *rawResponse {
	t.Helper()
	f.calls++
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params, "id": f.calls})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(f.http.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return &out
}

func (f *fixture) ok(t *testing.T, method string, params, result any) {
	t.Helper()
	resp := f.call(t, method, params)
	if resp.Error != nil {
		t.Fatalf("%s: %+v", method, resp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			t.Fatalf("%s result: %v", method, err)
		}
	}
}

func errorKind(t *testing.T, e *Error) string {
	t.Helper()
	data, _ := json.Marshal(e.Data)
	var d ErrorData
	json.Unmarshal(data, &d)
	return d.Code
}

func (f *fixture) fails(t *testing.T, method string, params any, code int, kind string) {
	t.Helper()
	resp := f.call(t, method, params)
	if resp.Error == nil {
		t.Fatalf("%s: expected error, got %s", method, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("%s: code = %d, want %d (%s)", method, resp.Error.Code, code, resp.Error.Message)
	}
	if kind != "" {
		if got := errorKind(t, resp.Error); got != kind {
			t.Errorf("%s: kind = %s, want %s", method, got, kind)
		}
	}
}

func TestRequest(t *testing.T) {
	tests := []struct {
		name    string
		request *Request
	}{
		{"string id", &Request{JSONRPC: "2.0", Method: "request_get", ID: "123"}},
		{"number id", &Request{JSONRPC: "2.0", Method: "request_get", ID: 1}},
		{"notification", &Request{JSONRPC: "2.0", Method: "request_get"}},
		{"params", &Request{JSONRPC: "2.0", Method: "request_get", Params: json.RawMessage(`{"id":"x"}`), ID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.request)
			if err != nil {
				t.Fatalf("failed to marshal request: %v", err)
			}
			var parsed Request
			if err := json.Unmarshal(data, &parsed); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if parsed.Method != tt.request.Method {
				t.Errorf("Method = %s, want %s", parsed.Method, tt.request.Method)
			}
		})
	}
}

func TestErrorConstants(t *testing.T) {
	if ParseError != -32700 {
		t.Errorf("ParseError = %d, want -32700", ParseError)
	}
	if InvalidRequest != -32600 {
		t.Errorf("InvalidRequest = %d, want -32600", InvalidRequest)
	}
	if MethodNotFound != -32601 {
		t.Errorf("MethodNotFound = %d, want -32601", MethodNotFound)
	}
	if InvalidParams != -32602 {
		t.Errorf("InvalidParams = %d, want -32602", InvalidParams)
	}
	if InternalError != -32603 {
		t.Errorf("InternalError = %d, want -32603", InternalError)
	}
}

func TestToError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"not found", fmt.Errorf("lookup: %w", request.ErrNotFound), NotFound, KindNotFound},
		{"user rejected", request.ErrUserRejected, UserRejected, KindUserRejected},
		{"device rejected", signing.ErrDeviceRejected, UserRejected, KindDeviceRejected},
		{"expired", request.ErrExpired, Expired, KindExpired},
		{"wrong password", keyring.ErrWrongPassword, Unauthorized, KindWrongPassword},
		{"watch only", keyring.ErrWatchOnly, Unauthorized, KindWatchOnly},
		{"warnings", submission.ErrBlockingWarnings, InvalidTransaction, KindBlockingWarnings},
		{"balance", backend.ErrNotEnoughBalance, InvalidTransaction, string(transaction.NotEnoughBalance)},
		{"tx error", transaction.NewTxError(transaction.InvalidToken, "bad token"), InvalidTransaction, string(transaction.InvalidToken)},
		{"network", backend.ErrRPC, NetworkError, KindNetwork},
		{"params", &paramsError{err: errors.New("bad")}, InvalidParams, string(transaction.InvalidParams)},
		{"internal", errors.New("boom"), InternalError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := toError(tt.err)
			if e.Code != tt.code {
				t.Errorf("code = %d, want %d", e.Code, tt.code)
			}
			if d, ok := e.Data.(*ErrorData); !ok || d.Code != tt.kind {
				t.Errorf("data = %+v, want %s", e.Data, tt.kind)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	for name := range methods {
		msg, err := decodeMessage(name, nil)
		if err != nil || msg == nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if _, err := decodeMessage("node_info", nil); !errors.Is(err, errUnknownMethod) {
		t.Errorf("unknown method: %v", err)
	}
	var pe *paramsError
	if _, err := decodeMessage("request_get", json.RawMessage(`[1]`)); !errors.As(err, &pe) {
		t.Errorf("array params: %v", err)
	}
	msg, err := decodeMessage("tx_submit", json.RawMessage(`{"id":"t1","wait":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := msg.(*TxSubmit); !ok || m.ID != "t1" || !m.Wait {
		t.Errorf("decoded %+v", msg)
	}
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture(t)

	t.Run("parse error", func(t *testing.T) {
		resp, err := http.Post(f.http.URL, "application/json", strings.NewReader(`{invalid json`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out rawResponse
		json.NewDecoder(resp.Body).Decode(&out)
		if out.Error == nil || out.Error.Code != ParseError {
			t.Errorf("got %+v", out.Error)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		resp, err := http.Post(f.http.URL, "application/json", strings.NewReader(`{"jsonrpc":"1.0","method":"request_list","id":1}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out rawResponse
		json.NewDecoder(resp.Body).Decode(&out)
		if out.Error == nil || out.Error.Code != InvalidRequest {
			t.Errorf("got %+v", out.Error)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := f.call(t, "node_info", nil)
		if resp.Error == nil || resp.Error.Code != MethodNotFound || resp.Error.Data != "node_info" {
			t.Errorf("got %+v", resp.Error)
		}
	})

	t.Run("invalid params", func(t *testing.T) {
		f.fails(t, "request_get", []int{1}, InvalidParams, string(transaction.InvalidParams))
	})

	t.Run("get not allowed", func(t *testing.T) {
		resp, err := http.Get(f.http.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("subscribe over http", func(t *testing.T) {
		f.fails(t, "subscription_subscribe", map[string]any{"topic": TopicConfirmations}, Unsupported, KindUnsupported)
	})
}

func TestRequestMethods(t *testing.T) {
	f := newFixture(t)

	var id string
	f.ok(t, "request_create", map[string]any{"kind": "confirmation", "payload": map[string]any{"action": "sign"}}, &id)
	if id == "" {
		t.Fatal("empty id")
	}

	var info request.Info
	f.ok(t, "request_get", map[string]any{"id": id}, &info)
	if info.Status != request.StatusPending || info.Kind != request.KindConfirmation {
		t.Errorf("info = %+v", info)
	}

	var list []request.Info
	f.ok(t, "request_list", map[string]any{"kind": "confirmation"}, &list)
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("list = %+v", list)
	}

	var done bool
	f.ok(t, "confirmation_complete", map[string]any{"id": id, "confirmed": true, "result": "ok"}, &done)
	if !done {
		t.Error("confirmation_complete returned false")
	}
	f.ok(t, "request_get", map[string]any{"id": id}, &info)
	if info.Status != request.StatusResolved {
		t.Errorf("status = %s", info.Status)
	}

	// a second answer is a no-op
	f.ok(t, "request_resolve", map[string]any{"id": id, "result": "again"}, &done)
	if done {
		t.Error("resolving a finished request reported true")
	}

	f.ok(t, "request_create", map[string]any{"id": "fixed-1", "kind": "qr", "payload": nil, "expirySeconds": 60}, &id)
	if id != "fixed-1" {
		t.Errorf("id = %s", id)
	}
	f.fails(t, "request_create", map[string]any{"id": "fixed-1", "kind": "qr"}, InvalidParams, "")
	f.ok(t, "request_reject", map[string]any{"id": "fixed-1", "reason": "rejected"}, &done)
	f.ok(t, "request_get", map[string]any{"id": "fixed-1"}, &info)
	if info.Status != request.StatusRejected {
		t.Errorf("status = %s", info.Status)
	}

	f.fails(t, "request_get", map[string]any{"id": "missing"}, NotFound, KindNotFound)
	f.fails(t, "confirmation_complete", map[string]any{"id": "fixed-1", "confirmed": true}, InvalidParams, "")
}

func TestRejection(t *testing.T) {
	tests := []struct {
		msg  RequestReject
		want error
	}{
		{RequestReject{}, nil},
		{RequestReject{Reason: "cancelled"}, nil},
		{RequestReject{Reason: "rejected"}, request.ErrUserRejected},
		{RequestReject{Reason: "rejected", Error: "not now"}, request.ErrUserRejected},
	}
	for _, tt := range tests {
		err := rejection(&tt.msg)
		if tt.want == nil && err != nil || tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%+v: got %v", tt.msg, err)
		}
	}
	if err := rejection(&RequestReject{Error: "device unplugged"}); err == nil || err.Error() != "device unplugged" {
		t.Errorf("failure: got %v", err)
	}
}

func TestKeyringMethods(t *testing.T) {
	f := newFixture(t)
	addr := f.acct.Address

	f.ok(t, "keyring_lock", map[string]any{}, nil)
	if f.keys.IsUnlocked(addr) {
		t.Fatal("account still unlocked")
	}
	f.fails(t, "keyring_unlock", map[string]any{"address": addr, "password": "wrong"}, Unauthorized, KindWrongPassword)
	f.ok(t, "keyring_unlock", map[string]any{"address": addr, "password": testPassword}, nil)
	if !f.keys.IsUnlocked(addr) {
		t.Error("account not unlocked")
	}
	f.ok(t, "keyring_lock", map[string]any{"address": addr}, nil)
	if f.keys.IsUnlocked(addr) {
		t.Error("account still unlocked")
	}

	var derived []*keyring.Account
	f.ok(t, "keyring_deriveMultiple", map[string]any{"parent": addr, "password": testPassword, "count": 2}, &derived)
	if len(derived) != 2 || derived[0].ParentAddress != addr {
		t.Errorf("derived = %+v", derived)
	}

	f.ok(t, "keyring_setSkipAutoLock", map[string]any{"skip": true}, nil)
	if !f.auto.Skip() {
		t.Error("auto-lock skip not set")
	}

	f.fails(t, "keyring_unlock", map[string]any{"address": "0x0000000000000000000000000000000000000001", "password": "x"}, NotFound, KindNotFound)
}

func TestKeyringAccountMethods(t *testing.T) {
	f := newFixture(t)
	invalid := string(transaction.InvalidParams)

	var gen MnemonicResult
	f.ok(t, "keyring_generateMnemonic", nil, &gen)
	if n := len(strings.Fields(gen.Mnemonic)); n != 24 {
		t.Fatalf("mnemonic has %d words", n)
	}

	var sub keyring.Account
	f.ok(t, "keyring_createFromMnemonic", map[string]any{
		"name": "relay", "mnemonic": gen.Mnemonic, "password": testPassword, "chainType": "substrate",
	}, &sub)
	if sub.Kind != keyring.KindLocal || sub.ChainType != chain.ChainTypeSubstrate {
		t.Errorf("account = %+v", sub)
	}
	f.fails(t, "keyring_createFromMnemonic", map[string]any{
		"mnemonic": "not a mnemonic", "password": testPassword, "chainType": "evm",
	}, InvalidParams, invalid)
	f.fails(t, "keyring_createFromMnemonic", map[string]any{
		"mnemonic": gen.Mnemonic, "password": "short", "chainType": "evm",
	}, InvalidParams, invalid)

	var watch keyring.Account
	f.ok(t, "keyring_addExternal", map[string]any{
		"address": evmTo, "name": "cold", "kind": "watch", "chainType": "evm",
	}, &watch)
	if !strings.EqualFold(watch.Address, evmTo) || watch.Kind != keyring.KindWatch {
		t.Errorf("watch account = %+v", watch)
	}
	f.fails(t, "keyring_addExternal", map[string]any{
		"address": "not-an-address", "kind": "qr", "chainType": "evm",
	}, InvalidParams, invalid)

	var accts []*keyring.Account
	f.ok(t, "keyring_accounts", nil, &accts)
	if len(accts) != 3 {
		t.Fatalf("got %d accounts, want 3", len(accts))
	}

	f.ok(t, "keyring_remove", map[string]any{"address": evmTo}, nil)
	f.ok(t, "keyring_accounts", nil, &accts)
	if len(accts) != 2 {
		t.Errorf("got %d accounts after remove, want 2", len(accts))
	}
	f.fails(t, "keyring_remove", map[string]any{"address": evmTo}, NotFound, KindNotFound)
}

func TestTxBuildAndSubmit(t *testing.T) {
	f := newFixture(t)
	from := f.acct.Address
	f.evm.SetBalance(from, 1_000_000)

	f.fails(t, "tx_build", map[string]any{"type": "mint", "intent": map[string]any{}}, InvalidParams, "")

	var bad transaction.Built
	f.ok(t, "tx_build", map[string]any{"type": "transfer", "intent": map[string]any{"address": from, "chain": "evmtest", "to": evmTo, "value": "999999999"}}, &bad)
	if len(bad.Errors) == 0 {
		t.Fatal("overspend built without errors")
	}
	f.fails(t, "tx_submit", map[string]any{"id": bad.ID, "password": testPassword}, NotFound, KindNotFound)

	var built transaction.Built
	f.ok(t, "tx_build", map[string]any{"type": "transfer", "intent": map[string]any{"address": from, "chain": "evmtest", "to": evmTo, "value": "1000"}}, &built)
	if len(built.Errors) != 0 || built.ID == "" {
		t.Fatalf("built = %+v", built)
	}

	f.ok(t, "keyring_lock", nil, nil)
	f.fails(t, "tx_submit", map[string]any{"id": built.ID, "password": "wrong"}, Unauthorized, KindWrongPassword)

	// a failed submit keeps the build for a retry
	var res SubmitResult
	f.ok(t, "tx_submit", map[string]any{"id": built.ID, "password": testPassword, "wait": true}, &res)
	if res.ID != built.ID || res.Hash == "" {
		t.Errorf("result = %+v", res)
	}
	if len(f.evm.Sent()) != 1 {
		t.Errorf("sent %d transactions", len(f.evm.Sent()))
	}

	f.fails(t, "tx_submit", map[string]any{"id": built.ID, "password": testPassword}, NotFound, KindNotFound)
}

func TestBalanceMethods(t *testing.T) {
	f := newFixture(t)
	f.evm.SetBalance(f.acct.Address, 5000)

	var amt chain.Amount
	f.ok(t, "balance_transferable", map[string]any{"address": f.acct.Address, "chain": "evmtest"}, &amt)
	if amt.Value != "5000" {
		t.Errorf("transferable = %+v", amt)
	}
	f.fails(t, "balance_transferable", map[string]any{"address": f.acct.Address, "chain": "nowhere"}, InvalidParams, "")
}

// wsClient is a JSON-RPC client over one WebSocket connection.
type wsClient struct {
	conn  *websocket.Conn
	calls int
}

func (f *fixture) dial(t *testing.T, origin string) (*wsClient, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{conn: conn}, resp, nil
}

// wsMessage is either a response or a notification.
type wsMessage struct {
	rawResponse
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (c *wsClient) read(t *testing.T) *wsMessage {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m wsMessage
	if err := c.conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	return &m
}

// call sends a request and returns its response, skipping event
// notifications.
func (c *wsClient) call(t *testing.T, method string, params any) *rawResponse {
	t.Helper()
	c.calls++
	if err := c.conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": method, "params": params, "id": c.calls}); err != nil {
		t.Fatal(err)
	}
	for {
		m := c.read(t)
		if m.Method == "" {
			return &m.rawResponse
		}
	}
}

func (c *wsClient) push(t *testing.T) *SubscriptionPush {
	t.Helper()
	for {
		m := c.read(t)
		if m.Method != "subscription" {
			continue
		}
		var p SubscriptionPush
		if err := json.Unmarshal(m.Params, &p); err != nil {
			t.Fatal(err)
		}
		return &p
	}
}

func TestWebSocketSubscriptions(t *testing.T) {
	f := newFixture(t)
	c, _, err := f.dial(t, "")
	if err != nil {
		t.Fatal(err)
	}

	resp := c.call(t, "subscription_subscribe", map[string]any{"id": "s1", "topic": TopicConfirmations})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}
	var sub SubscribeResult
	json.Unmarshal(resp.Result, &sub)
	if sub.ID != "s1" {
		t.Errorf("subscription id = %s", sub.ID)
	}

	resp = c.call(t, "subscription_subscribe", map[string]any{"id": "s1", "topic": TopicAccounts})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("duplicate id: %+v", resp.Error)
	}

	id := f.reqs.Create(request.KindConfirmation, "payload")
	p := c.push(t)
	if p.Subscription != "s1" || p.Topic != TopicConfirmations {
		t.Errorf("push = %+v", p)
	}
	data, _ := json.Marshal(p.Result)
	var pending []request.Info
	json.Unmarshal(data, &pending)
	if len(pending) != 1 || pending[0].ID != id {
		t.Errorf("pending = %s", data)
	}

	resp = c.call(t, "subscription_unsubscribe", map[string]any{"id": "s1"})
	if string(resp.Result) != "true" {
		t.Errorf("unsubscribe = %s", resp.Result)
	}
	if n := f.srv.subs.Count(); n != 0 {
		t.Errorf("%d subscriptions left", n)
	}

	resp = c.call(t, "subscription_subscribe", map[string]any{"topic": "weather"})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("unknown topic: %+v", resp.Error)
	}
}

func TestWebSocketAccountsAndBalances(t *testing.T) {
	f := newFixture(t)
	f.evm.SetBalance(f.acct.Address, 100)
	c, _, err := f.dial(t, "")
	if err != nil {
		t.Fatal(err)
	}

	resp := c.call(t, "subscription_subscribe", map[string]any{"topic": TopicAccounts})
	var sub struct {
		ID           string             `json:"subscriptionId"`
		InitialValue []*keyring.Account `json:"initialValue"`
	}
	json.Unmarshal(resp.Result, &sub)
	if len(sub.InitialValue) != 1 || sub.InitialValue[0].Address != f.acct.Address {
		t.Errorf("accounts = %s", resp.Result)
	}

	resp = c.call(t, "subscription_subscribe", map[string]any{"id": "bal", "topic": TopicBalances, "params": map[string]any{"address": f.acct.Address, "chain": "evmtest"}})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}
	f.evm.SetBalance(f.acct.Address, 250)
	for {
		p := c.push(t)
		if p.Subscription != "bal" {
			continue
		}
		data, _ := json.Marshal(p.Result)
		var amt chain.Amount
		json.Unmarshal(data, &amt)
		if amt.Value != "250" {
			t.Errorf("balance push = %s", data)
		}
		break
	}

	resp = c.call(t, "subscription_subscribe", map[string]any{"topic": TopicBalances, "params": map[string]any{"chain": "evmtest"}})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("missing address: %+v", resp.Error)
	}
}

func TestWebSocketDisconnectCancels(t *testing.T) {
	f := newFixture(t)
	c, _, err := f.dial(t, "")
	if err != nil {
		t.Fatal(err)
	}
	c.call(t, "subscription_subscribe", map[string]any{"topic": TopicConfirmations})
	c.call(t, "subscription_subscribe", map[string]any{"topic": TopicAccounts})
	if n := f.srv.subs.Count(); n != 2 {
		t.Fatalf("count = %d", n)
	}
	c.conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for f.srv.subs.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriptions not cancelled: %d", f.srv.subs.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketOrigin(t *testing.T) {
	f := newFixture(t, "app://klingsign")

	if _, resp, err := f.dial(t, "https://evil.example"); err == nil {
		t.Fatal("foreign origin accepted")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if _, _, err := f.dial(t, "app://klingsign"); err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
}

func TestWSHub(t *testing.T) {
	hub := NewWSHub()
	if hub.ClientCount() != 0 {
		t.Errorf("initial ClientCount = %d, want 0", hub.ClientCount())
	}
	go hub.Run()

	c := &wsConn{id: "c1", send: make(chan []byte, 4)}
	hub.register(c)
	hub.Broadcast(EventTransaction, submission.Event{Type: submission.EventSent, ID: "tx1"})

	select {
	case data := <-c.send:
		var n struct {
			Method string  `json:"method"`
			Params WSEvent `json:"params"`
		}
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatal(err)
		}
		if n.Method != "event" || n.Params.Type != EventTransaction {
			t.Errorf("got %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast")
	}

	hub.Stop()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.enqueue([]byte("x")); !errors.Is(err, errConnClosed) {
		t.Errorf("enqueue after stop: %v", err)
	}
}
