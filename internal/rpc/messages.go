package rpc

import (
	"encoding/json"
	"errors"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/signing"
)

// Message is a decoded JSON-RPC call. The set of implementations is closed:
// every method name maps to exactly one message type.
type Message interface {
	message()
}

// ========================================
// Requests
// ========================================

type RequestCreate struct {
	ID            string       `json:"id,omitempty"`
	Kind          request.Kind `json:"kind"`
	Payload       any          `json:"payload"`
	ExpirySeconds int64        `json:"expirySeconds,omitempty"`
}

type RequestResolve struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// RequestReject ends a request. Reason "cancelled" (or empty with no
// Error) cancels, "rejected" is a user decline, anything else fails the
// request with Error.
type RequestReject struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

type RequestGet struct {
	ID string `json:"id"`
}

type RequestList struct {
	Kind request.Kind `json:"kind,omitempty"`
}

// ========================================
// Subscriptions
// ========================================

type SubscriptionSubscribe struct {
	ID     string          `json:"id,omitempty"`
	Topic  string          `json:"topic"`
	Params json.RawMessage `json:"params,omitempty"`
}

type SubscriptionUnsubscribe struct {
	ID string `json:"id"`
}

// ========================================
// Transactions and balances
// ========================================

// TxBuild carries an intent of the named kind, as accepted by
// transaction.DecodeIntent.
type TxBuild struct {
	Type   string          `json:"type"`
	Intent json.RawMessage `json:"intent"`
}

// TxSubmit submits a built transaction. With Wait the call returns once
// the transaction is broadcast (or final, for resolve-on-done builds).
type TxSubmit struct {
	ID             string `json:"id"`
	Password       string `json:"password,omitempty"`
	IgnoreWarnings bool   `json:"ignoreWarnings,omitempty"`
	Wait           bool   `json:"wait,omitempty"`
}

type BalanceTransferable struct {
	Address       string              `json:"address"`
	Chain         string              `json:"chain"`
	Token         string              `json:"token,omitempty"`
	ExtrinsicType chain.ExtrinsicType `json:"extrinsicType,omitempty"`
}

type BalanceMaxTransferable struct {
	Address    string `json:"address"`
	Chain      string `json:"chain"`
	Token      string `json:"token,omitempty"`
	CrossChain bool   `json:"crossChain,omitempty"`
	DestChain  string `json:"destChain,omitempty"`
}

// ========================================
// Keyring
// ========================================

type KeyringUnlock struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

// KeyringLock locks one address, or every address when Address is empty.
type KeyringLock struct {
	Address string `json:"address,omitempty"`
}

type KeyringDeriveMultiple struct {
	Parent   string `json:"parent"`
	Password string `json:"password"`
	Count    int    `json:"count"`
}

type KeyringSetSkipAutoLock struct {
	Skip bool `json:"skip"`
}

type KeyringGenerateMnemonic struct{}

// KeyringCreateFromMnemonic stores a local root account for Mnemonic,
// encrypted with Password.
type KeyringCreateFromMnemonic struct {
	Name      string          `json:"name,omitempty"`
	Mnemonic  string          `json:"mnemonic"`
	Password  string          `json:"password"`
	ChainType chain.ChainType `json:"chainType"`
}

// KeyringAddExternal registers a QR, hardware or watch-only address.
type KeyringAddExternal struct {
	Address   string          `json:"address"`
	Name      string          `json:"name,omitempty"`
	Kind      keyring.Kind    `json:"kind"`
	ChainType chain.ChainType `json:"chainType"`
}

type KeyringAccounts struct{}

type KeyringRemove struct {
	Address string `json:"address"`
}

// ========================================
// QR signers
// ========================================

type QRParseEVM struct {
	Data string `json:"data"`
}

type QRSignEVM struct {
	Address  string `json:"address"`
	ChainID  uint64 `json:"chainId"`
	Message  string `json:"message"`
	Type     string `json:"type"` // signing.QRMessage or signing.QRTransaction
	Password string `json:"password,omitempty"`
}

type QRSignSubstrate struct {
	Address  string `json:"address"`
	Data     string `json:"data"`
	Chain    string `json:"chain"`
	Password string `json:"password,omitempty"`
}

type QRResolve struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// ========================================
// WalletConnect
// ========================================

type WalletConnectPropose struct {
	signing.Proposal
}

type WalletConnectApprove struct {
	ID       string   `json:"id"`
	Accounts []string `json:"accounts"`
}

type WalletConnectReject struct {
	ID string `json:"id"`
}

type WalletConnectRequest struct {
	Topic  string          `json:"topic"`
	Chain  string          `json:"chain"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type WalletConnectDisconnect struct {
	Topic string `json:"topic"`
}

// ConfirmationComplete answers a confirmation request: resolved with
// Result when Confirmed, rejected by the user otherwise.
type ConfirmationComplete struct {
	ID        string `json:"id"`
	Confirmed bool   `json:"confirmed"`
	Result    any    `json:"result,omitempty"`
}

func (*RequestCreate) message()             {}
func (*RequestResolve) message()            {}
func (*RequestReject) message()             {}
func (*RequestGet) message()                {}
func (*RequestList) message()               {}
func (*SubscriptionSubscribe) message()     {}
func (*SubscriptionUnsubscribe) message()   {}
func (*TxBuild) message()                   {}
func (*TxSubmit) message()                  {}
func (*BalanceTransferable) message()       {}
func (*BalanceMaxTransferable) message()    {}
func (*KeyringUnlock) message()             {}
func (*KeyringLock) message()               {}
func (*KeyringDeriveMultiple) message()     {}
func (*KeyringSetSkipAutoLock) message()    {}
func (*KeyringGenerateMnemonic) message()   {}
func (*KeyringCreateFromMnemonic) message() {}
func (*KeyringAddExternal) message()        {}
func (*KeyringAccounts) message()           {}
func (*KeyringRemove) message()             {}
func (*QRParseEVM) message()                {}
func (*QRSignEVM) message()                 {}
func (*QRSignSubstrate) message()           {}
func (*QRResolve) message()                 {}
func (*WalletConnectPropose) message()      {}
func (*WalletConnectApprove) message()      {}
func (*WalletConnectReject) message()       {}
func (*WalletConnectRequest) message()      {}
func (*WalletConnectDisconnect) message()   {}
func (*ConfirmationComplete) message()      {}

var methods = map[string]func() Message{
	"request_create":             func() Message { return &RequestCreate{} },
	"request_resolve":            func() Message { return &RequestResolve{} },
	"request_reject":             func() Message { return &RequestReject{} },
	"request_get":                func() Message { return &RequestGet{} },
	"request_list":               func() Message { return &RequestList{} },
	"subscription_subscribe":     func() Message { return &SubscriptionSubscribe{} },
	"subscription_unsubscribe":   func() Message { return &SubscriptionUnsubscribe{} },
	"tx_build":                   func() Message { return &TxBuild{} },
	"tx_submit":                  func() Message { return &TxSubmit{} },
	"balance_transferable":       func() Message { return &BalanceTransferable{} },
	"balance_maxTransferable":    func() Message { return &BalanceMaxTransferable{} },
	"keyring_unlock":             func() Message { return &KeyringUnlock{} },
	"keyring_lock":               func() Message { return &KeyringLock{} },
	"keyring_deriveMultiple":     func() Message { return &KeyringDeriveMultiple{} },
	"keyring_setSkipAutoLock":    func() Message { return &KeyringSetSkipAutoLock{} },
	"keyring_generateMnemonic":   func() Message { return &KeyringGenerateMnemonic{} },
	"keyring_createFromMnemonic": func() Message { return &KeyringCreateFromMnemonic{} },
	"keyring_addExternal":        func() Message { return &KeyringAddExternal{} },
	"keyring_accounts":           func() Message { return &KeyringAccounts{} },
	"keyring_remove":             func() Message { return &KeyringRemove{} },
	"qr_parseEVM":                func() Message { return &QRParseEVM{} },
	"qr_signEVM":                 func() Message { return &QRSignEVM{} },
	"qr_signSubstrate":           func() Message { return &QRSignSubstrate{} },
	"qr_resolve":                 func() Message { return &QRResolve{} },
	"walletconnect_propose":      func() Message { return &WalletConnectPropose{} },
	"walletconnect_approve":      func() Message { return &WalletConnectApprove{} },
	"walletconnect_reject":       func() Message { return &WalletConnectReject{} },
	"walletconnect_request":      func() Message { return &WalletConnectRequest{} },
	"walletconnect_disconnect":   func() Message { return &WalletConnectDisconnect{} },
	"confirmation_complete":      func() Message { return &ConfirmationComplete{} },
}

// errUnknownMethod is returned by decodeMessage for names outside the set.
var errUnknownMethod = errors.New("method not found")

// decodeMessage maps a method name and its params onto a message.
// Params must be a JSON object or absent.
func decodeMessage(method string, params json.RawMessage) (Message, error) {
	newMsg, ok := methods[method]
	if !ok {
		return nil, errUnknownMethod
	}
	msg := newMsg()
	if len(params) == 0 || string(params) == "null" {
		return msg, nil
	}
	if err := json.Unmarshal(params, msg); err != nil {
		return nil, &paramsError{err: err}
	}
	return msg, nil
}

// paramsError marks a params decoding failure.
type paramsError struct {
	err error
}

func (e *paramsError) Error() string { return "invalid params: " + e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }
