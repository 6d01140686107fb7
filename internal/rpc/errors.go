package rpc

import (
	"context"
	"errors"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/signing"
	"github.com/Klingon-tech/klingsign/internal/submission"
	"github.com/Klingon-tech/klingsign/internal/subscription"
	"github.com/Klingon-tech/klingsign/internal/transaction"
)

// Application error codes, in the JSON-RPC server error range.
const (
	NotFound           = -32001
	UserRejected       = -32002
	Expired            = -32003
	Unauthorized       = -32004
	InvalidTransaction = -32005
	Unsupported        = -32006
	NetworkError       = -32007
)

// Error kinds carried in Error.Data.
const (
	KindNotFound         = "NOT_FOUND"
	KindUserRejected     = "USER_REJECTED"
	KindCancelled        = "CANCELLED"
	KindExpired          = "EXPIRED"
	KindWrongPassword    = "WRONG_PASSWORD"
	KindLocked           = "LOCKED"
	KindWatchOnly        = "WATCH_ONLY"
	KindHasErrors        = "TRANSACTION_HAS_ERRORS"
	KindBlockingWarnings = "TRANSACTION_HAS_WARNINGS"
	KindDeviceRejected   = "DEVICE_REJECTED"
	KindIncompatible     = "DEVICE_INCOMPATIBLE"
	KindInvalidQR        = "INVALID_QR_PAYLOAD"
	KindUnsupportedChain = "UNSUPPORTED_CHAIN"
	KindUnsupported      = "UNSUPPORTED_METHOD"
	KindNetwork          = "NETWORK"
	KindInternal         = "INTERNAL"
)

// ErrorData is the data member of every application error.
type ErrorData struct {
	Code string `json:"code"`
}

// errorRule maps a sentinel onto a JSON-RPC code and an error kind. Rules
// are checked in order, so more specific sentinels come first.
type errorRule struct {
	target error
	code   int
	kind   string
}

var errorRules = []errorRule{
	{request.ErrNotFound, NotFound, KindNotFound},
	{keyring.ErrAccountNotFound, NotFound, KindNotFound},
	{signing.ErrSessionNotFound, NotFound, KindNotFound},
	{errBuiltNotFound, NotFound, KindNotFound},
	{subscription.ErrDuplicateID, InvalidParams, string(transaction.InvalidParams)},
	{request.ErrDuplicateID, InvalidParams, string(transaction.InvalidParams)},

	{signing.ErrDeviceRejected, UserRejected, KindDeviceRejected},
	{request.ErrUserRejected, UserRejected, KindUserRejected},
	{request.ErrCancelled, UserRejected, KindCancelled},
	{signing.ErrProposalExpired, Expired, KindExpired},
	{request.ErrExpired, Expired, KindExpired},

	{keyring.ErrWrongPassword, Unauthorized, KindWrongPassword},
	{keyring.ErrLocked, Unauthorized, KindLocked},
	{keyring.ErrWatchOnly, Unauthorized, KindWatchOnly},
	{keyring.ErrInvalidMnemonic, InvalidParams, string(transaction.InvalidParams)},
	{keyring.ErrWeakPassword, InvalidParams, string(transaction.InvalidParams)},
	{keyring.ErrInvalidAddress, InvalidParams, string(transaction.InvalidParams)},

	{submission.ErrHasErrors, InvalidTransaction, KindHasErrors},
	{submission.ErrBlockingWarnings, InvalidTransaction, KindBlockingWarnings},
	{backend.ErrNotEnoughBalance, InvalidTransaction, string(transaction.NotEnoughBalance)},

	{signing.ErrDeviceIncompatible, Unsupported, KindIncompatible},
	{signing.ErrUnsupportedChain, Unsupported, KindUnsupportedChain},
	{signing.ErrUnsupportedMethod, Unsupported, KindUnsupported},
	{signing.ErrInvalidQRPayload, InvalidParams, KindInvalidQR},
	{signing.ErrInvalidSignature, InvalidParams, string(transaction.InvalidParams)},
	{balance.ErrUnknownChain, InvalidParams, string(transaction.InvalidParams)},
	{balance.ErrUnknownToken, InvalidParams, string(transaction.InvalidToken)},
	{transaction.ErrUnknownIntent, InvalidParams, string(transaction.InvalidParams)},

	{errNeedsWS, Unsupported, KindUnsupported},
	{errNotConfigured, Unsupported, KindUnsupported},

	{backend.ErrRPC, NetworkError, KindNetwork},
	{backend.ErrNoBackend, NetworkError, KindNetwork},
	{backend.ErrNotConnected, NetworkError, KindNetwork},
	{context.DeadlineExceeded, NetworkError, KindNetwork},
}

// toError maps a handler error onto a JSON-RPC error object.
func toError(err error) *Error {
	var pe *paramsError
	if errors.As(err, &pe) {
		return &Error{Code: InvalidParams, Message: err.Error(), Data: &ErrorData{Code: string(transaction.InvalidParams)}}
	}
	var te *transaction.TxError
	if errors.As(err, &te) {
		return &Error{Code: InvalidTransaction, Message: te.Message, Data: &ErrorData{Code: string(te.Code)}}
	}
	for _, r := range errorRules {
		if errors.Is(err, r.target) {
			return &Error{Code: r.code, Message: err.Error(), Data: &ErrorData{Code: r.kind}}
		}
	}
	return &Error{Code: InternalError, Message: err.Error(), Data: &ErrorData{Code: KindInternal}}
}
