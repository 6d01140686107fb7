package transaction

// ErrorCode classifies why a transaction cannot be built or sent.
type ErrorCode string

const (
	InvalidParams                       ErrorCode = "INVALID_PARAMS"
	InvalidToken                        ErrorCode = "INVALID_TOKEN"
	NotEnoughBalance                    ErrorCode = "NOT_ENOUGH_BALANCE"
	NotEnoughExistentialDeposit         ErrorCode = "NOT_ENOUGH_EXISTENTIAL_DEPOSIT"
	ReceiverNotEnoughExistentialDeposit ErrorCode = "RECEIVER_NOT_ENOUGH_EXISTENTIAL_DEPOSIT"
	Unsupported                         ErrorCode = "UNSUPPORTED"
	TransferFailed                      ErrorCode = "TRANSFER_FAILED"
	InternalError                       ErrorCode = "INTERNAL_ERROR"
)

var defaultMessages = map[ErrorCode]string{
	InvalidParams:                       "Invalid parameters",
	InvalidToken:                        "Token not found",
	NotEnoughBalance:                    "Not enough balance to pay the network fee",
	NotEnoughExistentialDeposit:         "Insufficient balance to keep the account alive",
	ReceiverNotEnoughExistentialDeposit: "Receiver would not keep the minimum balance",
	Unsupported:                         "This transaction is not supported",
	TransferFailed:                      "Transfer failed",
	InternalError:                       "Internal error",
}

// DefaultMessage returns the message used when none is given.
func (c ErrorCode) DefaultMessage() string {
	if m, ok := defaultMessages[c]; ok {
		return m
	}
	return string(c)
}

// TxError is a validation or construction failure attached to a Built.
type TxError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewTxError creates a TxError. An empty msg uses the code's default.
func NewTxError(code ErrorCode, msg string) *TxError {
	if msg == "" {
		msg = code.DefaultMessage()
	}
	return &TxError{Code: code, Message: msg}
}

func (e *TxError) Error() string {
	return e.Message
}

// WarningCode classifies a warning.
type WarningCode string

const (
	WarnNotEnoughExistentialDeposit WarningCode = "NOT_ENOUGH_EXISTENTIAL_DEPOSIT"
)

// TxWarning is a condition the user should confirm before sending.
type TxWarning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Blocking reports whether the warning stops submission unless the caller
// opted to ignore warnings.
func (w *TxWarning) Blocking() bool {
	return w.Code == WarnNotEnoughExistentialDeposit
}
