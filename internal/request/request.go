// Package request keeps the registry of operations waiting on a user or an
// external signer.
//
// Every entry moves from Pending to exactly one terminal state. Waiters are
// woken through a one-shot channel closed on that transition, so a second
// resolve or reject has nothing left to call.
package request

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned to callers and waiters.
var (
	ErrNotFound     = errors.New("request not found, please try again")
	ErrExpired      = errors.New("request expired")
	ErrCancelled    = errors.New("request cancelled")
	ErrUserRejected = errors.New("rejected by user")
	ErrFailed       = errors.New("request failed")
	ErrDuplicateID  = errors.New("request id already in use")
	ErrStillPending = errors.New("request is still pending")
)

// Kind groups requests by the flow that created them.
type Kind string

const (
	KindMetadata      Kind = "metadata"
	KindSigning       Kind = "signing"
	KindAuthorization Kind = "authorization"
	KindQR            Kind = "external/qr"
	KindHardware      Kind = "external/hardware"
	KindWCSession     Kind = "walletconnect/session"
	KindWCRequest     Kind = "walletconnect/request"
	KindConfirmation  Kind = "confirmation"
)

// IsExternal reports whether the request is answered by an external signer.
func (k Kind) IsExternal() bool {
	return k == KindQR || k == KindHardware
}

// Status is where a request is in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusCompleted Status = "completed" // resolved by an external signer
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Reason explains a rejected or expired request.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonCancelled Reason = "cancelled" // rejected without an error
	ReasonRejected  Reason = "rejected"  // user declined
	ReasonFailed    Reason = "failed"    // an error was raised
	ReasonExpired   Reason = "expired"
)

// Info is a snapshot of a request.
type Info struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	Reason    Reason     `json:"reason,omitempty"`
	Error     string     `json:"error,omitempty"`
	Payload   any        `json:"payload"`
	Result    any        `json:"result,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// PayloadAs returns the payload as T.
func PayloadAs[T any](info Info) (T, bool) {
	v, ok := info.Payload.(T)
	return v, ok
}

// entry is the registry's mutable record. Fields are guarded by the
// registry mutex.
type entry struct {
	info Info
	err  error         // set on reject or expiry
	done chan struct{} // closed on the terminal transition
}

func (e *entry) finish(status Status, reason Reason, result any, err error) {
	e.info.Status = status
	e.info.Reason = reason
	e.info.Result = result
	e.err = err
	if err != nil {
		e.info.Error = err.Error()
	}
	close(e.done)
}

// outcome maps a rejection error onto its reason and the error waiters see.
func outcome(err error) (Reason, error) {
	switch {
	case err == nil || errors.Is(err, ErrCancelled):
		return ReasonCancelled, ErrCancelled
	case errors.Is(err, ErrUserRejected):
		return ReasonRejected, err
	case errors.Is(err, ErrExpired):
		return ReasonExpired, err
	default:
		return ReasonFailed, fmt.Errorf("%w: %w", ErrFailed, err)
	}
}
