package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/submission"
	"github.com/Klingon-tech/klingsign/internal/transaction"
)

var (
	errBuiltNotFound = errors.New("built transaction not found, build it again")
	errNeedsWS       = errors.New("subscriptions need a WebSocket connection")
	errNotConfigured = errors.New("service not configured")
)

// builtTTL bounds how long a built transaction waits for tx_submit.
const builtTTL = 30 * time.Minute

type builtEntry struct {
	b  *transaction.Built
	at time.Time
}

// SubscribeResult is the response for subscription_subscribe.
type SubscribeResult struct {
	ID           string `json:"subscriptionId"`
	InitialValue any    `json:"initialValue"`
}

// SubmitResult is the response for tx_submit.
type SubmitResult struct {
	ID   string `json:"id"`
	Hash string `json:"hash,omitempty"`
}

// MnemonicResult is the response for keyring_generateMnemonic.
type MnemonicResult struct {
	Mnemonic string `json:"mnemonic"`
}

// SignatureResult is the response for the QR signing methods.
type SignatureResult struct {
	Signature string `json:"signature"`
}

// dispatch runs msg. conn is nil for calls over HTTP.
func (s *Server) dispatch(ctx context.Context, conn *wsConn, msg Message) (any, error) {
	switch m := msg.(type) {
	case *RequestCreate:
		if m.ID == "" && m.ExpirySeconds == 0 {
			return s.requests.Create(m.Kind, m.Payload), nil
		}
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		if err := s.requests.CreateWithID(id, m.Kind, m.Payload, time.Duration(m.ExpirySeconds)*time.Second); err != nil {
			return nil, err
		}
		return id, nil

	case *RequestResolve:
		return s.requests.Resolve(m.ID, m.Result)

	case *RequestReject:
		return s.requests.Reject(m.ID, rejection(m))

	case *RequestGet:
		return s.requests.Get(m.ID)

	case *RequestList:
		return s.requests.List(m.Kind), nil

	case *SubscriptionSubscribe:
		if conn == nil {
			return nil, errNeedsWS
		}
		src, err := s.source(m.Topic, m.Params)
		if err != nil {
			return nil, err
		}
		h, initial, err := s.subs.Subscribe(conn.id, m.ID, m.Topic, src, conn.push)
		if err != nil {
			return nil, err
		}
		return &SubscribeResult{ID: h.ID, InitialValue: initial}, nil

	case *SubscriptionUnsubscribe:
		return s.subs.Cancel(m.ID), nil

	case *TxBuild:
		if s.builder == nil {
			return nil, errNotConfigured
		}
		intent, err := transaction.DecodeIntent(m.Type, m.Intent)
		if err != nil {
			return nil, &paramsError{err: err}
		}
		b := s.builder.Build(ctx, intent)
		if !b.HasErrors() {
			s.keepBuilt(b)
		}
		return b, nil

	case *TxSubmit:
		return s.submit(ctx, m)

	case *BalanceTransferable:
		ext := m.ExtrinsicType
		if ext == "" {
			ext = chain.TransferBalance
		}
		return s.resolver.GetTransferableBalance(ctx, m.Address, m.Chain, m.Token, ext)

	case *BalanceMaxTransferable:
		return s.resolver.GetMaxTransferable(ctx, m.Address, m.Chain, m.Token, m.CrossChain, m.DestChain)

	case *KeyringUnlock:
		if err := s.keys.UnlockSession(m.Address, m.Password); err != nil {
			return nil, err
		}
		return true, nil

	case *KeyringLock:
		if m.Address == "" {
			s.keys.LockAll()
		} else {
			s.keys.Lock(m.Address)
		}
		return true, nil

	case *KeyringDeriveMultiple:
		return s.keys.DeriveMultiple(m.Parent, m.Password, m.Count)

	case *KeyringSetSkipAutoLock:
		if s.autoLock != nil {
			s.autoLock.SetSkip(m.Skip)
		}
		return m.Skip, nil

	case *KeyringGenerateMnemonic:
		mnemonic, err := keyring.GenerateMnemonic()
		if err != nil {
			return nil, err
		}
		return &MnemonicResult{Mnemonic: mnemonic}, nil

	case *KeyringCreateFromMnemonic:
		return s.keys.CreateFromMnemonic(m.Name, m.Mnemonic, m.Password, m.ChainType)

	case *KeyringAddExternal:
		return s.keys.AddExternal(m.Address, m.Name, m.Kind, m.ChainType)

	case *KeyringAccounts:
		return s.keys.Accounts()

	case *KeyringRemove:
		if err := s.keys.Remove(m.Address); err != nil {
			return nil, err
		}
		return true, nil

	case *QRParseEVM:
		return s.signing.ParseEVMRLP(m.Data)

	case *QRSignEVM:
		sig, err := s.signing.SignQREVM(m.Address, m.ChainID, m.Message, m.Type, m.Password)
		if err != nil {
			return nil, err
		}
		return &SignatureResult{Signature: sig}, nil

	case *QRSignSubstrate:
		sig, err := s.signing.SignQRSubstrate(m.Address, m.Data, m.Chain, m.Password)
		if err != nil {
			return nil, err
		}
		return &SignatureResult{Signature: sig}, nil

	case *QRResolve:
		if err := s.signing.ResolveExternal(m.ID, m.Signature); err != nil {
			return nil, err
		}
		return true, nil

	case *WalletConnectPropose:
		return s.signing.Propose(&m.Proposal)

	case *WalletConnectApprove:
		return s.signing.ApproveSession(m.ID, m.Accounts)

	case *WalletConnectReject:
		if err := s.signing.RejectSession(m.ID); err != nil {
			return nil, err
		}
		return true, nil

	case *WalletConnectRequest:
		return s.signing.RelayRequest(m.Topic, m.Chain, m.Method, m.Params)

	case *WalletConnectDisconnect:
		if err := s.signing.Disconnect(m.Topic); err != nil {
			return nil, err
		}
		return true, nil

	case *ConfirmationComplete:
		info, err := s.requests.Get(m.ID)
		if err != nil {
			return nil, err
		}
		if info.Kind != request.KindConfirmation {
			return nil, &paramsError{err: fmt.Errorf("request %s is a %s request", m.ID, info.Kind)}
		}
		if m.Confirmed {
			return s.requests.Resolve(m.ID, m.Result)
		}
		return s.requests.Reject(m.ID, request.ErrUserRejected)

	default:
		return nil, fmt.Errorf("unhandled message %T", msg)
	}
}

// rejection maps a request_reject message onto the error handed to the
// registry.
func rejection(m *RequestReject) error {
	switch {
	case m.Reason == "cancelled", m.Reason == "" && m.Error == "":
		return nil
	case m.Reason == "rejected" && m.Error == "":
		return request.ErrUserRejected
	case m.Reason == "rejected":
		return fmt.Errorf("%w: %s", request.ErrUserRejected, m.Error)
	case m.Error == "":
		return errors.New(m.Reason)
	default:
		return errors.New(m.Error)
	}
}

func (s *Server) keepBuilt(b *transaction.Built) {
	now := time.Now()
	s.builtMu.Lock()
	defer s.builtMu.Unlock()
	for id, e := range s.built {
		if now.Sub(e.at) > builtTTL {
			delete(s.built, id)
		}
	}
	s.built[b.ID] = &builtEntry{b: b, at: now}
}

func (s *Server) takeBuilt(id string) (*transaction.Built, bool) {
	s.builtMu.Lock()
	defer s.builtMu.Unlock()
	e, ok := s.built[id]
	if !ok || time.Since(e.at) > builtTTL {
		delete(s.built, id)
		return nil, false
	}
	delete(s.built, id)
	return e.b, true
}

func (s *Server) putBackBuilt(b *transaction.Built) {
	s.builtMu.Lock()
	defer s.builtMu.Unlock()
	s.built[b.ID] = &builtEntry{b: b, at: time.Now()}
}

// submit hands a built transaction to the submission service and forwards
// its events to WebSocket clients.
func (s *Server) submit(ctx context.Context, m *TxSubmit) (any, error) {
	if s.submission == nil {
		return nil, errNotConfigured
	}
	b, ok := s.takeBuilt(m.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errBuiltNotFound, m.ID)
	}
	if m.IgnoreWarnings {
		b.IgnoreWarnings = true
	}

	em, err := s.submission.Submit(ctx, b, m.Password)
	if err != nil {
		// a wrong password or unconfirmed warnings may be retried
		if !b.HasErrors() {
			s.putBackBuilt(b)
		}
		return nil, err
	}
	em.On(func(ev submission.Event) {
		s.wsHub.Broadcast(EventTransaction, ev)
	})

	if !m.Wait {
		return &SubmitResult{ID: b.ID}, nil
	}
	hash, err := em.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{ID: b.ID, Hash: hash}, nil
}
