package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingsign/internal/subscription"
)

// Subscription topics.
const (
	TopicConfirmations = "confirmations"
	TopicTransactions  = "transactions"
	TopicAccounts      = "accounts"
	TopicBalances      = "balances"
)

var errUnknownTopic = errors.New("unknown subscription topic")

// BalanceParams selects the balance a balances subscription watches.
type BalanceParams struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Token   string `json:"token,omitempty"`
}

// source returns the subscription source of topic.
func (s *Server) source(topic string, params json.RawMessage) (subscription.Source, error) {
	switch topic {
	case TopicConfirmations:
		return s.requests.Pending().Source(), nil

	case TopicTransactions:
		if s.submission == nil {
			return nil, errNotConfigured
		}
		return s.submission.Transactions().Source(), nil

	case TopicAccounts:
		return s.accounts.Source(), nil

	case TopicBalances:
		if s.resolver == nil {
			return nil, errNotConfigured
		}
		var p BalanceParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &paramsError{err: err}
			}
		}
		if p.Address == "" || p.Chain == "" {
			return nil, &paramsError{err: errors.New("balances needs address and chain")}
		}
		return s.resolver.Watch(p.Address, p.Chain, p.Token, s.balanceInterval), nil

	default:
		return nil, &paramsError{err: fmt.Errorf("%w: %q", errUnknownTopic, topic)}
	}
}
