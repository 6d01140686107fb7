package signing

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// CAIP-2 namespaces the wallet serves.
const (
	NamespaceEIP155   = "eip155"
	NamespacePolkadot = "polkadot"
)

// Methods the wallet answers per namespace.
var supportedMethods = map[string]map[string]bool{
	NamespaceEIP155: {
		"eth_sendTransaction":  true,
		"eth_signTransaction":  true,
		"eth_sign":             true,
		"personal_sign":        true,
		"eth_signTypedData":    true,
		"eth_signTypedData_v4": true,
	},
	NamespacePolkadot: {
		"polkadot_signTransaction": true,
		"polkadot_signMessage":     true,
	},
}

// Namespace is a CAIP-25 namespace as proposed by a dapp.
type Namespace struct {
	Chains  []string `json:"chains"`
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// SessionNamespace is a namespace granted to a dapp.
type SessionNamespace struct {
	Chains   []string `json:"chains"`
	Accounts []string `json:"accounts"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// Peer describes the dapp.
type Peer struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Proposal is a session proposal from a dapp.
type Proposal struct {
	ID                 string               `json:"id"`
	Proposer           Peer                 `json:"proposer"`
	RequiredNamespaces map[string]Namespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]Namespace `json:"optionalNamespaces,omitempty"`
	ExpiresAt          time.Time            `json:"expiresAt"`
}

// Session is an approved proposal.
type Session struct {
	Topic      string                      `json:"topic"`
	ProposalID string                      `json:"proposalId"`
	Peer       Peer                        `json:"peer"`
	Namespaces map[string]SessionNamespace `json:"namespaces"`
	ExpiresAt  time.Time                   `json:"expiresAt"`
}

// WCRequest is a request relayed from a session peer.
type WCRequest struct {
	Topic  string          `json:"topic"`
	Chain  string          `json:"chain"` // CAIP-2
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Peer   Peer            `json:"peer"`
}

// ChainSet is a set of CAIP-2 chain ids.
type ChainSet map[string]bool

// CAIP2 returns the CAIP-2 ids of p: eip155:<chainId> for EVM chains and
// polkadot:<first 16 bytes of the genesis hash> for Substrate chains.
func CAIP2(p *chain.Params) []string {
	var ids []string
	if p.IsEVMCompatible() {
		ids = append(ids, NamespaceEIP155+":"+strconv.FormatUint(p.ChainID, 10))
	}
	if g := helpers.StripHexPrefix(p.GenesisHash); len(g) >= 32 {
		ids = append(ids, NamespacePolkadot+":"+strings.ToLower(g[:32]))
	}
	return ids
}

// SupportedChains returns the CAIP-2 ids of every chain in reg.
func SupportedChains(reg *chain.Registry) ChainSet {
	set := make(ChainSet)
	for _, slug := range reg.Chains() {
		p, _ := reg.Chain(slug)
		for _, id := range CAIP2(p) {
			set[id] = true
		}
	}
	return set
}

// namespaceChains returns the chains of a namespace entry. A key that is
// itself a chain id ("eip155:1") stands for that chain.
func namespaceChains(key string, ns Namespace) (string, []string) {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i], []string{key}
	}
	return key, ns.Chains
}

// Negotiate intersects proposal with the supported chains. Every required
// namespace, chain and method must be supported or the whole proposal is
// rejected. Optional entries that are not supported are dropped.
func Negotiate(p *Proposal, supported ChainSet) (map[string]Namespace, error) {
	out := make(map[string]Namespace)

	for key, ns := range p.RequiredNamespaces {
		name, chains := namespaceChains(key, ns)
		methods, ok := supportedMethods[name]
		if !ok {
			return nil, fmt.Errorf("%w: namespace %s", ErrUnsupportedChain, name)
		}
		if len(chains) == 0 {
			return nil, fmt.Errorf("%w: namespace %s lists no chains", ErrUnsupportedChain, name)
		}
		for _, c := range chains {
			if !supported[c] {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, c)
			}
		}
		for _, m := range ns.Methods {
			if !methods[m] {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
			}
		}
		out[name] = mergeNamespace(out[name], Namespace{Chains: chains, Methods: ns.Methods, Events: ns.Events})
	}

	for key, ns := range p.OptionalNamespaces {
		name, chains := namespaceChains(key, ns)
		methods, ok := supportedMethods[name]
		if !ok {
			continue
		}
		var keep Namespace
		for _, c := range chains {
			if supported[c] {
				keep.Chains = append(keep.Chains, c)
			}
		}
		if len(keep.Chains) == 0 {
			continue
		}
		for _, m := range ns.Methods {
			if methods[m] {
				keep.Methods = append(keep.Methods, m)
			}
		}
		keep.Events = ns.Events
		out[name] = mergeNamespace(out[name], keep)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: proposal has no supported chains", ErrUnsupportedChain)
	}
	return out, nil
}

func mergeNamespace(a, b Namespace) Namespace {
	return Namespace{
		Chains:  union(a.Chains, b.Chains),
		Methods: union(a.Methods, b.Methods),
		Events:  union(a.Events, b.Events),
	}
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Propose registers a session proposal as a pending request. Proposals
// requiring an unsupported chain are refused before any request is made.
func (c *Coordinator) Propose(p *Proposal) (string, error) {
	if _, err := Negotiate(p, SupportedChains(c.chains)); err != nil {
		c.log.Info("Session proposal refused", "peer", p.Proposer.URL, "error", err)
		return "", err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := c.now()
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = now.Add(c.proposalExpiry)
	}
	if !p.ExpiresAt.After(now) {
		return "", ErrProposalExpired
	}

	if err := c.requests.CreateWithID(p.ID, request.KindWCSession, p, p.ExpiresAt.Sub(now)); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.proposals[p.ID] = p
	c.mu.Unlock()

	c.log.Info("Session proposed", "id", p.ID, "peer", p.Proposer.URL)
	return p.ID, nil
}

// takeProposal removes and returns the proposal. An expired proposal is
// expired in the registry too.
func (c *Coordinator) takeProposal(id string) (*Proposal, error) {
	c.mu.Lock()
	p, ok := c.proposals[id]
	delete(c.proposals, id)
	c.mu.Unlock()
	if !ok {
		return nil, request.ErrNotFound
	}
	if !c.now().Before(p.ExpiresAt) {
		_, _ = c.requests.Expire(id)
		return nil, ErrProposalExpired
	}
	return p, nil
}

// ApproveSession approves a proposal for accounts. Each granted chain gets
// the accounts of its address format. Optional namespaces without a
// matching account are left out; required ones fail the approval and keep
// the proposal pending.
func (c *Coordinator) ApproveSession(id string, accounts []string) (*Session, error) {
	p, err := c.takeProposal(id)
	if err != nil {
		return nil, err
	}
	granted, err := Negotiate(p, SupportedChains(c.chains))
	if err != nil {
		_, _ = c.requests.Reject(id, err)
		return nil, err
	}

	required := make(map[string]bool, len(p.RequiredNamespaces))
	for key, ns := range p.RequiredNamespaces {
		name, _ := namespaceChains(key, ns)
		required[name] = true
	}

	s := &Session{
		ProposalID: p.ID,
		Peer:       p.Proposer,
		Namespaces: make(map[string]SessionNamespace, len(granted)),
		ExpiresAt:  c.now().Add(c.sessionExpiry),
	}
	for name, ns := range granted {
		sn := SessionNamespace{Chains: ns.Chains, Methods: ns.Methods, Events: ns.Events}
		for _, chainID := range ns.Chains {
			for _, a := range accounts {
				if accountFits(name, a) {
					sn.Accounts = append(sn.Accounts, chainID+":"+a)
				}
			}
		}
		if len(sn.Accounts) == 0 {
			if !required[name] {
				continue
			}
			c.mu.Lock()
			c.proposals[id] = p
			c.mu.Unlock()
			return nil, fmt.Errorf("no %s account selected", name)
		}
		s.Namespaces[name] = sn
	}

	topic, err := helpers.GenerateSecureRandom(32)
	if err != nil {
		return nil, err
	}
	s.Topic = hex.EncodeToString(topic)

	if c.store != nil {
		ns, err := json.Marshal(s.Namespaces)
		if err != nil {
			return nil, err
		}
		exp := s.ExpiresAt
		if err := c.store.SaveSession(&storage.SessionRecord{
			Topic:      s.Topic,
			ProposalID: s.ProposalID,
			PeerName:   s.Peer.Name,
			PeerURL:    s.Peer.URL,
			Namespaces: ns,
			ExpiresAt:  &exp,
		}); err != nil {
			return nil, err
		}
	}
	if _, err := c.requests.Resolve(id, s); err != nil {
		return nil, err
	}

	c.log.Info("Session approved", "topic", s.Topic, "peer", s.Peer.URL, "namespaces", len(s.Namespaces))
	return s, nil
}

func accountFits(namespace, address string) bool {
	switch namespace {
	case NamespaceEIP155:
		return chain.IsEVMAddress(address)
	case NamespacePolkadot:
		return chain.IsSubstrateAddress(address)
	}
	return false
}

// RejectSession declines a proposal.
func (c *Coordinator) RejectSession(id string) error {
	if _, err := c.takeProposal(id); err != nil {
		return err
	}
	_, err := c.requests.Reject(id, request.ErrUserRejected)
	c.log.Info("Session rejected", "id", id)
	return err
}

// Session loads an approved session.
func (c *Coordinator) Session(topic string) (*Session, error) {
	if c.store == nil {
		return nil, ErrSessionNotFound
	}
	rec, err := c.store.GetSession(topic)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, topic)
		}
		return nil, err
	}
	if rec.ExpiresAt != nil && !c.now().Before(*rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s expired", ErrSessionNotFound, topic)
	}
	s := &Session{
		Topic:      rec.Topic,
		ProposalID: rec.ProposalID,
		Peer:       Peer{Name: rec.PeerName, URL: rec.PeerURL},
	}
	if rec.ExpiresAt != nil {
		s.ExpiresAt = *rec.ExpiresAt
	}
	if err := json.Unmarshal(rec.Namespaces, &s.Namespaces); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", topic, err)
	}
	return s, nil
}

// Disconnect forgets a session.
func (c *Coordinator) Disconnect(topic string) error {
	if c.store == nil {
		return nil
	}
	return c.store.DeleteSession(topic)
}

// RelayRequest queues a request from a session peer as a pending
// walletconnect request. The chain and method must have been granted.
func (c *Coordinator) RelayRequest(topic, chainID, method string, params json.RawMessage) (string, error) {
	s, err := c.Session(topic)
	if err != nil {
		return "", err
	}
	name, _, _ := strings.Cut(chainID, ":")
	ns, ok := s.Namespaces[name]
	if !ok || !slices.Contains(ns.Chains, chainID) {
		return "", fmt.Errorf("%w: %s not granted", ErrUnsupportedChain, chainID)
	}
	if !slices.Contains(ns.Methods, method) {
		return "", fmt.Errorf("%w: %s not granted", ErrUnsupportedMethod, method)
	}

	id := c.requests.Create(request.KindWCRequest, &WCRequest{
		Topic:  topic,
		Chain:  chainID,
		Method: method,
		Params: params,
		Peer:   s.Peer,
	})
	c.log.Debug("Session request queued", "id", id, "topic", topic, "method", method)
	return id, nil
}
