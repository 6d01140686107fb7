package request

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/subscription"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// Registry stores pending requests by id.
type Registry struct {
	store   *storage.Storage // optional journal
	metrics *metrics.Metrics
	log     *logging.Logger
	expiry  time.Duration // default expiry, zero for none
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	pubMu   sync.Mutex
	pending *subscription.Subject[[]Info]
}

// Config holds registry dependencies. All fields are optional.
type Config struct {
	Store         *storage.Storage
	Metrics       *metrics.Metrics
	DefaultExpiry time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		log:     logging.GetDefault().Component("requests"),
		expiry:  cfg.DefaultExpiry,
		now:     time.Now,
		entries: make(map[string]*entry),
		pending: subscription.NewSubject[[]Info]("confirmations", nil),
	}
}

// Recover marks journal rows left pending by a previous run as expired.
// Their waiters did not survive the restart.
func (r *Registry) Recover() error {
	if r.store == nil {
		return nil
	}
	n, err := r.store.ExpirePendingRequests()
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info("Expired stale requests from previous run", "count", n)
	}
	return nil
}

// Create adds a pending request with a generated id and the default expiry.
func (r *Registry) Create(kind Kind, payload any) string {
	id := uuid.NewString()
	// a fresh uuid cannot collide
	_ = r.CreateWithID(id, kind, payload, r.expiry)
	return id
}

// CreateWithID adds a pending request under a caller-chosen id. A
// non-positive expiry means the request never expires.
func (r *Registry) CreateWithID(id string, kind Kind, payload any, expiry time.Duration) error {
	now := r.now()
	e := &entry{
		info: Info{
			ID:        id,
			Kind:      kind,
			Status:    StatusPending,
			Payload:   payload,
			CreatedAt: now,
		},
		done: make(chan struct{}),
	}
	if expiry > 0 {
		exp := now.Add(expiry)
		e.info.ExpiresAt = &exp
	}

	r.mu.Lock()
	if _, ok := r.entries[id]; ok {
		r.mu.Unlock()
		return ErrDuplicateID
	}
	r.entries[id] = e
	r.journalCreate(e)
	r.mu.Unlock()

	r.metrics.RequestCreated(string(kind))
	r.log.Request(id).Debug("Request created", "kind", kind)
	r.publish()
	return nil
}

// Get returns a snapshot of the request.
func (r *Registry) Get(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return e.info, nil
}

// Resolve completes a pending request with result. It reports false when
// the request had already finished.
func (r *Registry) Resolve(id string, result any) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotFound
	}
	if r.lapsedLocked(e) {
		kind := e.info.Kind
		r.mu.Unlock()
		r.metrics.RequestFinished(string(kind), string(StatusExpired))
		r.publish()
		return false, ErrExpired
	}
	if e.info.Status == StatusExpired {
		r.mu.Unlock()
		return false, ErrExpired
	}
	if e.info.Status != StatusPending {
		r.mu.Unlock()
		return false, nil
	}

	status := StatusResolved
	if e.info.Kind.IsExternal() {
		status = StatusCompleted
	}
	e.finish(status, ReasonNone, result, nil)
	r.journalFinish(e)
	kind := e.info.Kind
	r.mu.Unlock()

	r.metrics.RequestFinished(string(kind), string(status))
	r.log.Request(id).Debug("Request resolved", "status", status)
	r.publish()
	return true, nil
}

// Reject ends a pending request. A nil err cancels it, ErrUserRejected
// marks it declined, anything else fails it with that error. It reports
// false when the request had already finished.
func (r *Registry) Reject(id string, err error) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotFound
	}
	if r.lapsedLocked(e) {
		kind := e.info.Kind
		r.mu.Unlock()
		r.metrics.RequestFinished(string(kind), string(StatusExpired))
		r.publish()
		return false, ErrExpired
	}
	if e.info.Status == StatusExpired {
		r.mu.Unlock()
		return false, ErrExpired
	}
	if e.info.Status != StatusPending {
		r.mu.Unlock()
		return false, nil
	}

	reason, waitErr := outcome(err)
	e.finish(StatusRejected, reason, nil, waitErr)
	r.journalFinish(e)
	kind := e.info.Kind
	r.mu.Unlock()

	r.metrics.RequestFinished(string(kind), string(StatusRejected))
	r.log.Request(id).Debug("Request rejected", "reason", reason)
	r.publish()
	return true, nil
}

// Expire ends a pending request as expired.
func (r *Registry) Expire(id string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotFound
	}
	if e.info.Status != StatusPending {
		r.mu.Unlock()
		return false, nil
	}
	r.expireLocked(e)
	kind := e.info.Kind
	r.mu.Unlock()

	r.metrics.RequestFinished(string(kind), string(StatusExpired))
	r.publish()
	return true, nil
}

// lapsedLocked expires e if it is still pending past its deadline, so a
// late answer fails even when the sweeper has not run yet.
func (r *Registry) lapsedLocked(e *entry) bool {
	if e.info.Status != StatusPending || e.info.ExpiresAt == nil || r.now().Before(*e.info.ExpiresAt) {
		return false
	}
	r.expireLocked(e)
	return true
}

func (r *Registry) expireLocked(e *entry) {
	e.finish(StatusExpired, ReasonExpired, nil, ErrExpired)
	r.journalFinish(e)
	r.log.Request(e.info.ID).Debug("Request expired")
}

// Sweep expires every pending request whose deadline is not after now.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var kinds []Kind
	for _, e := range r.entries {
		if e.info.Status != StatusPending || e.info.ExpiresAt == nil {
			continue
		}
		if !now.Before(*e.info.ExpiresAt) {
			r.expireLocked(e)
			kinds = append(kinds, e.info.Kind)
		}
	}
	r.mu.Unlock()

	for _, k := range kinds {
		r.metrics.RequestFinished(string(k), string(StatusExpired))
	}
	if len(kinds) > 0 {
		r.publish()
	}
	return len(kinds)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.log.Info("Expired requests", "count", n)
			}
		}
	}
}

// Wait blocks until the request finishes or ctx is done. It returns the
// result, or ErrCancelled, ErrUserRejected, ErrExpired or a wrapped
// ErrFailed.
func (r *Registry) Wait(ctx context.Context, id string) (any, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return e.info.Result, e.err
}

// Forget removes a finished request from the registry.
func (r *Registry) Forget(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if e.info.Status == StatusPending {
		r.mu.Unlock()
		return ErrStillPending
	}
	delete(r.entries, id)
	r.mu.Unlock()
	return nil
}

// List returns pending requests of kind, oldest first. An empty kind
// matches all.
func (r *Registry) List(kind Kind) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(kind)
}

func (r *Registry) listLocked(kind Kind) []Info {
	out := make([]Info, 0)
	for _, e := range r.entries {
		if e.info.Status != StatusPending {
			continue
		}
		if kind != "" && e.info.Kind != kind {
			continue
		}
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Pending is the subject carrying the current pending list.
func (r *Registry) Pending() *subscription.Subject[[]Info] {
	return r.pending
}

// Subscribe calls fn with the pending list after every change.
func (r *Registry) Subscribe(fn func([]Info) error) (current []Info, unsubscribe func()) {
	return r.pending.Subscribe(fn)
}

// publish pushes the pending list. pubMu keeps the last push current when
// transitions race.
func (r *Registry) publish() {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.pending.Next(r.List(""))
}

func (r *Registry) journalCreate(e *entry) {
	if r.store == nil {
		return
	}
	payload, err := json.Marshal(e.info.Payload)
	if err != nil {
		payload = []byte("null")
	}
	rec := &storage.RequestRecord{
		ID:        e.info.ID,
		Kind:      string(e.info.Kind),
		Status:    string(e.info.Status),
		Payload:   payload,
		CreatedAt: e.info.CreatedAt,
		ExpiresAt: e.info.ExpiresAt,
	}
	if err := r.store.SaveRequest(rec); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		r.log.Warn("Failed to journal request", "id", e.info.ID, "error", err)
	}
}

func (r *Registry) journalFinish(e *entry) {
	if r.store == nil {
		return
	}
	var result []byte
	if e.info.Result != nil {
		result, _ = json.Marshal(e.info.Result)
	}
	err := r.store.UpdateRequestStatus(e.info.ID, string(e.info.Status), string(e.info.Reason), e.info.Error, result)
	if err != nil {
		r.log.Warn("Failed to journal request status", "id", e.info.ID, "error", err)
	}
}
