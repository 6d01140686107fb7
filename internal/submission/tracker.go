package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/storage"
)

// tracked is a broadcast transaction waiting for finality. em is nil for
// transactions recovered from history after a restart.
type tracked struct {
	rec *storage.TxRecord
	em  *Emitter
	bk  backend.Backend
}

// Start recovers unfinished transactions from history and starts polling.
func (s *Service) Start() {
	s.recover()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	s.log.Info("Transaction tracker started", "interval", s.interval)
}

// Stop stops polling and waits for in-flight submissions to return.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info("Transaction tracker stopped")
}

func (s *Service) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Poll(s.ctx)
		}
	}
}

// Tracked returns the ids of transactions waiting for finality.
func (s *Service) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) track(t *tracked) {
	s.mu.Lock()
	s.tracked[t.rec.ID] = t
	s.mu.Unlock()
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.tracked, id)
	s.mu.Unlock()
}

// Poll checks every tracked transaction once.
func (s *Service) Poll(ctx context.Context) {
	s.mu.Lock()
	all := make([]*tracked, 0, len(s.tracked))
	for _, t := range s.tracked {
		all = append(all, t)
	}
	s.mu.Unlock()

	for _, t := range all {
		if err := s.check(ctx, t); err != nil {
			s.log.Debug("Error checking transaction", "id", t.rec.ID, "hash", t.rec.Hash, "error", err)
		}
	}
}

func (s *Service) check(ctx context.Context, t *tracked) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rec := t.rec
	st, err := t.bk.GetTxStatus(ctx, rec.Hash, rec.StartHeight)
	if err != nil {
		return err
	}
	if !st.Found {
		return nil
	}

	if st.Failed {
		s.untrack(rec.ID)
		s.log.Info("Transaction failed on chain", "id", rec.ID, "hash", rec.Hash, "block", st.BlockNumber)
		s.finishFailed(rec, t.em, fmt.Errorf("%w: %s", ErrFailedOnChain, rec.Hash), st.BlockNumber)
		return nil
	}

	changed := rec.Status != storage.TxStatusSuccess || rec.BlockNumber != st.BlockNumber
	rec.Status = storage.TxStatusSuccess
	rec.BlockNumber = st.BlockNumber
	final := st.Finalized || (t.bk.Type() == backend.TypeEVM && st.Confirmations >= s.depth)
	if !final {
		if changed {
			s.log.Debug("Transaction included", "id", rec.ID, "block", st.BlockNumber, "confirmations", st.Confirmations)
			s.save(rec)
		}
		return nil
	}

	rec.Finalized = true
	s.untrack(rec.ID)
	s.save(rec)
	s.metrics.Finished(rec.Chain, storage.TxStatusSuccess)
	s.log.Info("Transaction finalized", "id", rec.ID, "hash", rec.Hash, "block", st.BlockNumber)
	if t.em != nil {
		t.em.emit(Event{Type: EventFinalized, Hash: rec.Hash, BlockNumber: st.BlockNumber})
	}
	return nil
}

// recover resumes tracking of transactions that were broadcast but not
// final when the daemon last stopped.
func (s *Service) recover() {
	if s.store == nil {
		return
	}
	recs, err := s.store.ListTrackedTransactions()
	if err != nil {
		s.log.Warn("Failed to load tracked transactions", "error", err)
		return
	}
	for _, rec := range recs {
		p, ok := s.chains.Chain(rec.Chain)
		if !ok {
			continue
		}
		ct := chain.ChainType(rec.ChainType)
		if ct == "" {
			// rows written before the chain type was recorded
			ct = chain.ChainTypeEVM
			if p.IsSubstrate() {
				ct = chain.ChainTypeSubstrate
			}
		}
		bk, err := s.backendFor(p, ct)
		if err != nil {
			s.log.Debug("No backend for tracked transaction", "id", rec.ID, "chain", rec.Chain)
			continue
		}
		s.track(&tracked{rec: rec, bk: bk})
		s.publish(rec)
	}
	if len(recs) > 0 {
		s.log.Info("Resumed tracking", "count", len(recs))
	}
}
