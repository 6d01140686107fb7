package balance

import (
	"context"
	"time"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/subscription"
)

// DefaultWatchInterval is how often Watch polls.
const DefaultWatchInterval = 12 * time.Second

// Watch returns a subscription source for the transferable balance of
// address. The initial value is read when the subscription starts; later
// values are pushed only when the balance changes. Read errors are logged
// and retried on the next tick.
func (r *Resolver) Watch(address, chainSlug, tokenSlug string, interval time.Duration) subscription.Source {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	read := func(ctx context.Context) (chain.Amount, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return r.GetTransferableBalance(ctx, address, chainSlug, tokenSlug, chain.TransferBalance)
	}

	return func(emit func(any) error) (any, func()) {
		ctx, cancel := context.WithCancel(context.Background())

		last, err := read(ctx)
		if err != nil {
			r.log.Debug("Balance read failed", "address", address, "chain", chainSlug, "error", err)
		}

		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				cur, err := read(ctx)
				if err != nil {
					r.log.Debug("Balance read failed", "address", address, "chain", chainSlug, "error", err)
					continue
				}
				if cur == last {
					continue
				}
				last = cur
				if err := emit(cur); err != nil {
					r.log.Debug("Balance push failed", "address", address, "error", err)
				}
			}
		}()

		if err != nil {
			return nil, cancel
		}
		return last, cancel
	}
}
