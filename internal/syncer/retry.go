// file: internal/syncer/retry.go
// version: 1.0.0
// guid: 8f1c3a56-2d9b-4e07-a4c8-5b7e0d3f9a21

package syncer

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jdfalk/ebook-organizer/internal/metrics"
	"github.com/jdfalk/ebook-organizer/internal/provider"
)

// hintedBackOff waits at least as long as the provider asked for.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d != backoff.Stop && h.hint > d {
		d = h.hint
	}
	h.hint = 0
	return d
}

// retry runs op until it succeeds, fails permanently, or RetryMaxAttempts
// attempts have failed transiently. Only provider.IsTransient errors are
// retried.
func (c *Coordinator) retry(ctx context.Context, providerID, what string, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.RetryInitialInterval
	exp.MaxInterval = c.opts.RetryMaxInterval
	exp.MaxElapsedTime = 0

	policy := &hintedBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(c.opts.RetryMaxAttempts-1))}
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !provider.IsTransient(err) {
			return backoff.Permanent(err)
		}
		policy.hint = provider.RetryAfter(err)
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		metrics.IncSyncRetry(providerID)
		log.Printf("[WARN] %s: %s failed, retrying in %s: %v", providerID, what, wait, err)
	})
}
