// Package retry provides the exponential-backoff policy shared by the
// embedding client and the ingestion orchestrator's per-stage retries.
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"finderskeepers/internal/config"
)

// Policy builds a backoff.BackOff from a config.RetryConfig, capped to
// MaxAttempts tries and wrapped with the caller's context.
func Policy(ctx context.Context, cfg config.RetryConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseDelay
	eb.Multiplier = cfg.Factor
	eb.MaxInterval = cfg.MaxDelay
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts instead of wall-clock

	var bo backoff.BackOff = eb
	if cfg.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// Do runs fn, retrying on error per cfg until it succeeds, attempts are
// exhausted, or ctx is cancelled. The last error is returned on exhaustion.
func Do(ctx context.Context, cfg config.RetryConfig, fn func() error) error {
	return backoff.Retry(fn, Policy(ctx, cfg))
}
