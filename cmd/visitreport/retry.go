package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/processor"
)

// retryable reports whether repeating a whole run could succeed.
func retryable(kind failure.Kind) bool {
	switch kind {
	case failure.TranscriptionProvider, failure.TranscriptionTimeout, failure.Generation, failure.Unknown:
		return true
	default:
		return false
	}
}

// withRetries repeats fn with exponential backoff on transient failures.
// retries == 0 runs fn exactly once.
func withRetries(ctx context.Context, retries uint64, log *logger.Logger, fn func() (processor.Result, error)) (processor.Result, error) {
	var last processor.Result
	op := func() (processor.Result, error) {
		res, err := fn()
		last = res
		if err != nil && !retryable(failure.KindOf(err)) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * time.Second
	eb.MaxInterval = 30 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)

	attempt := 0
	res, err := backoff.RetryNotifyWithData(op, b, func(err error, next time.Duration) {
		attempt++
		log.WithField("attempt", attempt).WithField("next_in", next.String()).WithError(err).Warn("run failed, retrying")
	})
	if err != nil {
		return last, err
	}
	return res, nil
}
