package watcher

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	logger "github.com/sirupsen/logrus"
)

// persistUntilSuccess retries a store write until it lands or the context
// dies. A transition that cannot be persisted has not happened, so losing a
// write here is never an option; the retry only blocks this one watcher.
func persistUntilSuccess(ctx context.Context, config Config, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    config.RetryBaseDelay,
		Max:    config.RetryMaxDelay,
		Jitter: true,
	}

	for {
		err := fn()
		if err == nil {
			return nil
		}

		logger.WithField("op", op).
			WithError(err).Error("store write failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}
