package provider

import (
	"context"
	"errors"
	"time"

	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Retry runs a call up to Attempts times. Attempt n (from zero) gets a timeout
// of BaseTimeout<<n, or BaseTimeout on every attempt when FixedTimeout is set,
// and a retryable failure is followed by a pause of BaseDelay<<n.
type Retry struct {
	Attempts     int
	BaseTimeout  time.Duration
	FixedTimeout bool
	BaseDelay    time.Duration

	// Sleep pauses between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Log   *logrus.Logger
}

// Retryable reports whether err is worth another attempt: rate limits and
// timeouts are, everything else is not.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. The last error is returned.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	log := logger.OrDiscard(r.Log)

	var err error
	for n := range attempts {
		err = r.attempt(ctx, n, fn)
		if err == nil {
			return nil
		}
		if !Retryable(err) || n == attempts-1 {
			return err
		}

		delay := r.BaseDelay << n
		log.WithFields(logrus.Fields{
			"attempt": n + 1,
			"delay":   delay.String(),
		}).WithError(err).Warn("provider call failed, retrying")
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

func (r Retry) attempt(ctx context.Context, n int, fn func(ctx context.Context) error) error {
	if r.BaseTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.Timeout(n))
	defer cancel()
	return fn(actx)
}

// Timeout returns the deadline given to attempt n.
func (r Retry) Timeout(n int) time.Duration {
	if r.FixedTimeout {
		return r.BaseTimeout
	}
	return r.BaseTimeout << n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
