package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sleeps []time.Duration

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	*s = append(*s, d)
	return nil
}

func TestRetryBackoff(t *testing.T) {
	var slept sleeps
	var timeouts []time.Duration
	r := Retry{Attempts: 3, BaseTimeout: 5 * time.Second, BaseDelay: time.Second, Sleep: slept.sleep}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		dl, _ := ctx.Deadline()
		timeouts = append(timeouts, time.Until(dl).Round(time.Second))
		return &Error{Provider: "p", Kind: ErrTimeout, Err: context.DeadlineExceeded}
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Errorf("expected backoff 1s, 2s; got %v", slept)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, w := range want {
		if timeouts[i] != w {
			t.Errorf("attempt %d: expected %v timeout, got %v", i, w, timeouts[i])
		}
	}
}

func TestRetryStopsOnOther(t *testing.T) {
	var slept sleeps
	r := Retry{Attempts: 3, BaseDelay: time.Second, Sleep: slept.sleep}

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return &Error{Provider: "p", Kind: ErrOther, Err: errors.New("bad request")}
	})
	if !errors.Is(err, ErrOther) {
		t.Fatalf("expected ErrOther, got %v", err)
	}
	if calls != 1 || len(slept) != 0 {
		t.Errorf("non-retryable error should stop immediately: calls=%d sleeps=%v", calls, slept)
	}
}

func TestRetryRecovers(t *testing.T) {
	var slept sleeps
	r := Retry{Attempts: 3, BaseDelay: time.Millisecond, Sleep: slept.sleep}

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &Error{Provider: "p", Kind: ErrRateLimited, Status: 429, Err: errors.New("slow down")}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected success on second attempt, got %d calls", calls)
	}
}

func TestRetryFixedTimeout(t *testing.T) {
	var slept sleeps
	var timeouts []time.Duration
	r := Retry{Attempts: 3, BaseTimeout: 30 * time.Second, FixedTimeout: true, BaseDelay: time.Second, Sleep: slept.sleep}

	_ = r.Do(context.Background(), func(ctx context.Context) error {
		dl, _ := ctx.Deadline()
		timeouts = append(timeouts, time.Until(dl).Round(time.Second))
		return &Error{Provider: "p", Kind: ErrRateLimited, Status: 429, Err: errors.New("slow down")}
	})
	if len(timeouts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(timeouts))
	}
	for i, got := range timeouts {
		if got != 30*time.Second {
			t.Errorf("attempt %d: expected 30s timeout, got %v", i, got)
		}
	}
	if len(slept) != 2 || slept[1] != 2*time.Second {
		t.Errorf("backoff should still double, got %v", slept)
	}
}
