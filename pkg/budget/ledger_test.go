package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/store/file"
	"github.com/pario-ai/tutorgate/pkg/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, daily, user int64) (*Ledger, *clock, context.Context) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)}
	l := New(memory.New(), config.BudgetConfig{
		DailyTokens:    daily,
		UserTokens:     user,
		AlertThreshold: 0.8,
	}, WithClock(clk.now))
	return l, clk, context.Background()
}

func TestCheckUnderBudget(t *testing.T) {
	l, _, ctx := setup(t, 1000, 500)

	if err := l.Record(ctx, "u1", 150); err != nil {
		t.Fatal(err)
	}
	if err := l.Check(ctx, "u1", 100); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckDailyExceeded(t *testing.T) {
	l, _, ctx := setup(t, 1000, 5000)

	_ = l.Record(ctx, "u1", 950)
	err := l.Check(ctx, "u2", 100)
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Error("daily limit error should wrap ErrBudgetExceeded")
	}
}

func TestDailyCheckedBeforeUser(t *testing.T) {
	l, _, ctx := setup(t, 100, 100)

	_ = l.Record(ctx, "u1", 90)
	err := l.Check(ctx, "u1", 20)
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Errorf("expected daily limit to win, got %v", err)
	}
}

func TestUserGate(t *testing.T) {
	l, _, ctx := setup(t, 50000, 5000)

	_ = l.Record(ctx, "A", 4990)

	allowed, reason, err := l.CanConsume(ctx, "A", 20)
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Error("user A should be refused")
	}
	if reason == "" {
		t.Error("expected a reason")
	}
	if err := l.Check(ctx, "A", 20); !errors.Is(err, ErrUserLimitExceeded) {
		t.Errorf("expected ErrUserLimitExceeded, got %v", err)
	}
	if err := l.Check(ctx, "B", 20); err != nil {
		t.Errorf("user B should be allowed, got %v", err)
	}
}

func TestMonotonicWithinDay(t *testing.T) {
	l, clk, ctx := setup(t, 50000, 5000)

	var prev int64
	for _, n := range []int{10, 0, 250, 5} {
		clk.advance(time.Hour)
		if err := l.Record(ctx, "u", n); err != nil {
			t.Fatal(err)
		}
		snap, err := l.Snapshot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if snap.DailyTokens < prev {
			t.Fatalf("daily tokens decreased: %d < %d", snap.DailyTokens, prev)
		}
		prev = snap.DailyTokens
	}
	if prev != 265 {
		t.Errorf("expected 265, got %d", prev)
	}
}

func TestRolloverKeepsUsers(t *testing.T) {
	l, clk, ctx := setup(t, 50000, 5000)

	for range 3 {
		_ = l.Record(ctx, "u1", 100)
	}
	snap, _ := l.Snapshot(ctx)
	if snap.DailyTokens != 300 || snap.TotalRequests != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	clk.advance(24 * time.Hour)
	snap, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.DailyTokens != 0 {
		t.Errorf("expected reset daily tokens, got %d", snap.DailyTokens)
	}
	if snap.TotalRequests != 3 || snap.DistinctUsers != 1 {
		t.Errorf("lifetime counters should survive rollover: %+v", snap)
	}
	u, _ := l.UserUsage(ctx, "u1")
	if u.Used != 300 || u.Remaining != 4700 {
		t.Errorf("unexpected user usage: %+v", u)
	}
}

func TestNoResetSameDay(t *testing.T) {
	l, clk, ctx := setup(t, 50000, 5000)

	_ = l.Record(ctx, "u", 40)
	clk.advance(14 * time.Hour) // 23:00, same date
	snap, _ := l.Snapshot(ctx)
	if snap.DailyTokens != 40 {
		t.Errorf("expected 40 tokens before midnight, got %d", snap.DailyTokens)
	}
}

func TestRecordIgnoresLimits(t *testing.T) {
	l, _, ctx := setup(t, 100, 100)

	if err := l.Record(ctx, "u", 500); err != nil {
		t.Fatalf("record must not refuse on limits: %v", err)
	}
	snap, _ := l.Snapshot(ctx)
	if snap.DailyTokens != 500 || snap.UsageRatio != 5 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestConcurrentRecord(t *testing.T) {
	l, _, ctx := setup(t, 1_000_000, 1_000_000)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				if err := l.Record(ctx, "u", 10); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	snap, _ := l.Snapshot(ctx)
	if snap.DailyTokens != 200 || snap.TotalRequests != 20 {
		t.Errorf("lost updates: %+v", snap)
	}
}

func TestPersistedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token_usage.json")
	s, err := file.OpenDocument(path, recordKey)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cfg := config.BudgetConfig{DailyTokens: 1000, UserTokens: 500, AlertThreshold: 0.8}
	if err := New(s, cfg).Record(ctx, "u1", 42); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"daily_tokens", "last_reset", "users", "total_requests"} {
		if _, ok := doc[k]; !ok {
			t.Errorf("expected top-level %q in %s", k, raw)
		}
	}
	if len(doc) != 4 {
		t.Errorf("unexpected keys in %s", raw)
	}
	var users map[string]int64
	if err := json.Unmarshal(doc["users"], &users); err != nil {
		t.Fatal(err)
	}
	if string(doc["daily_tokens"]) != "42" || users["u1"] != 42 {
		t.Errorf("unexpected record %s", raw)
	}

	reopened, err := file.OpenDocument(path, recordKey)
	if err != nil {
		t.Fatal(err)
	}
	u, err := New(reopened, cfg).UserUsage(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Used != 42 {
		t.Errorf("expected 42 after reopen, got %d", u.Used)
	}
}

func TestLoadsExistingUsageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token_usage.json")
	existing := `{"daily_tokens": 300, "last_reset": "2025-03-10T07:30:12.123456", "users": {"u1": 4990}, "total_requests": 12}`
	if err := os.WriteFile(path, []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := file.OpenDocument(path, recordKey)
	if err != nil {
		t.Fatal(err)
	}
	clk := &clock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)}
	l := New(s, config.BudgetConfig{DailyTokens: 50000, UserTokens: 5000}, WithClock(clk.now))
	ctx := context.Background()

	u, err := l.UserUsage(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Used != 4990 || u.Remaining != 10 {
		t.Errorf("expected 4990 used, got %+v", u)
	}
	if err := l.Check(ctx, "u1", 20); !errors.Is(err, ErrUserLimitExceeded) {
		t.Errorf("expected ErrUserLimitExceeded, got %v", err)
	}
	snap, _ := l.Snapshot(ctx)
	if snap.DailyTokens != 300 || snap.TotalRequests != 12 {
		t.Errorf("same-day counters should be kept: %+v", snap)
	}

	clk.advance(24 * time.Hour)
	snap, _ = l.Snapshot(ctx)
	if snap.DailyTokens != 0 {
		t.Errorf("expected rollover from a zoneless timestamp, got %+v", snap)
	}
}

func TestReservationHoldsHeadroom(t *testing.T) {
	l, _, ctx := setup(t, 1000, 800)

	r, err := l.Reserve(ctx, "u1", 600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reserve(ctx, "u2", 600); !errors.Is(err, ErrDailyLimitExceeded) {
		t.Errorf("expected daily refusal while 600 is held, got %v", err)
	}
	if err := l.Check(ctx, "u1", 300); !errors.Is(err, ErrUserLimitExceeded) {
		t.Errorf("expected the user's held tokens to count, got %v", err)
	}

	if err := r.Commit(ctx, 200); err != nil {
		t.Fatal(err)
	}
	snap, _ := l.Snapshot(ctx)
	if snap.DailyTokens != 200 || snap.TotalRequests != 1 {
		t.Errorf("expected the actual count recorded, got %+v", snap)
	}
	if _, err := l.Reserve(ctx, "u2", 600); err != nil {
		t.Errorf("headroom should be back after commit: %v", err)
	}
}

func TestReservationCancel(t *testing.T) {
	l, _, ctx := setup(t, 1000, 1000)

	r, err := l.Reserve(ctx, "u1", 900)
	if err != nil {
		t.Fatal(err)
	}
	r.Cancel()
	r.Cancel()
	if err := l.Check(ctx, "u1", 900); err != nil {
		t.Errorf("cancelled reservation should free its tokens: %v", err)
	}
	snap, _ := l.Snapshot(ctx)
	if snap.TotalRequests != 0 || snap.DailyTokens != 0 {
		t.Errorf("cancel must not record, got %+v", snap)
	}
}

func TestConcurrentReservationsStayUnderCeiling(t *testing.T) {
	l, _, ctx := setup(t, 1000, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var held []*Reservation
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Reserve(ctx, fmt.Sprintf("u%d", i), 300)
			if err != nil {
				if !errors.Is(err, ErrDailyLimitExceeded) {
					t.Error(err)
				}
				return
			}
			mu.Lock()
			held = append(held, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(held) != 3 {
		t.Fatalf("expected exactly 3 reservations of 300 under 1000, got %d", len(held))
	}
	for _, r := range held {
		if err := r.Commit(ctx, 300); err != nil {
			t.Fatal(err)
		}
	}
	snap, _ := l.Snapshot(ctx)
	if snap.DailyTokens != 900 {
		t.Errorf("expected 900, got %d", snap.DailyTokens)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefghi", 400); got != 403 {
		t.Errorf("expected 403, got %d", got)
	}
}
