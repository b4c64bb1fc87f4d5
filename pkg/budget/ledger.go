package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/metrics"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrBudgetExceeded is returned when a request exceeds the budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

var (
	// ErrDailyLimitExceeded means the shared daily ceiling would be crossed.
	ErrDailyLimitExceeded = fmt.Errorf("%w: daily token limit reached", ErrBudgetExceeded)
	// ErrUserLimitExceeded means the user's lifetime allowance would be crossed.
	ErrUserLimitExceeded = fmt.Errorf("%w: user token limit reached", ErrBudgetExceeded)
)

// recordKey is the single document holding the ledger state. The file backend
// stores it as the whole of token_usage.json.
const recordKey = "usage"

// Ledger tracks free-tier token consumption against a daily ceiling shared by
// all users and a per-user lifetime allowance.
type Ledger struct {
	store store.Store
	cfg   config.BudgetConfig
	now   func() time.Time
	log   *logrus.Logger

	// mu serializes reservations; pending holds estimates of calls in flight.
	mu          sync.Mutex
	pendingDay  int64
	pendingUser map[string]int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for the daily rollover.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(lg *logrus.Logger) Option {
	return func(l *Ledger) { l.log = lg }
}

// New creates a Ledger persisting to s.
func New(s store.Store, cfg config.BudgetConfig, opts ...Option) *Ledger {
	l := &Ledger{store: s, cfg: cfg, now: time.Now, pendingUser: make(map[string]int64)}
	for _, o := range opts {
		o(l)
	}
	l.log = logger.OrDiscard(l.log)
	return l
}

// EstimateTokens is the pre-call estimate used to gate a request: a third of
// the prompt length plus the completion allowance.
func EstimateTokens(prompt string, maxTokens int) int {
	return len(prompt)/3 + maxTokens
}

// Check returns ErrDailyLimitExceeded or ErrUserLimitExceeded if spending n
// more tokens for userID would cross a ceiling. Tokens reserved by calls still
// in flight count as spent. The daily ceiling is checked first.
func (l *Ledger) Check(ctx context.Context, userID string, n int) error {
	rec, err := l.current(ctx)
	if err != nil {
		return fmt.Errorf("budget check: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admit(rec, userID, int64(n))
}

// admit applies both ceilings to rec plus pending reservations. Caller holds l.mu.
func (l *Ledger) admit(rec models.TokenRecord, userID string, need int64) error {
	if rec.DailyTokens+l.pendingDay+need > l.cfg.DailyTokens {
		metrics.RecordBudgetRejection("daily")
		return ErrDailyLimitExceeded
	}
	used := rec.Users[userID] + l.pendingUser[userID]
	if used+need > l.cfg.UserTokens {
		metrics.RecordBudgetRejection("user")
		return fmt.Errorf("%w (%d/%d)", ErrUserLimitExceeded, used, l.cfg.UserTokens)
	}
	return nil
}

// Reservation holds an estimate against both ceilings while a call is in
// flight. Exactly one of Commit or Cancel should be called.
type Reservation struct {
	l      *Ledger
	userID string
	n      int64
	done   bool
}

// Reserve checks n tokens for userID like Check and, if they fit, holds them
// until the reservation is settled so concurrent callers cannot spend the same
// headroom.
func (l *Ledger) Reserve(ctx context.Context, userID string, n int) (*Reservation, error) {
	if n < 0 {
		n = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("budget reserve: %w", err)
	}
	if err := l.admit(rec, userID, int64(n)); err != nil {
		return nil, err
	}
	l.pendingDay += int64(n)
	l.pendingUser[userID] += int64(n)
	return &Reservation{l: l, userID: userID, n: int64(n)}, nil
}

// Commit records the tokens actually used and drops the estimate.
func (r *Reservation) Commit(ctx context.Context, tokensUsed int) error {
	if r.done {
		return nil
	}
	err := r.l.Record(ctx, r.userID, tokensUsed)
	r.Cancel()
	return err
}

// Cancel drops the estimate without recording anything.
func (r *Reservation) Cancel() {
	if r.done {
		return
	}
	r.done = true
	l := r.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingDay -= r.n
	l.pendingUser[r.userID] -= r.n
	if l.pendingUser[r.userID] <= 0 {
		delete(l.pendingUser, r.userID)
	}
}

// CanConsume is Check reported as an allow flag and a human-readable reason.
func (l *Ledger) CanConsume(ctx context.Context, userID string, n int) (bool, string, error) {
	err := l.Check(ctx, userID, n)
	switch {
	case err == nil:
		return true, "OK", nil
	case errors.Is(err, ErrBudgetExceeded):
		return false, err.Error(), nil
	default:
		return false, "", err
	}
}

// Record adds tokensUsed to the daily total and to the user's lifetime total.
// It never refuses on limits; only storage errors are returned.
func (l *Ledger) Record(ctx context.Context, userID string, tokensUsed int) error {
	if tokensUsed < 0 {
		tokensUsed = 0
	}
	var rec models.TokenRecord
	_, err := store.Update(ctx, l.store, recordKey, func(old []byte) ([]byte, error) {
		r, err := l.decode(old)
		if err != nil {
			return nil, err
		}
		l.rollover(&r)
		r.DailyTokens += int64(tokensUsed)
		r.TotalRequests++
		r.Users[userID] += int64(tokensUsed)
		rec = r
		return json.Marshal(r)
	})
	if err != nil {
		return fmt.Errorf("budget record: %w", err)
	}

	metrics.SetDailyTokens(rec.DailyTokens)
	if ratio := l.ratio(rec.DailyTokens); ratio >= l.cfg.AlertThreshold {
		l.log.WithFields(logrus.Fields{
			"daily_tokens": rec.DailyTokens,
			"daily_limit":  l.cfg.DailyTokens,
			"usage":        fmt.Sprintf("%.1f%%", ratio*100),
		}).Warn("daily token usage above alert threshold")
	}
	return nil
}

// Snapshot reports the current daily usage.
func (l *Ledger) Snapshot(ctx context.Context) (models.TokenSnapshot, error) {
	rec, err := l.current(ctx)
	if err != nil {
		return models.TokenSnapshot{}, fmt.Errorf("budget snapshot: %w", err)
	}
	return models.TokenSnapshot{
		DailyTokens:   rec.DailyTokens,
		DailyLimit:    l.cfg.DailyTokens,
		UsageRatio:    l.ratio(rec.DailyTokens),
		DistinctUsers: len(rec.Users),
		TotalRequests: rec.TotalRequests,
	}, nil
}

// UserUsage reports how much of its allowance userID has consumed.
func (l *Ledger) UserUsage(ctx context.Context, userID string) (models.UserUsage, error) {
	rec, err := l.current(ctx)
	if err != nil {
		return models.UserUsage{}, fmt.Errorf("budget user usage: %w", err)
	}
	used := rec.Users[userID]
	return models.UserUsage{
		UserID:    userID,
		Used:      used,
		Limit:     l.cfg.UserTokens,
		Remaining: max(l.cfg.UserTokens-used, 0),
	}, nil
}

// current loads the record, persisting a day rollover if one is due.
func (l *Ledger) current(ctx context.Context) (models.TokenRecord, error) {
	raw, found, err := l.store.Get(ctx, recordKey)
	if err != nil {
		return models.TokenRecord{}, err
	}
	if !found {
		raw = nil
	}
	rec, err := l.decode(raw)
	if err != nil {
		return models.TokenRecord{}, err
	}
	if !l.rollover(&rec) {
		return rec, nil
	}

	_, err = store.Update(ctx, l.store, recordKey, func(old []byte) ([]byte, error) {
		r, err := l.decode(old)
		if err != nil {
			return nil, err
		}
		l.rollover(&r)
		rec = r
		return json.Marshal(r)
	})
	if err != nil {
		return models.TokenRecord{}, err
	}
	l.log.WithField("last_reset", rec.LastReset.Format(time.RFC3339)).Info("daily token counter reset")
	return rec, nil
}

// wireRecord is the persisted form. last_reset is kept as text because files
// written by older tools carry a timestamp without a zone.
type wireRecord struct {
	DailyTokens   int64            `json:"daily_tokens"`
	LastReset     string           `json:"last_reset"`
	Users         map[string]int64 `json:"users"`
	TotalRequests int64            `json:"total_requests"`
}

var resetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	time.DateOnly,
}

func (l *Ledger) decode(raw []byte) (models.TokenRecord, error) {
	rec := models.TokenRecord{LastReset: l.now()}
	if len(raw) > 0 {
		var w wireRecord
		if err := json.Unmarshal(raw, &w); err != nil {
			return models.TokenRecord{}, fmt.Errorf("decode token record: %w", err)
		}
		rec.DailyTokens = w.DailyTokens
		rec.Users = w.Users
		rec.TotalRequests = w.TotalRequests
		if w.LastReset != "" {
			t, err := parseReset(w.LastReset, l.now().Location())
			if err != nil {
				return models.TokenRecord{}, fmt.Errorf("decode token record: %w", err)
			}
			rec.LastReset = t
		}
	}
	if rec.Users == nil {
		rec.Users = make(map[string]int64)
	}
	return rec, nil
}

func parseReset(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range resetLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid last_reset %q", s)
}

// rollover zeroes the daily counter once the local date has moved past the
// last reset. It reports whether anything changed.
func (l *Ledger) rollover(rec *models.TokenRecord) bool {
	now := l.now()
	if !laterDay(now, rec.LastReset.In(now.Location())) {
		return false
	}
	rec.DailyTokens = 0
	rec.LastReset = now
	return true
}

func laterDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}

func (l *Ledger) ratio(daily int64) float64 {
	if l.cfg.DailyTokens <= 0 {
		return 0
	}
	return float64(daily) / float64(l.cfg.DailyTokens)
}
