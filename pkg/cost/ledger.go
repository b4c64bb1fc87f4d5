// Package cost tracks the dollar cost of provider calls per calendar day and
// flags days that cross the configured ceiling.
package cost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/metrics"
	"github.com/pario-ai/tutorgate/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrCostCeilingExceeded reports that today's cumulative cost is above the ceiling.
// Log records the usage regardless; the error is advisory.
var ErrCostCeilingExceeded = errors.New("daily cost ceiling exceeded")

// DateFormat is the layout of the per-day keys.
const DateFormat = "2006-01-02"

const precision = 4

var thousand = decimal.NewFromInt(1000)

// Tokens is a usage breakdown. Zero fields are not priced.
type Tokens struct {
	Input       int64
	CachedInput int64
	Output      int64
}

// OutputOnly is the form used when the provider reported a single count.
func OutputOnly(n int64) Tokens {
	return Tokens{Output: n}
}

// Total sums all components.
func (t Tokens) Total() int64 {
	return t.Input + t.CachedInput + t.Output
}

// Rates are per-1000-token prices for one model.
type Rates struct {
	Input       decimal.Decimal
	CachedInput decimal.Decimal
	Output      decimal.Decimal
}

// Day is the accumulated usage for one calendar day.
type Day struct {
	Date     string          `json:"-"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
	Requests int64           `json:"requests"`
}

type dayJSON struct {
	Tokens   int64  `json:"tokens"`
	Cost     string `json:"cost"`
	Requests int64  `json:"requests"`
}

// MarshalJSON writes the cost as a decimal string with four fractional digits.
func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(dayJSON{Tokens: d.Tokens, Cost: d.Cost.StringFixed(precision), Requests: d.Requests})
}

// UnmarshalJSON accepts the cost as a string or, for older files, a float.
func (d *Day) UnmarshalJSON(b []byte) error {
	var raw struct {
		Tokens   int64           `json:"tokens"`
		Cost     decimal.Decimal `json:"cost"`
		Requests int64           `json:"requests"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.Tokens = raw.Tokens
	d.Cost = raw.Cost.Round(precision)
	d.Requests = raw.Requests
	return nil
}

// Ledger prices usage and accumulates it per day.
type Ledger struct {
	store         store.Store
	pricing       map[string]Rates
	defaultModel  string
	limit         decimal.Decimal
	retentionDays int
	now           func() time.Time
	log           *logrus.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(lg *logrus.Logger) Option {
	return func(l *Ledger) { l.log = lg }
}

// New creates a Ledger from configuration. Prices and the ceiling are decimal strings.
func New(s store.Store, cfg config.CostConfig, opts ...Option) (*Ledger, error) {
	pricing, err := ParsePricing(cfg.Pricing)
	if err != nil {
		return nil, err
	}
	if _, ok := pricing[cfg.DefaultModel]; !ok {
		return nil, fmt.Errorf("default model %q has no pricing", cfg.DefaultModel)
	}
	limitStr := cfg.DailyLimitUSD
	if limitStr == "" {
		limitStr = "5.00"
	}
	limit, err := decimal.NewFromString(limitStr)
	if err != nil {
		return nil, fmt.Errorf("parse daily limit %q: %w", cfg.DailyLimitUSD, err)
	}

	l := &Ledger{
		store:         s,
		pricing:       pricing,
		defaultModel:  cfg.DefaultModel,
		limit:         limit.Round(precision),
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = logger.OrDiscard(l.log)
	return l, nil
}

// ParsePricing converts configured price strings into Rates keyed by model.
func ParsePricing(list []config.ModelPricing) (map[string]Rates, error) {
	out := make(map[string]Rates, len(list))
	for _, p := range list {
		var r Rates
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&r.Input, p.Input}, {&r.CachedInput, p.CachedInput}, {&r.Output, p.Output}} {
			if f.src == "" {
				continue
			}
			v, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("pricing for %s: %w", p.Model, err)
			}
			*f.dst = v
		}
		out[p.Model] = r
	}
	return out, nil
}

// Limit returns the daily ceiling.
func (l *Ledger) Limit() decimal.Decimal {
	return l.limit
}

// Price returns the cost of tokens on model, rounded half-up to four digits.
// Unknown models are priced as the default model.
func (l *Ledger) Price(tokens Tokens, model string) decimal.Decimal {
	r, ok := l.pricing[model]
	if !ok {
		l.log.WithFields(logrus.Fields{
			"model":         model,
			"default_model": l.defaultModel,
		}).Warn("unknown model, using default pricing")
		r = l.pricing[l.defaultModel]
	}
	return price(tokens, r)
}

func price(t Tokens, r Rates) decimal.Decimal {
	total := decimal.Zero
	for _, c := range []struct {
		n    int64
		rate decimal.Decimal
	}{{t.Input, r.Input}, {t.CachedInput, r.CachedInput}, {t.Output, r.Output}} {
		if c.n == 0 {
			continue
		}
		total = total.Add(decimal.NewFromInt(c.n).Div(thousand).Mul(c.rate))
	}
	return total.Round(precision)
}

// Log prices the usage, adds it to today's entry and persists the history.
// It returns false when today's cumulative cost exceeds the ceiling; the usage
// is recorded either way.
func (l *Ledger) Log(ctx context.Context, tokens Tokens, model string) (bool, error) {
	if model == "" {
		model = l.defaultModel
	}
	c := l.Price(tokens, model)

	if err := l.prune(ctx); err != nil {
		return false, err
	}

	today := l.now().Format(DateFormat)
	var day Day
	_, err := store.Update(ctx, l.store, today, func(old []byte) ([]byte, error) {
		day = Day{Cost: decimal.Zero}
		if old != nil {
			if err := json.Unmarshal(old, &day); err != nil {
				return nil, fmt.Errorf("decode %s: %w", today, err)
			}
		}
		day.Tokens += tokens.Total()
		day.Cost = day.Cost.Add(c)
		day.Requests++
		return json.Marshal(day)
	})
	if err != nil {
		return false, fmt.Errorf("cost log: %w", err)
	}

	f, _ := day.Cost.Float64()
	metrics.SetDailyCost(f)

	if day.Cost.GreaterThan(l.limit) {
		l.log.WithFields(logrus.Fields{
			"cost":  "$" + day.Cost.StringFixed(2),
			"limit": "$" + l.limit.StringFixed(2),
		}).Warn(ErrCostCeilingExceeded.Error())
		return false, nil
	}
	return true, nil
}

// Check returns ErrCostCeilingExceeded if today's cost is already above the ceiling.
func (l *Ledger) Check(ctx context.Context) error {
	day, err := l.DailySummary(ctx)
	if err != nil {
		return err
	}
	if day.Cost.GreaterThan(l.limit) {
		return fmt.Errorf("%w: $%s > $%s", ErrCostCeilingExceeded, day.Cost.StringFixed(2), l.limit.StringFixed(2))
	}
	return nil
}

// DailySummary returns today's entry, zero if nothing was logged yet.
func (l *Ledger) DailySummary(ctx context.Context) (Day, error) {
	today := l.now().Format(DateFormat)
	day, _, err := l.get(ctx, today)
	if err != nil {
		return Day{}, fmt.Errorf("cost summary: %w", err)
	}
	day.Date = today
	return day, nil
}

// History returns every retained day in date order.
func (l *Ledger) History(ctx context.Context) ([]Day, error) {
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("cost history: %w", err)
	}
	sort.Strings(keys)
	days := make([]Day, 0, len(keys))
	for _, k := range keys {
		day, found, err := l.get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("cost history: %w", err)
		}
		if !found {
			continue
		}
		day.Date = k
		days = append(days, day)
	}
	return days, nil
}

// RunMaintenance purges entries older than the retention window.
func (l *Ledger) RunMaintenance(ctx context.Context) error {
	return l.prune(ctx)
}

func (l *Ledger) prune(ctx context.Context) error {
	if l.retentionDays <= 0 {
		return nil
	}
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("cost prune: %w", err)
	}
	now := l.now()
	y, m, d := now.Date()
	threshold := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -l.retentionDays)

	for _, k := range keys {
		day, err := time.ParseInLocation(DateFormat, k, now.Location())
		if err != nil {
			l.log.WithField("key", k).Warn("unrecognised date in cost history")
			continue
		}
		if !day.Before(threshold) {
			continue
		}
		if err := l.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("cost prune: %w", err)
		}
		l.log.WithField("date", k).Debug("purged cost history entry")
	}
	return nil
}

func (l *Ledger) get(ctx context.Context, key string) (Day, bool, error) {
	raw, found, err := l.store.Get(ctx, key)
	if err != nil || !found {
		return Day{Cost: decimal.Zero}, false, err
	}
	var day Day
	if err := json.Unmarshal(raw, &day); err != nil {
		return Day{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return day, true, nil
}
