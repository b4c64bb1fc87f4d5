// Package director chooses which teacher persona answers a question. It asks
// a model first and falls back to a deterministic keyword scorer when the
// model fails or gives an answer that names no eligible persona.
package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/metrics"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/provider"
	"github.com/sirupsen/logrus"
)

// ErrNoEligibleTeacher is returned when no persona teaches the requested grade.
var ErrNoEligibleTeacher = errors.New("no eligible teacher")

const (
	popularWindow   = 50
	popularTop      = 3
	questionExcerpt = 200
	defaultConf     = 0.5
)

// Roster supplies the personas teaching a grade, in a stable order.
type Roster interface {
	ForGrade(grade int) []models.PersonaSpec
}

// DecisionStore persists decisions.
type DecisionStore interface {
	Append(ctx context.Context, rec models.DecisionRecord) error
	Recent(ctx context.Context, limit int) ([]models.DecisionRecord, error)
}

// Selection is the outcome of Select.
type Selection struct {
	Persona models.PersonaSpec
	Record  models.DecisionRecord
}

// Director selects personas and keeps the decision history.
type Director struct {
	cfg     config.DirectorConfig
	roster  Roster
	adapter provider.Adapter
	retry   provider.Retry
	profile Profile
	store   DecisionStore
	now     func() time.Time
	log     *logrus.Logger

	mu      sync.Mutex
	history []models.DecisionRecord
}

// Option configures a Director.
type Option func(*Director)

// WithAdapter sets the provider used for the selection call. Without one
// every selection uses the fallback scorer.
func WithAdapter(a provider.Adapter) Option {
	return func(d *Director) { d.adapter = a }
}

// WithProfile sets the pedagogical profile included in the prompt.
func WithProfile(p Profile) Option {
	return func(d *Director) { d.profile = p }
}

// WithDecisionStore persists every decision to s.
func WithDecisionStore(s DecisionStore) Option {
	return func(d *Director) { d.store = s }
}

// WithRetry overrides the retry policy of the selection call.
func WithRetry(r provider.Retry) Option {
	return func(d *Director) { d.retry = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Director) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(d *Director) { d.log = l }
}

// New creates a Director.
func New(cfg config.DirectorConfig, roster Roster, opts ...Option) *Director {
	if cfg.Name == "" {
		cfg.Name = "Director"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	d := &Director{
		cfg:    cfg,
		roster: roster,
		retry: provider.Retry{
			Attempts:    attempts,
			BaseTimeout: cfg.BaseTimeout,
			BaseDelay:   cfg.BackoffBase,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.log = logger.OrDiscard(d.log)
	if d.retry.Log == nil {
		d.retry.Log = d.log
	}
	return d
}

// LoadHistory replaces the in-memory history with the persisted decisions.
func (d *Director) LoadHistory(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	recs, err := d.store.Recent(ctx, 0)
	if err != nil {
		return fmt.Errorf("load decision history: %w", err)
	}
	d.mu.Lock()
	d.history = recs
	d.mu.Unlock()
	return nil
}

// Select picks the persona for a question at the given grade.
func (d *Director) Select(ctx context.Context, question string, grade int) (Selection, error) {
	candidates := d.eligible(grade)
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("%w for grade %d", ErrNoEligibleTeacher, grade)
	}
	history := d.History()

	if d.adapter != nil {
		if sel, ok := d.selectAI(ctx, question, grade, candidates, history); ok {
			d.record(ctx, sel.Record)
			return sel, nil
		}
	}

	sel := d.selectFallback(question, grade, candidates, history)
	d.record(ctx, sel.Record)
	return sel, nil
}

func (d *Director) eligible(grade int) []models.PersonaSpec {
	var out []models.PersonaSpec
	for _, p := range d.roster.ForGrade(grade) {
		if p.Grade == grade {
			out = append(out, p)
		}
	}
	return out
}

type aiChoice struct {
	Teacher       string   `json:"teacher"`
	Justification string   `json:"justification"`
	Confidence    *float64 `json:"confidence"`
}

func (d *Director) selectAI(ctx context.Context, question string, grade int, candidates []models.PersonaSpec, history []models.DecisionRecord) (Selection, bool) {
	prompt, err := buildPrompt(d.cfg.Name, d.profile, history, question, grade, candidates)
	if err != nil {
		d.log.WithError(err).Error("failed to render selection prompt")
		return Selection{}, false
	}

	req := provider.Request{
		Messages:    []models.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		Model:       d.cfg.Model,
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	}
	var content string
	start := time.Now()
	err = d.retry.Do(ctx, func(actx context.Context) error {
		c, err := d.adapter.Complete(actx, req)
		if err != nil {
			return err
		}
		content = strings.TrimSpace(c.Content)
		return nil
	})
	if err != nil {
		metrics.RecordProviderCall(d.adapter.Name(), d.cfg.Model, "error", time.Since(start), 0)
		d.log.WithError(err).Warn("director model call failed, using fallback")
		return Selection{}, false
	}
	metrics.RecordProviderCall(d.adapter.Name(), d.cfg.Model, "ok", time.Since(start), 0)

	name, justification, confidence := parseChoice(content)
	lname := strings.ToLower(name)
	for _, p := range candidates {
		if !strings.Contains(lname, strings.ToLower(p.Name)) {
			continue
		}
		rec := d.newRecord(question, p.Name, grade, models.MethodAI)
		rec.Justification = justification
		rec.Confidence = confidence
		d.log.WithFields(logrus.Fields{
			"teacher":    p.Name,
			"confidence": confidence,
		}).Info("director selected teacher")
		return Selection{Persona: p, Record: rec}, true
	}

	d.log.WithField("reply", excerpt(content, 120)).Info("director reply named no eligible teacher, using fallback")
	return Selection{}, false
}

// parseChoice reads the model reply. A reply that is not JSON is treated as
// free text naming the teacher.
func parseChoice(content string) (name, justification string, confidence float64) {
	var c aiChoice
	if err := json.Unmarshal([]byte(jsonObject(content)), &c); err != nil {
		return content, "", defaultConf
	}
	confidence = defaultConf
	if c.Confidence != nil {
		confidence = math.Max(0, math.Min(1, *c.Confidence))
	}
	return c.Teacher, c.Justification, confidence
}

func (d *Director) selectFallback(question string, grade int, candidates []models.PersonaSpec, history []models.DecisionRecord) Selection {
	recent := make(map[string]bool)
	for i := max(0, len(history)-recentWindow); i < len(history); i++ {
		recent[history[i].Teacher] = true
	}

	top := best(scoreCandidates(question, grade, candidates, recent))
	label := ConfidenceLabel(top.Total)

	rec := d.newRecord(question, top.Persona.Name, grade, models.MethodFallback)
	rec.Score = top.Total
	rec.ConfidenceLabel = label
	rec.Breakdown = top.Breakdown

	d.log.WithFields(logrus.Fields{
		"teacher":    top.Persona.Name,
		"score":      top.Total,
		"confidence": label,
		"breakdown":  top.Breakdown,
	}).Info("fallback selected teacher")
	return Selection{Persona: top.Persona, Record: rec}
}

func (d *Director) newRecord(question, teacher string, grade int, method models.DecisionMethod) models.DecisionRecord {
	return models.DecisionRecord{
		ID:        uuid.NewString(),
		Question:  excerpt(question, questionExcerpt),
		Teacher:   teacher,
		Grade:     grade,
		Timestamp: d.now(),
		Method:    method,
	}
}

func (d *Director) record(ctx context.Context, rec models.DecisionRecord) {
	d.mu.Lock()
	d.history = append(d.history, rec)
	d.mu.Unlock()

	metrics.RecordDecision(string(rec.Method))
	if d.store != nil {
		if err := d.store.Append(ctx, rec); err != nil {
			d.log.WithError(err).Warn("failed to persist decision")
		}
	}
}

// History returns a copy of all decisions, oldest first.
func (d *Director) History() []models.DecisionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.DecisionRecord(nil), d.history...)
}

// Metrics aggregates decision quality over the whole history.
func (d *Director) Metrics() models.DecisionMetrics {
	return Aggregate(d.History())
}

// Aggregate computes decision metrics for a history, oldest first.
func Aggregate(history []models.DecisionRecord) models.DecisionMetrics {
	m := models.DecisionMetrics{Total: len(history), Popular: []models.PopularTeacher{}}
	if m.Total == 0 {
		return m
	}

	var confSum float64
	var scoreSum int
	for _, r := range history {
		switch r.Method {
		case models.MethodAI:
			m.AI++
			confSum += r.Confidence
		case models.MethodFallback:
			m.Fallback++
			scoreSum += r.Score
		}
	}
	m.AISuccessRate = round2(float64(m.AI) / float64(m.Total) * 100)
	if m.AI > 0 {
		m.AvgAIConfidence = round2(confSum / float64(m.AI))
	}
	if m.Fallback > 0 {
		m.AvgFallbackScore = round2(float64(scoreSum) / float64(m.Fallback))
	}

	counts := make(map[string]int)
	var order []string
	for _, r := range history[max(0, len(history)-popularWindow):] {
		if r.Teacher == "" {
			continue
		}
		if counts[r.Teacher] == 0 {
			order = append(order, r.Teacher)
		}
		counts[r.Teacher]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	for _, name := range order[:min(popularTop, len(order))] {
		m.Popular = append(m.Popular, models.PopularTeacher{Name: name, Count: counts[name]})
	}
	return m
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
