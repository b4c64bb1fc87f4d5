package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/cost"
	"github.com/pario-ai/tutorgate/pkg/director"
	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/store"
	"github.com/pario-ai/tutorgate/pkg/store/memory"
	"github.com/sirupsen/logrus"
)

var (
	// ErrFreeTierDisabled is returned for free-tier questions when the free tier is off.
	ErrFreeTierDisabled = errors.New("free tier is temporarily unavailable")
	// ErrQuestionQuota is returned when a free-tier user has used today's questions.
	ErrQuestionQuota = errors.New("daily question limit reached")
	// ErrFreeUserCap is returned to a new free-tier user once today's seats are taken.
	ErrFreeUserCap = errors.New("free tier user limit reached")
)

const (
	defaultQuestionsPerDay = 5
	defaultMaxFreeUsers    = 10
)

// activeKey holds today's free-tier users in the quota store. User ids never
// start with a colon.
const activeKey = ":active_users"

// Selector picks the persona for a question.
type Selector interface {
	Select(ctx context.Context, question string, grade int) (director.Selection, error)
}

// Question is a student's request.
type Question struct {
	Text   string
	Grade  int
	UserID string
	Tier   models.Tier
}

// Reply is the answer returned to the student.
type Reply struct {
	Teacher     string                `json:"teacher"`
	Subject     string                `json:"subject"`
	Content     string                `json:"content"`
	Provider    string                `json:"provider"`
	Model       string                `json:"model"`
	TokensUsed  int                   `json:"tokens_used"`
	FromCache   bool                  `json:"from_cache"`
	Method      models.DecisionMethod `json:"method"`
	CostAllowed bool                  `json:"cost_allowed"`
	// QuestionsLeft is the free-tier allowance left today; -1 when unlimited.
	QuestionsLeft int `json:"questions_left"`
}

// quota is the persisted per-user question counter.
type quota struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// seats is the persisted set of users admitted to the free tier today.
type seats struct {
	Date  string   `json:"date"`
	Users []string `json:"users"`
}

// Service routes questions through the director to a persona.
type Service struct {
	cfg      config.TutorConfig
	selector Selector
	gw       Answerer
	costs    *cost.Ledger
	quotas   store.Store
	perDay   int
	maxUsers int
	now      func() time.Time
	log      *logrus.Logger

	mu       sync.Mutex
	personas map[personaKey]*Persona
}

// Option configures a Service.
type Option func(*Service)

// WithCostLedger enables cost accounting for answers.
func WithCostLedger(l *cost.Ledger) Option {
	return func(s *Service) { s.costs = l }
}

// WithQuotaStore persists free-tier question counters. Without one the
// counters live in memory.
func WithQuotaStore(st store.Store) Option {
	return func(s *Service) { s.quotas = st }
}

// WithClock sets the clock used for the daily quota.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a Service. A zero FreeQuestionsPerDay or MaxFreeUsers
// uses the default of five questions or ten users; a negative value disables
// that cap.
func NewService(cfg config.TutorConfig, sel Selector, gw Answerer, opts ...Option) *Service {
	perDay := cfg.FreeQuestionsPerDay
	if perDay == 0 {
		perDay = defaultQuestionsPerDay
	}
	maxUsers := cfg.MaxFreeUsers
	if maxUsers == 0 {
		maxUsers = defaultMaxFreeUsers
	}
	s := &Service{
		cfg:      cfg,
		selector: sel,
		gw:       gw,
		perDay:   perDay,
		maxUsers: maxUsers,
		now:      time.Now,
		personas: make(map[personaKey]*Persona),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logger.OrDiscard(s.log)
	if s.quotas == nil {
		s.quotas = memory.New()
	}
	return s
}

// Ask selects a teacher for the question and returns its answer. Free-tier
// questions count against the user's daily allowance only when answered.
func (s *Service) Ask(ctx context.Context, q Question) (Reply, error) {
	free := q.Tier != models.TierPaid
	if free && !s.cfg.FreeTierEnabled {
		return Reply{}, ErrFreeTierDisabled
	}
	if free && s.maxUsers > 0 {
		if err := s.admit(ctx, q.UserID); err != nil {
			return Reply{}, err
		}
	}

	left := -1
	if free && s.perDay > 0 {
		n, err := s.reserve(ctx, q.UserID)
		if err != nil {
			return Reply{}, err
		}
		left = s.perDay - n
	}

	reply, err := s.answer(ctx, q)
	if err != nil {
		if left >= 0 {
			if rerr := s.release(ctx, q.UserID); rerr != nil {
				s.log.WithError(rerr).WithField("user", q.UserID).Warn("failed to release question quota")
			}
		}
		return Reply{}, err
	}
	reply.QuestionsLeft = left
	return reply, nil
}

func (s *Service) answer(ctx context.Context, q Question) (Reply, error) {
	sel, err := s.selector.Select(ctx, q.Text, q.Grade)
	if err != nil {
		return Reply{}, fmt.Errorf("select teacher: %w", err)
	}
	p := s.persona(sel.Persona)

	res, err := p.Answer(ctx, q.Text, q.UserID, q.Tier)
	if err != nil {
		return Reply{}, err
	}

	s.log.WithFields(logrus.Fields{
		"teacher":    p.Name,
		"method":     sel.Record.Method,
		"from_cache": res.FromCache,
		"tokens":     res.TokensUsed,
	}).Info("question answered")

	return Reply{
		Teacher:     p.Name,
		Subject:     p.Subject,
		Content:     res.Content,
		Provider:    res.Provider,
		Model:       res.Model,
		TokensUsed:  res.TokensUsed,
		FromCache:   res.FromCache,
		Method:      sel.Record.Method,
		CostAllowed: res.CostAllowed,
	}, nil
}

// persona returns the live persona for a roster entry, creating it on first use
// so its conversation history survives between questions.
func (s *Service) persona(spec models.PersonaSpec) *Persona {
	k := key(spec.Name, spec.Grade)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.personas[k]; ok {
		return p
	}
	if spec.School == "" {
		spec.School = s.cfg.School
	}
	if spec.Config == nil {
		c := SubjectConfig(s.cfg.DefaultPersona, spec.Subject)
		spec.Config = &c
	}
	p := NewPersona(spec, s.gw, s.costs, s.log)
	p.now = s.now
	s.personas[k] = p
	return p
}

// QuestionsUsed reports how many free-tier questions the user asked today.
func (s *Service) QuestionsUsed(ctx context.Context, userID string) (int, error) {
	raw, found, err := s.quotas.Get(ctx, userID)
	if err != nil || !found {
		return 0, err
	}
	var qt quota
	if err := json.Unmarshal(raw, &qt); err != nil {
		return 0, fmt.Errorf("decode quota for %s: %w", userID, err)
	}
	if qt.Date != s.today() {
		return 0, nil
	}
	return qt.Count, nil
}

// ActiveUsers lists the users admitted to the free tier today.
func (s *Service) ActiveUsers(ctx context.Context) ([]string, error) {
	raw, found, err := s.quotas.Get(ctx, activeKey)
	if err != nil || !found {
		return nil, err
	}
	st, err := decodeSeats(raw, s.today())
	if err != nil {
		return nil, err
	}
	return st.Users, nil
}

// admit gives userID one of today's free-tier seats. Users already seated
// today are always admitted.
func (s *Service) admit(ctx context.Context, userID string) error {
	today := s.today()
	_, err := store.Update(ctx, s.quotas, activeKey, func(old []byte) ([]byte, error) {
		st, err := decodeSeats(old, today)
		if err != nil {
			return nil, err
		}
		if slices.Contains(st.Users, userID) {
			return json.Marshal(st)
		}
		if len(st.Users) >= s.maxUsers {
			return nil, fmt.Errorf("%w (%d/%d)", ErrFreeUserCap, len(st.Users), s.maxUsers)
		}
		st.Users = append(st.Users, userID)
		return json.Marshal(st)
	})
	return err
}

func decodeSeats(raw []byte, today string) (seats, error) {
	st := seats{Date: today}
	if raw == nil {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return seats{}, fmt.Errorf("decode active users: %w", err)
	}
	if st.Date != today {
		st = seats{Date: today}
	}
	return st, nil
}

// reserve takes one question from today's allowance and returns the new count.
func (s *Service) reserve(ctx context.Context, userID string) (int, error) {
	today := s.today()
	var count int
	_, err := store.Update(ctx, s.quotas, userID, func(old []byte) ([]byte, error) {
		qt, err := decodeQuota(old, today)
		if err != nil {
			return nil, err
		}
		if qt.Count >= s.perDay {
			return nil, fmt.Errorf("%w (%d/%d)", ErrQuestionQuota, qt.Count, s.perDay)
		}
		qt.Count++
		count = qt.Count
		return json.Marshal(qt)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Service) release(ctx context.Context, userID string) error {
	today := s.today()
	_, err := store.Update(ctx, s.quotas, userID, func(old []byte) ([]byte, error) {
		qt, err := decodeQuota(old, today)
		if err != nil {
			return nil, err
		}
		if qt.Count > 0 {
			qt.Count--
		}
		return json.Marshal(qt)
	})
	return err
}

func decodeQuota(raw []byte, today string) (quota, error) {
	qt := quota{Date: today}
	if raw == nil {
		return qt, nil
	}
	if err := json.Unmarshal(raw, &qt); err != nil {
		return quota{}, fmt.Errorf("decode quota: %w", err)
	}
	if qt.Date != today {
		qt = quota{Date: today}
	}
	return qt, nil
}

func (s *Service) today() string {
	return s.now().Format(cost.DateFormat)
}
