package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/tutorgate/pkg/cache"
	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/cost"
	"github.com/pario-ai/tutorgate/pkg/director"
	"github.com/pario-ai/tutorgate/pkg/gateway"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/provider"
	"github.com/pario-ai/tutorgate/pkg/router"
	"github.com/pario-ai/tutorgate/pkg/store/memory"
)

const mathQuestion = "O problema de matematica: cat fac 2 plus 3?"

type fakeAdapter struct {
	name   string
	tokens int
	errs   []error
	calls  int
	last   provider.Request
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Complete(_ context.Context, req provider.Request) (provider.Completion, error) {
	f.calls++
	f.last = req
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return provider.Completion{}, err
	}
	return provider.Completion{Content: "2 plus 3 fac 5", TokensUsed: f.tokens}, nil
}

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

type harness struct {
	svc      *Service
	costs    *cost.Ledger
	deepseek *fakeAdapter
	claude   *fakeAdapter
	now      time.Time
}

type setupOpts struct {
	tutor     config.TutorConfig
	costLimit string
	cache     bool
}

func setup(t *testing.T, o setupOpts) *harness {
	t.Helper()
	h := &harness{
		deepseek: &fakeAdapter{name: "deepseek", tokens: 1000},
		claude:   &fakeAdapter{name: "anthropic", tokens: 200},
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local),
	}
	clock := func() time.Time { return h.now }

	reg := provider.NewRegistry()
	reg.Register(h.deepseek)
	reg.Register(h.claude)

	var gwOpts []gateway.Option
	gwOpts = append(gwOpts, gateway.WithRetry(provider.Retry{
		Attempts: 3,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	}))
	if o.cache {
		gwOpts = append(gwOpts, gateway.WithCache(cache.New(memory.New(), time.Hour)))
	}
	gw := gateway.New(config.GatewayConfig{Attempts: 3, Timeout: time.Second},
		router.New(config.Default().Router, fixedSource(0)), reg, gwOpts...)

	costCfg := config.Default().Cost
	if o.costLimit != "" {
		costCfg.DailyLimitUSD = o.costLimit
	}
	costs, err := cost.New(memory.New(), costCfg, cost.WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	h.costs = costs

	roster := NewRoster(o.tutor)
	dir := director.New(config.DirectorConfig{}, roster, director.WithClock(clock))
	h.svc = NewService(o.tutor, dir, gw, WithCostLedger(costs), WithClock(clock))
	return h
}

func defaultTutor() config.TutorConfig {
	return config.Default().Tutor
}

func TestAskFreeTier(t *testing.T) {
	h := setup(t, setupOpts{tutor: defaultTutor()})
	ctx := context.Background()

	r, err := h.svc.Ask(ctx, Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierFree})
	if err != nil {
		t.Fatal(err)
	}
	if r.Teacher != "Prof_Euclid" || r.Subject != "Matematica" {
		t.Errorf("expected Prof_Euclid for Matematica, got %s/%s", r.Teacher, r.Subject)
	}
	if r.Provider != "deepseek" || r.Model != "deepseek-chat" || r.TokensUsed != 1000 {
		t.Errorf("unexpected routing: %+v", r)
	}
	if r.Method != models.MethodFallback || !r.CostAllowed || r.FromCache {
		t.Errorf("unexpected reply flags: %+v", r)
	}
	if r.QuestionsLeft != 4 {
		t.Errorf("expected 4 questions left, got %d", r.QuestionsLeft)
	}

	// Mathematics personas answer with the tuned settings.
	if h.deepseek.last.MaxTokens != 350 || h.deepseek.last.Temperature != 0.5 {
		t.Errorf("expected math settings, got max=%d temp=%v", h.deepseek.last.MaxTokens, h.deepseek.last.Temperature)
	}
	if !strings.Contains(h.deepseek.last.Messages[1].Content, "Te numesti Prof_Euclid") {
		t.Errorf("expected persona prompt, got %q", h.deepseek.last.Messages[1].Content)
	}

	day, err := h.costs.DailySummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if day.Cost.StringFixed(4) != "0.4200" || day.Requests != 1 || day.Tokens != 1000 {
		t.Errorf("expected 1000 output tokens at 0.42, got %+v", day)
	}
}

func TestCachedReplyIsFree(t *testing.T) {
	h := setup(t, setupOpts{tutor: defaultTutor(), cache: true})
	ctx := context.Background()
	q := Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierFree}

	if _, err := h.svc.Ask(ctx, q); err != nil {
		t.Fatal(err)
	}
	r, err := h.svc.Ask(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if !r.FromCache || r.TokensUsed != 0 || !r.CostAllowed {
		t.Errorf("expected free cached reply, got %+v", r)
	}
	if h.deepseek.calls != 1 {
		t.Errorf("expected one provider call, got %d", h.deepseek.calls)
	}
	day, _ := h.costs.DailySummary(ctx)
	if day.Requests != 1 {
		t.Errorf("cached reply must not be priced, got %d requests", day.Requests)
	}
	// Cached answers still count as a question.
	if r.QuestionsLeft != 3 {
		t.Errorf("expected 3 questions left, got %d", r.QuestionsLeft)
	}

	p := h.svc.persona(models.PersonaSpec{Name: "Prof_Euclid", Grade: 3})
	hist := p.History()
	if len(hist) != 2 || hist[0].FromCache || !hist[1].FromCache {
		t.Errorf("unexpected persona history: %+v", hist)
	}
}

func TestQuestionQuota(t *testing.T) {
	tc := defaultTutor()
	tc.FreeQuestionsPerDay = 2
	h := setup(t, setupOpts{tutor: tc})
	ctx := context.Background()
	q := Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierFree}

	for i := range 2 {
		if _, err := h.svc.Ask(ctx, q); err != nil {
			t.Fatalf("question %d: %v", i+1, err)
		}
	}
	if _, err := h.svc.Ask(ctx, q); !errors.Is(err, ErrQuestionQuota) {
		t.Fatalf("expected ErrQuestionQuota, got %v", err)
	}
	if h.deepseek.calls != 2 {
		t.Errorf("refused question must not reach the provider, got %d calls", h.deepseek.calls)
	}

	// Another user has a separate allowance.
	if _, err := h.svc.Ask(ctx, Question{Text: mathQuestion, Grade: 3, UserID: "elev2", Tier: models.TierFree}); err != nil {
		t.Errorf("expected elev2 to be allowed: %v", err)
	}

	h.now = h.now.Add(24 * time.Hour)
	r, err := h.svc.Ask(ctx, q)
	if err != nil {
		t.Fatalf("expected a fresh allowance the next day: %v", err)
	}
	if r.QuestionsLeft != 1 {
		t.Errorf("expected 1 question left, got %d", r.QuestionsLeft)
	}
}

func TestFreeUserCap(t *testing.T) {
	tc := defaultTutor()
	tc.MaxFreeUsers = 2
	h := setup(t, setupOpts{tutor: tc})
	ctx := context.Background()
	ask := func(user string, tier models.Tier) error {
		_, err := h.svc.Ask(ctx, Question{Text: mathQuestion, Grade: 3, UserID: user, Tier: tier})
		return err
	}

	for _, u := range []string{"elev1", "elev2", "elev1"} {
		if err := ask(u, models.TierFree); err != nil {
			t.Fatalf("%s: %v", u, err)
		}
	}
	if err := ask("elev3", models.TierFree); !errors.Is(err, ErrFreeUserCap) {
		t.Fatalf("expected ErrFreeUserCap for a third user, got %v", err)
	}
	if err := ask("elev3", models.TierPaid); err != nil {
		t.Errorf("paid users are not seated: %v", err)
	}
	users, err := h.svc.ActiveUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0] != "elev1" || users[1] != "elev2" {
		t.Errorf("expected [elev1 elev2], got %v", users)
	}

	h.now = h.now.Add(24 * time.Hour)
	if err := ask("elev3", models.TierFree); err != nil {
		t.Errorf("seats should free up the next day: %v", err)
	}
}

func TestQuotaReleasedOnFailure(t *testing.T) {
	h := setup(t, setupOpts{tutor: defaultTutor()})
	h.deepseek.errs = []error{
		&provider.Error{Provider: "deepseek", Kind: provider.ErrOther, Status: 500, Err: errors.New("boom")},
	}
	ctx := context.Background()

	_, err := h.svc.Ask(ctx, Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierFree})
	if !errors.Is(err, provider.ErrOther) {
		t.Fatalf("expected provider error, got %v", err)
	}
	used, err := h.svc.QuestionsUsed(ctx, "elev1")
	if err != nil {
		t.Fatal(err)
	}
	if used != 0 {
		t.Errorf("failed question must not count, got %d", used)
	}
}

func TestFreeTierDisabled(t *testing.T) {
	tc := defaultTutor()
	tc.FreeTierEnabled = false
	h := setup(t, setupOpts{tutor: tc})
	ctx := context.Background()

	_, err := h.svc.Ask(ctx, Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierFree})
	if !errors.Is(err, ErrFreeTierDisabled) {
		t.Fatalf("expected ErrFreeTierDisabled, got %v", err)
	}

	// Paid questions are unaffected.
	if _, err := h.svc.Ask(ctx, Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierPaid}); err != nil {
		t.Errorf("expected paid question to succeed: %v", err)
	}
}

func TestPaidTierUnlimited(t *testing.T) {
	tc := defaultTutor()
	tc.FreeQuestionsPerDay = 1
	h := setup(t, setupOpts{tutor: tc})
	ctx := context.Background()

	for i := range 3 {
		r, err := h.svc.Ask(ctx, Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierPaid})
		if err != nil {
			t.Fatalf("question %d: %v", i+1, err)
		}
		if r.Provider != "anthropic" || r.Model != "claude-4.5-sonnet" {
			t.Errorf("expected paid STEM route, got %s/%s", r.Provider, r.Model)
		}
		if r.QuestionsLeft != -1 {
			t.Errorf("expected unlimited allowance, got %d", r.QuestionsLeft)
		}
	}
}

func TestCostCeilingIsAdvisory(t *testing.T) {
	h := setup(t, setupOpts{tutor: defaultTutor(), costLimit: "0.10"})

	r, err := h.svc.Ask(context.Background(), Question{Text: mathQuestion, Grade: 3, UserID: "elev1", Tier: models.TierFree})
	if err != nil {
		t.Fatal(err)
	}
	if r.CostAllowed {
		t.Error("expected the answer to be flagged over the cost ceiling")
	}
	if r.Content == "" {
		t.Error("answer must still be delivered")
	}
}

func TestNoTeacherForGrade(t *testing.T) {
	h := setup(t, setupOpts{tutor: defaultTutor()})

	_, err := h.svc.Ask(context.Background(), Question{Text: mathQuestion, Grade: 9, UserID: "elev1", Tier: models.TierFree})
	if !errors.Is(err, director.ErrNoEligibleTeacher) {
		t.Fatalf("expected ErrNoEligibleTeacher, got %v", err)
	}
	used, _ := h.svc.QuestionsUsed(context.Background(), "elev1")
	if used != 0 {
		t.Errorf("unanswered question must not count, got %d", used)
	}
}

func TestPrompt(t *testing.T) {
	p := NewPersona(models.PersonaSpec{
		Name:      "Prof_Euclid",
		Subject:   "Matematica",
		Grade:     3,
		School:    "Scoala_Normala",
		Materials: strings.Repeat("a", 2000),
		Config:    &models.PersonaConfig{Personality: "serios", TeachingStyle: "interactiv"},
	}, nil, nil, nil)

	got := p.Prompt("Ce este o fractie?")
	for _, want := range []string{
		personalityLines["serios"],
		"Te numesti Prof_Euclid, profesor de Matematica la Scoala_Normala, special pentru clasa 3.",
		gradeLines[3],
		"Metoda ta de predare este interactiv",
		"Materiale didactice disponibile:",
		`Intrebarea elevului este: "Ce este o fractie?"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(got, strings.Repeat("a", 1597)) || strings.Contains(got, strings.Repeat("a", 1598)) {
		t.Error("expected materials truncated to 1597 bytes")
	}
}

func TestPromptDefaults(t *testing.T) {
	p := NewPersona(models.PersonaSpec{Name: "Prof_X", Subject: "Arte", Grade: 7}, nil, nil, nil)

	got := p.Prompt("Ce culori amestec?")
	if !strings.HasPrefix(got, defaultPersonalityLine) {
		t.Errorf("expected default personality line, got %q", got)
	}
	if !strings.Contains(got, defaultGradeLine) {
		t.Error("expected default grade line")
	}
	if strings.Contains(got, "Materiale didactice") {
		t.Error("materials section must be omitted when empty")
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	if got := truncate("ăăă", 3); got != "ă" {
		t.Errorf("expected one whole rune, got %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("expected unchanged string, got %q", got)
	}
}

func TestEssentialRoster(t *testing.T) {
	r := NewRoster(defaultTutor())

	grades := r.Grades()
	if len(grades) != 5 || grades[0] != 0 || grades[4] != 4 {
		t.Fatalf("expected grades 0-4, got %v", grades)
	}
	g0 := r.ForGrade(0)
	if len(g0) != 2 || g0[0].Name != "Prof_Ion_Creanga" || g0[1].Name != "Prof_Pitagora" {
		t.Fatalf("unexpected grade 0 roster: %+v", g0)
	}
	if g0[1].Config.Temperature != 0.5 || g0[1].Config.MaxTokens != 350 {
		t.Errorf("expected math tuning, got %+v", g0[1].Config)
	}
	if g0[0].Config.Temperature != 0.8 || g0[0].Config.MaxTokens != 450 {
		t.Errorf("expected Romanian tuning, got %+v", g0[0].Config)
	}
	if g0[0].School != "Scoala_Normala" {
		t.Errorf("expected default school, got %q", g0[0].School)
	}

	if _, ok := r.Lookup("Prof_Euclid", 3); !ok {
		t.Error("expected Prof_Euclid in grade 3")
	}
	if _, ok := r.Lookup("Prof_Euclid", 0); ok {
		t.Error("Prof_Euclid does not teach grade 0")
	}
}

func TestConfiguredRoster(t *testing.T) {
	tc := defaultTutor()
	tc.Personas = []models.PersonaSpec{
		{Name: "Prof_Enescu", Subject: "Muzica", Grade: 2, School: "Scoala_Muzica"},
		{Name: "Prof_Creanga", Subject: "Limba_romana", Grade: 2,
			Config: &models.PersonaConfig{Temperature: 0.9, MaxTokens: 100, Personality: "creativ"}},
	}
	r := NewRoster(tc)

	list := r.ForGrade(2)
	if len(list) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(list))
	}
	if list[0].School != "Scoala_Muzica" || list[0].Config.MaxTokens != tc.DefaultPersona.MaxTokens {
		t.Errorf("expected own school and default config, got %+v", list[0])
	}
	if list[1].School != tc.School || list[1].Config.Personality != "creativ" {
		t.Errorf("expected default school and own config, got %+v", list[1])
	}
	if len(r.ForGrade(3)) != 0 {
		t.Error("configured roster replaces the essential personas")
	}
}
