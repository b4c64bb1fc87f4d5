// Package tutor turns the selected teacher persona into a prompt, asks the
// gateway for the answer and keeps per-user question quotas for the free tier.
package tutor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pario-ai/tutorgate/pkg/cost"
	"github.com/pario-ai/tutorgate/pkg/gateway"
	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/sirupsen/logrus"
)

const maxMaterials = 1597

var personalityLines = map[string]string{
	"prietenos": "Esti profesorul preferat al copiilor, mereu vesel, cald si empatic.",
	"serios":    "Esti un profesor respectat, riguros si atent la detalii.",
	"energic":   "Esti un profesor plin de viata, entuziast, care inspira elevii sa-si depaseasca limitele.",
	"calm":      "Esti profesorul care ofera siguranta emotionala, liniste si rabdare elevilor.",
	"creativ":   "Esti profesorul care aduce mereu idei noi, captivante si inovatoare, stimuland imaginatia elevilor.",
}

var gradeLines = map[int]string{
	0: "Vei folosi un limbaj simplu, povesti captivante si exemple interactive pentru copii de 5-6 ani.",
	1: "Vei explica intr-un mod clar si direct, folosind exemple din viata de zi cu zi pentru copiii de 6-7 ani.",
	2: "Raspunsurile tale vor fi interactive, incurajand curiozitatea copiilor de 7-8 ani, cu explicatii accesibile.",
	3: "Te vei adresa elevilor de 8-9 ani incurajand gandirea critica si argumentarea logica.",
	4: "Vei introduce concepte avansate pentru copiii de 9-10 ani, folosind limbaj matur si provocator.",
}

const (
	defaultPersonalityLine = "Esti un profesor remarcabil care inspira elevii."
	defaultGradeLine       = "Adapteaza-ti raspunsul pentru varsta elevilor, stimuland imaginatia si gandirea."
)

// Answerer is the part of the gateway a persona needs.
type Answerer interface {
	Answer(ctx context.Context, req gateway.Request) (models.Answer, error)
}

// Exchange is one question and answer kept in a persona's history.
type Exchange struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	TokensUsed int       `json:"tokens_used"`
	FromCache  bool      `json:"from_cache"`
	Timestamp  time.Time `json:"timestamp"`
}

// Result is a persona's answer plus the cost ledger verdict.
type Result struct {
	models.Answer
	// CostAllowed is false when this answer pushed today's cost above the ceiling.
	CostAllowed bool
}

// Persona is a teacher that answers questions in its own voice.
type Persona struct {
	Name      string
	Subject   string
	Grade     int
	School    string
	Materials string
	Config    models.PersonaConfig

	gw    Answerer
	costs *cost.Ledger
	now   func() time.Time
	log   *logrus.Logger

	mu      sync.Mutex
	history []Exchange
}

// NewPersona builds a persona from a roster entry. A nil costs ledger
// disables cost accounting.
func NewPersona(spec models.PersonaSpec, gw Answerer, costs *cost.Ledger, log *logrus.Logger) *Persona {
	p := &Persona{
		Name:      spec.Name,
		Subject:   spec.Subject,
		Grade:     spec.Grade,
		School:    spec.School,
		Materials: spec.Materials,
		gw:        gw,
		costs:     costs,
		now:       time.Now,
		log:       logger.OrDiscard(log),
	}
	if spec.Config != nil {
		p.Config = *spec.Config
	}
	return p
}

// Prompt renders the persona prompt for a question.
func (p *Persona) Prompt(question string) string {
	personality, ok := personalityLines[p.Config.Personality]
	if !ok {
		personality = defaultPersonalityLine
	}
	grade, ok := gradeLines[p.Grade]
	if !ok {
		grade = defaultGradeLine
	}
	style := p.Config.TeachingStyle
	if style == "" {
		style = "interactiv"
	}

	var b strings.Builder
	b.WriteString(personality)
	fmt.Fprintf(&b, "\nTe numesti %s, profesor de %s la %s, special pentru clasa %d.\n\n",
		p.Name, p.Subject, p.School, p.Grade)
	b.WriteString(grade)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Metoda ta de predare este %s, bazata pe implicare activa si empatie profunda.\n", style)
	if len(p.Config.Techniques) > 0 {
		fmt.Fprintf(&b, "Tehnici preferate: %s.\n", strings.Join(p.Config.Techniques, ", "))
	}
	if m := strings.TrimSpace(p.Materials); m != "" {
		b.WriteString("\nMateriale didactice disponibile:\n")
		b.WriteString(truncate(m, maxMaterials))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nIntrebarea elevului este: %q\n\n", question)
	b.WriteString("Raspunde intr-un mod captivant, clar si plin de empatie, oferind exemple practice si incurajand curiozitatea.")
	return b.String()
}

// Answer asks the gateway with the persona's settings. Answers that reached a
// provider are priced in the cost ledger; cached answers cost nothing.
func (p *Persona) Answer(ctx context.Context, question, userID string, tier models.Tier) (Result, error) {
	ans, err := p.gw.Answer(ctx, gateway.Request{
		Prompt:      p.Prompt(question),
		Subject:     p.Subject,
		UserID:      userID,
		Tier:        tier,
		MaxTokens:   p.Config.MaxTokens,
		Temperature: p.Config.Temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", p.Name, err)
	}

	res := Result{Answer: ans, CostAllowed: true}
	if !ans.FromCache && p.costs != nil {
		// Providers report a single total, so it is priced at the output rate.
		allowed, err := p.costs.Log(ctx, cost.OutputOnly(int64(ans.TokensUsed)), ans.Model)
		if err != nil {
			p.log.WithError(err).WithField("teacher", p.Name).Warn("failed to log cost")
		} else {
			res.CostAllowed = allowed
		}
	}

	p.mu.Lock()
	p.history = append(p.history, Exchange{
		Question:   question,
		Answer:     ans.Content,
		UserID:     userID,
		Provider:   ans.Provider,
		Model:      ans.Model,
		TokensUsed: ans.TokensUsed,
		FromCache:  ans.FromCache,
		Timestamp:  p.now(),
	})
	p.mu.Unlock()
	return res, nil
}

// History returns a copy of the persona's conversation history.
func (p *Persona) History() []Exchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Exchange, len(p.history))
	copy(out, p.history)
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
