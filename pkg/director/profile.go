package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pario-ai/tutorgate/pkg/gateway"
	"github.com/pario-ai/tutorgate/pkg/models"
)

const (
	maxProfileItems    = 3
	maxProfileSource   = 4096
	maxProfileMaterial = 2584
)

// Profile is the director's pedagogical stance, distilled from its reading.
type Profile struct {
	Values      []string `json:"values"`
	Tone        string   `json:"tone"`
	Rules       []string `json:"rules"`
	GeneratedAt string   `json:"generated_at,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	// Material is an excerpt of the reading, quoted in the selection prompt.
	Material string `json:"material,omitempty"`
}

// Empty reports whether the profile carries no guidance.
func (p Profile) Empty() bool {
	return len(p.Values) == 0 && p.Tone == "" && len(p.Rules) == 0
}

// LoadProfile reads a JSON profile from path.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	p.clamp()
	return p, nil
}

// Save writes the profile as indented JSON.
func (p Profile) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func (p *Profile) clamp() {
	if len(p.Values) > maxProfileItems {
		p.Values = p.Values[:maxProfileItems]
	}
	if len(p.Rules) > maxProfileItems {
		p.Rules = p.Rules[:maxProfileItems]
	}
	p.Material = excerpt(strings.TrimSpace(p.Material), maxProfileMaterial)
}

// Answerer is the part of the gateway used to summarize material.
type Answerer interface {
	Answer(ctx context.Context, req gateway.Request) (models.Answer, error)
}

// GenerateProfile asks the model to summarize pedagogical material into a
// profile with at most three values and three rules.
func GenerateProfile(ctx context.Context, g Answerer, material string) (Profile, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return Profile{}, errors.New("no pedagogical material")
	}
	prompt := "Rezuma urmatorul continut pedagogic si extrage un profil pentru directorul scolii.\n" +
		"Returneaza JSON valid cu cheile: values (lista de maxim 3 valori), " +
		"tone (string), rules (lista de maxim 3 reguli).\n" +
		"Text:\n" + excerpt(material, maxProfileSource)

	ans, err := g.Answer(ctx, gateway.Request{
		Prompt:      prompt,
		Subject:     "Pedagogie",
		UserID:      "director",
		Tier:        models.TierPaid,
		MaxTokens:   384,
		Temperature: 0.2,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("generate profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(jsonObject(ans.Content)), &p); err != nil {
		return Profile{}, fmt.Errorf("profile reply is not valid JSON: %w", err)
	}
	if p.Values == nil || p.Rules == nil {
		return Profile{}, errors.New("profile reply is missing values or rules")
	}
	p.Material = excerpt(material, maxProfileMaterial)
	p.clamp()
	return p, nil
}

// promptLines renders the profile for the selection prompt.
func (p Profile) promptLines() []string {
	if p.Empty() {
		return nil
	}
	values := "nespecificate"
	if len(p.Values) > 0 {
		values = strings.Join(p.Values, ", ")
	}
	lines := []string{"Valorile directorului: " + values}
	if p.Tone != "" {
		lines = append(lines, "Ton recomandat: "+p.Tone)
	}
	if len(p.Rules) > 0 {
		lines = append(lines, "Reguli pentru profesori:")
		for _, r := range p.Rules {
			lines = append(lines, "- "+r)
		}
	}
	return lines
}

// jsonObject returns the outermost {...} span of s, or s when there is none.
// Models often wrap JSON in prose or code fences.
func jsonObject(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// excerpt truncates s to at most n bytes without splitting a rune.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
