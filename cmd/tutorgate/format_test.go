package main

import (
	"strings"
	"testing"

	"github.com/pario-ai/tutorgate/pkg/cost"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/tutor"
	"github.com/shopspring/decimal"
)

func TestFormatCostTable(t *testing.T) {
	days := []cost.Day{
		{Date: "2026-03-09", Tokens: 1000, Cost: decimal.RequireFromString("0.42"), Requests: 2},
		{Date: "2026-03-10", Tokens: 500, Cost: decimal.RequireFromString("0.2"), Requests: 1},
	}
	out := formatCostTable(days)
	for _, want := range []string{"2026-03-09", "$0.4200", "$0.2000", "TOTAL:", "$0.6200"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatCostTableEmpty(t *testing.T) {
	if out := formatCostTable(nil); out != "No cost data found.\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestFormatReply(t *testing.T) {
	out := formatReply(tutor.Reply{
		Teacher:       "Prof_Euclid",
		Subject:       "Matematica",
		Content:       "5\n",
		Provider:      "deepseek",
		Model:         "deepseek-chat",
		TokensUsed:    42,
		Method:        models.MethodFallback,
		CostAllowed:   false,
		QuestionsLeft: 3,
	})
	for _, want := range []string{
		"Prof_Euclid (Matematica), chosen by fallback",
		"[deepseek/deepseek-chat, 42 tokens]",
		"warning: daily cost ceiling exceeded",
		"Free questions left today: 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	paid := formatReply(tutor.Reply{FromCache: true, CostAllowed: true, QuestionsLeft: -1, Provider: "openai", Model: "gpt-5"})
	if !strings.Contains(paid, "from cache") || strings.Contains(paid, "Free questions") {
		t.Errorf("unexpected paid output:\n%s", paid)
	}
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("expected default config, got backend %q", cfg.Storage.Backend)
	}
	if _, err := loadConfig("other.yaml"); err == nil {
		t.Error("expected error for an explicit missing config")
	}
}
