package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/models"
)

const (
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
)

// Anthropic calls the /v1/messages API.
type Anthropic struct {
	name   string
	url    string
	apiKey string
	client *http.Client
	pace   pacer
}

// NewAnthropic creates an adapter from provider configuration.
func NewAnthropic(cfg config.ProviderConfig) *Anthropic {
	u := cfg.URL
	if u == "" {
		u = defaultAnthropicURL
	}
	return &Anthropic{
		name:   cfg.Name,
		url:    u,
		apiKey: cfg.APIKey,
		client: &http.Client{},
		pace:   newPacer(cfg.RateLimit, cfg.Burst),
	}
}

// Name returns the configured provider name.
func (a *Anthropic) Name() string { return a.name }

// Complete sends the conversation with the system message lifted into the
// top-level system field.
func (a *Anthropic) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := a.pace.wait(ctx); err != nil {
		return Completion{}, classify(a.name, 0, err)
	}

	system, msgs := splitSystem(req.Messages)
	temp := req.Temperature
	body, err := json.Marshal(models.AnthropicRequest{
		Model:       req.Model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   req.MaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return Completion{}, classify(a.name, 0, fmt.Errorf("encode request: %w", err))
	}

	res, err := doUpstreamRequest(ctx, a.client, a.url, "/v1/messages", map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}, body)
	if err != nil {
		return Completion{}, classify(a.name, 0, err)
	}
	if res.statusCode >= 300 {
		return Completion{}, classify(a.name, res.statusCode, statusError(res))
	}

	var resp models.AnthropicResponse
	if err := json.Unmarshal(res.body, &resp); err != nil {
		return Completion{}, classify(a.name, res.statusCode, fmt.Errorf("decode response: %w", err))
	}

	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return Completion{}, classify(a.name, res.statusCode, ErrEmptyResponse)
	}

	tokens := req.MaxTokens
	if resp.Usage != nil {
		u := resp.Usage.ToUsage()
		tokens = NormalizeTokens(u.TotalTokens, u.PromptTokens, u.CompletionTokens, req.MaxTokens)
	}
	return Completion{Content: sb.String(), TokensUsed: tokens}, nil
}
