package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/models"
)

const defaultDeepSeekURL = "https://api.deepseek.com/v1"

// DeepSeek calls an OpenAI-compatible /chat/completions endpoint over plain HTTP.
type DeepSeek struct {
	name   string
	url    string
	apiKey string
	client *http.Client
	pace   pacer
}

// NewDeepSeek creates an adapter from provider configuration.
func NewDeepSeek(cfg config.ProviderConfig) *DeepSeek {
	u := cfg.URL
	if u == "" {
		u = defaultDeepSeekURL
	}
	return &DeepSeek{
		name:   cfg.Name,
		url:    u,
		apiKey: cfg.APIKey,
		client: &http.Client{},
		pace:   newPacer(cfg.RateLimit, cfg.Burst),
	}
}

// Name returns the configured provider name.
func (d *DeepSeek) Name() string { return d.name }

// Complete sends the conversation. A reply without usage counts as MaxTokens.
func (d *DeepSeek) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := d.pace.wait(ctx); err != nil {
		return Completion{}, classify(d.name, 0, err)
	}

	maxTokens := req.MaxTokens
	temp := req.Temperature
	body, err := json.Marshal(models.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return Completion{}, classify(d.name, 0, fmt.Errorf("encode request: %w", err))
	}

	res, err := doUpstreamRequest(ctx, d.client, d.url, "/chat/completions", map[string]string{
		"Authorization": "Bearer " + d.apiKey,
	}, body)
	if err != nil {
		return Completion{}, classify(d.name, 0, err)
	}
	if res.statusCode >= 300 {
		return Completion{}, classify(d.name, res.statusCode, statusError(res))
	}

	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(res.body, &resp); err != nil {
		return Completion{}, classify(d.name, res.statusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Completion{}, classify(d.name, res.statusCode, ErrEmptyResponse)
	}

	tokens := req.MaxTokens
	if resp.Usage != nil {
		tokens = NormalizeTokens(resp.Usage.TotalTokens, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, req.MaxTokens)
	}
	return Completion{Content: resp.Choices[0].Message.Content, TokensUsed: tokens}, nil
}
