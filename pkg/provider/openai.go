package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAI calls the chat completions API through go-openai.
type OpenAI struct {
	name   string
	client *openai.Client
	pace   pacer
}

// NewOpenAI creates an adapter from provider configuration.
func NewOpenAI(cfg config.ProviderConfig) *OpenAI {
	c := openai.DefaultConfig(cfg.APIKey)
	c.BaseURL = defaultOpenAIURL
	if cfg.URL != "" {
		c.BaseURL = cfg.URL
	}
	c.HTTPClient = &http.Client{}
	return &OpenAI{
		name:   cfg.Name,
		client: openai.NewClientWithConfig(c),
		pace:   newPacer(cfg.RateLimit, cfg.Burst),
	}
}

// Name returns the configured provider name.
func (o *OpenAI) Name() string { return o.name }

// Complete sends the conversation.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := o.pace.wait(ctx); err != nil {
		return Completion{}, classify(o.name, 0, err)
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	cr := openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
	}
	// The field is omitempty, so a temperature of 0 means the provider default.
	if !reasoningModel(req.Model) {
		cr.Temperature = float32(req.Temperature)
	}

	resp, err := o.client.CreateChatCompletion(ctx, cr)
	if err != nil {
		return Completion{}, classify(o.name, openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Completion{}, classify(o.name, http.StatusOK, ErrEmptyResponse)
	}

	tokens := NormalizeTokens(resp.Usage.TotalTokens, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, req.MaxTokens)
	return Completion{Content: resp.Choices[0].Message.Content, TokensUsed: tokens}, nil
}

// reasoningModel reports whether the model only accepts the default sampling
// temperature. go-openai rejects any other value before sending the request.
func reasoningModel(model string) bool {
	for _, p := range []string{"gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
