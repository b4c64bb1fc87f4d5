// Package gateway answers prompts through the routed provider, consulting the
// response cache first and, for free-tier traffic, the token ledger.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/tutorgate/pkg/budget"
	"github.com/pario-ai/tutorgate/pkg/cache"
	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/metrics"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/provider"
	"github.com/pario-ai/tutorgate/pkg/router"
	"github.com/sirupsen/logrus"
)

// ErrUnknownProvider is returned when a route names a provider with no adapter.
var ErrUnknownProvider = errors.New("unknown provider")

// DefaultSystemPrompt frames every answer unless the request overrides it.
const DefaultSystemPrompt = "Esti un profesor prietenos si empatic care ajuta elevii sa invete."

// Request is one prompt to answer.
type Request struct {
	Prompt      string
	Subject     string
	UserID      string
	Tier        models.Tier
	MaxTokens   int
	Temperature float64
	System      string // empty uses the configured system prompt
}

// Client dispatches requests.
type Client struct {
	policy   *router.Policy
	adapters *provider.Registry
	cache    *cache.Cache
	tokens   *budget.Ledger
	retry    provider.Retry
	system   string
	log      *logrus.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache enables the response cache.
func WithCache(c *cache.Cache) Option {
	return func(g *Client) { g.cache = c }
}

// WithTokenLedger gates free-tier requests on the token ledger.
func WithTokenLedger(l *budget.Ledger) Option {
	return func(g *Client) { g.tokens = l }
}

// WithRetry overrides the retry policy.
func WithRetry(r provider.Retry) Option {
	return func(g *Client) { g.retry = r }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(g *Client) { g.log = l }
}

// New creates a Client.
func New(cfg config.GatewayConfig, policy *router.Policy, adapters *provider.Registry, opts ...Option) *Client {
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	g := &Client{
		policy:   policy,
		adapters: adapters,
		retry: provider.Retry{
			Attempts:     cfg.Attempts,
			BaseTimeout:  timeout,
			FixedTimeout: true,
			BaseDelay:    cfg.BackoffBase,
		},
		system: system,
	}
	for _, o := range opts {
		o(g)
	}
	g.log = logger.OrDiscard(g.log)
	if g.retry.Log == nil {
		g.retry.Log = g.log
	}
	return g
}

// Answer resolves the route, serves from cache when possible, and otherwise
// calls the provider. Cache hits cost zero tokens and never touch the ledger.
func (g *Client) Answer(ctx context.Context, req Request) (models.Answer, error) {
	route, err := g.policy.Route(req.Subject, req.Tier)
	if err != nil {
		return models.Answer{}, err
	}
	log := g.log.WithFields(logrus.Fields{
		"provider": route.Provider,
		"model":    route.Model,
		"tier":     req.Tier,
		"user":     req.UserID,
	})

	if g.cache != nil {
		if content, ok := g.cache.Lookup(ctx, req.Prompt, route.Model, req.Temperature); ok {
			log.Debug("answer served from cache")
			return models.Answer{
				Content:   content,
				Provider:  route.Provider,
				Model:     route.Model,
				FromCache: true,
			}, nil
		}
	}

	adapter, ok := g.adapters.Get(route.Provider)
	if !ok {
		return models.Answer{}, fmt.Errorf("%w: %s", ErrUnknownProvider, route.Provider)
	}

	// The estimate is held until the call settles so concurrent free-tier
	// requests cannot spend the same headroom.
	var held *budget.Reservation
	if req.Tier != models.TierPaid && g.tokens != nil {
		estimate := budget.EstimateTokens(req.Prompt, req.MaxTokens)
		held, err = g.tokens.Reserve(ctx, req.UserID, estimate)
		if err != nil {
			log.WithError(err).WithField("estimate", estimate).Info("request refused by token budget")
			return models.Answer{}, err
		}
	}

	system := req.System
	if system == "" {
		system = g.system
	}
	preq := provider.Request{
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: req.Prompt},
		},
		Model:       route.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var completion provider.Completion
	start := time.Now()
	err = g.retry.Do(ctx, func(actx context.Context) error {
		c, err := adapter.Complete(actx, preq)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	if err != nil {
		if held != nil {
			held.Cancel()
		}
		metrics.RecordProviderCall(route.Provider, route.Model, "error", time.Since(start), 0)
		log.WithError(err).Error("provider call failed")
		return models.Answer{}, err
	}
	metrics.RecordProviderCall(route.Provider, route.Model, "ok", time.Since(start), completion.TokensUsed)

	if held != nil {
		if err := held.Commit(ctx, completion.TokensUsed); err != nil {
			log.WithError(err).Warn("failed to record token usage")
		}
	}
	if g.cache != nil {
		if err := g.cache.Store(ctx, req.Prompt, route.Model, req.Temperature, completion.Content); err != nil {
			log.WithError(err).Warn("failed to store answer in cache")
		}
	}

	log.WithField("tokens", completion.TokensUsed).Info("answer generated")
	return models.Answer{
		Content:    completion.Content,
		TokensUsed: completion.TokensUsed,
		Provider:   route.Provider,
		Model:      route.Model,
	}, nil
}
