// Package provider adapts the upstream LLM APIs to one request/response shape
// and classifies their failures so callers can decide what to retry.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/pario-ai/tutorgate/pkg/models"
	"golang.org/x/time/rate"
)

// Failure kinds. Every error returned by an Adapter is an *Error whose Kind is
// one of these.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrTimeout     = errors.New("timeout")
	ErrOther       = errors.New("provider error")
)

// ErrEmptyResponse is returned when the provider answered without content.
var ErrEmptyResponse = errors.New("empty response")

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     error
	Status   int // HTTP status, 0 when the request never completed
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Messages    []models.ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completion is the normalized provider reply.
type Completion struct {
	Content    string
	TokensUsed int
}

// Adapter sends one completion request to a provider.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// NormalizeTokens picks the best available usage figure: the reported total,
// else input plus output, else fallback.
func NormalizeTokens(total, input, output, fallback int) int {
	if total > 0 {
		return total
	}
	if input+output > 0 {
		return input + output
	}
	return fallback
}

// classify wraps err into an *Error. status is the HTTP status if one was received.
func classify(provider string, status int, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := ErrOther
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			kind = ErrTimeout
		}
	}
	return &Error{Provider: provider, Kind: kind, Status: status, Err: err}
}

// splitSystem returns the first system message content and the remaining messages.
func splitSystem(msgs []models.ChatMessage) (string, []models.ChatMessage) {
	var system string
	rest := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem && system == "" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// pacer waits on an optional limiter before each call.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(perSecond float64, burst int) pacer {
	if perSecond <= 0 {
		return pacer{}
	}
	if burst <= 0 {
		burst = 1
	}
	return pacer{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (p pacer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
