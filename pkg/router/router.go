package router

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/models"
)

// ErrUnknownModel is returned when the routing table has no usable target.
var ErrUnknownModel = errors.New("no model configured for route")

// Route represents a resolved provider and model.
type Route struct {
	Provider string
	Model    string
}

// Source yields uniform floats in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Policy picks a provider and model from the subject and tier of a request.
type Policy struct {
	cfg  config.RouterConfig
	stem map[string]bool

	mu  sync.Mutex // guards src
	src Source
}

// New creates a Policy. A nil src is seeded from cfg.Seed, or from the clock
// when Seed is zero.
func New(cfg config.RouterConfig, src Source) *Policy {
	if src == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		src = rand.New(rand.NewSource(seed))
	}
	stem := make(map[string]bool, len(cfg.STEMSubjects))
	for _, s := range cfg.STEMSubjects {
		stem[s] = true
	}
	return &Policy{cfg: cfg, stem: stem, src: src}
}

// IsSTEM reports whether subject is routed to the STEM models.
func (p *Policy) IsSTEM(subject string) bool {
	return p.stem[subject]
}

// Route returns the target for a subject and tier. Paid requests get the
// flagship models; free non-STEM requests are split between the cheap models
// by weight.
func (p *Policy) Route(subject string, tier models.Tier) (Route, error) {
	stem := p.IsSTEM(subject)
	switch {
	case tier == models.TierPaid && stem:
		return target(p.cfg.PaidSTEM)
	case tier == models.TierPaid:
		return target(p.cfg.PaidOther)
	case stem:
		return target(p.cfg.FreeSTEM)
	default:
		return p.weighted(p.cfg.FreeOther)
	}
}

func (p *Policy) weighted(targets []config.RouteTarget) (Route, error) {
	if len(targets) == 0 {
		return Route{}, fmt.Errorf("%w: free tier", ErrUnknownModel)
	}
	var total float64
	for _, t := range targets {
		total += t.Weight
	}
	if total <= 0 {
		return target(targets[0])
	}

	p.mu.Lock()
	x := p.src.Float64() * total
	p.mu.Unlock()
	for _, t := range targets {
		if x < t.Weight {
			return target(t)
		}
		x -= t.Weight
	}
	return target(targets[len(targets)-1])
}

func target(t config.RouteTarget) (Route, error) {
	if t.Provider == "" || t.Model == "" {
		return Route{}, fmt.Errorf("%w: %+v", ErrUnknownModel, t)
	}
	return Route{Provider: t.Provider, Model: t.Model}, nil
}
