package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pario-ai/tutorgate/pkg/budget"
	"github.com/pario-ai/tutorgate/pkg/cache"
	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/cost"
	"github.com/pario-ai/tutorgate/pkg/director"
	"github.com/pario-ai/tutorgate/pkg/director/decisionlog"
	"github.com/pario-ai/tutorgate/pkg/gateway"
	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/provider"
	"github.com/pario-ai/tutorgate/pkg/router"
	"github.com/pario-ai/tutorgate/pkg/store"
	"github.com/pario-ai/tutorgate/pkg/tutor"
	"github.com/sirupsen/logrus"
)

const defaultConfigPath = "tutorgate.yaml"

// app wires components from configuration and closes what it opened.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	closers []io.Closer
}

func newApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

// loadConfig reads path, falling back to the defaults when the default
// config file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}

func (a *app) store(namespace string) (store.Store, error) {
	s, err := store.Open(a.cfg.Storage, namespace)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", namespace, err)
	}
	a.closers = append(a.closers, s)
	return s, nil
}

func (a *app) cache() (*cache.Cache, error) {
	s, err := a.store("cache")
	if err != nil {
		return nil, err
	}
	return cache.New(s, a.cfg.Cache.TTL, cache.WithLogger(a.log)), nil
}

func (a *app) tokens() (*budget.Ledger, error) {
	s, err := a.store("tokens")
	if err != nil {
		return nil, err
	}
	return budget.New(s, a.cfg.Budget, budget.WithLogger(a.log)), nil
}

func (a *app) costs() (*cost.Ledger, error) {
	s, err := a.store("costs")
	if err != nil {
		return nil, err
	}
	return cost.New(s, a.cfg.Cost, cost.WithLogger(a.log))
}

func (a *app) decisions() (*decisionlog.Log, error) {
	path := a.cfg.Director.HistoryDBPath
	if path == "" {
		path = filepath.Join(a.cfg.Storage.Dir, "director_decisions.db")
	}
	l, err := decisionlog.New(path, a.cfg.Director.RetentionDays)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, l)
	return l, nil
}

func (a *app) gateway(reg *provider.Registry) (*gateway.Client, error) {
	tokens, err := a.tokens()
	if err != nil {
		return nil, err
	}
	opts := []gateway.Option{gateway.WithTokenLedger(tokens), gateway.WithLogger(a.log)}
	if a.cfg.Cache.Enabled {
		c, err := a.cache()
		if err != nil {
			return nil, err
		}
		opts = append(opts, gateway.WithCache(c))
	}
	return gateway.New(a.cfg.Gateway, router.New(a.cfg.Router, nil), reg, opts...), nil
}

func (a *app) director(ctx context.Context, reg *provider.Registry, roster director.Roster) (*director.Director, error) {
	opts := []director.Option{director.WithLogger(a.log)}
	if ad, ok := reg.Get(a.cfg.Director.Provider); ok {
		opts = append(opts, director.WithAdapter(ad))
	} else {
		a.log.WithField("provider", a.cfg.Director.Provider).Warn("director provider not configured, using keyword selection only")
	}
	if path := a.cfg.Director.ProfilePath; path != "" {
		p, err := director.LoadProfile(path)
		if err != nil {
			a.log.WithError(err).Warn("pedagogical profile not loaded")
		} else {
			opts = append(opts, director.WithProfile(p))
		}
	}
	log, err := a.decisions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, director.WithDecisionStore(log))
	d := director.New(a.cfg.Director, roster, opts...)
	if err := d.LoadHistory(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// service wires the full question path.
func (a *app) service(ctx context.Context) (*tutor.Service, error) {
	reg, err := provider.FromConfig(a.cfg.Providers)
	if err != nil {
		return nil, err
	}
	gw, err := a.gateway(reg)
	if err != nil {
		return nil, err
	}
	dir, err := a.director(ctx, reg, tutor.NewRoster(a.cfg.Tutor))
	if err != nil {
		return nil, err
	}

	opts := []tutor.Option{tutor.WithLogger(a.log)}
	if a.cfg.Cost.Enabled {
		costs, err := a.costs()
		if err != nil {
			return nil, err
		}
		opts = append(opts, tutor.WithCostLedger(costs))
	}
	quotas, err := a.store("questions")
	if err != nil {
		return nil, err
	}
	opts = append(opts, tutor.WithQuotaStore(quotas))
	return tutor.NewService(a.cfg.Tutor, dir, gw, opts...), nil
}
