package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pario-ai/tutorgate/pkg/metrics"
	"github.com/spf13/cobra"
)

func newMetricsCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve Prometheus metrics on /metrics",
		Long:  "Serve Prometheus metrics on /metrics. The daily token and cost gauges are\nrefreshed from the ledgers every 30 seconds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := listen
			if addr == "" {
				addr = a.cfg.Metrics.Listen
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tokens, err := a.tokens()
			if err != nil {
				return err
			}
			costs, err := a.costs()
			if err != nil {
				return err
			}
			refresh := func() {
				if snap, err := tokens.Snapshot(ctx); err == nil {
					metrics.SetDailyTokens(snap.DailyTokens)
				}
				if day, err := costs.DailySummary(ctx); err == nil {
					f, _ := day.Cost.Float64()
					metrics.SetDailyCost(f)
				}
			}
			refresh()
			go func() {
				// Ledgers are written by other processes; poll them for the gauges.
				t := time.NewTicker(30 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-t.C:
						refresh()
					}
				}
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.log.WithField("addr", addr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: metrics.listen)")
	return cmd
}
