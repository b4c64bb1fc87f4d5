package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pario-ai/tutorgate/pkg/cost"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newCostCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show and maintain the daily cost history",
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Show today's cost against the ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.costs()
			if err != nil {
				return err
			}
			day, err := l.DailySummary(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Date:     %s\n", day.Date)
			fmt.Printf("Cost:     $%s / $%s\n", day.Cost.StringFixed(4), l.Limit().StringFixed(2))
			fmt.Printf("Tokens:   %d\n", day.Tokens)
			fmt.Printf("Requests: %d\n", day.Requests)
			if err := l.Check(context.Background()); err != nil {
				fmt.Printf("Warning: %v\n", err)
			}
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the retained daily costs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.costs()
			if err != nil {
				return err
			}
			days, err := l.History(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatCostTable(days))
			return nil
		},
	}

	maintainCmd := &cobra.Command{
		Use:   "maintain",
		Short: "Drop days older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.costs()
			if err != nil {
				return err
			}
			if err := l.RunMaintenance(context.Background()); err != nil {
				return err
			}
			fmt.Printf("Kept the last %d days of cost history.\n", a.cfg.Cost.RetentionDays)
			return nil
		},
	}

	var scenario cost.Scenario
	estimateCmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the daily cost of a free-tier traffic scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			pricing, err := cost.ParsePricing(cfg.Cost.Pricing)
			if err != nil {
				return err
			}
			est := cost.EstimateDailyCost(pricing, cfg.Cost.Weights, scenario)
			fmt.Printf("%d users x %d questions x %d tokens, %.0f%% cached input\n",
				scenario.Users, scenario.QuestionsPerUser, scenario.AvgTokens, scenario.CacheHitRate*100)
			fmt.Printf("Estimated daily cost: $%s\n", est.StringFixed(4))
			return nil
		},
	}
	estimateCmd.Flags().IntVar(&scenario.Users, "users", 10, "active users per day")
	estimateCmd.Flags().IntVar(&scenario.QuestionsPerUser, "questions", 5, "questions per user")
	estimateCmd.Flags().Int64Var(&scenario.AvgTokens, "tokens", 600, "average tokens per question")
	estimateCmd.Flags().Float64Var(&scenario.CacheHitRate, "cache-hit-rate", 0, "share of input tokens served from the provider cache")

	cmd.AddCommand(summaryCmd, historyCmd, maintainCmd, estimateCmd)
	return cmd
}

func formatCostTable(days []cost.Day) string {
	if len(days) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %10s %12s %12s\n", "DATE", "REQUESTS", "TOKENS", "COST")
	b.WriteString(strings.Repeat("-", 49) + "\n")

	total := decimal.Zero
	for _, d := range days {
		fmt.Fprintf(&b, "%-12s %10d %12d %12s\n", d.Date, d.Requests, d.Tokens, "$"+d.Cost.StringFixed(4))
		total = total.Add(d.Cost)
	}
	b.WriteString(strings.Repeat("-", 49) + "\n")
	fmt.Fprintf(&b, "%36s %12s\n", "TOTAL:", "$"+total.StringFixed(4))
	return b.String()
}
