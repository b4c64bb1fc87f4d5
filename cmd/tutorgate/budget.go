package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show free-tier token usage against the limits",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show today's token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			tokens, err := a.tokens()
			if err != nil {
				return err
			}
			snap, err := tokens.Snapshot(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Daily tokens:   %d/%d (%.1f%%)\n", snap.DailyTokens, snap.DailyLimit, snap.UsageRatio*100)
			fmt.Printf("Distinct users: %d\n", snap.DistinctUsers)
			fmt.Printf("Total requests: %d\n", snap.TotalRequests)
			if snap.UsageRatio >= a.cfg.Budget.AlertThreshold {
				fmt.Println("Warning: close to the daily limit.")
			}
			return nil
		},
	}

	userCmd := &cobra.Command{
		Use:   "user [user-id...]",
		Short: "Show per-user token usage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			tokens, err := a.tokens()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tUSED\tLIMIT\tREMAINING")
			for _, id := range args {
				u, err := tokens.UserUsage(context.Background(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", u.UserID, u.Used, u.Limit, u.Remaining)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(statusCmd, userCmd)
	return cmd
}
