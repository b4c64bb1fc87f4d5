package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pario-ai/tutorgate/pkg/director"
	"github.com/pario-ai/tutorgate/pkg/provider"
	"github.com/spf13/cobra"
)

func newDirectorCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "director",
		Short: "Inspect teacher selection",
	}

	var byDay bool
	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show selection quality metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			log, err := a.decisions()
			if err != nil {
				return err
			}
			ctx := context.Background()
			history, err := log.Recent(ctx, 0)
			if err != nil {
				return err
			}

			m := director.Aggregate(history)
			fmt.Printf("Decisions:          %d (ai %d, fallback %d)\n", m.Total, m.AI, m.Fallback)
			fmt.Printf("AI success rate:    %.2f%%\n", m.AISuccessRate)
			fmt.Printf("Avg AI confidence:  %.2f\n", m.AvgAIConfidence)
			fmt.Printf("Avg fallback score: %.2f\n", m.AvgFallbackScore)
			if len(m.Popular) > 0 {
				names := make([]string, len(m.Popular))
				for i, p := range m.Popular {
					names[i] = fmt.Sprintf("%s (%d)", p.Name, p.Count)
				}
				fmt.Printf("Popular:            %s\n", strings.Join(names, ", "))
			}

			if !byDay {
				return nil
			}
			stats, err := log.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tTEACHER\tMETHOD\tCOUNT")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Day, s.Teacher, s.Method, s.Count)
			}
			return w.Flush()
		},
	}
	metricsCmd.Flags().BoolVar(&byDay, "by-day", false, "also list selections per teacher and day")

	var output string
	profileCmd := &cobra.Command{
		Use:   "profile [material-file...]",
		Short: "Summarize pedagogical material into the director profile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var material strings.Builder
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				material.Write(data)
				material.WriteString("\n")
			}

			reg, err := provider.FromConfig(a.cfg.Providers)
			if err != nil {
				return err
			}
			gw, err := a.gateway(reg)
			if err != nil {
				return err
			}

			p, err := director.GenerateProfile(context.Background(), gw, material.String())
			if err != nil {
				return err
			}
			p.GeneratedAt = time.Now().Format(time.RFC3339)
			p.Sources = args

			path := output
			if path == "" {
				path = a.cfg.Director.ProfilePath
			}
			if path == "" {
				path = "director_profile.json"
			}
			if err := p.Save(path); err != nil {
				return err
			}
			fmt.Printf("Profile saved to %s (%d values, %d rules)\n", path, len(p.Values), len(p.Rules))
			return nil
		},
	}
	profileCmd.Flags().StringVarP(&output, "output", "o", "", "profile path (default: director.profile_path)")

	cmd.AddCommand(metricsCmd, profileCmd)
	return cmd
}
