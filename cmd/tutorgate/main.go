package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var (
		configPath string
		envFile    string
	)

	root := &cobra.Command{
		Use:           "tutorgate",
		Short:         "tutorgate: routed, budgeted LLM answers for primary school tutors",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine; keys may come from the environment.
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env") {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "tutorgate.yaml", "path to config file")
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "path to .env file")

	root.AddCommand(
		newAskCmd(&configPath),
		newBudgetCmd(&configPath),
		newCostCmd(&configPath),
		newCacheCmd(&configPath),
		newDirectorCmd(&configPath),
		newMetricsCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
