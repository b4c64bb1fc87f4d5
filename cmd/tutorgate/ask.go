package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/tutor"
	"github.com/spf13/cobra"
)

func newAskCmd(configPath *string) *cobra.Command {
	var (
		grade  int
		userID string
		paid   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and let the director pick the teacher",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			tier := models.TierFree
			if paid {
				tier = models.TierPaid
			}
			reply, err := svc.Ask(ctx, tutor.Question{
				Text:   strings.Join(args, " "),
				Grade:  grade,
				UserID: userID,
				Tier:   tier,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(reply)
			}
			fmt.Print(formatReply(reply))
			return nil
		},
	}

	cmd.Flags().IntVarP(&grade, "grade", "g", 0, "student grade (0-4)")
	cmd.Flags().StringVarP(&userID, "user", "u", "default", "student identifier")
	cmd.Flags().BoolVar(&paid, "paid", false, "use the paid tier")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reply as JSON")
	return cmd
}

func formatReply(r tutor.Reply) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s), chosen by %s\n\n", r.Teacher, r.Subject, r.Method)
	b.WriteString(strings.TrimSpace(r.Content))
	b.WriteString("\n\n")
	source := fmt.Sprintf("%s/%s, %d tokens", r.Provider, r.Model, r.TokensUsed)
	if r.FromCache {
		source = fmt.Sprintf("%s/%s, from cache", r.Provider, r.Model)
	}
	fmt.Fprintf(&b, "[%s]\n", source)
	if !r.CostAllowed {
		b.WriteString("warning: daily cost ceiling exceeded\n")
	}
	if r.QuestionsLeft >= 0 {
		fmt.Fprintf(&b, "Free questions left today: %d\n", r.QuestionsLeft)
	}
	return b.String()
}
