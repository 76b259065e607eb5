package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var generateUser string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one generation cycle and exit",
	Long:  "Generate this week's suggestions for every user still missing a batch, or for one user with --user.",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateUser, "user", "u", "", "Generate for a single user id")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	out := cmd.OutOrStdout()

	if generateUser != "" {
		res, err := a.engine.GenerateForUser(ctx, generateUser, now)
		if err != nil {
			return fmt.Errorf("generate %s: %w", generateUser, err)
		}
		switch {
		case res.Skipped:
			fmt.Fprintf(out, "%s: batch %s already exists\n", generateUser, res.BatchID)
		case res.Unavailable && len(res.Suggestions) == 0:
			fmt.Fprintf(out, "%s: calendar unavailable, deferred\n", generateUser)
		default:
			fmt.Fprintf(out, "%s: batch %s, %d suggestions\n", generateUser, res.BatchID, len(res.Suggestions))
			for _, s := range res.Suggestions {
				fmt.Fprintf(out, "  %s %s %v %s\n", s.Type, s.Medium, s.ContactIDs, s.Slot.Start.Format(time.RFC3339))
			}
		}
		return nil
	}

	rep, err := a.engine.RunCycle(ctx, now)
	if err != nil {
		return fmt.Errorf("generation cycle: %w", err)
	}
	fmt.Fprintf(out, "users %d: created %d, skipped %d, deferred %d, failed %d, suggestions %d\n",
		rep.Users, rep.Created, rep.Skipped, rep.Deferred, rep.Failed, rep.Suggestions)
	return nil
}
