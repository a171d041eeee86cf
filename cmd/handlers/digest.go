package handlers

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDigestCmd creates the digest command.
func NewDigestCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Curate the unsent units and send the digest email now",
		Long: `Curate everything extracted since the last digest into top picks and
quick reads, and deliver the result to the configured recipients.

With --dry-run the digest is built and printed but nothing is sent and
nothing is marked as sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			digest, err := a.service.SendDailyDigest(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Printf("Dry run: %d top picks, %d quick reads\n\n", len(digest.TopPicks), len(digest.QuickReads))
				fmt.Println(digest.DailySummary)
				for i, u := range digest.TopPicks {
					fmt.Printf("%d. [%.1f] %s (%d sources)\n", i+1, u.ValueScore(), u.Title, u.MergedCount)
				}
				return nil
			}
			fmt.Printf("Digest sent: %d top picks, %d quick reads\n", len(digest.TopPicks), len(digest.QuickReads))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build the digest without sending it")
	return cmd
}
