package handlers

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBackfillCmd creates the entity backfill command.
func NewBackfillCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Process pending entity extractions into the knowledge graph",
		Long: `Sweep stored information units whose entity processing has not
completed and resolve their entities and relations into the knowledge graph.
Every swept unit is marked processed, including units without entities, so
repeated runs converge.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			processed, err := a.service.BackfillEntities(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d pending units\n", processed)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum units to sweep in this run")
	return cmd
}
