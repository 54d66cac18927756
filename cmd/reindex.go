package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ibimina/kbengine/internal/app"
	"github.com/ibimina/kbengine/internal/ingest"
)

var (
	reindexOrg    string
	reindexAllOrg bool
	reindexIDs    []string
	reindexReason string
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed stored documents",
	Long: `Reindex re-embeds the chunks of stored documents in place, preserving
chunk boundaries. Use it after switching embedding models.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReindex(cmd.Context())
	},
}

func init() {
	reindexCmd.Flags().StringVar(&reindexOrg, "org", "", "restrict to one organization scope")
	reindexCmd.Flags().BoolVar(&reindexAllOrg, "all-orgs", false, "reindex across every organization scope")
	reindexCmd.Flags().StringSliceVar(&reindexIDs, "id", nil, "restrict to specific document IDs")
	reindexCmd.Flags().StringVar(&reindexReason, "reason", "", "reason recorded in the reindex audit log")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	opts := ingest.ReindexOptions{
		DocumentIDs: reindexIDs,
		Reason:      reindexReason,
		TriggeredBy: "cli",
	}
	// --all-orgs leaves OrgID nil; otherwise --org "" targets global documents.
	if !reindexAllOrg {
		opts.OrgID = &reindexOrg
	}

	summary, err := a.Pipeline.Reindex(ctx, opts)
	if err != nil {
		return fmt.Errorf("reindexing documents: %w", err)
	}

	return printJSON(summary)
}
