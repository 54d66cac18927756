package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ibimina/kbengine/internal/app"
)

var (
	searchOrg     string
	searchAllOrgs bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Resolve a query against the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchOrg, "org", "", "restrict to one organization scope")
	searchCmd.Flags().BoolVar(&searchAllOrgs, "all-orgs", false, "search across every organization scope")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(ctx context.Context, query string) error {
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

	var orgID *string
	if !searchAllOrgs {
		orgID = &searchOrg
	}

	result, err := a.Resolver.Search(ctx, query, orgID)
	if err != nil {
		return fmt.Errorf("resolving query: %w", err)
	}

	return printJSON(result)
}
