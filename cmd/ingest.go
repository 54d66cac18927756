package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ibimina/kbengine/internal/app"
	"github.com/ibimina/kbengine/internal/ingest"
)

var (
	ingestOrg        string
	ingestSourceType string
	ingestCreatedBy  string
	ingestTitle      string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest documents from files or stdin",
	Long: `Ingest reads each file, chunks and embeds its content, and stores the
result. Re-ingesting unchanged content updates the existing document in
place instead of creating a duplicate.

Pass "-" to read one document from stdin; use --title to name it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args, cmd.InOrStdin())
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOrg, "org", "", "organization scope (empty = global)")
	ingestCmd.Flags().StringVar(&ingestSourceType, "source-type", "file", "source type recorded on each document")
	ingestCmd.Flags().StringVar(&ingestCreatedBy, "created-by", "", "author recorded on each document")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "title for stdin input (default \"stdin\")")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, paths []string, stdin io.Reader) error {
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

	inputs, err := collectIngestInputs(paths, stdin)
	if err != nil {
		return err
	}

	outcomes, err := a.Pipeline.Ingest(ctx, inputs)
	if err != nil {
		return fmt.Errorf("ingesting documents: %w", err)
	}

	return printJSON(outcomes)
}

// collectIngestInputs reads each path into a DocumentInput. A "-" argument
// reads stdin instead; it may appear at most once.
func collectIngestInputs(paths []string, stdin io.Reader) ([]ingest.DocumentInput, error) {
	inputs := make([]ingest.DocumentInput, 0, len(paths))
	stdinSeen := false
	for _, path := range paths {
		if path == "-" {
			if stdinSeen {
				return nil, fmt.Errorf(`"-" may only be given once`)
			}
			stdinSeen = true

			content, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			title := ingestTitle
			if title == "" {
				title = "stdin"
			}
			inputs = append(inputs, ingest.DocumentInput{
				OrgID:      ingestOrg,
				Title:      title,
				SourceType: ingestSourceType,
				Content:    string(content),
				CreatedBy:  ingestCreatedBy,
			})
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		inputs = append(inputs, ingest.DocumentInput{
			OrgID:      ingestOrg,
			Title:      filepath.Base(path),
			SourceType: ingestSourceType,
			SourceURI:  path,
			Content:    string(content),
			CreatedBy:  ingestCreatedBy,
		})
	}
	return inputs, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
