package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ragmerge/internal/indexing"
)

var (
	indexRebuild bool
	indexJSON    bool
)

var indexCmd = &cobra.Command{
	Use:   "index <source>...",
	Short: "Index files, directories or raw text",
	Long: `Extracts, chunks and embeds each source into the permanent index.
A source is a file, a directory (walked recursively) or a literal string.
Already indexed chunks are skipped, so re-running is safe.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "clear the existing index first")
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd.Context(), cfg, logg)
	if err != nil {
		return err
	}
	defer app.Close()

	if indexRebuild {
		if err := app.svc.Clear(); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	results := make([]indexing.Result, 0, len(args))
	for _, src := range args {
		res, err := app.svc.Index(cmd.Context(), src)
		if err != nil {
			return fmt.Errorf("index %s: %w", src, err)
		}
		results = append(results, res)
	}

	if indexJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	for _, r := range results {
		if r.NoOp {
			cmd.Printf("%s: nothing new (%d chunks indexed)\n", r.Source, r.Total)
			continue
		}
		cmd.Printf("%s: %d rows, %d new chunks, %d total (%s)\n", r.Source, r.Rows, r.Chunks, r.Total, r.Duration.Round(time.Millisecond))
		if q := r.Quality; q.RemovedDocs > 0 {
			cmd.Printf("  removed %d rows: %d empty, %d short, %d duplicate\n",
				q.RemovedDocs, q.EmptyDocs.Count, q.ShortTexts.Count, q.DuplicateTexts.Count)
		}
	}
	return nil
}
