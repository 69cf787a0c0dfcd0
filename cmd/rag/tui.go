package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ragmerge/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui [source]...",
	Short: "Ask questions interactively",
	Long: `Opens an interactive prompt. Sources given as arguments are indexed
first. Inside the prompt, /upload <file> adds a file to the session.`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd.Context(), cfg, logg)
	if err != nil {
		return err
	}
	defer app.Close()

	for _, src := range args {
		if _, err := app.svc.Index(cmd.Context(), src); err != nil {
			return fmt.Errorf("index %s: %w", src, err)
		}
	}
	st := app.svc.Status()
	summary := fmt.Sprintf("%d chunks indexed, embedder %s, synthesizer %s", st.Chunks, st.Embedder, cfg.Synthesizer.Type)
	if !st.IndexLoaded {
		summary = "No index loaded. Use /upload <file> or run rag index first."
	}

	_, err = tea.NewProgram(tui.New(app.svc, summary), tea.WithAltScreen()).Run()
	return err
}
