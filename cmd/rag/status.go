package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and configuration status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApplication(cmd.Context(), cfg, logg)
		if err != nil {
			return err
		}
		defer app.Close()

		st := app.svc.Status()
		docs, err := app.svc.Documents()
		if err != nil {
			return err
		}
		cmd.Printf("Data dir:     %s\n", cfg.Data.Dir)
		cmd.Printf("Index loaded: %t\n", st.IndexLoaded)
		cmd.Printf("Chunks:       %d\n", st.Chunks)
		cmd.Printf("Documents:    %d\n", len(docs))
		cmd.Printf("Embedder:     %s\n", st.Embedder)
		cmd.Printf("Synthesizer:  %s\n", cfg.Synthesizer.Type)
		cmd.Printf("Rerank:       %t\n", cfg.Rerank.Enabled)
		cmd.Printf("Cache:        %s\n", cfg.Cache.Type)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
