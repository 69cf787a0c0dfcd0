package main

import (
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the permanent corpus and index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApplication(cmd.Context(), cfg, logg)
		if err != nil {
			return err
		}
		defer app.Close()
		if err := app.svc.Clear(); err != nil {
			return err
		}
		cmd.Println("Index cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
