package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var documentsJSON bool

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE:  runDocuments,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <filename>",
	Short: "Remove a document's chunks from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	documentsCmd.Flags().BoolVar(&documentsJSON, "json", false, "output documents as JSON")
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runDocuments(cmd *cobra.Command, _ []string) error {
	app, err := newApplication(cmd.Context(), cfg, logg)
	if err != nil {
		return err
	}
	defer app.Close()

	docs, err := app.svc.Documents()
	if err != nil {
		return err
	}
	if documentsJSON {
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal documents: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	if len(docs) == 0 {
		cmd.Println("No documents indexed.")
		return nil
	}
	for _, d := range docs {
		cmd.Printf("%-40s %5d chunks %8d chars  %s\n", d.Filename, d.Chunks, d.TotalChars, d.Timestamp)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd.Context(), cfg, logg)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.svc.DeleteDocument(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cmd.Printf("Removed %d chunks of %s.\n", n, args[0])
	return nil
}
