package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	askFiles []string
	askJSON  bool
	askShow  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the index",
	Long: `Retrieves passages for the question and synthesizes an answer.
Files given with --file are indexed into a temporary session whose
passages are merged after the permanent ones.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "files to search alongside the index")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	askCmd.Flags().BoolVar(&askShow, "passages", false, "print the retrieved passages")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd.Context(), cfg, logg)
	if err != nil {
		return err
	}
	defer app.Close()

	var sessionID string
	if len(askFiles) > 0 {
		if sessionID, _, err = app.svc.UploadAll(cmd.Context(), "", askFiles); err != nil {
			return fmt.Errorf("load files: %w", err)
		}
	}

	answer, err := app.svc.Ask(cmd.Context(), strings.Join(args, " "), sessionID)
	if err != nil {
		return err
	}
	if askJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Println(answer.Answer)
	if askShow {
		for i, p := range answer.Passages {
			cmd.Printf("\n[%d] %s\n", i+1, p)
		}
	}
	return nil
}
