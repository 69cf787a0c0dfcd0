package main

import (
	"path/filepath"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"ragmerge/internal/config"
	"ragmerge/internal/logger"
)

var (
	cfgPath  string
	logLevel string

	cfg  *config.AppConfig
	logg *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rag",
	Short: "Retrieval-augmented answers over a local document index",
	Long: `rag indexes documents into a persistent vector index and answers
questions from it, optionally merged with files uploaded to a session.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML or TOML config file (default ./config.yaml or ~/.config/rag/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	// The TUI owns the terminal, so its logs go to a file.
	if cmd.Name() == "tui" && cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(cfg.Data.Dir, "rag.log")
	}
	logg = logger.New(cfg.Log)
	return nil
}
