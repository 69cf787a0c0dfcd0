package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ragmerge/internal/watcher"
)

var watchInitial bool

var watchCmd = &cobra.Command{
	Use:   "watch [dir]...",
	Short: "Keep the index in sync with directories",
	Long: `Watches directories (or watch.dirs from the config) and re-indexes
files as they are created, modified or removed. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "index the directories once before watching")
	rootCmd.AddCommand(watchCmd)
}

// requireIncremental switches indexing to incremental mode, since a
// rebuild per changed file would drop every other document.
func requireIncremental() {
	if !cfg.Indexing.Incremental {
		logg.Warn().Msg("watching requires incremental indexing, enabling it")
		cfg.Indexing.Incremental = true
	}
}

func (a *application) watcher(dirs []string) (*watcher.Watcher, error) {
	return watcher.New(watcher.Config{
		Dirs:     dirs,
		Debounce: time.Duration(a.cfg.Watch.DebounceMillis) * time.Millisecond,
	}, a.svc.Indexer, a.extractor.Supported, a.log)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dirs := cfg.Watch.Dirs
	if len(args) > 0 {
		dirs = args
	}
	if len(dirs) == 0 {
		return cmd.Usage()
	}
	requireIncremental()
	app, err := newApplication(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer app.Close()

	if watchInitial {
		for _, d := range dirs {
			res, err := app.svc.Index(ctx, d)
			if err != nil {
				logg.Error().Err(err).Str("dir", d).Msg("initial indexing failed")
				continue
			}
			logg.Info().Str("dir", d).Int("chunks", res.Chunks).Int("total", res.Total).Msg("initial indexing done")
		}
	}

	sched, err := app.schedule()
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	w, err := app.watcher(dirs)
	if err != nil {
		return err
	}
	logg.Info().Strs("dirs", dirs).Msg("watching for changes")
	return w.Run(ctx)
}
