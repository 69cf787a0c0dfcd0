package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ragmerge/internal/httpapi"
)

const shutdownTimeout = 15 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves queries, indexing and session uploads over HTTP. Maintenance
jobs run on their schedules, and configured watch directories are kept
in sync with the index.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if len(cfg.Watch.Dirs) > 0 {
		requireIncremental()
	}
	app, err := newApplication(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer app.Close()

	sched, err := app.schedule()
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := httpapi.New(app.svc, httpapi.Config{
		UploadDir:   cfg.Data.UploadPath(),
		BodyLimitMB: cfg.Server.BodyLimitMB,
	}, logg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Listen(cfg.Server.Addr) })
	if len(cfg.Watch.Dirs) > 0 {
		w, err := app.watcher(cfg.Watch.Dirs)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logg.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
