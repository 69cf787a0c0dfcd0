// Package scheduler runs periodic maintenance: session expiry, answer cache
// purging and optional re-indexing of configured sources.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"ragmerge/internal/cache"
	"ragmerge/internal/indexing"
	"ragmerge/internal/logger"
)

const (
	DefaultSessionSweep = "@every 5m"
	DefaultCachePurge   = "@every 1h"

	reindexTimeout = 30 * time.Minute
)

// Sweeper drops expired sessions.
type Sweeper interface {
	Sweep() int
}

// Runner indexes one source.
type Runner interface {
	Run(ctx context.Context, source string) (indexing.Result, error)
}

// Scheduler wraps a cron instance. Jobs are added before Start.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger
}

// New creates an idle scheduler.
func New(l *log.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), logger: logger.OrDiscard(l)}
}

// AddSessionSweep drops expired sessions on schedule.
func (s *Scheduler) AddSessionSweep(schedule string, sw Sweeper) error {
	if schedule == "" {
		schedule = DefaultSessionSweep
	}
	return s.add("session-sweep", schedule, func() { s.sweep(sw) })
}

// AddCachePurge removes expired answers on schedule.
func (s *Scheduler) AddCachePurge(schedule string, p cache.Purger) error {
	if schedule == "" {
		schedule = DefaultCachePurge
	}
	return s.add("cache-purge", schedule, func() { s.purge(p) })
}

// AddReindex runs every source through r on schedule.
func (s *Scheduler) AddReindex(schedule string, r Runner, sources []string) error {
	if schedule == "" || len(sources) == 0 {
		return nil
	}
	return s.add("reindex", schedule, func() { s.reindex(r, sources) })
}

func (s *Scheduler) add(name, schedule string, fn func()) error {
	if _, err := s.cron.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, schedule, err)
	}
	s.logger.Debug().Str("job", name).Str("schedule", schedule).Msg("job scheduled")
	return nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", s.Jobs()).Msg("scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) sweep(sw Sweeper) {
	if n := sw.Sweep(); n > 0 {
		s.logger.Info().Int("sessions", n).Msg("expired sessions removed")
	}
}

func (s *Scheduler) purge(p cache.Purger) {
	n, err := p.Purge(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache purge failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("entries", n).Msg("expired answers purged")
	}
}

func (s *Scheduler) reindex(r Runner, sources []string) {
	ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
	defer cancel()

	for _, src := range sources {
		res, err := r.Run(ctx, src)
		if err != nil {
			s.logger.Error().Err(err).Str("source", src).Msg("scheduled indexing failed")
			continue
		}
		s.logger.Info().
			Str("source", src).
			Int("chunks", res.Chunks).
			Int("total", res.Total).
			Dur("duration", res.Duration).
			Msg("scheduled indexing completed")
	}
}
