// Package watcher keeps the permanent index in step with a set of directories.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/phuslu/log"

	"ragmerge/internal/domain"
	"ragmerge/internal/indexing"
	"ragmerge/internal/logger"
)

const DefaultDebounce = 500 * time.Millisecond

// Indexer is the part of the indexing engine the watcher drives. It must be
// running in incremental mode.
type Indexer interface {
	Run(ctx context.Context, source string) (indexing.Result, error)
	DeleteSource(ctx context.Context, source string) (int, error)
}

// Config lists the watched directories.
type Config struct {
	Dirs     []string
	Debounce time.Duration
}

type op int

const (
	opIndex op = iota + 1
	opDelete
)

// Watcher re-indexes files when they are created or written and removes
// their chunks when they are deleted or renamed away. Bursts of events for
// one path are coalesced.
type Watcher struct {
	cfg       Config
	indexer   Indexer
	supported func(path string) bool
	fsw       *fsnotify.Watcher
	log       *log.Logger
}

// New creates a watcher. supported filters the files worth indexing.
func New(cfg Config, idx Indexer, supported func(string) bool, l *log.Logger) (*Watcher, error) {
	if len(cfg.Dirs) == 0 {
		return nil, errors.New("watcher: no directories configured")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{cfg: cfg, indexer: idx, supported: supported, fsw: fsw, log: logger.OrDiscard(l)}
	for _, dir := range cfg.Dirs {
		if err := w.addTree(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	pending := map[string]op{}
	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if o := w.classify(ev); o != 0 {
				pending[ev.Name] = o
				timer.Reset(w.cfg.Debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			for path, o := range pending {
				w.apply(ctx, path, o)
			}
			clear(pending)
		}
	}
}

func (w *Watcher) classify(ev fsnotify.Event) op {
	if hidden(ev.Name) {
		return 0
	}
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", ev.Name).Msg("failed to watch new directory")
			}
			return 0
		}
		if w.supported(ev.Name) {
			return opIndex
		}
	case ev.Has(fsnotify.Write):
		if w.supported(ev.Name) {
			return opIndex
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.supported(ev.Name) {
			return opDelete
		}
	}
	return 0
}

// apply re-indexes by dropping the file's old chunks first so edits do not
// leave stale passages behind.
func (w *Watcher) apply(ctx context.Context, path string, o op) {
	name := filepath.Base(path)
	removed, err := w.indexer.DeleteSource(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		w.log.Error().Err(err).Str("file", name).Msg("failed to remove document")
		return
	}
	if o == opDelete {
		if removed > 0 {
			w.log.Info().Str("file", name).Int("chunks", removed).Msg("document removed")
		}
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	res, err := w.indexer.Run(ctx, path)
	if err != nil {
		w.log.Error().Err(err).Str("file", name).Msg("failed to index document")
		return
	}
	w.log.Info().Str("file", name).Int("chunks", res.Chunks).Int("total", res.Total).Msg("document indexed")
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
