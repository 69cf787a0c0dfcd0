// Package extractor turns files, directories and raw strings into text rows.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phuslu/log"

	"ragmerge/internal/domain"
	"ragmerge/internal/logger"
)

type parseFunc func(data []byte) ([]string, error)

// Extractor reads supported files by extension. Unknown paths are treated as raw text.
type Extractor struct {
	log     *log.Logger
	parsers map[string]parseFunc
}

var _ domain.Extractor = (*Extractor)(nil)

// New returns an extractor for .txt, .json, .md and .html files.
func New(l *log.Logger) *Extractor {
	return &Extractor{
		log: logger.OrDiscard(l),
		parsers: map[string]parseFunc{
			".txt":      parseText,
			".text":     parseText,
			".json":     parseJSON,
			".md":       parseMarkdown,
			".markdown": parseMarkdown,
			".html":     parseHTML,
			".htm":      parseHTML,
		},
	}
}

// Supported reports whether files with the extension of path can be extracted.
func (e *Extractor) Supported(path string) bool {
	_, ok := e.parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract reads source. A directory is walked recursively and files that fail
// are skipped with a warning. A path that does not exist is taken as the text itself.
func (e *Extractor) Extract(ctx context.Context, source string) ([]domain.Row, error) {
	if strings.TrimSpace(source) == "" {
		return nil, domain.ErrEmptySource
	}
	info, err := os.Stat(source)
	switch {
	case errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid):
		return []domain.Row{{Text: source, Source: domain.UnknownSource}}, nil
	case err != nil && looksLikeText(source):
		return []domain.Row{{Text: source, Source: domain.UnknownSource}}, nil
	case err != nil:
		return nil, fmt.Errorf("stat %s: %w", source, err)
	case info.IsDir():
		return e.fromDir(ctx, source)
	}
	return e.fromFile(source)
}

func (e *Extractor) fromFile(path string) ([]domain.Row, error) {
	parse, ok := e.parsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	texts, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	name := filepath.Base(path)
	rows := make([]domain.Row, len(texts))
	for i, t := range texts {
		rows[i] = domain.Row{Text: t, Source: name}
	}
	e.log.Debug().Str("file", path).Int("rows", len(rows)).Msg("extracted file")
	return rows, nil
}

func (e *Extractor) fromDir(ctx context.Context, dir string) ([]domain.Row, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && e.Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var rows []domain.Row
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := e.fromFile(f)
		if err != nil {
			e.log.Warn().Err(err).Str("file", f).Msg("error loading file")
			continue
		}
		rows = append(rows, r...)
	}
	if len(rows) == 0 {
		e.log.Warn().Str("dir", dir).Msg("no valid files found in directory")
	}
	return rows, nil
}

// looksLikeText reports whether a string that failed to stat is prose rather than a path.
func looksLikeText(s string) bool {
	return len(s) > 255 || strings.ContainsAny(s, "\n\x00")
}
