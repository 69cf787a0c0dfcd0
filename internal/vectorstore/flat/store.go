package flat

import (
	"errors"
	"io/fs"
	"sync"

	"github.com/phuslu/log"

	"ragmerge/internal/fsutil"
	"ragmerge/internal/logger"
)

// Store owns the permanent index file and the in-memory copy readers search.
// Writers build a new Index and swap the pointer, so an *Index returned by
// Current is never modified afterwards.
type Store struct {
	path string
	log  *log.Logger

	mu    sync.RWMutex
	index *Index
}

// NewStore returns a store persisting to path. Nothing is read until LoadIndex.
func NewStore(path string, l *log.Logger) *Store {
	return &Store{path: path, log: logger.OrDiscard(l)}
}

// Path returns the index file location.
func (s *Store) Path() string { return s.path }

// CreateIndex appends vectors to the current index, or starts a new one when
// none exists or replace is set, and persists the result.
func (s *Store) CreateIndex(vectors [][]float32, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *Index
	var err error
	if s.index == nil || replace {
		if replace && s.index != nil {
			s.log.Info().Str("path", s.path).Int("vectors", s.index.Len()).Msg("replacing flat index")
		}
		next, err = FromVectors(vectors)
		if err != nil {
			return err
		}
		s.log.Info().Int("dimension", next.Dimension()).Msg("created flat index")
	} else {
		next = s.index.Clone()
		if err := next.Add(vectors); err != nil {
			return err
		}
	}
	if err := SaveIndex(s.path, next); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to save flat index")
		return err
	}
	s.index = next
	s.log.Info().Str("path", s.path).Int("vectors", next.Len()).Msg("saved flat index")
	return nil
}

// LoadIndex reads the index from path, or from the store path when empty.
// A missing file leaves the store without an index and is not an error.
func (s *Store) LoadIndex(path string) error {
	if path == "" {
		path = s.path
	}
	x, err := LoadIndex(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Info().Str("path", path).Msg("index file not found")
		s.index = nil
		return nil
	case err != nil:
		s.log.Error().Err(err).Str("path", path).Msg("failed to load flat index")
		return err
	}
	s.index = x
	s.log.Info().Str("path", path).Int("vectors", x.Len()).Int("dimension", x.Dimension()).Msg("loaded flat index")
	return nil
}

// Search returns the positions of the k nearest vectors. Without an index the result is empty.
func (s *Store) Search(query []float32, k int) ([]int, error) {
	x := s.Current()
	if x.Len() == 0 {
		s.log.Warn().Msg("search on empty index")
		return nil, nil
	}
	hits, err := x.Search(query, k)
	if err != nil {
		return nil, err
	}
	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	return positions, nil
}

// Total returns the number of indexed vectors.
func (s *Store) Total() int {
	return s.Current().Len()
}

// Current returns the live index, or nil.
func (s *Store) Current() *Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Restore puts x back as the live and persisted index. A nil x removes the file.
func (s *Store) Restore(x *Index) error {
	if x == nil || x.Len() == 0 {
		return s.DeleteIndex()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := SaveIndex(s.path, x); err != nil {
		return err
	}
	s.index = x
	return nil
}

// DeleteIndex drops the in-memory index and removes the file.
func (s *Store) DeleteIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = nil
	if err := fsutil.Remove(s.path); err != nil {
		return err
	}
	s.log.Info().Str("path", s.path).Msg("deleted flat index")
	return nil
}

// ClearIndex is an alias for DeleteIndex.
func (s *Store) ClearIndex() error { return s.DeleteIndex() }
