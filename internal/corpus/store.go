// Package corpus persists indexed chunks as a JSON array whose order
// defines the vector index positions.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"ragmerge/internal/domain"
	"ragmerge/internal/fsutil"
)

// Store reads and writes the corpus file.
type Store struct {
	path string
	mu   sync.Mutex
}

// Document summarizes the chunks of one source.
type Document struct {
	Filename   string `json:"filename"`
	Chunks     int    `json:"chunks_count"`
	TotalChars int    `json:"total_chars"`
	Timestamp  string `json:"timestamp"`
}

// New returns a store backed by path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the corpus file location.
func (s *Store) Path() string { return s.path }

// Load returns all chunks in position order. A missing file is an empty corpus.
func (s *Store) Load() ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]domain.Chunk, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", s.path, err)
	}
	return chunks, nil
}

// Merge appends chunks whose hash is not stored yet, keeping the first
// occurrence of every hash, and returns the chunks actually appended.
func (s *Store) Merge(chunks []domain.Chunk) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(existing)+len(chunks))
	for _, c := range existing {
		seen[c.Hash] = struct{}{}
	}
	var added []domain.Chunk
	for _, c := range chunks {
		if _, dup := seen[c.Hash]; dup {
			continue
		}
		seen[c.Hash] = struct{}{}
		added = append(added, c)
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := s.save(append(existing, added...)); err != nil {
		return nil, err
	}
	return added, nil
}

// Save replaces the corpus with chunks.
func (s *Store) Save(chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(chunks)
}

func (s *Store) save(chunks []domain.Chunk) error {
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	return fsutil.WriteAtomic(s.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)
	})
}

// Hashes returns the set of stored chunk hashes.
func (s *Store) Hashes() (map[string]struct{}, error) {
	chunks, err := s.Load()
	if err != nil {
		return nil, err
	}
	return HashSet(chunks), nil
}

// Delete removes the corpus file.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsutil.Remove(s.path)
}

// HashSet collects the hashes of chunks.
func HashSet(chunks []domain.Chunk) map[string]struct{} {
	set := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		set[c.Hash] = struct{}{}
	}
	return set
}

// Texts returns the chunk texts in order.
func Texts(chunks []domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// Documents groups chunks by source, sorted by filename.
func Documents(chunks []domain.Chunk) []Document {
	bySource := make(map[string]*Document)
	for _, c := range chunks {
		src := c.Source
		if src == "" {
			src = domain.UnknownSource
		}
		d, ok := bySource[src]
		if !ok {
			d = &Document{Filename: src, Timestamp: c.Timestamp}
			bySource[src] = d
		}
		d.Chunks++
		d.TotalChars += len([]rune(c.Text))
	}
	docs := make([]Document, 0, len(bySource))
	for _, d := range bySource {
		docs = append(docs, *d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs
}
