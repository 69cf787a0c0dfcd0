// Package session keeps per-session uploaded documents in memory.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"ragmerge/internal/domain"
	"ragmerge/internal/logger"
)

const (
	DefaultMaxAge      = 2 * time.Hour
	DefaultMaxSessions = 100
)

// Config bounds session retention. MaxAge counts from the last access.
type Config struct {
	MaxAge      time.Duration
	MaxSessions int
}

// Info describes one live session.
type Info struct {
	ID         string    `json:"session_id"`
	Files      int       `json:"files"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// FileInfo describes one uploaded document of a session.
type FileInfo struct {
	Filename   string `json:"filename"`
	Chunks     int    `json:"chunks_count"`
	TotalChars int    `json:"total_chars"`
}

type entry struct {
	files    []domain.FileBundle
	created  time.Time
	accessed time.Time
}

// Manager maps session ids to their uploaded file bundles. Nothing is persisted.
type Manager struct {
	cfg Config
	log *log.Logger
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager returns an empty manager. Zero config values take the defaults.
func NewManager(cfg Config, l *log.Logger) *Manager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Manager{
		cfg:      cfg,
		log:      logger.OrDiscard(l),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// GenerateSessionID returns a fresh random identifier.
func (m *Manager) GenerateSessionID() string {
	return uuid.NewString()
}

// AddTempIndex appends a file bundle to the session, creating it if needed.
// When a new session would exceed MaxSessions the least recently used one is evicted.
func (m *Manager) AddTempIndex(id string, b domain.FileBundle) error {
	if id == "" {
		return errors.New("session id must not be empty")
	}
	if len(b.Chunks) == 0 {
		return domain.ErrEmptySource
	}
	if len(b.Chunks) != len(b.Vectors) {
		return fmt.Errorf("bundle has %d chunks and %d vectors", len(b.Chunks), len(b.Vectors))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.live(id, now)
	if ok {
		if dim := dimensionOf(e.files); dim > 0 && len(b.Vectors[0]) != dim {
			return fmt.Errorf("session %s holds %d-dimensional vectors, got %d: %w", id, dim, len(b.Vectors[0]), domain.ErrDimensionMismatch)
		}
	} else {
		m.evictFor(now)
		e = &entry{created: now}
		m.sessions[id] = e
	}
	e.files = append(e.files, b)
	e.accessed = now
	m.log.Info().Str("session", id).Str("file", b.Filename()).Int("files", len(e.files)).Msg("added temporary index")
	return nil
}

// GetTempIndex returns the bundles of a session.
func (m *Manager) GetTempIndex(id string) ([]domain.FileBundle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id, m.now())
	if !ok {
		return nil, false
	}
	e.accessed = m.now()
	files := make([]domain.FileBundle, len(e.files))
	copy(files, e.files)
	return files, true
}

// GetTempFileContent returns the bundle whose first chunk came from filename.
func (m *Manager) GetTempFileContent(id, filename string) (domain.FileBundle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id, m.now())
	if !ok {
		return domain.FileBundle{}, false
	}
	e.accessed = m.now()
	for _, b := range e.files {
		if b.Filename() == filename {
			return b, true
		}
	}
	return domain.FileBundle{}, false
}

// Files lists the documents of a session.
func (m *Manager) Files(id string) ([]FileInfo, bool) {
	files, ok := m.GetTempIndex(id)
	if !ok {
		return nil, false
	}
	out := make([]FileInfo, 0, len(files))
	for _, b := range files {
		fi := FileInfo{Filename: b.Filename(), Chunks: len(b.Chunks)}
		for _, c := range b.Chunks {
			fi.TotalChars += len([]rune(c.Text))
		}
		out = append(out, fi)
	}
	return out, true
}

// RemoveTempFile drops the bundles of filename. A session left without
// files is removed. It reports whether anything was removed.
func (m *Manager) RemoveTempFile(id, filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id, m.now())
	if !ok {
		return false
	}
	kept := e.files[:0:0]
	for _, b := range e.files {
		if b.Filename() != filename {
			kept = append(kept, b)
		}
	}
	removed := len(kept) < len(e.files)
	e.files = kept
	e.accessed = m.now()
	if len(e.files) == 0 {
		delete(m.sessions, id)
	}
	if removed {
		m.log.Info().Str("session", id).Str("file", filename).Msg("removed temporary file")
	}
	return removed
}

// RemoveTempIndex drops the whole session.
func (m *Manager) RemoveTempIndex(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(id, m.now()); !ok {
		return false
	}
	delete(m.sessions, id)
	m.log.Info().Str("session", id).Msg("removed temporary index")
	return true
}

// HasSession reports whether id is a live session.
func (m *Manager) HasSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(id, m.now())
	return ok
}

// Sessions lists live sessions, most recently used first.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]Info, 0, len(m.sessions))
	for id, e := range m.sessions {
		if m.expired(e, now) {
			continue
		}
		info := Info{ID: id, Files: len(e.files), CreatedAt: e.created, AccessedAt: e.accessed}
		for _, b := range e.files {
			info.Chunks += len(b.Chunks)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessedAt.Equal(out[j].AccessedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AccessedAt.After(out[j].AccessedAt)
	})
	return out
}

// Len returns the number of stored sessions, expired or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ClearAll drops every session.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*entry)
	m.log.Info().Msg("cleared all temporary indexes")
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.sessions {
		if m.expired(e, now) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		m.log.Info().Int("expired", n).Int("remaining", len(m.sessions)).Msg("swept sessions")
	}
	return n
}

// live returns the session if present and not expired; expired ones are dropped.
func (m *Manager) live(id string, now time.Time) (*entry, bool) {
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if m.expired(e, now) {
		delete(m.sessions, id)
		return nil, false
	}
	return e, true
}

func (m *Manager) expired(e *entry, now time.Time) bool {
	return now.Sub(e.accessed) > m.cfg.MaxAge
}

// evictFor makes room for one more session.
func (m *Manager) evictFor(now time.Time) {
	for id, e := range m.sessions {
		if m.expired(e, now) {
			delete(m.sessions, id)
		}
	}
	for len(m.sessions) >= m.cfg.MaxSessions {
		var oldest string
		var at time.Time
		for id, e := range m.sessions {
			if oldest == "" || e.accessed.Before(at) {
				oldest, at = id, e.accessed
			}
		}
		delete(m.sessions, oldest)
		m.log.Warn().Str("session", oldest).Msg("evicted least recently used session")
	}
}

func dimensionOf(files []domain.FileBundle) int {
	for _, b := range files {
		if len(b.Vectors) > 0 {
			return len(b.Vectors[0])
		}
	}
	return 0
}
