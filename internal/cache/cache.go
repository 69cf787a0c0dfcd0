// Package cache stores synthesized answers keyed by question.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ragmerge/internal/domain"
)

// DefaultTTL is how long an answer stays cached.
const DefaultTTL = 24 * time.Hour

// Purger is implemented by backends that need expired entries removed explicitly.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Key derives the storage key for a question.
func Key(question string) string {
	sum := sha256.Sum256([]byte(question))
	return "rag:" + hex.EncodeToString(sum[:])
}

type entry struct {
	Answer   string   `json:"answer"`
	Passages []string `json:"texts"`
}

func encode(a domain.Answer) ([]byte, error) {
	b, err := json.Marshal(entry{Answer: a.Answer, Passages: a.Passages})
	if err != nil {
		return nil, fmt.Errorf("encoding cached answer: %w", err)
	}
	return b, nil
}

func decode(b []byte) (domain.Answer, error) {
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return domain.Answer{}, fmt.Errorf("decoding cached answer: %w", err)
	}
	return domain.Answer{Answer: e.Answer, Passages: e.Passages, Available: true, Cached: true}, nil
}

// Memory is an in-process cache. It is the default when no backend is configured.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

var (
	_ domain.AnswerCache = (*Memory)(nil)
	_ Purger             = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem), now: time.Now}
}

func (m *Memory) Get(_ context.Context, question string) (domain.Answer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(question)
	it, ok := m.items[key]
	if !ok {
		return domain.Answer{}, false, nil
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		delete(m.items, key)
		return domain.Answer{}, false, nil
	}
	a, err := decode(it.value)
	if err != nil {
		return domain.Answer{}, false, err
	}
	return a, true, nil
}

// Put stores answer. A non-positive ttl never expires.
func (m *Memory) Put(_ context.Context, question string, answer domain.Answer, ttl time.Duration) error {
	b, err := encode(answer)
	if err != nil {
		return err
	}
	it := memoryItem{value: b}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[Key(question)] = it
	m.mu.Unlock()
	return nil
}

func (m *Memory) Purge(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, it := range m.items {
		if !it.expires.IsZero() && !now.Before(it.expires) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Flush(context.Context) error {
	m.mu.Lock()
	clear(m.items)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
