package query

import (
	"sync"
	"sync/atomic"

	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/vectorstore/flat"
)

// Holder publishes the current engine. Readers Load once per request and
// keep using that engine even if a newer one is published meanwhile.
type Holder struct {
	builder Builder
	engine  atomic.Pointer[Engine]

	// mu orders writers; gen counts publications.
	mu  sync.Mutex
	gen uint64

	afterOpen func()
}

// NewHolder returns an empty holder that builds engines with b.
func NewHolder(b Builder) *Holder {
	return &Holder{builder: b}
}

// Load returns the current engine, or nil when no index is available.
func (h *Holder) Load() *Engine { return h.engine.Load() }

// Clear removes the current engine.
func (h *Holder) Clear() { h.store(nil) }

// Commit builds and publishes an engine for a new snapshot. It matches the
// indexing commit hook.
func (h *Holder) Commit(chunks []domain.Chunk, index *flat.Index) {
	h.store(h.builder.Build(chunks, index))
}

// Reload rebuilds the engine from disk. On error the previous engine stays
// published. When a commit lands while the files are being read, the
// committed engine is newer and Reload leaves it in place.
func (h *Holder) Reload(store *corpus.Store, indexPath string) error {
	h.mu.Lock()
	gen := h.gen
	h.mu.Unlock()

	e, err := h.builder.Open(store, indexPath)
	if err != nil {
		return err
	}
	if h.afterOpen != nil {
		h.afterOpen()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return nil
	}
	h.gen++
	h.engine.Store(e)
	return nil
}

func (h *Holder) store(e *Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	h.engine.Store(e)
}
