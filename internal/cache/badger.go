package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phuslu/log"

	"ragmerge/internal/domain"
	"ragmerge/internal/logger"
)

// Badger keeps answers in an embedded Badger database and relies on its native TTL.
type Badger struct {
	db  *badger.DB
	log *log.Logger
}

var _ domain.AnswerCache = (*Badger)(nil)

// OpenBadger opens or creates the database directory at dir.
func OpenBadger(dir string, l *log.Logger) (*Badger, error) {
	l = logger.OrDiscard(l)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	l.Debug().Str("path", dir).Msg("Opening Badger answer cache")

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Badger{db: db, log: l}, nil
}

func (b *Badger) Get(_ context.Context, question string) (domain.Answer, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(question)))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, fmt.Errorf("reading cached answer: %w", err)
	}
	a, err := decode(raw)
	if err != nil {
		return domain.Answer{}, false, err
	}
	return a, true, nil
}

// Put stores answer. A non-positive ttl never expires.
func (b *Badger) Put(_ context.Context, question string, answer domain.Answer, ttl time.Duration) error {
	raw, err := encode(answer)
	if err != nil {
		return err
	}
	e := badger.NewEntry([]byte(Key(question)), raw)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		return fmt.Errorf("writing cached answer: %w", err)
	}
	return nil
}

func (b *Badger) Flush(context.Context) error {
	if err := b.db.DropPrefix([]byte("rag:")); err != nil {
		return fmt.Errorf("flushing cache: %w", err)
	}
	return nil
}

func (b *Badger) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
