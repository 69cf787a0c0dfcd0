package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"ragmerge/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS answers (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLite keeps answers in a single table. Expired rows are skipped on read
// and deleted by Purge.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ domain.AnswerCache = (*SQLite)(nil)
	_ Purger             = (*SQLite)(nil)
)

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Get(ctx context.Context, question string) (domain.Answer, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM answers WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		Key(question), s.now().UnixNano(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
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
func (s *SQLite) Put(ctx context.Context, question string, answer domain.Answer, ttl time.Duration) error {
	raw, err := encode(answer)
	if err != nil {
		return err
	}
	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answers (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		Key(question), raw, expires,
	)
	if err != nil {
		return fmt.Errorf("writing cached answer: %w", err)
	}
	return nil
}

func (s *SQLite) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM answers WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLite) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM answers`); err != nil {
		return fmt.Errorf("flushing cache: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
