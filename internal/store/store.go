package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// ErrClosed is returned when an operation is attempted on a closed store.
var ErrClosed = errors.New("store: closed")

// Options tunes store behavior. Zero values fall back to defaults.
type Options struct {
	// QuotaBytes is the storage budget for quota estimation. Default 512 MiB.
	QuotaBytes int64

	// RetryAttempts is the number of attempts for operations hitting a
	// transient fault. Default 3.
	RetryAttempts int

	// RetryDelay is the fixed delay between attempts. Default 5s.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.QuotaBytes <= 0 {
		o.QuotaBytes = 512 << 20
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	return o
}

// Store is the terminal's local persistent database: one table per record
// collection plus the pending-change queue. A single handle is shared
// process-wide and passed explicitly to the recorder, synchronizer and read
// path; there is no package-level connection state.
//
// Thread-safe with WAL mode; SQLite allows one writer, so writes are
// serialized through the connection pool and an RWMutex.
type Store struct {
	db   *sql.DB
	path string
	opts Options

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if necessary) the store at path and applies any
// pending schema upgrades. The returned handle stays valid until Close.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	// WAL mode and a busy timeout cover the second-connection upgrade race:
	// a writer holding an older connection blocks us for at most the busy
	// timeout instead of failing immediately.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path, opts: opts}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade schema: %w", err)
	}

	log.Printf("[Store] Opened %s (schema v%d, quota %d bytes)", path, schemaVersion, opts.QuotaBytes)
	return s, nil
}

// Close closes the store. Subsequent operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Reset empties every collection, including the pending-change queue. Used by
// the explicit "clear offline data" action only; it is never invoked
// implicitly.
func (s *Store) Reset(ctx context.Context) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin reset: %w", err)
		}
		defer tx.Rollback()

		for _, table := range allTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit reset: %w", err)
		}
		log.Printf("[Store] Reset: all collections cleared")
		return nil
	})
}

// withRetry runs fn, retrying transient storage faults (busy database, closed
// connection mid-flight) with a fixed delay before surfacing the error as
// terminal. Non-transient errors are returned immediately.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == s.opts.RetryAttempts {
			break
		}
		log.Printf("[Store] Transient fault (attempt %d/%d): %v", attempt, s.opts.RetryAttempts, err)
		select {
		case <-time.After(s.opts.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("offline storage unavailable after %d attempts: %w", s.opts.RetryAttempts, err)
}

// isTransient classifies storage faults worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// timePtr converts a NullTime into the optional form used by the models.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullTime converts an optional time into its SQL form.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
