// Package checkpoint persists resume points for long sweeps in an embedded
// BadgerDB, so an aborted reconciliation restarts after the last batch it
// finished instead of from the beginning.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Checkpoint records sweep progress. Ids are processed in ascending order,
// so LastID alone is enough to resume.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	LastID    string    `json:"last_id"`
	Processed int       `json:"processed"`
	Deleted   int       `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a badger-backed checkpoint table keyed by sweep name.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(msg string, items ...any)   { l.logger.Error(fmt.Sprintf(msg, items...)) }
func (l badgerLogger) Warningf(msg string, items ...any) { l.logger.Warn(fmt.Sprintf(msg, items...)) }
func (l badgerLogger) Infof(msg string, items ...any)    { l.logger.Debug(fmt.Sprintf(msg, items...)) }
func (l badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debug(fmt.Sprintf(msg, items...)) }

// Open opens (creating if needed) the store in dir. An empty dir opens an
// in-memory store that forgets everything on Close.
func Open(dir string) (*Store, error) {
	logger := slog.Default().With("component", "checkpoint")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func key(name string) []byte { return []byte("checkpoint:" + name) }

// Save overwrites the checkpoint for name.
func (s *Store) Save(ctx context.Context, name string, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()
	value, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(name), value)
	})
}

// Load returns the checkpoint for name, or nil when none is stored.
func (s *Store) Load(ctx context.Context, name string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cp *Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cp = &Checkpoint{}
			return json.Unmarshal(val, cp)
		})
	})
	return cp, err
}

// Clear removes the checkpoint for name. Clearing a missing one is a no-op.
func (s *Store) Clear(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
