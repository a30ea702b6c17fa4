package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"support-agent/internal/domain"
)

// Badger is a state store backed by an embedded BadgerDB, for hosts that
// want durable per-user state without an external database.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for tests
	// that want a real badger engine.
	InMemory bool
}

// NewBadger opens a BadgerDB-backed store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("repository: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("repository: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func badgerKey(userID string) []byte {
	return []byte("state:" + userID)
}

func (b *Badger) Get(_ context.Context, userID string) (domain.ConversationState, bool, error) {
	var doc []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(userID))
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ConversationState{}, false, nil
	}
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: badger get: %w", err)
	}

	state, err := decodeState(doc)
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: badger unmarshal: %w", err)
	}
	return state, true, nil
}

func (b *Badger) Put(_ context.Context, userID string, state domain.ConversationState) error {
	doc, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("repository: badger marshal: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(userID), doc)
	})
	if err != nil {
		return fmt.Errorf("repository: badger put: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's error/warning output through slog and
// silences its info/debug chatter.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { slog.Error(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Warningf(f string, v ...interface{}) { slog.Warn(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Infof(string, ...interface{})        {}
func (badgerLogger) Debugf(string, ...interface{})       {}
