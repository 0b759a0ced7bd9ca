package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// kv_state keys.
const (
	// QueueStateKey holds the reconciliation engine blob.
	QueueStateKey = "aura-queue"
	// SelectionKey holds the CLI's item selection between invocations.
	SelectionKey = "aura-selection"
)

// LoadBlob returns the value stored under key, or nil when absent.
func (s *Store) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	ctx = ensureContext(ctx)
	var data []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE key = ?", key).Scan(&data)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return data, nil
}

// SaveBlob replaces the value stored under key.
func (s *Store) SaveBlob(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// DeleteBlob removes key. Missing keys are not an error.
func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	if _, err := s.execWithRetry(ctx, "DELETE FROM kv_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// StateBlob adapts one kv_state key to the queue engine's storage contract.
type StateBlob struct {
	store *Store
	key   string
}

// QueueState returns the blob storage used by the queue engine.
func (s *Store) QueueState() *StateBlob {
	return &StateBlob{store: s, key: QueueStateKey}
}

// Blob returns a StateBlob for an arbitrary key.
func (s *Store) Blob(key string) *StateBlob {
	return &StateBlob{store: s, key: key}
}

// Load returns the persisted blob or nil when nothing has been saved.
func (b *StateBlob) Load(ctx context.Context) ([]byte, error) {
	return b.store.LoadBlob(ctx, b.key)
}

// Save overwrites the persisted blob.
func (b *StateBlob) Save(ctx context.Context, data []byte) error {
	return b.store.SaveBlob(ctx, b.key, data)
}
