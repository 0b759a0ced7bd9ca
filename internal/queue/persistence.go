package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aura/internal/logging"
)

// Storage persists the queue blob. Implementations must be safe for use from
// a timer goroutine.
type Storage interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

const saveTimeout = 5 * time.Second

type persistedState struct {
	State struct {
		Items []Item `json:"items"`
	} `json:"state"`
}

type rawState struct {
	State *struct {
		Items []json.RawMessage `json:"items"`
	} `json:"state"`
}

type persistedItem struct {
	ID             string         `json:"id"`
	Path           string         `json:"path"`
	Name           string         `json:"name"`
	RelativePath   string         `json:"relativePath"`
	Size           int64          `json:"size"`
	Duration       *float64       `json:"duration"`
	Format         string         `json:"format"`
	Status         string         `json:"status"`
	Progress       *float64       `json:"progress"`
	RTFx           *float64       `json:"rtfx"`
	Error          string         `json:"error"`
	TranscriptPath string         `json:"transcriptPath"`
	JSONPath       string         `json:"jsonPath"`
	Metadata       *AudioMetadata `json:"metadata"`
}

// EncodeState renders items in the persisted blob layout.
func EncodeState(items []Item) ([]byte, error) {
	var state persistedState
	state.State.Items = items
	if state.State.Items == nil {
		state.State.Items = []Item{}
	}
	return json.Marshal(state)
}

// DecodeState parses a persisted blob and normalizes its items for a fresh
// process: in-flight items return to idle, progress is clamped, missing ids
// are assigned, and duplicate or pathless entries are dropped. A blob that is
// corrupt or has the wrong shape yields an error and no items.
func DecodeState(data []byte, newID func() string) ([]Item, []string, error) {
	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode queue state: %w", err)
	}
	if raw.State == nil {
		return nil, nil, errors.New("decode queue state: missing state object")
	}

	var (
		items    []Item
		warnings []string
	)
	seen := make(map[string]struct{}, len(raw.State.Items))
	for i, entry := range raw.State.Items {
		var p persistedItem
		if err := json.Unmarshal(entry, &p); err != nil {
			warnings = append(warnings, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		path := strings.TrimSpace(p.Path)
		if path == "" {
			warnings = append(warnings, fmt.Sprintf("item %d: missing path", i))
			continue
		}
		if _, dup := seen[path]; dup {
			warnings = append(warnings, fmt.Sprintf("item %d: duplicate path %s", i, path))
			continue
		}
		seen[path] = struct{}{}
		items = append(items, normalizeItem(p, path, newID))
	}
	return items, warnings, nil
}

func normalizeItem(p persistedItem, path string, newID func() string) Item {
	it := Item{
		ID:             strings.TrimSpace(p.ID),
		Path:           path,
		Name:           p.Name,
		RelativePath:   p.RelativePath,
		Size:           p.Size,
		Format:         p.Format,
		Status:         Status(p.Status),
		Error:          p.Error,
		TranscriptPath: p.TranscriptPath,
		JSONPath:       p.JSONPath,
		Metadata:       p.Metadata,
	}
	if it.ID == "" {
		it.ID = newID()
	}
	if it.Name == "" {
		it.Name = filepath.Base(path)
	}
	if !it.Status.Valid() || it.Status.InFlight() {
		it.Status = StatusIdle
	}
	if p.Progress != nil {
		it.Progress = clampProgress(*p.Progress)
	}
	if p.Duration != nil {
		it.Duration = finitePtr(*p.Duration)
	}
	if p.RTFx != nil {
		it.RTFx = finitePtr(*p.RTFx)
	}
	if it.Size < 0 {
		it.Size = 0
	}
	return it
}

// Rehydrate replaces the engine state with the persisted item list. Runtime
// state (selection, processing flag, session, run) is always reset. Storage
// or decode failures are logged and leave the engine empty.
func (e *Engine) Rehydrate(ctx context.Context) {
	var items []Item
	if e.storage != nil {
		data, err := e.storage.Load(ctx)
		switch {
		case err != nil:
			logging.WarnWithContext(e.logger, "queue state unavailable", "queue_state_load",
				logging.Error(err), logging.String(logging.FieldImpact, "starting with an empty queue"))
		case len(data) > 0:
			decoded, warnings, err := DecodeState(data, e.newID)
			if err != nil {
				logging.WarnWithContext(e.logger, "queue state corrupt", "queue_state_decode",
					logging.Error(err), logging.String(logging.FieldImpact, "starting with an empty queue"))
			}
			for _, w := range warnings {
				e.logger.Warn("queue state entry dropped", logging.String("reason", w))
			}
			items = decoded
		}
	}

	e.mutate(func() (bool, bool) {
		e.items = items
		e.selection = nil
		e.isProcessing = false
		e.sessionID = ""
		e.run = Run{}
		return true, false
	})
	e.logger.Debug("queue rehydrated", logging.Int("items", len(items)))
}

func (e *Engine) schedulePersistLocked() {
	if e.storage == nil || e.closed {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.pending++
	gen := e.pending
	e.timer = time.AfterFunc(e.debounce, func() { e.persist(gen) })
}

// persist writes the current items if gen is still the latest scheduled write.
func (e *Engine) persist(gen uint64) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	if e.closed || gen != e.pending || e.timer == nil {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	data, err := e.encodeLocked()
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("queue state encode failed", logging.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	e.save(ctx, data)
}

// Flush cancels any pending write and saves the item list immediately.
func (e *Engine) Flush(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	e.cancelPendingLocked()
	data, err := e.encodeLocked()
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("queue state encode failed", logging.Error(err))
		return err
	}
	return e.save(ctx, data)
}

// Reset cancels a pending write without saving.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.cancelPendingLocked()
	e.mu.Unlock()
}

// Close cancels any pending write and stops future persistence. Call Flush
// first when the latest state must be durable.
func (e *Engine) Close() {
	e.mu.Lock()
	e.cancelPendingLocked()
	e.closed = true
	e.mu.Unlock()
}

// PendingWrite reports whether a debounced write is scheduled.
func (e *Engine) PendingWrite() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer != nil
}

func (e *Engine) cancelPendingLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pending++
}

func (e *Engine) encodeLocked() ([]byte, error) {
	items := make([]Item, len(e.items))
	for i, it := range e.items {
		items[i] = it.Clone()
	}
	return EncodeState(items)
}

func (e *Engine) save(ctx context.Context, data []byte) error {
	if err := e.storage.Save(ctx, data); err != nil {
		logging.WarnWithContext(e.logger, "queue state save failed", "queue_state_save",
			logging.Error(err), logging.String(logging.FieldImpact, "queue changes may not survive a restart"))
		return err
	}
	return nil
}

// MemoryStorage keeps the blob in memory.
type MemoryStorage struct {
	mu    sync.Mutex
	data  []byte
	saves int
	// Err, when set, is returned by Save.
	Err error
}

// NewMemoryStorage returns a MemoryStorage preloaded with data.
func NewMemoryStorage(data []byte) *MemoryStorage {
	return &MemoryStorage{data: append([]byte(nil), data...)}
}

func (m *MemoryStorage) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryStorage) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Bytes returns the last saved blob.
func (m *MemoryStorage) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Saves returns the number of successful writes.
func (m *MemoryStorage) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
