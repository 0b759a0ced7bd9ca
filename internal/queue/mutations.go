package queue

import (
	"fmt"
	"path/filepath"
	"strings"

	"aura/internal/logging"
)

// AddItems appends items whose paths are not already queued. Caller-supplied
// ids and outcome fields are discarded: new items always start idle with
// progress 0 and a fresh id. It returns the number of items added.
func (e *Engine) AddItems(items ...Item) int {
	added := 0
	e.mutate(func() (bool, bool) {
		seen := make(map[string]struct{}, len(e.items)+len(items))
		for _, it := range e.items {
			seen[it.Path] = struct{}{}
		}
		for _, in := range items {
			path := strings.TrimSpace(in.Path)
			if path == "" {
				continue
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			fresh := Item{
				ID:           e.newID(),
				Path:         path,
				Name:         in.Name,
				RelativePath: in.RelativePath,
				Size:         in.Size,
				Format:       in.Format,
				Status:       StatusIdle,
			}
			if fresh.Name == "" {
				fresh.Name = filepath.Base(path)
			}
			if in.Duration != nil {
				d := *in.Duration
				fresh.Duration = &d
			}
			if in.Metadata != nil {
				m := *in.Metadata
				fresh.Metadata = &m
			}
			e.items = append(e.items, fresh)
			added++
		}
		return added > 0, added > 0
	})
	if added > 0 {
		e.logger.Debug("items added", logging.Int("count", added))
	}
	return added
}

// RemoveItems deletes items by id and purges them from the selection.
func (e *Engine) RemoveItems(ids ...string) int {
	removed := 0
	e.mutate(func() (bool, bool) {
		drop := toSet(ids)
		kept := e.items[:0]
		for _, it := range e.items {
			if _, ok := drop[it.ID]; ok {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		clear(e.items[len(kept):])
		e.items = kept
		e.selection = filterIDs(e.selection, func(id string) bool {
			_, gone := drop[id]
			return !gone
		})
		return removed > 0, removed > 0
	})
	return removed
}

// UpdateItem merges patch into the item with the given id. It reports
// whether the item exists.
func (e *Engine) UpdateItem(id string, patch Patch) bool {
	found := false
	e.mutate(func() (bool, bool) {
		idx := e.indexByIDLocked(id)
		if idx < 0 {
			return false, false
		}
		found = true
		it := &e.items[idx]
		if patch.Name != nil {
			it.Name = *patch.Name
		}
		if patch.RelativePath != nil {
			it.RelativePath = *patch.RelativePath
		}
		if patch.Size != nil {
			it.Size = *patch.Size
		}
		if patch.Duration != nil {
			it.Duration = finitePtr(*patch.Duration)
		}
		if patch.Format != nil {
			it.Format = *patch.Format
		}
		if patch.Status != nil && patch.Status.Valid() {
			it.Status = *patch.Status
		}
		if patch.Progress != nil {
			it.Progress = clampProgress(float64(*patch.Progress))
		}
		if patch.RTFx != nil {
			it.RTFx = finitePtr(*patch.RTFx)
		}
		if patch.Error != nil {
			it.Error = *patch.Error
		}
		if patch.TranscriptPath != nil {
			it.TranscriptPath = *patch.TranscriptPath
		}
		if patch.JSONPath != nil {
			it.JSONPath = *patch.JSONPath
		}
		if patch.Metadata != nil {
			m := *patch.Metadata
			it.Metadata = &m
		}
		return true, true
	})
	return found
}

// ClearCompleted removes every completed item and returns how many were removed.
func (e *Engine) ClearCompleted() int {
	var ids []string
	e.mu.Lock()
	for _, it := range e.items {
		if it.Status == StatusCompleted {
			ids = append(ids, it.ID)
		}
	}
	e.mu.Unlock()
	if len(ids) == 0 {
		return 0
	}
	return e.RemoveItems(ids...)
}

// SetSelection replaces the selection with the given ids that still exist.
func (e *Engine) SetSelection(ids ...string) {
	e.mutate(func() (bool, bool) {
		existing := make(map[string]struct{}, len(e.items))
		for _, it := range e.items {
			existing[it.ID] = struct{}{}
		}
		seen := make(map[string]struct{}, len(ids))
		next := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := existing[id]; !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			next = append(next, id)
		}
		e.selection = next
		return true, false
	})
}

// Reorder moves the item at index from to index to. Out-of-range indices
// are ignored.
func (e *Engine) Reorder(from, to int) bool {
	moved := false
	e.mutate(func() (bool, bool) {
		n := len(e.items)
		if from < 0 || from >= n || to < 0 || to >= n || from == to {
			return false, false
		}
		it := e.items[from]
		e.items = append(e.items[:from], e.items[from+1:]...)
		e.items = append(e.items[:to], append([]Item{it}, e.items[to:]...)...)
		moved = true
		return true, true
	})
	return moved
}

// SetProcessing pairs the processing flag with a session id. An empty id
// means nothing is processing.
func (e *Engine) SetProcessing(sessionID string) {
	e.mutate(func() (bool, bool) {
		e.isProcessing = sessionID != ""
		e.sessionID = sessionID
		if !e.isProcessing && e.run.Active {
			e.run.Active = false
			e.run.FinishedAt = e.now()
		}
		e.observer.RunActive(e.isProcessing)
		return true, false
	})
}

// BeginRun marks a new run active before the worker's start event arrives
// and moves the given items to queued.
func (e *Engine) BeginRun(sessionID, provider, model string, itemIDs ...string) {
	e.mutate(func() (bool, bool) {
		e.run = Run{}
		e.startRunLocked(sessionID, provider, model)
		itemsChanged := false
		for _, id := range itemIDs {
			if idx := e.indexByIDLocked(id); idx >= 0 {
				e.items[idx].Status = StatusQueued
				e.items[idx].Progress = 0
				e.items[idx].Error = ""
				itemsChanged = true
			}
		}
		return true, itemsChanged
	})
}

// FinishRun records the worker's exit code. A worker that exits without a
// summary or fatal_error leaves in-flight items behind; they are failed so
// nothing stays processing forever.
func (e *Engine) FinishRun(exitCode int) {
	e.mutate(func() (bool, bool) {
		code := exitCode
		e.run.ExitCode = &code
		itemsChanged := false
		if e.isProcessing && !e.run.HasSummary && e.run.Fatal == "" {
			itemsChanged = e.failInFlightLocked(fmt.Sprintf("worker exited with code %d before finishing", exitCode))
		} else if e.isProcessing {
			e.endRunLocked()
		}
		return true, itemsChanged
	})
}

// CancelRun ends a stopped run. In-flight items among itemIDs return to idle
// so they can be resubmitted; events that arrive later are still applied.
func (e *Engine) CancelRun(itemIDs ...string) {
	e.mutate(func() (bool, bool) {
		reset := toSet(itemIDs)
		itemsChanged := false
		for i := range e.items {
			if _, ok := reset[e.items[i].ID]; !ok {
				continue
			}
			if e.items[i].Status.InFlight() {
				e.items[i].Status = StatusIdle
				e.items[i].Progress = 0
				itemsChanged = true
			}
		}
		e.run.Cancelled = true
		e.endRunLocked()
		return true, itemsChanged
	})
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func filterIDs(ids []string, keep func(string) bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
