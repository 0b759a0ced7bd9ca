package queue

import "math"

// Items returns a copy of the item list in queue order.
func (e *Engine) Items() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Item, len(e.items))
	for i, it := range e.items {
		out[i] = it.Clone()
	}
	return out
}

// ItemByPath returns the first item with the given path.
func (e *Engine) ItemByPath(path string) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.indexByPathLocked(path); idx >= 0 {
		return e.items[idx].Clone(), true
	}
	return Item{}, false
}

// ItemByID returns the item with the given id.
func (e *Engine) ItemByID(id string) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.indexByIDLocked(id); idx >= 0 {
		return e.items[idx].Clone(), true
	}
	return Item{}, false
}

// TotalDuration sums finite item durations in seconds.
func (e *Engine) TotalDuration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total float64
	for _, it := range e.items {
		if it.Duration == nil {
			continue
		}
		if d := *it.Duration; !math.IsNaN(d) && !math.IsInf(d, 0) {
			total += d
		}
	}
	return total
}

// CompletedCount returns the number of completed items.
func (e *Engine) CompletedCount() int {
	return e.countStatus(StatusCompleted)
}

// FailedCount returns the number of items in error.
func (e *Engine) FailedCount() int {
	return e.countStatus(StatusError)
}

// CountByStatus tallies items per status.
func (e *Engine) CountByStatus() map[Status]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[Status]int, len(allStatuses))
	for _, it := range e.items {
		counts[it.Status]++
	}
	return counts
}

func (e *Engine) countStatus(status Status) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, it := range e.items {
		if it.Status == status {
			n++
		}
	}
	return n
}

// CanStart reports whether a new run may begin: nothing is processing and
// at least one item is idle.
func (e *Engine) CanStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isProcessing {
		return false
	}
	for _, it := range e.items {
		if it.Status == StatusIdle {
			return true
		}
	}
	return false
}

// IdleItems returns the items eligible for the next run.
func (e *Engine) IdleItems() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Item
	for _, it := range e.items {
		if it.Status == StatusIdle {
			out = append(out, it.Clone())
		}
	}
	return out
}

// Selection returns the selected item ids.
func (e *Engine) Selection() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.selection...)
}

// IsProcessing reports whether a run is active.
func (e *Engine) IsProcessing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isProcessing
}

// CurrentSessionID returns the active session id, or "" when idle.
func (e *Engine) CurrentSessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Run returns the current or most recent run record.
func (e *Engine) Run() Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.clone()
}
