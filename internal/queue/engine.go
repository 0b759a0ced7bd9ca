package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"aura/internal/logging"
	"aura/internal/protocol"
)

// DefaultDebounce is the persistence coalescing window.
const DefaultDebounce = 500 * time.Millisecond

// Observer receives reconciliation signals for metrics. Implementations must
// not call back into the Engine.
type Observer interface {
	EventApplied(event protocol.EventType)
	LookupMiss(event protocol.EventType)
	FileFinished(outcome string)
	RunActive(active bool)
}

type nopObserver struct{}

func (nopObserver) EventApplied(protocol.EventType) {}
func (nopObserver) LookupMiss(protocol.EventType)   {}
func (nopObserver) FileFinished(string)             {}
func (nopObserver) RunActive(bool)                  {}

// Listener is invoked with a fresh snapshot after every mutation.
type Listener func(Snapshot)

type listenerEntry struct {
	id int
	fn Listener
}

// Engine is the queue reconciliation state machine. The zero value is not
// usable; construct with New.
type Engine struct {
	mu sync.Mutex

	items        []Item
	selection    []string
	isProcessing bool
	sessionID    string
	run          Run

	listeners []listenerEntry
	nextID    int

	logger   *slog.Logger
	observer Observer
	newID    func() string
	now      func() time.Time

	storage  Storage
	debounce time.Duration
	timer    *time.Timer
	pending  uint64
	closed   bool
	saveMu   sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.NewComponentLogger(logger, "queue")
	}
}

// WithStorage enables debounced persistence of the item list.
func WithStorage(storage Storage) Option {
	return func(e *Engine) { e.storage = storage }
}

// WithDebounce overrides the persistence window. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// WithIDGenerator overrides item id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   logging.NewComponentLogger(nil, "queue"),
		observer: nopObserver{},
		newID:    uuid.NewString,
		now:      time.Now,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers fn for change notifications. Listeners run in
// registration order on the mutating goroutine and must not mutate the
// engine. The returned function unregisters fn.
func (e *Engine) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, l := range e.listeners {
				if l.id == id {
					e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	items := make([]Item, len(e.items))
	for i, it := range e.items {
		items[i] = it.Clone()
	}
	return Snapshot{
		Items:            items,
		Selection:        append([]string{}, e.selection...),
		IsProcessing:     e.isProcessing,
		CurrentSessionID: e.sessionID,
		Run:              e.run.clone(),
	}
}

// commitLocked schedules persistence when items changed and returns the
// listeners to notify along with the snapshot they should receive. Callers
// must hold e.mu and invoke notify after unlocking.
func (e *Engine) commitLocked(itemsChanged bool) (Snapshot, []Listener) {
	if itemsChanged {
		e.schedulePersistLocked()
	}
	if len(e.listeners) == 0 {
		return Snapshot{}, nil
	}
	fns := make([]Listener, len(e.listeners))
	for i, l := range e.listeners {
		fns[i] = l.fn
	}
	return e.snapshotLocked(), fns
}

func notify(snap Snapshot, fns []Listener) {
	for _, fn := range fns {
		fn(snap)
	}
}

// mutate runs fn under the lock. fn reports whether state changed and whether
// the item list changed; listeners are notified only on change.
func (e *Engine) mutate(fn func() (changed, itemsChanged bool)) {
	e.mu.Lock()
	changed, itemsChanged := fn()
	if !changed {
		e.mu.Unlock()
		return
	}
	snap, fns := e.commitLocked(itemsChanged)
	e.mu.Unlock()
	notify(snap, fns)
}

func (e *Engine) indexByPathLocked(path string) int {
	for i := range e.items {
		if e.items[i].Path == path {
			return i
		}
	}
	return -1
}

func (e *Engine) indexByIDLocked(id string) int {
	for i := range e.items {
		if e.items[i].ID == id {
			return i
		}
	}
	return -1
}
