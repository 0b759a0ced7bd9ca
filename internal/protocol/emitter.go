package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Emitter writes events as NDJSON, one Write per line. It is safe for
// concurrent use.
type Emitter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter returns an Emitter writing to w.
func NewEmitter(w io.Writer, opts ...EmitterOption) *Emitter {
	e := &Emitter{w: w, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit stamps ev with its tag and the current time, writes it, and flushes
// the writer when it supports Flush or Sync.
func (e *Emitter) Emit(ev Event) error {
	if e == nil || ev == nil {
		return nil
	}
	h := ev.header()
	if h.Event == "" {
		h.Event = TypeOf(ev)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h.Timestamp = Timestamp{e.now().UTC()}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", h.Event, err)
	}
	payload = append(payload, '\n')
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("write %s event: %w", h.Event, err)
	}
	switch f := e.w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Sync() error }:
		// Sync fails on pipes and terminals; the write itself already landed.
		_ = f.Sync()
	}
	return nil
}

func (e *Emitter) Start(sessionID, provider, model string) error {
	return e.Emit(&StartEvent{SessionID: sessionID, Provider: provider, Model: model})
}

func (e *Emitter) Scanned(total int) error {
	return e.Emit(&ScannedEvent{Total: total})
}

func (e *Emitter) ModelsLoaded() error {
	return e.Emit(&ModelsLoadedEvent{})
}

func (e *Emitter) FFmpegStatus(available bool, path string) error {
	return e.Emit(&FFmpegStatusEvent{Available: available, Path: path})
}

func (e *Emitter) ManifestLoaded(total int, path string) error {
	return e.Emit(&ManifestLoadedEvent{Total: total, Path: path})
}

func (e *Emitter) FileStarted(index, total int, file, relative string) error {
	return e.Emit(&FileStartedEvent{Index: index, Total: total, File: file, Relative: relative})
}

func (e *Emitter) FileProgress(index int, file string, progress, rtfx float64) error {
	return e.Emit(&FileProgressEvent{Index: index, File: file, Progress: progress, RTFx: rtfx})
}

func (e *Emitter) FileDone(ev FileDoneEvent) error {
	return e.Emit(&ev)
}

func (e *Emitter) FileSkipped(index int, file, reason string, output *Output) error {
	return e.Emit(&FileSkippedEvent{Index: index, File: file, Reason: reason, Output: output})
}

func (e *Emitter) FileFailed(index int, file, errMsg string, attempts int) error {
	return e.Emit(&FileFailedEvent{Index: index, File: file, Error: errMsg, Attempts: attempts})
}

func (e *Emitter) FileRetry(index int, file string, attempt int, reason string) error {
	return e.Emit(&FileRetryEvent{Index: index, File: file, Attempt: attempt, Reason: reason})
}

// Summary always writes a failures array, even when empty.
func (e *Emitter) Summary(total, processed, skipped, failed int, duration float64, failures []Failure) error {
	if failures == nil {
		failures = []Failure{}
	}
	return e.Emit(&SummaryEvent{
		Total: total, Processed: processed, Skipped: skipped, Failed: failed,
		DurationSeconds: duration, Failures: failures,
	})
}

func (e *Emitter) ReportWritten(path string) error {
	return e.Emit(&ReportWrittenEvent{Path: path})
}

func (e *Emitter) ReportWriteFailed(path, errMsg string) error {
	return e.Emit(&ReportWriteFailedEvent{Path: path, Error: errMsg})
}

func (e *Emitter) FatalError(errMsg string) error {
	return e.Emit(&FatalErrorEvent{Error: errMsg})
}

func (e *Emitter) ManifestValidationError(errMsg string) error {
	return e.Emit(&ManifestValidationErrorEvent{Error: errMsg})
}
