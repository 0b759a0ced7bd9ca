package queue

import (
	"math"

	"aura/internal/logging"
	"aura/internal/protocol"
)

// Apply reconciles one worker event against the item list. It never fails:
// events for unknown paths are logged and dropped, informational and
// unrecognized events are counted and otherwise ignored.
func (e *Engine) Apply(ev protocol.Event) {
	if ev == nil {
		return
	}
	kind := protocol.TypeOf(ev)

	e.mu.Lock()
	changed, itemsChanged, miss := e.applyLocked(ev)
	e.observer.EventApplied(kind)
	if miss != "" {
		e.mu.Unlock()
		e.observer.LookupMiss(kind)
		logging.WarnWithContext(e.logger, "event references unknown file", "queue_lookup_miss",
			logging.String(logging.FieldEvent, string(kind)),
			logging.String(logging.FieldFile, miss),
			logging.String(logging.FieldErrorHint, "file was not queued in this client"),
			logging.String(logging.FieldImpact, "event ignored"),
		)
		return
	}
	if !changed {
		e.mu.Unlock()
		return
	}
	snap, fns := e.commitLocked(itemsChanged)
	e.mu.Unlock()
	notify(snap, fns)
}

// applyLocked returns the path of the missing item on a lookup miss.
func (e *Engine) applyLocked(ev protocol.Event) (changed, itemsChanged bool, miss string) {
	switch ev := ev.(type) {
	case *protocol.StartEvent:
		e.startRunLocked(ev.SessionID, ev.Provider, ev.Model)
		return true, false, ""

	case *protocol.FileStartedEvent:
		idx := e.indexByPathLocked(ev.File)
		if idx < 0 {
			return false, false, ev.File
		}
		it := &e.items[idx]
		it.Status = StatusProcessing
		it.Progress = 0
		it.Error = ""
		return true, true, ""

	case *protocol.FileProgressEvent:
		idx := e.indexByPathLocked(ev.File)
		if idx < 0 {
			return false, false, ev.File
		}
		it := &e.items[idx]
		it.Status = StatusProcessing
		it.Progress = clampProgress(ev.Progress)
		it.RTFx = finitePtr(ev.RTFx)
		return true, true, ""

	case *protocol.FileDoneEvent:
		idx := e.indexByPathLocked(ev.File)
		if idx < 0 {
			return false, false, ev.File
		}
		it := &e.items[idx]
		it.Status = StatusCompleted
		it.Progress = 100
		it.Duration = finitePtr(ev.DurationSeconds)
		it.RTFx = finitePtr(ev.RTFx)
		it.TranscriptPath = ev.Output.TXT
		it.JSONPath = ev.Output.JSON
		it.Error = ""
		e.observer.FileFinished(OutcomeSuccess)
		return true, true, ""

	case *protocol.FileSkippedEvent:
		idx := e.indexByPathLocked(ev.File)
		if idx < 0 {
			return false, false, ev.File
		}
		it := &e.items[idx]
		it.Status = StatusCompleted
		it.Progress = 100
		if ev.Output != nil {
			if ev.Output.TXT != "" {
				it.TranscriptPath = ev.Output.TXT
			}
			if ev.Output.JSON != "" {
				it.JSONPath = ev.Output.JSON
			}
		}
		e.observer.FileFinished(OutcomeSkipped)
		return true, true, ""

	case *protocol.FileFailedEvent:
		idx := e.indexByPathLocked(ev.File)
		if idx < 0 {
			return false, false, ev.File
		}
		it := &e.items[idx]
		it.Status = StatusError
		it.Error = ev.Error
		e.observer.FileFinished(OutcomeFailed)
		return true, true, ""

	case *protocol.FileRetryEvent:
		idx := e.indexByPathLocked(ev.File)
		if idx < 0 {
			return false, false, ev.File
		}
		it := &e.items[idx]
		it.Status = StatusQueued
		it.Error = ""
		return true, true, ""

	case *protocol.SummaryEvent:
		e.applySummaryLocked(ev)
		return true, false, ""

	case *protocol.FatalErrorEvent:
		return true, e.failInFlightLocked(ev.Error), ""
	}
	// scanned, models_loaded, ffmpeg_status, manifest_loaded, report_*,
	// manifest_validation_error, install events, and unknown tags.
	return false, false, ""
}

func (e *Engine) startRunLocked(sessionID, provider, model string) {
	if e.run.SessionID != sessionID || !e.run.Active {
		e.run = Run{SessionID: sessionID, StartedAt: e.now()}
	}
	if provider != "" {
		e.run.Provider = provider
	}
	if model != "" {
		e.run.Model = model
	}
	e.run.Active = true
	e.isProcessing = true
	e.sessionID = sessionID
	e.observer.RunActive(true)
}

func (e *Engine) endRunLocked() {
	e.isProcessing = false
	e.sessionID = ""
	if e.run.Active {
		e.run.Active = false
		e.run.FinishedAt = e.now()
	}
	e.observer.RunActive(false)
}

func (e *Engine) applySummaryLocked(ev *protocol.SummaryEvent) {
	processed := max(ev.Processed, 0)
	skipped := max(ev.Skipped, 0)
	failed := max(ev.Failed, 0)
	total := max(ev.Total, processed+skipped+failed)

	e.run.Total = total
	e.run.Processed = processed
	e.run.Skipped = skipped
	e.run.Failed = failed
	if !math.IsNaN(ev.DurationSeconds) && !math.IsInf(ev.DurationSeconds, 0) {
		e.run.DurationSeconds = ev.DurationSeconds
	}
	e.run.Failures = append([]protocol.Failure(nil), ev.Failures...)
	e.run.HasSummary = true
	e.endRunLocked()
}

// failInFlightLocked forces every processing or queued item to error and
// clears the run. It is safe to call when no run is active.
func (e *Engine) failInFlightLocked(message string) bool {
	itemsChanged := false
	for i := range e.items {
		if e.items[i].Status.InFlight() {
			e.items[i].Status = StatusError
			e.items[i].Error = message
			e.observer.FileFinished(OutcomeFailed)
			itemsChanged = true
		}
	}
	if message != "" {
		e.run.Fatal = message
	}
	e.endRunLocked()
	return itemsChanged
}

func clampProgress(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return int(math.Round(v))
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// OutcomeOf extracts the terminal per-file result carried by ev, if any.
func OutcomeOf(ev protocol.Event) (string, FileOutcome, bool) {
	switch ev := ev.(type) {
	case *protocol.FileDoneEvent:
		return ev.File, FileOutcome{Status: OutcomeSuccess, TranscriptPath: ev.Output.TXT, JSONPath: ev.Output.JSON}, true
	case *protocol.FileSkippedEvent:
		out := FileOutcome{Status: OutcomeSkipped, Error: ev.Reason}
		if ev.Output != nil {
			out.TranscriptPath = ev.Output.TXT
			out.JSONPath = ev.Output.JSON
		}
		return ev.File, out, true
	case *protocol.FileFailedEvent:
		return ev.File, FileOutcome{Status: OutcomeFailed, Error: ev.Error}, true
	}
	return "", FileOutcome{}, false
}
