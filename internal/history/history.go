// Package history archives finished runs and serves them back for review.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"aura/internal/fileutil"
	"aura/internal/logging"
	"aura/internal/manifest"
	"aura/internal/queue"
	"aura/internal/store"
)

// Session statuses recorded for archived runs.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Summary carries the worker's summary counters for a run.
type Summary struct {
	Total           int
	Processed       int
	Skipped         int
	Failed          int
	DurationSeconds float64
}

// SummaryFromRun extracts the summary recorded by the engine, if any.
func SummaryFromRun(run queue.Run) *Summary {
	if !run.HasSummary {
		return nil
	}
	return &Summary{
		Total:           run.Total,
		Processed:       run.Processed,
		Skipped:         run.Skipped,
		Failed:          run.Failed,
		DurationSeconds: run.DurationSeconds,
	}
}

// StatusForExit maps a worker exit to a session status. Exit codes 0 and 2
// (partial failure) count as completed.
func StatusForExit(exitCode int, cancelled bool) string {
	switch {
	case cancelled:
		return StatusCancelled
	case exitCode == 0 || exitCode == 2:
		return StatusCompleted
	default:
		return StatusFailed
	}
}

// Archive is the input for Service.Archive.
type Archive struct {
	ManifestPath string
	// Manifest is used when non-nil; otherwise ManifestPath is loaded.
	Manifest *manifest.Session
	Summary  *Summary
	ExitCode int
	Status   string
	Outcomes map[string]queue.FileOutcome
}

// Service archives sessions into the store.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService constructs a history service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logging.NewComponentLogger(logger, "history")}
}

// Archive records a finished run.
func (s *Service) Archive(ctx context.Context, in Archive) (store.Session, error) {
	session := in.Manifest
	if session == nil {
		loaded, err := manifest.Load(in.ManifestPath)
		if err != nil {
			return store.Session{}, err
		}
		session = &loaded
	}
	record := BuildRecord(in.ManifestPath, *session, in.Summary, in.ExitCode, in.Status, in.Outcomes)
	if err := s.store.SaveSession(ctx, record); err != nil {
		return store.Session{}, err
	}
	logger := logging.WithContext(ctx, s.logger)
	if _, ok := logging.SessionFromContext(ctx); !ok {
		logger = logger.With(logging.String(logging.FieldSessionID, record.ID))
	}
	logger.Info("session archived",
		logging.String("status", record.Status),
		logging.Int("files", len(record.Files)),
	)
	return record, nil
}

// List returns archived sessions, newest first.
func (s *Service) List(ctx context.Context) ([]store.Session, error) {
	return s.store.ListSessions(ctx)
}

// Get returns one archived session.
func (s *Service) Get(ctx context.Context, id string) (store.Session, error) {
	return s.store.GetSession(ctx, strings.TrimSpace(id))
}

// Delete removes one archived session together with its manifest and log.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is empty")
	}
	record, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	if record.ManifestPath == "" {
		return nil
	}
	for _, path := range []string{record.ManifestPath, manifest.LogPath(record.ManifestPath)} {
		if err := fileutil.RemoveIfExists(path); err != nil {
			s.logger.Warn("failed to remove session file",
				logging.String(logging.FieldSessionID, id),
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
	return nil
}

// BuildRecord assembles the archived form of a run. Files without an
// outcome inherit cancelled or failed from the session status, otherwise
// keep their manifest status. Without a worker summary the counters are
// derived from the per-file statuses.
func BuildRecord(manifestPath string, session manifest.Session, summary *Summary, exitCode int, status string, outcomes map[string]queue.FileOutcome) store.Session {
	files := make([]store.SessionFile, 0, len(session.Files))
	for _, entry := range session.Files {
		file := store.SessionFile{
			ID:   entry.ID,
			Path: entry.Path,
			Name: filepath.Base(entry.Path),
		}
		if outcome, ok := outcomes[entry.Path]; ok {
			file.Status = outcome.Status
			file.TranscriptPath = outcome.TranscriptPath
			file.JSONPath = outcome.JSONPath
			file.Error = outcome.Error
		} else {
			switch status {
			case StatusCancelled, StatusFailed:
				file.Status = status
			default:
				file.Status = entry.Status
			}
		}
		files = append(files, file)
	}

	counts := summarizeFiles(files)
	if summary != nil {
		counts = *summary
	}
	if math.IsNaN(counts.DurationSeconds) || math.IsInf(counts.DurationSeconds, 0) {
		counts.DurationSeconds = 0
	}

	return store.Session{
		ID:              session.SessionID,
		CreatedAt:       session.CreatedTime().Unix(),
		Provider:        session.Provider,
		Model:           session.Model,
		OutputDir:       session.OutputDir,
		ManifestPath:    manifestPath,
		Total:           counts.Total,
		Processed:       counts.Processed,
		Skipped:         counts.Skipped,
		Failed:          counts.Failed,
		DurationSeconds: counts.DurationSeconds,
		ExitCode:        exitCode,
		Status:          status,
		Files:           files,
	}
}

func summarizeFiles(files []store.SessionFile) Summary {
	s := Summary{Total: len(files)}
	for _, f := range files {
		switch f.Status {
		case queue.OutcomeSuccess:
			s.Processed++
		case queue.OutcomeSkipped:
			s.Skipped++
		case queue.OutcomeFailed:
			s.Failed++
		}
	}
	return s
}
