package queue

import (
	"time"

	"aura/internal/protocol"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusIdle,
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusError,
}

// AllStatuses returns every item status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, candidate := range allStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// InFlight reports whether an item in this status belongs to a running batch.
func (s Status) InFlight() bool {
	return s == StatusProcessing || s == StatusQueued
}

// AudioMetadata captures optional ffprobe details for an input file.
type AudioMetadata struct {
	Codec      string `json:"codec,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Item is one input audio file. Path is unique across the engine's list.
type Item struct {
	ID             string         `json:"id"`
	Path           string         `json:"path"`
	Name           string         `json:"name"`
	RelativePath   string         `json:"relativePath,omitempty"`
	Size           int64          `json:"size"`
	Duration       *float64       `json:"duration,omitempty"`
	Format         string         `json:"format,omitempty"`
	Status         Status         `json:"status"`
	Progress       int            `json:"progress"`
	RTFx           *float64       `json:"rtfx,omitempty"`
	Error          string         `json:"error,omitempty"`
	TranscriptPath string         `json:"transcriptPath,omitempty"`
	JSONPath       string         `json:"jsonPath,omitempty"`
	Metadata       *AudioMetadata `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	if it.Duration != nil {
		v := *it.Duration
		out.Duration = &v
	}
	if it.RTFx != nil {
		v := *it.RTFx
		out.RTFx = &v
	}
	if it.Metadata != nil {
		m := *it.Metadata
		out.Metadata = &m
	}
	return out
}

// Patch is a partial update for UpdateItem. Nil fields are left untouched.
// ID and Path are not patchable.
type Patch struct {
	Name           *string
	RelativePath   *string
	Size           *int64
	Duration       *float64
	Format         *string
	Status         *Status
	Progress       *int
	RTFx           *float64
	Error          *string
	TranscriptPath *string
	JSONPath       *string
	Metadata       *AudioMetadata
}

// Run records the current or most recent worker invocation.
type Run struct {
	SessionID       string             `json:"sessionId"`
	Provider        string             `json:"provider"`
	Model           string             `json:"model"`
	Active          bool               `json:"active"`
	StartedAt       time.Time          `json:"startedAt"`
	FinishedAt      time.Time          `json:"finishedAt,omitzero"`
	Total           int                `json:"total"`
	Processed       int                `json:"processed"`
	Skipped         int                `json:"skipped"`
	Failed          int                `json:"failed"`
	DurationSeconds float64            `json:"durationSeconds"`
	Failures        []protocol.Failure `json:"failures,omitempty"`
	HasSummary      bool               `json:"hasSummary"`
	ExitCode        *int               `json:"exitCode,omitempty"`
	Fatal           string             `json:"fatal,omitempty"`
	Cancelled       bool               `json:"cancelled,omitempty"`
}

func (r Run) clone() Run {
	out := r
	if r.Failures != nil {
		out.Failures = append([]protocol.Failure(nil), r.Failures...)
	}
	if r.ExitCode != nil {
		code := *r.ExitCode
		out.ExitCode = &code
	}
	return out
}

// Snapshot is an immutable copy of the engine state handed to subscribers.
type Snapshot struct {
	Items            []Item
	Selection        []string
	IsProcessing     bool
	CurrentSessionID string
	Run              Run
}

// FileOutcome is the terminal result of one file within a run.
type FileOutcome struct {
	Status         string `json:"status"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	JSONPath       string `json:"jsonPath,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Outcome statuses recorded per file.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)
