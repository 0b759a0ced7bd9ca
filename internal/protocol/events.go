package protocol

import (
	"encoding/json"
	"time"
)

// EventType is the wire tag carried in every event's "event" field.
type EventType string

const (
	EventStart                   EventType = "start"
	EventScanned                 EventType = "scanned"
	EventModelsLoaded            EventType = "models_loaded"
	EventFFmpegStatus            EventType = "ffmpeg_status"
	EventManifestLoaded          EventType = "manifest_loaded"
	EventFileStarted             EventType = "file_started"
	EventFileProgress            EventType = "file_progress"
	EventFileDone                EventType = "file_done"
	EventFileSkipped             EventType = "file_skipped"
	EventFileFailed              EventType = "file_failed"
	EventFileRetry               EventType = "file_retry"
	EventSummary                 EventType = "summary"
	EventReportWritten           EventType = "report_written"
	EventReportWriteFailed       EventType = "report_write_failed"
	EventFatalError              EventType = "fatal_error"
	EventManifestValidationError EventType = "manifest_validation_error"
	EventInstalledModels         EventType = "installed_models"
	EventResolved                EventType = "resolved"
	EventInstallStarted          EventType = "install_started"
	EventInstallDone             EventType = "install_done"
)

// AllEventTypes lists every known event tag in protocol order.
func AllEventTypes() []EventType {
	return []EventType{
		EventStart, EventScanned, EventModelsLoaded, EventFFmpegStatus, EventManifestLoaded,
		EventFileStarted, EventFileProgress, EventFileDone, EventFileSkipped, EventFileFailed,
		EventFileRetry, EventSummary, EventReportWritten, EventReportWriteFailed, EventFatalError,
		EventManifestValidationError, EventInstalledModels, EventResolved, EventInstallStarted,
		EventInstallDone,
	}
}

// Known reports whether t is one of the protocol's event tags.
func (t EventType) Known() bool {
	_, ok := variants[t]
	return ok
}

// TimestampLayout is the wire format for event timestamps: UTC with
// microsecond precision and a literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp marshals as TimestampLayout. Unmarshalling never fails: values
// that are absent, not strings, or unparseable decode to the zero time.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed.UTC()
	return nil
}

// Event is implemented by pointers to every event struct in this package.
type Event interface {
	Type() EventType
	Time() time.Time
	header() *Header
}

// Header carries the fields shared by every event.
type Header struct {
	Event     EventType `json:"event"`
	Timestamp Timestamp `json:"timestamp"`
}

func (h *Header) Type() EventType  { return h.Event }
func (h *Header) Time() time.Time  { return h.Timestamp.Time }
func (h *Header) header() *Header { return h }

// Output lists transcript artifacts written for one file.
type Output struct {
	TXT  string `json:"txt,omitempty"`
	JSON string `json:"json,omitempty"`
}

// Failure is one entry of a summary's failure list.
type Failure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type StartEvent struct {
	Header
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

type ScannedEvent struct {
	Header
	Total int `json:"total"`
}

type ModelsLoadedEvent struct {
	Header
}

type FFmpegStatusEvent struct {
	Header
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
}

type ManifestLoadedEvent struct {
	Header
	Total int    `json:"total"`
	Path  string `json:"path,omitempty"`
}

type FileStartedEvent struct {
	Header
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	File     string `json:"file"`
	Relative string `json:"relative"`
}

type FileProgressEvent struct {
	Header
	Index    int     `json:"index"`
	File     string  `json:"file"`
	Progress float64 `json:"progress"`
	RTFx     float64 `json:"rtfx"`
}

type FileDoneEvent struct {
	Header
	Index             int     `json:"index"`
	File              string  `json:"file"`
	DurationSeconds   float64 `json:"duration_seconds"`
	ProcessingSeconds float64 `json:"processing_seconds"`
	RTFx              float64 `json:"rtfx"`
	Confidence        float64 `json:"confidence"`
	Output            Output  `json:"output"`
}

// FileSkippedEvent.Output is nil when the worker did not report outputs.
type FileSkippedEvent struct {
	Header
	Index  int     `json:"index"`
	File   string  `json:"file"`
	Reason string  `json:"reason"`
	Output *Output `json:"output,omitempty"`
}

type FileFailedEvent struct {
	Header
	Index    int    `json:"index"`
	File     string `json:"file"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

type FileRetryEvent struct {
	Header
	Index   int    `json:"index"`
	File    string `json:"file"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}

type SummaryEvent struct {
	Header
	Total           int       `json:"total"`
	Processed       int       `json:"processed"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	DurationSeconds float64   `json:"duration_seconds"`
	Failures        []Failure `json:"failures"`
}

type ReportWrittenEvent struct {
	Header
	Path string `json:"path"`
}

type ReportWriteFailedEvent struct {
	Header
	Path  string `json:"path"`
	Error string `json:"error"`
}

type FatalErrorEvent struct {
	Header
	Error string `json:"error"`
}

type ManifestValidationErrorEvent struct {
	Header
	Error string `json:"error"`
}

type InstalledModelsEvent struct {
	Header
	Models []string `json:"models"`
}

type ResolvedEvent struct {
	Header
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type InstallStartedEvent struct {
	Header
	Model string `json:"model"`
}

type InstallDoneEvent struct {
	Header
	Model string `json:"model"`
}

// UnknownEvent is produced by lenient decoding for tags this build does not
// recognize. Raw holds the original line.
type UnknownEvent struct {
	Header
	Raw json.RawMessage `json:"-"`
}

// Capabilities is the static description a worker prints for --capabilities.
type Capabilities struct {
	SupportedModels    []string `json:"supported_models"`
	SupportedFormats   []string `json:"supported_formats"`
	MaxFileSize        *int64   `json:"max_file_size,omitempty"`
	ConcurrentFiles    *int     `json:"concurrent_files,omitempty"`
	WordTimestamps     *bool    `json:"word_timestamps,omitempty"`
	SpeakerDiarization *bool    `json:"speaker_diarization,omitempty"`
	LanguageDetection  *bool    `json:"language_detection,omitempty"`
	Translation        *bool    `json:"translation,omitempty"`
	Languages          []string `json:"languages"`
	SpeedEstimate      *float64 `json:"speed_estimate,omitempty"`
}

// TypeOf returns the tag of ev, derived from its concrete type when the
// header has not been stamped yet.
func TypeOf(ev Event) EventType {
	if t := ev.Type(); t != "" {
		return t
	}
	switch ev.(type) {
	case *StartEvent:
		return EventStart
	case *ScannedEvent:
		return EventScanned
	case *ModelsLoadedEvent:
		return EventModelsLoaded
	case *FFmpegStatusEvent:
		return EventFFmpegStatus
	case *ManifestLoadedEvent:
		return EventManifestLoaded
	case *FileStartedEvent:
		return EventFileStarted
	case *FileProgressEvent:
		return EventFileProgress
	case *FileDoneEvent:
		return EventFileDone
	case *FileSkippedEvent:
		return EventFileSkipped
	case *FileFailedEvent:
		return EventFileFailed
	case *FileRetryEvent:
		return EventFileRetry
	case *SummaryEvent:
		return EventSummary
	case *ReportWrittenEvent:
		return EventReportWritten
	case *ReportWriteFailedEvent:
		return EventReportWriteFailed
	case *FatalErrorEvent:
		return EventFatalError
	case *ManifestValidationErrorEvent:
		return EventManifestValidationError
	case *InstalledModelsEvent:
		return EventInstalledModels
	case *ResolvedEvent:
		return EventResolved
	case *InstallStartedEvent:
		return EventInstallStarted
	case *InstallDoneEvent:
		return EventInstallDone
	}
	return ""
}
