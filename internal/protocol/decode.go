package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Mode selects how unknown event tags are treated.
type Mode int

const (
	// Lenient passes unknown events through as *UnknownEvent.
	Lenient Mode = iota
	// Strict reports unknown events as errors and requires a string timestamp.
	Strict
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "lenient"
}

// ErrorKind classifies a rejected line.
type ErrorKind string

const (
	KindParse        ErrorKind = "parse"
	KindSchema       ErrorKind = "schema"
	KindUnknownEvent ErrorKind = "unknown_event"
)

// LineError describes why one NDJSON line was rejected. Line is 1-based.
type LineError struct {
	Line   int       `json:"line"`
	Kind   ErrorKind `json:"kind"`
	Field  string    `json:"field,omitempty"`
	Reason string    `json:"reason"`
}

func (e *LineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("line %d: %s: %s: %s", e.Line, e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Kind, e.Reason)
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindInt
	kindBool
	kindOutput
	kindFailures
	kindStringList
)

type field struct {
	name     string
	kind     fieldKind
	optional bool
}

type variant struct {
	fields []field
	alloc  func() Event
}

func req(name string, kind fieldKind) field { return field{name: name, kind: kind} }
func opt(name string, kind fieldKind) field { return field{name: name, kind: kind, optional: true} }

var variants = map[EventType]variant{
	EventStart: {
		fields: []field{req("session_id", kindString), req("provider", kindString), req("model", kindString)},
		alloc:  func() Event { return &StartEvent{} },
	},
	EventScanned: {
		fields: []field{req("total", kindInt)},
		alloc:  func() Event { return &ScannedEvent{} },
	},
	EventModelsLoaded: {
		alloc: func() Event { return &ModelsLoadedEvent{} },
	},
	EventFFmpegStatus: {
		fields: []field{req("available", kindBool), opt("path", kindString)},
		alloc:  func() Event { return &FFmpegStatusEvent{} },
	},
	EventManifestLoaded: {
		fields: []field{req("total", kindInt), opt("path", kindString)},
		alloc:  func() Event { return &ManifestLoadedEvent{} },
	},
	EventFileStarted: {
		fields: []field{req("index", kindInt), req("total", kindInt), req("file", kindString), req("relative", kindString)},
		alloc:  func() Event { return &FileStartedEvent{} },
	},
	EventFileProgress: {
		fields: []field{req("index", kindInt), req("file", kindString), req("progress", kindNumber), req("rtfx", kindNumber)},
		alloc:  func() Event { return &FileProgressEvent{} },
	},
	EventFileDone: {
		fields: []field{
			req("index", kindInt), req("file", kindString), req("duration_seconds", kindNumber),
			req("processing_seconds", kindNumber), req("rtfx", kindNumber), req("confidence", kindNumber),
			req("output", kindOutput),
		},
		alloc: func() Event { return &FileDoneEvent{} },
	},
	EventFileSkipped: {
		fields: []field{req("index", kindInt), req("file", kindString), req("reason", kindString), opt("output", kindOutput)},
		alloc:  func() Event { return &FileSkippedEvent{} },
	},
	EventFileFailed: {
		fields: []field{req("index", kindInt), req("file", kindString), req("error", kindString), req("attempts", kindInt)},
		alloc:  func() Event { return &FileFailedEvent{} },
	},
	EventFileRetry: {
		fields: []field{req("index", kindInt), req("file", kindString), req("attempt", kindInt), req("reason", kindString)},
		alloc:  func() Event { return &FileRetryEvent{} },
	},
	EventSummary: {
		fields: []field{
			req("total", kindInt), req("processed", kindInt), req("skipped", kindInt), req("failed", kindInt),
			req("duration_seconds", kindNumber), req("failures", kindFailures),
		},
		alloc: func() Event { return &SummaryEvent{} },
	},
	EventReportWritten: {
		fields: []field{req("path", kindString)},
		alloc:  func() Event { return &ReportWrittenEvent{} },
	},
	EventReportWriteFailed: {
		fields: []field{req("path", kindString), req("error", kindString)},
		alloc:  func() Event { return &ReportWriteFailedEvent{} },
	},
	EventFatalError: {
		fields: []field{req("error", kindString)},
		alloc:  func() Event { return &FatalErrorEvent{} },
	},
	EventManifestValidationError: {
		fields: []field{req("error", kindString)},
		alloc:  func() Event { return &ManifestValidationErrorEvent{} },
	},
	EventInstalledModels: {
		fields: []field{req("models", kindStringList)},
		alloc:  func() Event { return &InstalledModelsEvent{} },
	},
	EventResolved: {
		fields: []field{req("provider", kindString), req("model", kindString)},
		alloc:  func() Event { return &ResolvedEvent{} },
	},
	EventInstallStarted: {
		fields: []field{req("model", kindString)},
		alloc:  func() Event { return &InstallStartedEvent{} },
	},
	EventInstallDone: {
		fields: []field{req("model", kindString)},
		alloc:  func() Event { return &InstallDoneEvent{} },
	},
}

// Decode validates one NDJSON line and returns the typed event. Blank lines
// yield (nil, nil). In Lenient mode an unrecognized tag yields *UnknownEvent.
func Decode(line []byte, lineNo int, mode Mode) (Event, *LineError) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &LineError{Line: lineNo, Kind: KindParse, Reason: err.Error()}
	}
	if dec.More() {
		return nil, &LineError{Line: lineNo, Kind: KindParse, Reason: "trailing data after JSON value"}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &LineError{Line: lineNo, Kind: KindSchema, Reason: "line is not a JSON object"}
	}

	tagValue, present := obj["event"]
	if !present {
		return nil, &LineError{Line: lineNo, Kind: KindSchema, Field: "event", Reason: "missing required field"}
	}
	tag, ok := tagValue.(string)
	if !ok || strings.TrimSpace(tag) == "" {
		return nil, &LineError{Line: lineNo, Kind: KindSchema, Field: "event", Reason: "must be a non-empty string"}
	}

	spec, known := variants[EventType(tag)]
	if !known {
		if mode == Strict {
			return nil, &LineError{Line: lineNo, Kind: KindUnknownEvent, Field: "event", Reason: fmt.Sprintf("unknown event %q", tag)}
		}
		unknown := &UnknownEvent{Raw: append(json.RawMessage(nil), trimmed...)}
		unknown.Event = EventType(tag)
		if ts, ok := obj["timestamp"]; ok {
			if encoded, err := json.Marshal(ts); err == nil {
				_ = unknown.Timestamp.UnmarshalJSON(encoded)
			}
		}
		return unknown, nil
	}

	for _, f := range spec.fields {
		if reason := checkField(obj, f); reason != "" {
			return nil, &LineError{Line: lineNo, Kind: KindSchema, Field: f.name, Reason: reason}
		}
	}

	if mode == Strict {
		ts, present := obj["timestamp"]
		if !present {
			return nil, &LineError{Line: lineNo, Kind: KindSchema, Field: "timestamp", Reason: "missing required field"}
		}
		if _, ok := ts.(string); !ok {
			return nil, &LineError{Line: lineNo, Kind: KindSchema, Field: "timestamp", Reason: "must be a string"}
		}
	}

	ev := spec.alloc()
	if err := json.Unmarshal(trimmed, ev); err != nil {
		return nil, &LineError{Line: lineNo, Kind: KindSchema, Reason: err.Error()}
	}
	return ev, nil
}

func checkField(obj map[string]any, f field) string {
	value, present := obj[f.name]
	if !present || value == nil {
		if f.optional {
			return ""
		}
		return "missing required field"
	}
	switch f.kind {
	case kindString:
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case kindBool:
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case kindNumber:
		return checkNumber(value, false)
	case kindInt:
		return checkNumber(value, true)
	case kindOutput:
		out, ok := value.(map[string]any)
		if !ok {
			return "must be an object"
		}
		for _, key := range []string{"txt", "json"} {
			if v, ok := out[key]; ok && v != nil {
				if _, isString := v.(string); !isString {
					return key + " must be a string"
				}
			}
		}
	case kindFailures:
		list, ok := value.([]any)
		if !ok {
			return "must be an array"
		}
		for i, entry := range list {
			rec, ok := entry.(map[string]any)
			if !ok {
				return fmt.Sprintf("entry %d must be an object", i)
			}
			for _, key := range []string{"file", "error"} {
				if _, isString := rec[key].(string); !isString {
					return fmt.Sprintf("entry %d: %s must be a string", i, key)
				}
			}
		}
	case kindStringList:
		list, ok := value.([]any)
		if !ok {
			return "must be an array"
		}
		for i, entry := range list {
			if _, ok := entry.(string); !ok {
				return fmt.Sprintf("entry %d must be a string", i)
			}
		}
	}
	return ""
}

func checkNumber(value any, integral bool) string {
	num, ok := value.(json.Number)
	if !ok {
		return "must be a number"
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "must be a finite number"
	}
	if integral {
		if _, err := num.Int64(); err != nil {
			return "must be an integer"
		}
	}
	return ""
}

// Report is the outcome of validating a batch of lines.
type Report struct {
	Valid  bool        `json:"valid"`
	Lines  int         `json:"lines"`
	Errors []LineError `json:"errors"`
}

// ValidateLines checks each line independently. Line numbers are 1-based
// positions in lines; blank lines are skipped without being reported.
func ValidateLines(lines []string, mode Mode) Report {
	report := Report{Errors: []LineError{}}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		report.Lines++
		if _, lerr := Decode([]byte(line), i+1, mode); lerr != nil {
			report.Errors = append(report.Errors, *lerr)
		}
	}
	report.Valid = len(report.Errors) == 0
	return report
}
