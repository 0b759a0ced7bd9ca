package protocol_test

import (
	"testing"
	"time"

	"aura/internal/protocol"
)

const ts = `"timestamp":"2025-01-02T03:04:05.123456Z"`

func TestValidateLinesReportsMalformedInput(t *testing.T) {
	lines := []string{
		`{"event":"scanned"}`,
		`not-json`,
		`{"event":"unknown_event"}`,
	}
	report := protocol.ValidateLines(lines, protocol.Strict)
	if report.Valid {
		t.Fatal("expected invalid report")
	}
	if len(report.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %d: %+v", len(report.Errors), report.Errors)
	}
	want := []struct {
		line  int
		kind  protocol.ErrorKind
		field string
	}{
		{1, protocol.KindSchema, "total"},
		{2, protocol.KindParse, ""},
		{3, protocol.KindUnknownEvent, "event"},
	}
	for i, w := range want {
		got := report.Errors[i]
		if got.Line != w.line || got.Kind != w.kind || got.Field != w.field {
			t.Fatalf("error %d = %+v, want line=%d kind=%s field=%q", i, got, w.line, w.kind, w.field)
		}
	}
}

func TestValidateLinesSkipsBlankLinesAndKeepsPositions(t *testing.T) {
	lines := []string{
		`{"event":"models_loaded",` + ts + `}`,
		``,
		`   `,
		`{"event":"scanned","total":"3",` + ts + `}`,
	}
	report := protocol.ValidateLines(lines, protocol.Strict)
	if report.Valid || len(report.Errors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Errors[0].Line != 4 || report.Errors[0].Field != "total" {
		t.Fatalf("unexpected error: %+v", report.Errors[0])
	}
	if report.Lines != 2 {
		t.Fatalf("expected 2 non-blank lines, got %d", report.Lines)
	}
}

func TestValidateLinesAllValid(t *testing.T) {
	lines := []string{
		`{"event":"start","session_id":"s1","provider":"whisper-openai","model":"base",` + ts + `}`,
		`{"event":"scanned","total":1,` + ts + `}`,
		`{"event":"file_started","index":0,"total":1,"file":"/a.wav","relative":"a.wav",` + ts + `}`,
		`{"event":"file_done","index":0,"file":"/a.wav","duration_seconds":5.2,"processing_seconds":1.1,"rtfx":4.7,"confidence":0.9,"output":{"txt":"/out/a.txt"},` + ts + `}`,
		`{"event":"summary","total":1,"processed":1,"skipped":0,"failed":0,"duration_seconds":1.3,"failures":[],` + ts + `}`,
	}
	report := protocol.ValidateLines(lines, protocol.Strict)
	if !report.Valid {
		t.Fatalf("expected valid report, got %+v", report.Errors)
	}
}

func TestDecodeFieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		kind  protocol.ErrorKind
		field string
	}{
		{"array line", `[1,2]`, protocol.KindSchema, ""},
		{"missing event", `{` + ts + `}`, protocol.KindSchema, "event"},
		{"numeric event", `{"event":5,` + ts + `}`, protocol.KindSchema, "event"},
		{"missing timestamp", `{"event":"models_loaded"}`, protocol.KindSchema, "timestamp"},
		{"numeric timestamp", `{"event":"models_loaded","timestamp":12}`, protocol.KindSchema, "timestamp"},
		{"start missing model", `{"event":"start","session_id":"s","provider":"p",` + ts + `}`, protocol.KindSchema, "model"},
		{"progress not number", `{"event":"file_progress","index":0,"file":"/a","progress":"50","rtfx":1,` + ts + `}`, protocol.KindSchema, "progress"},
		{"overflowing number", `{"event":"file_progress","index":0,"file":"/a","progress":1e999,"rtfx":1,` + ts + `}`, protocol.KindSchema, "progress"},
		{"fractional index", `{"event":"file_failed","index":0.5,"file":"/a","error":"x","attempts":1,` + ts + `}`, protocol.KindSchema, "index"},
		{"output not object", `{"event":"file_done","index":0,"file":"/a","duration_seconds":1,"processing_seconds":1,"rtfx":1,"confidence":1,"output":"x",` + ts + `}`, protocol.KindSchema, "output"},
		{"output txt not string", `{"event":"file_skipped","index":0,"file":"/a","reason":"exists","output":{"txt":3},` + ts + `}`, protocol.KindSchema, "output"},
		{"failures not array", `{"event":"summary","total":1,"processed":0,"skipped":0,"failed":1,"duration_seconds":1,"failures":{},` + ts + `}`, protocol.KindSchema, "failures"},
		{"failure entry missing error", `{"event":"summary","total":1,"processed":0,"skipped":0,"failed":1,"duration_seconds":1,"failures":[{"file":"/a"}],` + ts + `}`, protocol.KindSchema, "failures"},
		{"ffmpeg available not bool", `{"event":"ffmpeg_status","available":"yes",` + ts + `}`, protocol.KindSchema, "available"},
		{"installed models entries", `{"event":"installed_models","models":["a",1],` + ts + `}`, protocol.KindSchema, "models"},
		{"trailing data", `{"event":"models_loaded",` + ts + `} {}`, protocol.KindParse, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, lerr := protocol.Decode([]byte(tc.line), 7, protocol.Strict)
			if ev != nil {
				t.Fatalf("expected no event, got %#v", ev)
			}
			if lerr == nil {
				t.Fatal("expected line error")
			}
			if lerr.Line != 7 || lerr.Kind != tc.kind || lerr.Field != tc.field {
				t.Fatalf("got %+v, want kind=%s field=%q", lerr, tc.kind, tc.field)
			}
			if lerr.Error() == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestDecodeLenientToleratesUnknownAndMissingTimestamp(t *testing.T) {
	ev, lerr := protocol.Decode([]byte(`{"event":"gpu_warmup","device":"mps"}`), 1, protocol.Lenient)
	if lerr != nil {
		t.Fatalf("unexpected error: %v", lerr)
	}
	unknown, ok := ev.(*protocol.UnknownEvent)
	if !ok {
		t.Fatalf("expected *UnknownEvent, got %T", ev)
	}
	if unknown.Type() != "gpu_warmup" || len(unknown.Raw) == 0 {
		t.Fatalf("unexpected unknown event: %+v", unknown)
	}
	if unknown.Type().Known() {
		t.Fatal("gpu_warmup should not be a known tag")
	}

	ev, lerr = protocol.Decode([]byte(`{"event":"scanned","total":4}`), 2, protocol.Lenient)
	if lerr != nil {
		t.Fatalf("unexpected error: %v", lerr)
	}
	scanned, ok := ev.(*protocol.ScannedEvent)
	if !ok || scanned.Total != 4 {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if !scanned.Time().IsZero() {
		t.Fatalf("expected zero time, got %v", scanned.Time())
	}
}

func TestDecodeBlankLine(t *testing.T) {
	ev, lerr := protocol.Decode([]byte("  \t"), 3, protocol.Strict)
	if ev != nil || lerr != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", ev, lerr)
	}
}

func TestDecodeTypedFields(t *testing.T) {
	line := `{"event":"file_skipped","index":2,"file":"/a.wav","reason":"outputs exist","output":{"txt":"/out/a.txt","json":"/out/a.json"},` + ts + `}`
	ev, lerr := protocol.Decode([]byte(line), 1, protocol.Strict)
	if lerr != nil {
		t.Fatalf("Decode failed: %v", lerr)
	}
	skipped, ok := ev.(*protocol.FileSkippedEvent)
	if !ok {
		t.Fatalf("expected *FileSkippedEvent, got %T", ev)
	}
	if skipped.Output == nil || skipped.Output.TXT != "/out/a.txt" || skipped.Output.JSON != "/out/a.json" {
		t.Fatalf("unexpected output: %+v", skipped.Output)
	}
	want := time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.UTC)
	if !skipped.Time().Equal(want) {
		t.Fatalf("timestamp = %v, want %v", skipped.Time(), want)
	}

	ev, lerr = protocol.Decode([]byte(`{"event":"file_skipped","index":2,"file":"/a.wav","reason":"exists",`+ts+`}`), 1, protocol.Strict)
	if lerr != nil {
		t.Fatalf("Decode failed: %v", lerr)
	}
	if ev.(*protocol.FileSkippedEvent).Output != nil {
		t.Fatal("expected nil output when absent")
	}
}

func TestEveryKnownTagHasVariant(t *testing.T) {
	types := protocol.AllEventTypes()
	if len(types) != 20 {
		t.Fatalf("expected 20 event types, got %d", len(types))
	}
	for _, et := range types {
		if !et.Known() {
			t.Fatalf("%s should be known", et)
		}
	}
}
