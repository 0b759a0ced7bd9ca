package main

import (
	"errors"
	"path/filepath"
	"testing"

	"aura/internal/testsupport"
)

func TestValidateEventStream(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.ndjson")
	testsupport.WriteText(t, good, `{"event":"scanned","total":2,"timestamp":"2026-01-02T03:04:05Z"}

{"event":"models_loaded","timestamp":"2026-01-02T03:04:06Z"}
{"event":"vendor_debug","timestamp":"2026-01-02T03:04:07Z"}
`)
	bad := filepath.Join(dir, "bad.ndjson")
	testsupport.WriteText(t, bad, `{"event":"scanned","total":"two"}
not json
`)

	tests := []struct {
		name     string
		args     []string
		wantExit bool
		want     string
	}{
		{name: "lenient accepts unknown events", args: []string{"validate", good}, want: "3 line(s) checked in lenient mode, 0 rejected"},
		{name: "strict rejects unknown events", args: []string{"validate", "--strict", good}, wantExit: true, want: "unknown_event"},
		{name: "schema and parse errors", args: []string{"validate", bad}, wantExit: true, want: "line 2: parse"},
		{name: "json report", args: []string{"validate", "--json", bad}, wantExit: true, want: `"valid": false`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, _, err := runCLI(t, tc.args, "")
			var exitErr *exitCodeError
			if tc.wantExit != errors.As(err, &exitErr) {
				t.Fatalf("unexpected error %v", err)
			}
			requireContains(t, out, tc.want)
		})
	}

	if _, _, err := runCLI(t, []string{"validate", filepath.Join(dir, "missing.ndjson")}, ""); err == nil {
		t.Fatal("expected missing file to fail")
	}
}

func TestDoctorReportsDependencies(t *testing.T) {
	_, path := newTestEnv(t, testsupport.WithStubbedBinaries("uv"))
	out, _, err := runCLI(t, []string{"doctor"}, path)
	if err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	requireContains(t, out, "Directories")
	requireContains(t, out, "State:")
	requireContains(t, out, "[OK] uv")
	requireContains(t, out, "FFprobe:")
	requireContains(t, out, "[WARN]")
}

func TestProvidersAndResolve(t *testing.T) {
	_, path := newTestEnv(t)
	out, _, err := runCLI(t, []string{"providers"}, path)
	if err != nil {
		t.Fatalf("providers failed: %v", err)
	}
	requireContains(t, out, "aura-exec")
	requireContains(t, out, "whisper-openai")

	out, _, err = runCLI(t, []string{"resolve", "parakeet-coreml", "v2"}, path)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	requireContains(t, out, "SwiftNative")
	requireContains(t, out, "parakeet-tdt-0.6b-v2-coreml")

	if _, _, err := runCLI(t, []string{"resolve", "unknown", "v3"}, path); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	_, path := newTestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, path)
	if err != nil {
		t.Fatalf("test-notify failed: %v", err)
	}
	requireContains(t, out, "Notifications are disabled")
}
