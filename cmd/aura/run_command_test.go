package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"aura/internal/queue"
	"aura/internal/store"
	"aura/internal/testsupport"
)

type runFixture struct {
	cfgPath    string
	audio      []string
	transcript string
}

// newRunFixture queues two files and installs a worker that completes the
// first and fails the second.
func newRunFixture(t *testing.T, exitCode int) runFixture {
	t.Helper()
	cfg, _ := newTestEnv(t)
	base := testsupport.BaseDir(cfg)
	a := filepath.Join(base, "audio", "a.wav")
	b := filepath.Join(base, "audio", "b.wav")
	testsupport.WriteFile(t, a, 128)
	testsupport.WriteFile(t, b, 128)
	transcript := filepath.Join(cfg.Paths.OutputDir, "a.txt")

	events := workerScript([]string{
		`{"event":"models_loaded"}`,
		fmt.Sprintf(`{"event":"file_started","index":0,"total":2,"file":%q,"relative":"a.wav"}`, a),
		fmt.Sprintf(`{"event":"file_done","index":0,"file":%q,"duration_seconds":3,"processing_seconds":0.5,"rtfx":6,"confidence":0.9,"output":{"txt":%q}}`, a, transcript),
		fmt.Sprintf(`{"event":"file_started","index":1,"total":2,"file":%q,"relative":"b.wav"}`, b),
		fmt.Sprintf(`{"event":"file_failed","index":1,"file":%q,"error":"decode failed","attempts":2}`, b),
		fmt.Sprintf(`{"event":"summary","total":2,"processed":1,"skipped":0,"failed":1,"duration_seconds":4,"failures":[{"file":%q,"error":"decode failed"}]}`, b),
	}, exitCode)
	script := fmt.Sprintf("mkdir -p %q\nprintf 'hello from a\\n' > %q\n%s", cfg.Paths.OutputDir, transcript, events)
	cfg.Providers.WorkerBinary = testsupport.WriteScript(t, filepath.Join(base, "bin"), "aura-worker", script)
	cfgPath := writeTestConfig(t, cfg)

	if _, _, err := runCLI(t, []string{"scan", a, b}, cfgPath); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return runFixture{cfgPath: cfgPath, audio: []string{a, b}, transcript: transcript}
}

func TestRunReconcilesWorkerAndArchivesSession(t *testing.T) {
	fx := newRunFixture(t, 2)

	out, _, err := runCLI(t, []string{"run"}, fx.cfgPath)
	var exitErr *exitCodeError
	if !errors.As(err, &exitErr) || exitErr.code != 2 {
		t.Fatalf("expected worker exit code 2, got %v", err)
	}
	requireContains(t, out, "completed (exit 2)")
	requireContains(t, out, "1 processed, 0 skipped, 1 failed of 2")
	requireContains(t, out, "✓ a.wav -> a.txt")
	requireContains(t, out, "✗ b.wav: decode failed")

	items := listQueue(t, fx.cfgPath)
	byPath := make(map[string]queue.Item, len(items))
	for _, it := range items {
		byPath[it.Path] = it
	}
	if got := byPath[fx.audio[0]]; got.Status != queue.StatusCompleted || got.TranscriptPath != fx.transcript {
		t.Fatalf("unexpected first item %+v", got)
	}
	if got := byPath[fx.audio[1]]; got.Status != queue.StatusError || got.Error != "decode failed" {
		t.Fatalf("unexpected second item %+v", got)
	}

	out, _, err = runCLI(t, []string{"history", "list", "--json"}, fx.cfgPath)
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	var sessions []store.Session
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != "completed" || sessions[0].ExitCode != 2 {
		t.Fatalf("unexpected history %+v", sessions)
	}

	out, _, err = runCLI(t, []string{"history", "show", sessions[0].ID[:8]}, fx.cfgPath)
	if err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	requireContains(t, out, sessions[0].ID)
	requireContains(t, out, "decode failed")

	dest := filepath.Join(t.TempDir(), "export")
	out, _, err = runCLI(t, []string{"export", "--format", "folder", "--dest", dest}, fx.cfgPath)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	requireContains(t, out, dest)
	if data, err := os.ReadFile(filepath.Join(dest, "a.txt")); err != nil || string(data) != "hello from a\n" {
		t.Fatalf("exported transcript = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "metadata.json")); err != nil {
		t.Fatalf("expected metadata.json: %v", err)
	}

	out, _, err = runCLI(t, []string{"transcript", fx.transcript}, fx.cfgPath)
	if err != nil {
		t.Fatalf("transcript failed: %v", err)
	}
	requireContains(t, out, "hello from a")

	out, _, err = runCLI(t, []string{"history", "delete", sessions[0].ID}, fx.cfgPath)
	if err != nil {
		t.Fatalf("history delete failed: %v", err)
	}
	requireContains(t, out, "Deleted session")
	out, _, err = runCLI(t, []string{"history", "list"}, fx.cfgPath)
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	requireContains(t, out, "No archived sessions")
}

func TestRunWithoutIdleItemsFails(t *testing.T) {
	fx := newRunFixture(t, 0)
	if _, _, err := runCLI(t, []string{"run", "--quiet"}, fx.cfgPath); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, _, err := runCLI(t, []string{"run"}, fx.cfgPath); err == nil {
		t.Fatal("expected second run to find no idle files")
	}

	out, _, err := runCLI(t, []string{"queue", "retry"}, fx.cfgPath)
	if err != nil {
		t.Fatalf("queue retry failed: %v", err)
	}
	requireContains(t, out, "Reset 1 failed item(s)")

	out, _, err = runCLI(t, []string{"queue", "clear-completed"}, fx.cfgPath)
	if err != nil {
		t.Fatalf("clear-completed failed: %v", err)
	}
	requireContains(t, out, "Cleared 1 completed item(s)")
	if items := listQueue(t, fx.cfgPath); len(items) != 1 || items[0].Status != queue.StatusIdle {
		t.Fatalf("unexpected queue after retry and clear: %+v", items)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	fx := newRunFixture(t, 0)
	cases := [][]string{
		{"run", "--format", "pdf"},
		{"run", "--retries", "11"},
		{"run", "--provider", "nope"},
		{"run", "--model", "../escape"},
		{"run", "--selected"},
	}
	for _, args := range cases {
		if _, _, err := runCLI(t, args, fx.cfgPath); err == nil {
			t.Fatalf("expected %v to fail", args)
		}
	}
}

func TestExportWithNothingCompletedFails(t *testing.T) {
	fx := newRunFixture(t, 0)
	_, _, err := runCLI(t, []string{"export", "--dest", filepath.Join(t.TempDir(), "out.zip")}, fx.cfgPath)
	if err == nil {
		t.Fatal("expected export of an idle queue to fail")
	}
	requireContains(t, err.Error(), "no completed transcript")
}
