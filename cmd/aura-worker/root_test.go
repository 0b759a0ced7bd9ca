package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"aura/internal/protocol"
	"aura/internal/testsupport"
)

func runWorker(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--log-level", "error", "--ffprobe", "missing-ffprobe"}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestCapabilitiesFlag(t *testing.T) {
	out, err := runWorker(t, "--capabilities", "--model", "tiny")
	if err != nil {
		t.Fatalf("capabilities failed: %v", err)
	}
	var caps protocol.Capabilities
	if err := json.Unmarshal([]byte(out), &caps); err != nil {
		t.Fatalf("decode capabilities: %v", err)
	}
	if len(caps.SupportedModels) != 1 || caps.SupportedModels[0] != "tiny" {
		t.Fatalf("unexpected models %v", caps.SupportedModels)
	}
}

func TestWorkerRunsExecCommand(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "in", "talk.wav")
	testsupport.WriteFile(t, audio, 64)
	transcriber := testsupport.WriteScript(t, dir, "transcribe.sh", "echo \"words from $1\"\n")
	outDir := filepath.Join(dir, "out")

	out, err := runWorker(t, "--exec", transcriber+" {input}", "--output-dir", outDir, "--format", "txt", audio)
	if err != nil {
		t.Fatalf("worker run failed: %v", err)
	}
	report, err := protocol.ValidateReader(bytes.NewReader([]byte(out)), protocol.Strict)
	if err != nil {
		t.Fatalf("validate output: %v", err)
	}
	if !report.Valid {
		t.Fatalf("worker emitted invalid events: %+v\n%s", report.Errors, out)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "talk.txt"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "words from "+audio+"\n" {
		t.Fatalf("unexpected transcript %q", data)
	}
}

func TestWorkerExitCodes(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.wav")
	testsupport.WriteFile(t, audio, 64)
	failing := testsupport.WriteScript(t, dir, "fail.sh", "echo nope >&2\nexit 3\n")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{name: "file failures are partial", args: []string{"--exec", failing, "--retries", "0", "--output-dir", filepath.Join(dir, "out"), audio}, code: 2},
		{name: "missing input is fatal", args: []string{"--exec", failing, "--output-dir", dir}, code: 1},
		{name: "missing command is fatal", args: []string{"--exec", filepath.Join(dir, "nope"), "--output-dir", dir, audio}, code: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runWorker(t, tc.args...)
			var exitErr *exitCodeError
			if !errors.As(err, &exitErr) || exitErr.code != tc.code {
				t.Fatalf("expected exit code %d, got %v", tc.code, err)
			}
		})
	}

	if _, err := runWorker(t, "--format", "pdf", audio); err == nil {
		t.Fatal("expected unsupported format to fail")
	}
}
