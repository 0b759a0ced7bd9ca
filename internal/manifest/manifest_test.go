package manifest_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"aura/internal/manifest"
	"aura/internal/queue"
	"aura/internal/testsupport"
)

func TestGenerateWritesManifestAtomically(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	items := []queue.Item{
		{ID: "file-1", Path: "/tmp/audio/a.wav", Status: queue.StatusIdle},
		{ID: "file-2", Path: "/tmp/audio/b.wav"},
	}
	settings := manifest.DefaultSettings()
	settings.MaxRetries = 2

	sessionID, path, err := manifest.Generate(dir, "coreml-local", "v3", "/tmp/transcripts", items, settings)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if path != filepath.Join(dir, sessionID+".json") {
		t.Fatalf("unexpected manifest path %s", path)
	}
	if _, err := os.Stat(filepath.Join(dir, sessionID+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, stat err=%v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("manifest is not valid json: %v", err)
	}
	for _, key := range []string{"sessionId", "createdAt", "provider", "model", "outputDir", "settings", "files"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("manifest missing key %q", key)
		}
	}

	loaded, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SessionID != sessionID || loaded.Provider != "coreml-local" || loaded.Settings.MaxRetries != 2 {
		t.Fatalf("unexpected manifest: %+v", loaded)
	}
	if len(loaded.Files) != 2 || loaded.Files[0].Status != "idle" || loaded.Files[1].Status != "queued" {
		t.Fatalf("unexpected files: %+v", loaded.Files)
	}
}

func TestLoadAppliesSettingsDefaults(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "json",
			file:    "m.json",
			content: `{"sessionId":"s","createdAt":"2026-02-12T00:00:00.000Z","provider":"p","model":"m","outputDir":"/o","settings":{"overwrite":true},"files":[{"id":"a","path":"/a.wav"}]}`,
		},
		{
			name: "yaml",
			file: "m.yaml",
			content: `sessionId: s
createdAt: "2026-02-12T00:00:00.000Z"
provider: p
model: m
outputDir: /o
settings:
  overwrite: true
files:
  - id: a
    path: /a.wav
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			testsupport.WriteText(t, path, tc.content)
			session, err := manifest.Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			s := session.Settings
			if !s.Overwrite || s.OutputFormat != "both" || !s.Recursive || s.MaxRetries != 1 || len(s.Extensions) != 3 {
				t.Fatalf("expected defaults with overwrite, got %+v", s)
			}
			if session.Files[0].Status != "queued" {
				t.Fatalf("expected default file status, got %q", session.Files[0].Status)
			}
			if session.CreatedTime().Year() != 2026 {
				t.Fatalf("unexpected created time %v", session.CreatedTime())
			}
		})
	}
}

func TestLoadRejectsMalformedManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	testsupport.WriteText(t, path, "{not json")
	if _, err := manifest.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := manifest.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session-c.json")
	testsupport.WriteText(t, path, "{}")
	if err := manifest.Cleanup(path); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected manifest removed")
	}
	if err := manifest.Cleanup(path); err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
}
