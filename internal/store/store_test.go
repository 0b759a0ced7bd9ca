package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"aura/internal/queue"
	"aura/internal/store"
	"aura/internal/testsupport"
)

func TestOpenCreatesSchemaOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	if first.Path() != cfg.DatabasePath() {
		t.Fatalf("unexpected path %s", first.Path())
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	second.Close()
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aura.db")
	st, err := store.OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	st.Close()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version failed: %v", err)
	}
	db.Close()

	if _, err := store.OpenPath(dbPath); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestStateBlobRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	blob := st.QueueState()

	data, err := blob.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil blob before first save, got %q", data)
	}

	for _, payload := range []string{`{"state":{"items":[]}}`, `{"state":{"items":[{"path":"/a.wav"}]}}`} {
		if err := blob.Save(ctx, []byte(payload)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := blob.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if string(got) != payload {
			t.Fatalf("got %q, want %q", got, payload)
		}
	}

	if err := st.DeleteBlob(ctx, store.QueueStateKey); err != nil {
		t.Fatalf("DeleteBlob failed: %v", err)
	}
	if got, _ := blob.Load(ctx); got != nil {
		t.Fatalf("expected blob removed, got %q", got)
	}
}

func TestEnginePersistsThroughStateBlob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	engine := queue.New(queue.WithStorage(st.QueueState()))
	engine.AddItems(queue.Item{Path: "/music/a.wav", Size: 12})
	if err := engine.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	engine.Close()

	restored := queue.New(queue.WithStorage(st.QueueState()))
	defer restored.Close()
	restored.Rehydrate(ctx)
	if _, ok := restored.ItemByPath("/music/a.wav"); !ok {
		t.Fatal("expected item restored from sqlite")
	}
}

func sampleSession(id string, createdAt int64) store.Session {
	return store.Session{
		ID:              id,
		CreatedAt:       createdAt,
		Provider:        "coreml-local",
		Model:           "v3",
		OutputDir:       "/tmp/out",
		ManifestPath:    "/tmp/sessions/" + id + ".json",
		Total:           2,
		Processed:       1,
		Failed:          1,
		DurationSeconds: 12.4,
		ExitCode:        2,
		Status:          "completed",
		Files: []store.SessionFile{
			{ID: "f-b", Path: "/audio/b.wav", Name: "b.wav", Status: "failed", Error: "decode failed"},
			{ID: "f-a", Path: "/audio/a.wav", Name: "a.wav", Status: "success", TranscriptPath: "/tmp/out/a.txt"},
		},
	}
}

func TestSessionsSaveListGetDelete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.SaveSession(ctx, sampleSession("old", 100)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := st.SaveSession(ctx, sampleSession("new", 200)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" || sessions[1].ID != "old" {
		t.Fatalf("expected newest first, got %+v", sessions)
	}
	files := sessions[0].Files
	if len(files) != 2 || files[0].Name != "a.wav" || files[1].Error != "decode failed" {
		t.Fatalf("expected files ordered by name with details, got %+v", files)
	}
	if files[0].TranscriptPath != "/tmp/out/a.txt" || files[0].Error != "" {
		t.Fatalf("unexpected nullable columns: %+v", files[0])
	}

	got, err := st.GetSession(ctx, "old")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.DurationSeconds != 12.4 || got.ExitCode != 2 || len(got.Files) != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := st.DeleteSession(ctx, "old"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := st.GetSession(ctx, "old"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := st.DeleteSession(ctx, "old"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
	}
	if err := st.DeleteSession(ctx, "  "); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestSaveSessionReplacesFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	session := sampleSession("s1", 1)
	if err := st.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	session.Files = session.Files[:1]
	session.Status = "failed"
	if err := st.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession replace failed: %v", err)
	}
	got, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != "failed" || len(got.Files) != 1 {
		t.Fatalf("expected replaced record, got %+v", got)
	}
}
