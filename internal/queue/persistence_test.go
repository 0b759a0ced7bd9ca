package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"aura/internal/protocol"
	"aura/internal/queue"
)

const testDebounce = 20 * time.Millisecond

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func decodeItems(t *testing.T, data []byte) []queue.Item {
	t.Helper()
	var blob struct {
		State struct {
			Items []queue.Item `json:"items"`
		} `json:"state"`
	}
	if err := json.Unmarshal(data, &blob); err != nil {
		t.Fatalf("decode blob failed: %v", err)
	}
	return blob.State.Items
}

func TestDebouncedPersistenceCoalescesBursts(t *testing.T) {
	storage := queue.NewMemoryStorage(nil)
	engine := queue.New(
		queue.WithStorage(storage),
		queue.WithDebounce(testDebounce),
		queue.WithIDGenerator(sequentialIDs()),
	)
	t.Cleanup(engine.Close)

	engine.AddItems(queue.Item{Path: "/a.wav"})
	for i := 0; i <= 100; i += 10 {
		engine.Apply(&protocol.FileProgressEvent{File: "/a.wav", Progress: float64(i)})
	}
	if !engine.PendingWrite() {
		t.Fatal("expected a pending write")
	}
	waitFor(t, func() bool { return storage.Saves() > 0 })
	time.Sleep(3 * testDebounce)
	if got := storage.Saves(); got != 1 {
		t.Fatalf("expected 1 coalesced save, got %d", got)
	}
	items := decodeItems(t, storage.Bytes())
	if len(items) != 1 || items[0].Progress != 100 {
		t.Fatalf("expected latest state saved, got %+v", items)
	}
}

func TestSelectionChangesDoNotPersist(t *testing.T) {
	storage := queue.NewMemoryStorage(nil)
	engine := queue.New(queue.WithStorage(storage), queue.WithDebounce(testDebounce))
	t.Cleanup(engine.Close)

	engine.SetSelection("anything")
	engine.SetProcessing("s1")
	if engine.PendingWrite() {
		t.Fatal("expected no write for runtime-only changes")
	}
}

func TestFlushWritesImmediatelyAndCancelsPending(t *testing.T) {
	storage := queue.NewMemoryStorage(nil)
	engine := queue.New(queue.WithStorage(storage), queue.WithDebounce(time.Hour))
	t.Cleanup(engine.Close)

	engine.AddItems(queue.Item{Path: "/a.wav"}, queue.Item{Path: "/b.wav"})
	if err := engine.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if engine.PendingWrite() {
		t.Fatal("expected pending write cancelled by flush")
	}
	if got := len(decodeItems(t, storage.Bytes())); got != 2 {
		t.Fatalf("expected 2 persisted items, got %d", got)
	}
}

func TestResetDropsPendingWrite(t *testing.T) {
	storage := queue.NewMemoryStorage(nil)
	engine := queue.New(queue.WithStorage(storage), queue.WithDebounce(testDebounce))
	t.Cleanup(engine.Close)

	engine.AddItems(queue.Item{Path: "/a.wav"})
	engine.Reset()
	time.Sleep(3 * testDebounce)
	if got := storage.Saves(); got != 0 {
		t.Fatalf("expected no saves after reset, got %d", got)
	}
}

func TestFlushReportsStorageErrors(t *testing.T) {
	storage := queue.NewMemoryStorage(nil)
	storage.Err = errors.New("disk full")
	engine := queue.New(queue.WithStorage(storage))
	engine.AddItems(queue.Item{Path: "/a.wav"})
	if err := engine.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if got := len(engine.Items()); got != 1 {
		t.Fatalf("save failure must not affect state, got %d items", got)
	}
}

func TestRehydrateNormalizesPersistedItems(t *testing.T) {
	blob := `{"state":{"items":[
		{"id":"a","path":"/a.wav","name":"a.wav","size":10,"status":"processing","progress":40},
		{"id":"b","path":"/b.wav","name":"b.wav","size":10,"status":"queued","progress":0},
		{"id":"c","path":"/c.wav","name":"c.wav","size":10,"status":"completed","progress":100,"transcriptPath":"/out/c.txt"},
		{"id":"d","path":"/d.wav","status":"error","progress":180,"error":"boom"},
		{"id":"e","path":"/a.wav","status":"idle"},
		{"id":"f","status":"idle"},
		{"path":"/g.wav","status":"bogus","progress":-5},
		"not-an-object"
	]}}`
	storage := queue.NewMemoryStorage([]byte(blob))
	engine := queue.New(queue.WithStorage(storage), queue.WithIDGenerator(sequentialIDs()))
	t.Cleanup(engine.Close)
	engine.SetProcessing("stale")
	engine.Rehydrate(context.Background())

	if engine.IsProcessing() || engine.CurrentSessionID() != "" {
		t.Fatal("expected runtime state reset after rehydrate")
	}
	items := engine.Items()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d: %+v", len(items), items)
	}
	want := []struct {
		path     string
		status   queue.Status
		progress int
	}{
		{"/a.wav", queue.StatusIdle, 40},
		{"/b.wav", queue.StatusIdle, 0},
		{"/c.wav", queue.StatusCompleted, 100},
		{"/d.wav", queue.StatusError, 100},
		{"/g.wav", queue.StatusIdle, 0},
	}
	for i, w := range want {
		it := items[i]
		if it.Path != w.path || it.Status != w.status || it.Progress != w.progress {
			t.Fatalf("item %d: got %s/%s/%d, want %s/%s/%d", i, it.Path, it.Status, it.Progress, w.path, w.status, w.progress)
		}
	}
	if items[2].TranscriptPath != "/out/c.txt" || items[3].Error != "boom" {
		t.Fatalf("expected outcome fields preserved: %+v %+v", items[2], items[3])
	}
	if items[4].ID == "" || items[4].Name != "g.wav" {
		t.Fatalf("expected generated id and derived name, got %+v", items[4])
	}
	if engine.PendingWrite() {
		t.Fatal("rehydrate must not schedule a write")
	}
}

func TestRehydrateToleratesCorruptState(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{name: "garbage", blob: "{{{"},
		{name: "wrong shape", blob: `{"items":[]}`},
		{name: "array", blob: `[1,2,3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := queue.New(queue.WithStorage(queue.NewMemoryStorage([]byte(tc.blob))))
			t.Cleanup(engine.Close)
			engine.AddItems(queue.Item{Path: "/pre.wav"})
			engine.Reset()
			engine.Rehydrate(context.Background())
			if got := len(engine.Items()); got != 0 {
				t.Fatalf("expected empty queue, got %d items", got)
			}
		})
	}
}

func TestStateRoundTripThroughStorage(t *testing.T) {
	storage := queue.NewMemoryStorage(nil)
	first := queue.New(queue.WithStorage(storage), queue.WithIDGenerator(sequentialIDs()))
	first.AddItems(queue.Item{Path: "/a.wav", Size: 42, Metadata: &queue.AudioMetadata{Codec: "pcm_s16le", SampleRate: 16000}})
	first.Apply(&protocol.FileDoneEvent{File: "/a.wav", DurationSeconds: 3, RTFx: 9, Output: protocol.Output{TXT: "/o/a.txt"}})
	if err := first.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	first.Close()

	second := queue.New(queue.WithStorage(storage))
	t.Cleanup(second.Close)
	second.Rehydrate(context.Background())
	it, ok := second.ItemByPath("/a.wav")
	if !ok {
		t.Fatal("expected item after rehydrate")
	}
	if it.ID != "id-1" || it.Status != queue.StatusCompleted || it.TranscriptPath != "/o/a.txt" {
		t.Fatalf("unexpected item: %+v", it)
	}
	if it.Metadata == nil || it.Metadata.SampleRate != 16000 || it.Duration == nil || *it.Duration != 3 {
		t.Fatalf("expected metadata and duration preserved: %+v", it)
	}
}

func TestDecodeStateWarnings(t *testing.T) {
	items, warnings, err := queue.DecodeState([]byte(`{"state":{"items":[{"path":""},{"path":"/x.wav"}]}}`), func() string { return "gen" })
	if err != nil {
		t.Fatalf("DecodeState failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "gen" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
}
