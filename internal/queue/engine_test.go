package queue_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"aura/internal/protocol"
	"aura/internal/queue"
)

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newEngine(t *testing.T, paths ...string) *queue.Engine {
	t.Helper()
	engine := queue.New(queue.WithIDGenerator(sequentialIDs()))
	for _, p := range paths {
		engine.AddItems(queue.Item{Path: p, Size: 10})
	}
	return engine
}

func mustItem(t *testing.T, e *queue.Engine, path string) queue.Item {
	t.Helper()
	it, ok := e.ItemByPath(path)
	if !ok {
		t.Fatalf("item %s not found", path)
	}
	return it
}

func TestAddItemsIgnoresDuplicatePaths(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	before := mustItem(t, engine, "/a.wav")

	added := engine.AddItems(
		queue.Item{Path: "/a.wav", Name: "renamed", Size: 999},
		queue.Item{Path: "/b.wav"},
		queue.Item{Path: "/b.wav"},
		queue.Item{Path: "  "},
	)
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}
	items := engine.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	after := mustItem(t, engine, "/a.wav")
	if after.Name != before.Name || after.Size != before.Size || after.ID != before.ID {
		t.Fatalf("existing item changed: before=%+v after=%+v", before, after)
	}
}

func TestAddItemsResetsTransientFields(t *testing.T) {
	engine := newEngine(t)
	rtfx := 4.0
	engine.AddItems(queue.Item{
		ID:             "caller-id",
		Path:           "/music/a.wav",
		Status:         queue.StatusCompleted,
		Progress:       77,
		RTFx:           &rtfx,
		Error:          "old",
		TranscriptPath: "/out/a.txt",
	})
	it := mustItem(t, engine, "/music/a.wav")
	if it.Status != queue.StatusIdle || it.Progress != 0 {
		t.Fatalf("expected idle/0, got %s/%d", it.Status, it.Progress)
	}
	if it.ID == "caller-id" || it.ID == "" {
		t.Fatalf("expected fresh id, got %q", it.ID)
	}
	if it.RTFx != nil || it.Error != "" || it.TranscriptPath != "" {
		t.Fatalf("expected outcome fields cleared, got %+v", it)
	}
	if it.Name != "a.wav" {
		t.Fatalf("expected name from path, got %q", it.Name)
	}
}

func TestHappyPathScenario(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	engine.Apply(&protocol.StartEvent{SessionID: "session-1", Provider: "whisper-openai", Model: "base"})
	if !engine.IsProcessing() || engine.CurrentSessionID() != "session-1" {
		t.Fatal("expected active session-1")
	}
	engine.Apply(&protocol.FileStartedEvent{File: "/a.wav", Total: 1})
	engine.Apply(&protocol.FileProgressEvent{File: "/a.wav", Progress: 50, RTFx: 2})
	if it := mustItem(t, engine, "/a.wav"); it.Status != queue.StatusProcessing || it.Progress != 50 {
		t.Fatalf("unexpected mid-run item: %+v", it)
	}
	engine.Apply(&protocol.FileDoneEvent{
		File: "/a.wav", DurationSeconds: 5.2, RTFx: 3.1,
		Output: protocol.Output{TXT: "/out/a.txt", JSON: "/out/a.json"},
	})

	it := mustItem(t, engine, "/a.wav")
	if it.Status != queue.StatusCompleted || it.Progress != 100 {
		t.Fatalf("expected completed/100, got %s/%d", it.Status, it.Progress)
	}
	if it.Duration == nil || *it.Duration != 5.2 {
		t.Fatalf("expected duration 5.2, got %v", it.Duration)
	}
	if it.TranscriptPath != "/out/a.txt" || it.JSONPath != "/out/a.json" {
		t.Fatalf("unexpected outputs: %+v", it)
	}
	run := engine.Run()
	if run.Provider != "whisper-openai" || run.Model != "base" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestProgressIsClamped(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	cases := []struct {
		in   float64
		want int
	}{
		{-20, 0},
		{150, 100},
		{42.6, 43},
		{100, 100},
		{0, 0},
	}
	for _, tc := range cases {
		engine.Apply(&protocol.FileProgressEvent{File: "/a.wav", Progress: tc.in, RTFx: 1})
		if got := mustItem(t, engine, "/a.wav").Progress; got != tc.want {
			t.Fatalf("progress %v -> %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSkipPreservesExistingOutputs(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	it := mustItem(t, engine, "/a.wav")
	txt := "/out/a.txt"
	engine.UpdateItem(it.ID, queue.Patch{TranscriptPath: &txt})

	engine.Apply(&protocol.FileSkippedEvent{File: "/a.wav", Reason: "outputs exist"})
	got := mustItem(t, engine, "/a.wav")
	if got.Status != queue.StatusCompleted || got.Progress != 100 {
		t.Fatalf("expected completed/100, got %s/%d", got.Status, got.Progress)
	}
	if got.TranscriptPath != "/out/a.txt" {
		t.Fatalf("expected transcript path preserved, got %q", got.TranscriptPath)
	}

	engine.Apply(&protocol.FileSkippedEvent{File: "/a.wav", Reason: "exists", Output: &protocol.Output{JSON: "/out/a.json"}})
	got = mustItem(t, engine, "/a.wav")
	if got.TranscriptPath != "/out/a.txt" || got.JSONPath != "/out/a.json" {
		t.Fatalf("expected merged outputs, got %+v", got)
	}
}

func TestRetryClearsErrorAndRequeues(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	engine.Apply(&protocol.FileStartedEvent{File: "/a.wav"})
	engine.Apply(&protocol.FileProgressEvent{File: "/a.wav", Progress: 30})
	engine.Apply(&protocol.FileFailedEvent{File: "/a.wav", Error: "decode failed", Attempts: 1})

	it := mustItem(t, engine, "/a.wav")
	if it.Status != queue.StatusError || it.Error != "decode failed" {
		t.Fatalf("expected error state, got %+v", it)
	}
	if it.Progress != 30 {
		t.Fatalf("expected progress kept at 30, got %d", it.Progress)
	}

	engine.Apply(&protocol.FileRetryEvent{File: "/a.wav", Attempt: 1, Reason: "decode failed"})
	it = mustItem(t, engine, "/a.wav")
	if it.Status != queue.StatusQueued || it.Error != "" {
		t.Fatalf("expected queued with cleared error, got %+v", it)
	}

	engine.Apply(&protocol.FileStartedEvent{File: "/a.wav"})
	if it := mustItem(t, engine, "/a.wav"); it.Status != queue.StatusProcessing || it.Progress != 0 {
		t.Fatalf("expected processing restart, got %+v", it)
	}
}

func TestSummaryClearsProcessingEvenWhenAllFailed(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	engine.Apply(&protocol.StartEvent{SessionID: "s1"})
	engine.Apply(&protocol.FileFailedEvent{File: "/a.wav", Error: "boom"})
	engine.Apply(&protocol.SummaryEvent{
		Total: 1, Failed: 1, DurationSeconds: 2,
		Failures: []protocol.Failure{{File: "/a.wav", Error: "boom"}},
	})
	if engine.IsProcessing() || engine.CurrentSessionID() != "" {
		t.Fatal("expected summary to end the run")
	}
	run := engine.Run()
	if !run.HasSummary || run.Failed != 1 || len(run.Failures) != 1 || run.Active {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestSummaryCountersAreClamped(t *testing.T) {
	engine := newEngine(t)
	engine.Apply(&protocol.StartEvent{SessionID: "s1"})
	engine.Apply(&protocol.SummaryEvent{Total: 2, Processed: 2, Skipped: 1, Failed: -1})
	run := engine.Run()
	if run.Failed != 0 {
		t.Fatalf("expected negative failed clamped to 0, got %d", run.Failed)
	}
	if run.Processed+run.Skipped+run.Failed > run.Total {
		t.Fatalf("counters exceed total: %+v", run)
	}
}

func TestFatalErrorCascadesAndIsIdempotent(t *testing.T) {
	engine := newEngine(t, "/a.wav", "/b.wav", "/c.wav", "/d.wav")
	engine.Apply(&protocol.StartEvent{SessionID: "s1"})
	engine.Apply(&protocol.FileStartedEvent{File: "/a.wav"})
	engine.Apply(&protocol.FileDoneEvent{File: "/a.wav"})
	engine.Apply(&protocol.FileStartedEvent{File: "/b.wav"})
	engine.Apply(&protocol.FileRetryEvent{File: "/b.wav"})
	engine.Apply(&protocol.FileStartedEvent{File: "/c.wav"})
	engine.Apply(&protocol.SummaryEvent{Total: 4, Processed: 1})
	engine.Apply(&protocol.FatalErrorEvent{Error: "model crashed"})

	for _, it := range engine.Items() {
		if it.Status.InFlight() {
			t.Fatalf("item %s still in flight", it.Path)
		}
	}
	if got := mustItem(t, engine, "/a.wav"); got.Status != queue.StatusCompleted {
		t.Fatalf("completed item changed: %+v", got)
	}
	for _, path := range []string{"/b.wav", "/c.wav"} {
		if got := mustItem(t, engine, path); got.Status != queue.StatusError || got.Error != "model crashed" {
			t.Fatalf("expected %s failed with fatal message, got %+v", path, got)
		}
	}
	if got := mustItem(t, engine, "/d.wav"); got.Status != queue.StatusIdle {
		t.Fatalf("idle item changed: %+v", got)
	}
	if engine.IsProcessing() {
		t.Fatal("expected processing cleared")
	}

	engine.Apply(&protocol.FatalErrorEvent{Error: "again"})
	if engine.IsProcessing() || engine.CurrentSessionID() != "" {
		t.Fatal("expected repeated fatal to keep run cleared")
	}
	if got := mustItem(t, engine, "/b.wav"); got.Error != "model crashed" {
		t.Fatalf("expected first fatal message kept on item, got %q", got.Error)
	}
}

func TestUnknownPathNeverMutates(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	before := engine.Items()
	notified := 0
	unsubscribe := engine.Subscribe(func(queue.Snapshot) { notified++ })
	defer unsubscribe()

	events := []protocol.Event{
		&protocol.FileStartedEvent{File: "/missing.wav"},
		&protocol.FileProgressEvent{File: "/missing.wav", Progress: 10},
		&protocol.FileDoneEvent{File: "/missing.wav"},
		&protocol.FileSkippedEvent{File: "/missing.wav"},
		&protocol.FileFailedEvent{File: "/missing.wav", Error: "x"},
		&protocol.FileRetryEvent{File: "/missing.wav"},
		&protocol.ScannedEvent{Total: 3},
		&protocol.ModelsLoadedEvent{},
		&protocol.UnknownEvent{},
	}
	for _, ev := range events {
		engine.Apply(ev)
	}
	engine.Apply(nil)

	after := engine.Items()
	if len(after) != len(before) || after[0].Status != before[0].Status || after[0].Progress != before[0].Progress {
		t.Fatalf("items changed: before=%+v after=%+v", before, after)
	}
	if notified != 0 {
		t.Fatalf("expected no notifications, got %d", notified)
	}
}

func TestSelectorsRecomputeFromItems(t *testing.T) {
	engine := newEngine(t, "/a.wav", "/b.wav", "/c.wav")
	d1, d2 := 1.5, 2.5
	a := mustItem(t, engine, "/a.wav")
	b := mustItem(t, engine, "/b.wav")
	engine.UpdateItem(a.ID, queue.Patch{Duration: &d1})
	engine.UpdateItem(b.ID, queue.Patch{Duration: &d2})

	if got := engine.TotalDuration(); got != 4 {
		t.Fatalf("TotalDuration = %v, want 4", got)
	}
	if !engine.CanStart() {
		t.Fatal("expected CanStart with idle items")
	}

	engine.Apply(&protocol.FileDoneEvent{File: "/a.wav", DurationSeconds: 3})
	engine.Apply(&protocol.FileFailedEvent{File: "/b.wav", Error: "x"})
	if engine.CompletedCount() != 1 || engine.FailedCount() != 1 {
		t.Fatalf("unexpected counts: completed=%d failed=%d", engine.CompletedCount(), engine.FailedCount())
	}
	if got := engine.TotalDuration(); got != 5.5 {
		t.Fatalf("TotalDuration = %v, want 5.5", got)
	}

	engine.SetProcessing("s1")
	if engine.CanStart() {
		t.Fatal("expected CanStart false while processing")
	}
	engine.SetProcessing("")
	if !engine.CanStart() {
		t.Fatal("expected CanStart true once idle")
	}
	c := mustItem(t, engine, "/c.wav")
	engine.RemoveItems(c.ID)
	if engine.CanStart() {
		t.Fatal("expected CanStart false without idle items")
	}
}

func TestRemoveItemsPurgesSelection(t *testing.T) {
	engine := newEngine(t, "/a.wav", "/b.wav")
	a := mustItem(t, engine, "/a.wav")
	b := mustItem(t, engine, "/b.wav")
	engine.SetSelection(a.ID, b.ID, "ghost", a.ID)
	if got := engine.Selection(); len(got) != 2 {
		t.Fatalf("expected selection filtered to 2 ids, got %v", got)
	}
	if n := engine.RemoveItems(a.ID); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if got := engine.Selection(); len(got) != 1 || got[0] != b.ID {
		t.Fatalf("expected selection [%s], got %v", b.ID, got)
	}
}

func TestClearCompletedAndReorder(t *testing.T) {
	engine := newEngine(t, "/a.wav", "/b.wav", "/c.wav")
	engine.Apply(&protocol.FileDoneEvent{File: "/b.wav"})
	if n := engine.ClearCompleted(); n != 1 {
		t.Fatalf("expected 1 cleared, got %d", n)
	}
	if engine.Reorder(0, 5) || engine.Reorder(-1, 0) {
		t.Fatal("expected out-of-range reorder to be ignored")
	}
	if !engine.Reorder(1, 0) {
		t.Fatal("expected reorder to succeed")
	}
	items := engine.Items()
	if items[0].Path != "/c.wav" || items[1].Path != "/a.wav" {
		t.Fatalf("unexpected order: %s, %s", items[0].Path, items[1].Path)
	}
}

func TestUpdateItemPartialMerge(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	it := mustItem(t, engine, "/a.wav")
	progress := 250
	msg := "manual"
	if !engine.UpdateItem(it.ID, queue.Patch{Progress: &progress, Error: &msg}) {
		t.Fatal("expected update to find item")
	}
	got := mustItem(t, engine, "/a.wav")
	if got.Progress != 100 || got.Error != "manual" || got.Name != it.Name || got.Size != it.Size {
		t.Fatalf("unexpected merge result: %+v", got)
	}
	if engine.UpdateItem("missing", queue.Patch{Error: &msg}) {
		t.Fatal("expected update of missing id to report false")
	}
}

func TestSubscribersNotifiedInOrderAndUnsubscribe(t *testing.T) {
	engine := newEngine(t)
	var order []string
	unsubA := engine.Subscribe(func(queue.Snapshot) { order = append(order, "a") })
	engine.Subscribe(func(s queue.Snapshot) {
		order = append(order, fmt.Sprintf("b:%d", len(s.Items)))
	})

	engine.AddItems(queue.Item{Path: "/a.wav"})
	unsubA()
	unsubA()
	engine.AddItems(queue.Item{Path: "/b.wav"})

	if got := strings.Join(order, ","); got != "a,b:1,b:2" {
		t.Fatalf("unexpected notification order: %s", got)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	var captured queue.Snapshot
	engine.Subscribe(func(s queue.Snapshot) { captured = s })
	engine.Apply(&protocol.FileDoneEvent{File: "/a.wav", DurationSeconds: 1})

	*captured.Items[0].Duration = 99
	captured.Items[0].Status = queue.StatusError
	it := mustItem(t, engine, "/a.wav")
	if *it.Duration != 1 || it.Status != queue.StatusCompleted {
		t.Fatalf("snapshot mutation leaked into engine: %+v", it)
	}
}

func TestFinishRunFailsStrandedItems(t *testing.T) {
	engine := newEngine(t, "/a.wav", "/b.wav")
	a := mustItem(t, engine, "/a.wav")
	b := mustItem(t, engine, "/b.wav")
	engine.BeginRun("s1", "aura-exec", "default", a.ID, b.ID)
	if got := mustItem(t, engine, "/b.wav"); got.Status != queue.StatusQueued {
		t.Fatalf("expected queued after BeginRun, got %s", got.Status)
	}
	engine.Apply(&protocol.FileStartedEvent{File: "/a.wav"})
	engine.FinishRun(137)

	if engine.IsProcessing() {
		t.Fatal("expected processing cleared")
	}
	for _, it := range engine.Items() {
		if it.Status != queue.StatusError {
			t.Fatalf("expected %s failed, got %s", it.Path, it.Status)
		}
	}
	run := engine.Run()
	if run.ExitCode == nil || *run.ExitCode != 137 || run.Fatal == "" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestFinishRunAfterSummaryOnlyRecordsExitCode(t *testing.T) {
	engine := newEngine(t, "/a.wav")
	a := mustItem(t, engine, "/a.wav")
	engine.BeginRun("s1", "p", "m", a.ID)
	engine.Apply(&protocol.FileFailedEvent{File: "/a.wav", Error: "bad"})
	engine.Apply(&protocol.SummaryEvent{Total: 1, Failed: 1})
	engine.FinishRun(2)
	run := engine.Run()
	if run.ExitCode == nil || *run.ExitCode != 2 || run.Fatal != "" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestCancelRunResetsInFlightItems(t *testing.T) {
	engine := newEngine(t, "/a.wav", "/b.wav")
	a := mustItem(t, engine, "/a.wav")
	b := mustItem(t, engine, "/b.wav")
	engine.BeginRun("s1", "p", "m", a.ID, b.ID)
	engine.Apply(&protocol.FileDoneEvent{File: "/a.wav"})
	engine.Apply(&protocol.FileStartedEvent{File: "/b.wav"})
	engine.CancelRun(a.ID, b.ID)

	if got := mustItem(t, engine, "/a.wav"); got.Status != queue.StatusCompleted {
		t.Fatalf("completed item should be untouched, got %s", got.Status)
	}
	if got := mustItem(t, engine, "/b.wav"); got.Status != queue.StatusIdle {
		t.Fatalf("expected in-flight item reset to idle, got %s", got.Status)
	}
	if engine.IsProcessing() || !engine.Run().Cancelled {
		t.Fatal("expected cancelled, inactive run")
	}

	// Trailing events after a stop are still applied.
	engine.Apply(&protocol.FileDoneEvent{File: "/b.wav"})
	if got := mustItem(t, engine, "/b.wav"); got.Status != queue.StatusCompleted {
		t.Fatalf("expected trailing file_done applied, got %s", got.Status)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	applied  map[protocol.EventType]int
	misses   map[protocol.EventType]int
	finished map[string]int
	active   []bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		applied:  map[protocol.EventType]int{},
		misses:   map[protocol.EventType]int{},
		finished: map[string]int{},
	}
}

func (o *recordingObserver) EventApplied(e protocol.EventType) { o.mu.Lock(); o.applied[e]++; o.mu.Unlock() }
func (o *recordingObserver) LookupMiss(e protocol.EventType)   { o.mu.Lock(); o.misses[e]++; o.mu.Unlock() }
func (o *recordingObserver) FileFinished(s string)             { o.mu.Lock(); o.finished[s]++; o.mu.Unlock() }
func (o *recordingObserver) RunActive(a bool)                  { o.mu.Lock(); o.active = append(o.active, a); o.mu.Unlock() }

func TestObserverReceivesSignals(t *testing.T) {
	obs := newRecordingObserver()
	engine := queue.New(queue.WithObserver(obs), queue.WithIDGenerator(sequentialIDs()))
	engine.AddItems(queue.Item{Path: "/a.wav"}, queue.Item{Path: "/b.wav"})

	engine.Apply(&protocol.StartEvent{SessionID: "s1"})
	engine.Apply(&protocol.FileDoneEvent{File: "/a.wav"})
	engine.Apply(&protocol.FileSkippedEvent{File: "/b.wav"})
	engine.Apply(&protocol.FileDoneEvent{File: "/ghost.wav"})
	engine.Apply(&protocol.SummaryEvent{Total: 2, Processed: 1, Skipped: 1})

	if obs.applied[protocol.EventFileDone] != 2 {
		t.Fatalf("expected 2 file_done applications, got %d", obs.applied[protocol.EventFileDone])
	}
	if obs.misses[protocol.EventFileDone] != 1 {
		t.Fatalf("expected 1 miss, got %v", obs.misses)
	}
	if obs.finished[queue.OutcomeSuccess] != 1 || obs.finished[queue.OutcomeSkipped] != 1 {
		t.Fatalf("unexpected finished counts: %v", obs.finished)
	}
	if len(obs.active) != 2 || !obs.active[0] || obs.active[1] {
		t.Fatalf("unexpected run activity: %v", obs.active)
	}
}

func TestOutcomeOf(t *testing.T) {
	path, out, ok := queue.OutcomeOf(&protocol.FileSkippedEvent{File: "/a.wav", Reason: "exists", Output: &protocol.Output{TXT: "/o.txt"}})
	if !ok || path != "/a.wav" || out.Status != queue.OutcomeSkipped || out.TranscriptPath != "/o.txt" || out.Error != "exists" {
		t.Fatalf("unexpected outcome: %s %+v %v", path, out, ok)
	}
	if _, _, ok := queue.OutcomeOf(&protocol.FileProgressEvent{File: "/a.wav"}); ok {
		t.Fatal("progress events carry no outcome")
	}
}
