// Package queue owns the canonical list of transcription work items and
// reconciles it against the event stream emitted by workers.
//
// An Engine holds the item list, the selection, and the active run behind a
// single mutex. Worker events are applied in arrival order through Apply;
// user actions go through the mutation methods. Every mutation notifies
// subscribers synchronously, outside the lock, and schedules a debounced write
// of the item list to the configured Storage.
//
// Only the item list is persisted. Selection, the processing flag, and the
// session id are runtime state and are reset by Rehydrate.
package queue
