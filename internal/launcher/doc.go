// Package launcher starts transcription workers and streams their events
// into the queue engine.
//
// A run owns a file lock under the state directory so a second aura process
// cannot start a competing batch. The worker's stdout is decoded leniently and
// applied in order by a single reader goroutine; stderr is forwarded to the
// logger. When the worker exits the launcher finishes or cancels the engine
// run, archives the session to history, and sends notifications.
package launcher
