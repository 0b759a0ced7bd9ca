// Package protocol defines the NDJSON event stream spoken between aura and
// its transcription workers.
//
// Every line on a worker's stdout is one JSON object tagged by its "event"
// field. This package owns the typed event structs, an Emitter that writes
// them, and a Decoder that validates incoming lines in strict or lenient mode.
// Strict mode rejects unknown events and is used for conformance checks;
// lenient mode passes them through as UnknownEvent so older clients keep
// working against newer workers.
package protocol
