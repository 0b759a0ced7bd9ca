// Package main hosts the aura CLI entrypoint and command graph.
//
// The Cobra command tree opens the state database, rehydrates the queue
// engine, and hands it to the internal packages that scan audio, launch
// provider workers, and archive finished sessions. Every command that touches
// the queue flushes it before exiting so the next invocation sees the same
// state.
//
// Keep this package lean: add behaviour to the internal packages first and
// surface it here through commands or flags.
package main
