// Package worker is the reference implementation of the worker side of the
// event protocol.
//
// A Runner walks its inputs, drives an Engine per file, and narrates the run
// on stdout as NDJSON: start, the scan or manifest announcement, model load,
// per-file progress and outcome, and exactly one summary. Runs that cannot
// proceed emit fatal_error instead. Exit codes follow the protocol: 0 when
// every file succeeded or was skipped, 2 when some failed, 1 on fatal errors.
package worker
