// Package store persists aura state in a single SQLite database.
//
// The database holds two concerns: the opaque queue blob written by the
// reconciliation engine (kv_state, exposed through StateBlob) and the
// archived session history (sessions and session_files). The schema is
// embedded and versioned; a version mismatch fails Open with
// ErrSchemaMismatch instead of migrating.
package store
