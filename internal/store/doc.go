// Package store persists chat history, extracted memories, mood history and
// per-identity session state.
//
// The router only appends to these logs and reads small slices back; no
// delivery decision depends on the store, and a failing store never blocks
// chat.
//
// SQLiteStore is the production implementation (pure-Go modernc.org/sqlite,
// WAL mode). MockStore is an in-memory implementation for tests.
//
// Timestamps are stored as fixed-width UTC strings so that lexical order
// matches time order:
//
//	2025-03-01T10:00:00.000000000Z
package store
