// Package stores provides key-value persistence and the governed
// service wrapping it.
//
// Two Store implementations are available: MemoryStore for tests and
// short-lived runtimes, and SQLiteStore for durable local state with
// WAL mode and embedded schema migrations. KVService exposes either one
// through the service contract, resolving per-verb permissions against
// the execution context before touching the store.
package stores
