// Package store provides the lead ledger for coven-leads using SQLite.
//
// # Model
//
// The ledger holds one LeadRecord per lead: name, status, collected answers
// and the time of the last write. It is a projection of the in-memory
// session registry, written after every state change, and is also consulted
// when a trigger arrives so that leads which already finished are not
// greeted again.
//
// Writes are upserts keyed by lead id. When two writes for the same lead
// race, the one carrying the later LastUpdated wins:
//
//	ON CONFLICT(lead_id) DO UPDATE SET ...
//	WHERE excluded.last_updated >= leads.last_updated
//
// # Drivers
//
// Two database/sql drivers are linked in:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// The store enables WAL mode and holds a single connection.
//
// # Testing
//
// Use NewMockStore() for unit tests. It supports failure injection with
// SetUpsertError and SetGetError, and History exposes every accepted write.
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
