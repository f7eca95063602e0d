// Package storage keeps run history: one record per task outcome and per
// timer cancellation, so operators can see what ran after a restart.
//
// Drivers:
//   - "file": append-only JSON Lines with an in-memory tail
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
