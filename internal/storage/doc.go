// Package storage persists job run history.
//
// Drivers:
//   - "file": append-only JSON Lines with periodic compaction
//   - "sqlite": SQLite database via modernc.org/sqlite
package storage
