// Package storage persists site messages produced by plugins.
//
// Drivers:
//   - "file": JSON Lines under <path>.messages.jsonl
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
