// Package storage keeps the audit trail of releases and schedule changes.
//
// Drivers:
//   - "file": JSON Lines appended to <path> (no extra dependencies)
//   - "sqlite": SQLite database through modernc.org/sqlite
//
// The release queue itself is not stored here.
package storage
