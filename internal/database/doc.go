// Package database stores the rotation history of torswitch in SQLite.
//
// Every exit node rotation performed by the CLI becomes one row: the session
// it belongs to, when it started and finished, the exit address before and
// after, and how it ended. The history command reads it back.
//
// The driver is modernc.org/sqlite, which needs no cgo.
package database
