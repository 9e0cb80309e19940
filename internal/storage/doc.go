// Package storage is the durable store for events, reminders, RSVP records
// and per-user preferences.
//
// Two drivers satisfy Store: "sqlite" (embedded, modernc.org/sqlite, no cgo)
// and "postgres" (pgx connection pool). Every method is a short statement or
// a small local transaction.
package storage
