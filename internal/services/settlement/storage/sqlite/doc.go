// Package sqlite provides SQLite-backed settlement persistence.
//
// One database file holds orders, payments, finance, disputes, idempotency
// records, abuse risk events and the settlement outbox, so a state change and
// everything it implies commit together.
package sqlite
