// Package storage defines persistence contracts for settlement records.
//
// Application services depend on these interfaces so order, payment, finance
// and dispute rules stay independent of the SQLite schema. Multi-record
// changes go through UnitOfWork so a transition and its side effects commit
// together.
package storage
