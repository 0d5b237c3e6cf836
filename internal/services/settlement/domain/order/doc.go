// Package order holds the marketplace order aggregate and its lifecycle
// rules.
//
// An order moves through a fixed transition table from
// pending_seller_approval to one of the terminal states completed, rejected
// or cancelled. Buyers and sellers may request a subset of transitions
// directly; the move into paid is reserved for verified payment
// confirmation and never happens on an actor's request.
package order
