// Package finance computes commission snapshots and reconciliation views.
//
// A snapshot freezes the commission rate active when an order is finalized.
// Later corrections are recorded as adjustments next to the snapshot and are
// never folded into it, so every report total can be rebuilt from the
// individual rows it lists.
package finance
