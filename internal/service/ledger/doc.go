// Package ledger is the authoritative per-repository address set.
//
// Every address is stored twice: a compact current row (the projection)
// and an append-only provenance history. Source and AddedBy on the row are
// first-write-wins; every later change appends a history event in the same
// storage operation that changes the row.
//
// Uniqueness is enforced by the Store, never by read-then-write in this
// package: InsertIfAbsent is atomic and Transition is a compare-and-set on
// the row's (active, pending_review) state. A lost race surfaces as
// ErrConcurrentConflict, which callers retry once.
package ledger
