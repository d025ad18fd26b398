// Package domain defines the settlement records: obligations and their payment
// legs, composed contracts, swaps and locks.
//
// Records are plain values. State machines live in package engine; this package
// only carries data, status vocabularies and the invariants that can be checked
// on a single record.
//
// Obligations are append-only: a transfer writes a new record whose Supersedes
// points at the prior one, and the prior record gets SupersededBy. Nothing is
// ever deleted.
package domain
