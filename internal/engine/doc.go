// Package engine implements the settlement engine: the obligation, composed
// contract and swap state machines over a durable store.
//
// ARCHITECTURE:
//
// Unit of Work:
// Every state-changing operation runs as one unit of work:
//  1. Per-entity key locks are taken in sorted order (bounded wait, BUSY on timeout)
//  2. The idempotency record for the request key is checked
//  3. Records are loaded and preconditions validated
//  4. Record changes, swap locks, events and executor instructions are staged
//  5. Instructions run against the asset executor
//  6. Everything staged commits in a single store transaction
//
// If an instruction fails, the instructions already run are compensated in
// reverse order and nothing commits. If the commit fails, every executed
// instruction is compensated. Instruction keys carry an attempt number from
// the store, so a resent request never reuses the keys of a compensated
// attempt.
//
// Append-only History:
// Transfers never rewrite an obligation's holder. A new record is written and
// the old one is marked SupersededBy, so History can replay the chain.
//
// Decoupled Clocks:
// Acceptance deadlines gate status transitions only. Accepted legs keep
// settling on their own unlock schedule through ReleaseDue, regardless of
// whether the acceptance deadline has since passed.
//
// CRITICAL PATTERNS:
//
// Event Order:
// Audit events get their seq from the store inside the commit, so engines
// sharing a database produce one gapless sequence. Wall-clock time (WithNow)
// is an input to deadline checks only.
//
// Shared Databases:
// Key locks serialize one engine. Across engines, every record a unit
// touches (including an obligation whose swap lock changes) is written with
// a version check, and lock rows change only for the swap holding them.
//
// Idempotency:
// A request key maps to one (operation, request fingerprint, outcome).
// Replays return the stored outcome and change nothing.
package engine
