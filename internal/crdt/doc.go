// Package crdt implements the replicated text document shared by all
// participants of a collaboration room.
//
// The document is a sequence CRDT in the YATA family: every rune is an
// item with a globally unique ID (client, clock) and the IDs of its
// left and right neighbours at the time it was inserted. Concurrent
// inserts between the same neighbours are ordered by a deterministic
// scan of the conflicting region with client-ID tie-breaking, so every
// replica that has integrated the same set of operations holds the same
// sequence regardless of delivery order.
//
// Deletion marks an item as a tombstone. Deletes are operations in
// their own right and consume a clock, which makes the per-client clock
// a complete description of what a replica has seen. A StateVector maps
// each client to the next clock expected from it, and Diff returns the
// operations a peer with a given state vector is missing.
//
// Operations are applied only once their causal dependencies (the
// preceding clock of the same client, the left and right origins, or
// the delete target) are present; anything else is buffered until it
// can be integrated. Duplicate operations are ignored.
//
// Offsets in the public API are UTF-16 code units.
package crdt
