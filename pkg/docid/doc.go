// Package docid provides a 128-bit, lexicographically sortable identifier
// for documents that don't carry their own identity.
//
// # Format
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison therefore preserves chronological order, and IDs
// generated within the same millisecond remain strictly increasing by
// sequence.
//
// # Monotonicity
//
// The Generator guarantees per-process monotonicity:
//   - if the system clock regresses, it pins to the last observed
//     millisecond and increments the sequence instead of going backwards;
//   - if the sequence would overflow within a millisecond, it busy-waits
//     for the next millisecond before emitting the next ID.
//
// Storage never calls this package implicitly; callers opt in by assigning
// an ID to a document before writing it.
package docid
