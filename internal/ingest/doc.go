// Package ingest turns extracted records into stored documents exactly once.
//
// Records are routed to a collection by variant, normalized and hashed, checked against the store for
// an existing document with the same hash, and appended to a per-collection buffer. A buffer is written
// with one InsertMany call when it reaches the batch size and again when the pipeline closes. A buffer
// is cleared only after the store confirms the write; a failed flush keeps every record for the next
// attempt.
package ingest
