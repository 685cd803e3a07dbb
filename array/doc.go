// Package array provides growable, chunked numeric arrays with
// interchangeable in-memory and on-disk backends.
//
// Arrays are the persistence layer of the simulation store: parameters,
// observation fields, importance weights and status codes are each one
// logical array. Both backends expose identical append/read/update
// semantics, so the store is agnostic to which is in use.
//
// The directory backend stores rows in block-compressed chunk files and
// commits every mutation with a tmp+rename, so readers never observe a
// torn chunk. The committed row count lives in a separate length file;
// appends are serialized across processes by an advisory file lock scoped
// to the mutation, never held for the duration of a simulation run.
package array
