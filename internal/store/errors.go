package store

import "errors"

// ErrIntegrity is returned when a write would violate a foreign-key or other
// integrity constraint (e.g. storing an embedding against a conversation id
// that does not exist).
var ErrIntegrity = errors.New("store: integrity violation")

// ErrStorage is returned for I/O or driver-level failures: a failing disk, a
// corrupt database file, a closed connection pool.
var ErrStorage = errors.New("store: storage failure")

// ErrNotFound is returned when a lookup by id finds no matching row.
var ErrNotFound = errors.New("store: not found")
