package repository

import "errors"

// ErrNotFound is returned when a requested record is not found in the
// repository. This abstracts away the underlying storage implementation
// from the service layer.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a conditional write matched no rows: the
// record's state at write time did not satisfy the expected pre-state.
// Callers must re-read to discover the actual state.
var ErrConflict = errors.New("conditional write rejected")

// ErrInvalidTable is returned when attempting to clear a table that is
// not whitelisted.
var ErrInvalidTable = errors.New("invalid table name")
