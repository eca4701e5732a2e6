package storage

import "errors"

// ErrNotFound is returned when a note the caller named does not exist.
var ErrNotFound = errors.New("storage: not found")
