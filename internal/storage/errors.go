package storage

import "errors"

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("event not found")
