package backup

import "errors"

// ErrNotFound is returned when a requested artifact does not exist in the store.
var ErrNotFound = errors.New("not found")
