package shared

import "errors"

// ErrIdempotencyConflict indicates a duplicate processing key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")
