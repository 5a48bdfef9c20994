// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict or a uniqueness
// violation (duplicate running experiment, racing activation).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrInvalidState indicates a lifecycle transition or operation attempted
// from a state that forbids it.
var ErrInvalidState = errors.New("invalid state")

// ErrValidation indicates malformed or inconsistent input.
var ErrValidation = errors.New("validation failed")
