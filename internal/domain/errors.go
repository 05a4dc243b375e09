// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrGone indicates the session reached a terminal state and has been
// replaced by a successor. Callers should retry against the successor.
var ErrGone = errors.New("gone: session is terminal")

// ErrValidation indicates the request references data that fails schema
// validation at the boundary (e.g. an unknown field ID).
var ErrValidation = errors.New("validation failed")

// ErrUnauthorized indicates a missing, expired, or mismatched access token.
var ErrUnauthorized = errors.New("unauthorized")
