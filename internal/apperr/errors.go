// Package apperr holds sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNoEntities     = errors.New("no packages found")
	ErrNoDatabase     = errors.New("no .db file found in the archive")
	ErrMalformedIndex = errors.New("malformed delta index")
)
