// Package common defines the sentinel errors shared by the storage, service
// and transport layers. Callers match them with errors.Is.
package common

import "errors"

var (
	// ErrInvalidInput reports a caller mistake: empty names, missing bytes, no actor.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound reports an unknown folder, file or blob id.
	ErrNotFound = errors.New("not found")

	// ErrForbidden reports a delete attempted by someone who is neither the owner nor an admin.
	ErrForbidden = errors.New("forbidden")

	// ErrTooLarge reports an upload over the configured size limit.
	ErrTooLarge = errors.New("file too large")

	// ErrInternalInconsistency reports a violated invariant: a parent cycle,
	// metadata without a blob, a corrupt chunk. It signals corruption, not absence.
	ErrInternalInconsistency = errors.New("internal inconsistency")
)
