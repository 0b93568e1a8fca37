// Package apperr defines the sentinel errors shared across grove.
// Callers match them with errors.Is; packages wrap them with context.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a tree, branch, leaf, or link endpoint
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a structural create collides with
	// an existing tree, branch, or leaf.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAmbiguousBranch is returned when a bare branch name resolves to
	// more than one tree and no tree qualifier was given.
	ErrAmbiguousBranch = errors.New("ambiguous branch")

	// ErrInvalidConfidence is returned when a confidence value falls
	// outside [0.0, 1.0].
	ErrInvalidConfidence = errors.New("invalid confidence")

	// ErrInvalidTier is returned when a tier is not one of
	// leaves, branches, trunk, roots.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidRelation is returned when a link relation label fails
	// length or charset validation.
	ErrInvalidRelation = errors.New("invalid relation")

	// ErrDimensionMismatch is returned when a vector's length does not
	// match the dimensionality recorded for the store.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrServerUnavailable indicates the embedding server could not be
	// reached. Operations recover via the lite embedder; this is surfaced
	// as a warning, never as a failed operation.
	ErrServerUnavailable = errors.New("embedding server unavailable")

	// ErrServerStartFailure is returned when the embedding daemon could
	// not be started or did not become ready in time.
	ErrServerStartFailure = errors.New("server start failure")

	// ErrTimeout is returned when an embedding server call exceeds its
	// bounded wait.
	ErrTimeout = errors.New("timeout")

	// ErrRequestTooLarge is returned when an embed request exceeds the
	// server's batch or payload budget.
	ErrRequestTooLarge = errors.New("request too large")

	// ErrIndexCorrupt is returned when the index fails a consistency
	// check. Recoverable via reindex.
	ErrIndexCorrupt = errors.New("index corrupt")
)
