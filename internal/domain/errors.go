package domain

import "errors"

var (
	// ErrEmptyQuestion is returned when a query or synthesis request has no question text.
	ErrEmptyQuestion = errors.New("question must not be empty")

	// ErrNoPassages is returned when an answer is requested without context passages.
	ErrNoPassages = errors.New("no context passages provided")

	// ErrInconsistentIndex is returned when the number of stored chunks
	// differs from the number of vectors in the index.
	ErrInconsistentIndex = errors.New("corpus and vector index are out of sync")

	// ErrDimensionMismatch is returned when vectors of different sizes are mixed.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrSessionNotFound is returned for unknown session identifiers.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDocumentNotFound is returned when no chunk belongs to the requested source.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptySource is returned when an extractor produced no usable text.
	ErrEmptySource = errors.New("source produced no text")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)
