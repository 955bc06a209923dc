package ingest

import "errors"

var (
	// ErrChatRepositoryRequired is returned when a chat repository is not provided.
	ErrChatRepositoryRequired = errors.New("chat repository required")

	// ErrMalformedBatch is returned when an import line is not a valid MessageBatch.
	ErrMalformedBatch = errors.New("malformed message batch")

	// ErrImportIncomplete is returned when at least one batch could not be stored.
	ErrImportIncomplete = errors.New("import incomplete")
)
