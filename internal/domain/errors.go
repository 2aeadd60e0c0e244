package domain

import "errors"

// Sentinel errors shared across the service. Handlers map these onto
// HTTP status codes; the pipeline maps them onto job log entries.
var (
	// ErrBusy is returned when a submit or script run collides with an
	// already-running job.
	ErrBusy = errors.New("another task is already running")

	// ErrNotFound is returned for unknown task, history or session IDs.
	ErrNotFound = errors.New("record not found")

	// ErrUnsupportedFileType marks an uploaded file whose extension the
	// intake normalizer does not handle. Per-file, never fatal for a batch.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrNotOwner is returned when an unlock request presents a task ID
	// that does not match the current lease holder.
	ErrNotOwner = errors.New("task id does not hold the lock")

	// ErrConfigValidation is returned when a configuration save is missing
	// a required field.
	ErrConfigValidation = errors.New("invalid configuration")
)
