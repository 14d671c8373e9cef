package storage

import "errors"

var (
	// ErrCorrupt reports a document that exists but does not decode as a
	// collection. Only returned when strict loading is enabled.
	ErrCorrupt = errors.New("collection document is corrupt")

	// ErrSave wraps any failure to persist the collection. Callers treat it
	// as fatal.
	ErrSave = errors.New("save collection")

	// ErrUnknownBackend reports an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")

	errBucketRequired = errors.New("s3 bucket is required")
	errKeyRequired    = errors.New("s3 key is required")
	errPathRequired   = errors.New("data file path is required")
)
