package ingestion

import "errors"

var (
	// ErrSourceRequired is returned when a source client is not provided.
	ErrSourceRequired = errors.New("source client required")

	// ErrObjectStoreRequired is returned when an object store is not provided.
	ErrObjectStoreRequired = errors.New("object store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrVectorIndexRequired is returned when a vector index is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrClockRequired is returned when WithClock is given a nil function.
	ErrClockRequired = errors.New("clock required")

	// ErrInvalidStepTimeout is returned for a negative step timeout.
	ErrInvalidStepTimeout = errors.New("step timeout must not be negative")
)
