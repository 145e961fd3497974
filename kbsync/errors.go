package kbsync

import "errors"

var (
	// ErrJobServiceRequired is returned when a job service is not provided.
	ErrJobServiceRequired = errors.New("job service required")

	// ErrNotConfigured is returned when the knowledge base or data source id is missing.
	ErrNotConfigured = errors.New("knowledge base id and data source id must be set")

	// ErrMalformedNotification is returned for a notification body that is
	// neither an event batch nor a change record list.
	ErrMalformedNotification = errors.New("malformed change notification")

	// ErrRunnerRequired is returned when the local job service has no runner.
	ErrRunnerRequired = errors.New("ingestion runner required")

	// ErrJobStoreRequired is returned when the local job service has no job store.
	ErrJobStoreRequired = errors.New("job store required")

	// ErrAgentClientRequired is returned when the Bedrock job service has no client.
	ErrAgentClientRequired = errors.New("agent client required")

	// ErrServiceBusy is returned when the local job service cannot accept
	// another job.
	ErrServiceBusy = errors.New("job service busy")

	// ErrServiceClosed is returned after the local job service is closed.
	ErrServiceClosed = errors.New("job service closed")
)
