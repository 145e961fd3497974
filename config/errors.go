package config

import "errors"

var (
	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidValue is returned when an environment value can't be parsed.
	ErrInvalidValue = errors.New("invalid configuration value")
)
