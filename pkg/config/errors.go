package config

import "errors"

var (
	// ErrMissingDBPath is returned when the database path is not set.
	ErrMissingDBPath = errors.New("database path is required")

	// ErrInvalidMaxWorkers is returned when max workers is not positive.
	ErrInvalidMaxWorkers = errors.New("max workers must be greater than 0")

	// ErrInvalidPollInterval is returned when poll interval is not positive.
	ErrInvalidPollInterval = errors.New("poll interval must be greater than 0")
)
