package config

import "errors"

var (
	// ErrSecretRequired is returned when no server secret is configured.
	// The secret is the only admission control; starting without one
	// would accept anybody.
	ErrSecretRequired = errors.New("SERVER_SECRET is required")

	// ErrInvalidValue is returned when a configuration value fails
	// validation (wrong type, out of range).
	ErrInvalidValue = errors.New("invalid configuration value")
)
