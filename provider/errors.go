package provider

import "errors"

// Sentinel errors for provider lookup and configuration.
var (
	// ErrUnknownProvider indicates the requested provider ID is not configured.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicateProvider indicates the same provider ID was configured twice.
	ErrDuplicateProvider = errors.New("duplicate provider")

	// ErrNoProviders indicates the configuration declares no providers at all.
	ErrNoProviders = errors.New("no providers configured")
)
