// Package provider defines the identity and configuration of the automation
// targets served by promptrelay.
//
// A Provider is one configured target: a stable ID, an immutable credential
// set, and a dedicated session-storage directory. Providers are materialized
// once from configuration at composition time and never mutated afterwards.
package provider

import "fmt"

// Provider is one configured automation target.
type Provider struct {
	// ID is the stable identifier used for routing and storage layout.
	ID string

	// Credentials is the login credential set handed to the session
	// resource on construction.
	Credentials Credentials

	// StorageDir is the isolated directory where the session resource
	// persists login and session state across reconstructions.
	StorageDir string
}

// Credentials is an immutable login credential set.
type Credentials struct {
	Email    string
	Password string
}

// String implements fmt.Stringer without exposing the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email:%s Password:<redacted>}", c.Email)
}
