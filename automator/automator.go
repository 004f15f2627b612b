// Package automator defines the session-resource contract consumed by the
// dispatch core, along with a subprocess-backed implementation (Proc) and a
// recording test double (Mock).
//
// An Automator is one live automation session for one provider: expensive to
// construct (it performs a real login and keeps a browser-grade session
// alive), exclusively owned by the provider's worker, and long-lived across
// prompts so conversational context carries over. The dispatch core never
// looks inside it; it only constructs, prompts, and closes.
package automator

import (
	"context"

	"github.com/promptrelay/promptrelay/provider"
)

// Automator is a live automation session for one provider.
//
// Implementations are not required to be safe for concurrent use; the
// dispatch core guarantees a single caller at a time.
type Automator interface {
	// ProcessSingle sends one prompt and returns the response.
	ProcessSingle(ctx context.Context, prompt string) (string, error)

	// ProcessChain sends an ordered sequence of prompts within the same
	// conversation and returns the per-prompt responses in order.
	ProcessChain(ctx context.Context, prompts []string) ([]string, error)

	// Close tears the session down. Close is best-effort by contract: the
	// caller logs a returned error but never surfaces it further, and the
	// session is considered gone regardless.
	Close() error
}

// Factory constructs an Automator for a provider. Construction may perform a
// full login and is expected to block for its duration; it may fail.
type Factory func(ctx context.Context, p provider.Provider) (Automator, error)
