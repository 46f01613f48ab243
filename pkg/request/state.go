// Package request tracks the lifecycle of every fetch by fingerprint and
// guarantees at most one outstanding operation per fingerprint.
package request

import (
	"time"
)

// State is the lifecycle record of one fingerprint. Fetching and a terminal
// outcome are mutually exclusive.
type State struct {
	// Fetching is true while an operation is outstanding.
	Fetching bool `json:"fetching"`

	// Error is true when the last operation failed.
	Error bool `json:"error"`

	// Message describes the last failure.
	Message string `json:"message,omitempty"`

	// LastUpdated is when the last operation settled.
	LastUpdated time.Time `json:"lastUpdated,omitempty"`

	// Invalidated forces the next Begin to fetch even though the state is
	// settled.
	Invalidated bool `json:"invalidated,omitempty"`
}

// Settled reports whether no operation is outstanding and one has finished.
func (s State) Settled() bool {
	return !s.Fetching && !s.LastUpdated.IsZero()
}

// Succeeded reports a settled, successful state.
func (s State) Succeeded() bool {
	return s.Settled() && !s.Error
}

// Valid reports whether the result can be served without re-fetching.
func (s State) Valid() bool {
	return s.Succeeded() && !s.Invalidated
}

// Age returns the time since the state settled, or 0 if it never did.
func (s State) Age() time.Duration {
	if s.LastUpdated.IsZero() {
		return 0
	}
	return time.Since(s.LastUpdated)
}
