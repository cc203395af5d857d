// Package provider defines the channel provider contract — the external
// send-capable collaborators action nodes delegate to — and an explicit
// registry keyed by provider code.
package provider

import "context"

// SendResult is the uniform response of a provider send.
type SendResult struct {
	Success   bool           `json:"success"`
	MessageID string         `json:"message_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Provider is one external delivery channel (email, SMS, push, ...).
// The engine invokes only Send; Authenticate and TestConnection exist
// for setup and health checking.
type Provider interface {
	// Send delivers one payload.
	Send(ctx context.Context, payload map[string]any) (*SendResult, error)

	// Authenticate verifies the given credentials config.
	Authenticate(ctx context.Context, config map[string]any) (bool, error)

	// TestConnection checks reachability of the upstream service.
	TestConnection(ctx context.Context) error
}
