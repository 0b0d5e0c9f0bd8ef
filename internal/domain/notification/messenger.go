package notification

import "context"

// Messenger delivers push messages to device tokens. The Firebase client is
// the production implementation; tests substitute a mock.
type Messenger interface {
	// Send pushes a single message to one device token.
	Send(ctx context.Context, token string, title, body string, data map[string]string) error

	// SendMulticast pushes the same message to every token in one batch, so
	// a user with several devices gets one delivery attempt per device.
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}
