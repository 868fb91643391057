// Package notify delivers fire-and-forget messages to users through the
// chat bot. Delivery failures are logged and swallowed; no engine operation
// ever fails because a notification did.
package notify

import "context"

// Notifier sends a message to a user identified by their chat ID.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// Noop is a Notifier that discards everything. Used when no bot token is
// configured and in tests.
type Noop struct{}

// NewNoop creates a no-op notifier.
func NewNoop() *Noop { return &Noop{} }

// Notify discards the message.
func (*Noop) Notify(context.Context, int64, string) {}
