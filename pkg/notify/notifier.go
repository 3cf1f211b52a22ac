// Package notify delivers best-effort availability notices to readers.
// Delivery is detached from the lending transactions: a notifier may drop a
// notice, and callers must never roll back state when it does.
package notify

import "context"

// Notifier sends a notice that a requested book has a copy ready.
type Notifier interface {
	SendAvailabilityNotice(ctx context.Context, recipient, bookTitle string) error
}

// Nop discards all notices. Used by tests and when email is not configured.
type Nop struct{}

func (Nop) SendAvailabilityNotice(context.Context, string, string) error { return nil }
