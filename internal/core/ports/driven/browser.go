package driven

import (
	"context"
	"time"
)

// Page is the narrow browser surface the automation adapter drives.
// Exactly one Page exists per connector id so the session cookies
// persist across calls. Implementations wrap a real browser tab; tests
// use an in-memory fake.
type Page interface {
	// Navigate loads the URL and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)

	// Visible reports whether an element matching the selector is
	// currently rendered.
	Visible(ctx context.Context, selector string) (bool, error)

	// Fill sets the value of the input matching the selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the element matching the selector.
	Click(ctx context.Context, selector string) error

	// Text returns the trimmed text content of the first match.
	Text(ctx context.Context, selector string) (string, error)

	// TextAll returns the trimmed text content of every match, in
	// document order.
	TextAll(ctx context.Context, selector string) ([]string, error)

	// Screenshot captures the element matching the selector as PNG.
	// Used to surface photo-TAN images to the caller.
	Screenshot(ctx context.Context, selector string) ([]byte, error)

	// Close releases the underlying browser tab. Idempotent.
	Close() error
}

// PageFactory hands out the page bound to a connector id, creating it
// on first use. Release must be called to free the OS-level resource.
type PageFactory interface {
	// Page returns the persistent page for the connector.
	Page(ctx context.Context, connectorID string) (Page, error)

	// Release closes and forgets the page for the connector. Safe to
	// call when no page exists.
	Release(connectorID string) error
}

// PollConfig bounds the outcome-waiting loops in the automation
// adapter. Loops always terminate: either an outcome appears or the
// deadline resolves to domain.ErrTimeout.
type PollConfig struct {
	// Timeout caps the total wait (login outcome, MFA outcome).
	Timeout time.Duration
	// Interval is the base delay between polls; implementations add
	// jitter to avoid lockstep polling.
	Interval time.Duration
}
