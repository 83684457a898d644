// File: internal/navigator/driver.go

// Package navigator drives an authenticated session through the fine portal:
// the SSO login state machine, challenge detection and resolution, the
// paginated vehicle walk, and per-vehicle processing.
package navigator

import (
	"context"
	"time"
)

// Driver is the browser capability surface the navigator consumes. It is
// implemented by browser.Page; tests substitute scripted fakes.
type Driver interface {
	// Navigate loads a URL using the load-state ladder.
	Navigate(ctx context.Context, url string) error
	// WaitReady leniently waits for the document after a click-driven
	// transition; it fails only on context cancellation.
	WaitReady(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)

	// Count returns the number of elements matching a CSS or XPath selector.
	Count(ctx context.Context, selector string) (int, error)
	Text(ctx context.Context, selector string) (string, error)
	BodyText(ctx context.Context) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)

	Click(ctx context.Context, selector string) error
	ClickByText(ctx context.Context, text string) error
	ClickNth(ctx context.Context, selector string, index int) error
	NthText(ctx context.Context, selector string, index int) (string, error)
	NthClickable(ctx context.Context, selector string, index int) (bool, error)

	Evaluate(ctx context.Context, js string, out any) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	NavigateBack(ctx context.Context) error
	Reload(ctx context.Context) error
}
