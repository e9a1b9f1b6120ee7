package probe

import (
	"context"
	"time"
)

// Session is one live browser session as the walker sees it. Every call is
// blocking and bounded; a timeout on a presence wait is an answer, not an
// error.
type Session interface {
	// Navigate loads url in the session's page.
	Navigate(ctx context.Context, url string) error

	// WaitFor reports whether an element matching selector appears within
	// timeout. A timeout yields (false, nil).
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// Click clicks the first element matching selector, waiting up to timeout
	// for it to appear.
	Click(ctx context.Context, selector string, timeout time.Duration) error

	// Controls returns the elements matching item inside the first element
	// matching list, waiting up to timeout for the list. A missing list
	// yields (nil, nil).
	Controls(ctx context.Context, list, item string, timeout time.Duration) ([]Control, error)

	// ClickAll clicks every element currently matching selector and returns
	// how many clicks succeeded.
	ClickAll(ctx context.Context, selector string) (int, error)

	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)

	// URL returns the page's current location.
	URL(ctx context.Context) string

	// Screenshot writes a PNG of the viewport to path.
	Screenshot(ctx context.Context, path string) error

	// Close ends the session and releases the browser.
	Close() error
}

// Control is one clickable page entry in a report's navigation list.
type Control interface {
	Label(ctx context.Context) string
	Click(ctx context.Context) error
}

// PageListKind tells whether a report exposed a navigation list.
type PageListKind int

const (
	// SinglePage: no navigation list was found; the report is walked as one
	// unnamed page.
	SinglePage PageListKind = iota
	// MultiPage: one Control per page.
	MultiPage
)

// PageList is the outcome of page discovery.
type PageList struct {
	Kind     PageListKind
	Controls []Control
}

// Count returns the number of pages the walk will visit.
func (l PageList) Count() int {
	if l.Kind == SinglePage {
		return 1
	}
	return len(l.Controls)
}
