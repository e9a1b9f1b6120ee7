package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/pbiprobe/models"
	"github.com/use-agent/pbiprobe/probe"
)

// Navigate loads url and waits for the load event (best-effort).
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return categorizeError(err, "navigation to report failed")
	}
	if err := p.WaitLoad(); err != nil {
		slog.Debug("load event not seen, proceeding", "url", url, "error", err)
	}
	return nil
}

// WaitFor polls for selector until timeout. A zero timeout checks once.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		has, _, err := s.page.Context(ctx).Has(selector)
		return has, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := s.page.Context(waitCtx).Element(selector)
	return found(ctx, err)
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	el, err := s.page.Context(waitCtx).Element(selector)
	cancel()
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return s.clickElement(ctx, el)
}

// Controls returns the item elements inside the list element.
func (s *Session) Controls(ctx context.Context, list, item string, timeout time.Duration) ([]probe.Control, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	listEl, err := s.page.Context(waitCtx).Element(list)
	cancel()
	if ok, ferr := found(ctx, err); !ok {
		return nil, ferr
	}
	els, err := listEl.Context(ctx).Elements(item)
	if err != nil {
		return nil, categorizeError(err, "failed to list page controls")
	}
	out := make([]probe.Control, len(els))
	for i, el := range els {
		out[i] = &control{s: s, el: el}
	}
	return out, nil
}

// ClickAll clicks every element currently matching selector without waiting
// for any to appear.
func (s *Session) ClickAll(ctx context.Context, selector string) (int, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return 0, categorizeError(err, "failed to query "+selector)
	}
	n := 0
	for _, el := range els {
		if err := s.clickElement(ctx, el); err != nil {
			slog.Debug("failed to click element", "selector", selector, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	actionCtx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	html, err := s.page.Context(actionCtx).HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return html, nil
}

// URL returns window.location.href, or "" when the page cannot answer.
func (s *Session) URL(ctx context.Context) string {
	actionCtx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	return evalStringOrEmpty(s.page.Context(actionCtx), `() => window.location.href`)
}

// Screenshot writes a viewport PNG to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	actionCtx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	data, err := s.page.Context(actionCtx).Screenshot(false, nil)
	if err != nil {
		return categorizeError(err, "screenshot failed")
	}
	return os.WriteFile(path, data, 0o644)
}

// control is one page button in the report's navigation list.
type control struct {
	s  *Session
	el *rod.Element
}

func (c *control) Label(ctx context.Context) string {
	actionCtx, cancel := context.WithTimeout(ctx, c.s.cfg.ActionTimeout)
	defer cancel()

	text, err := c.el.Context(actionCtx).Text()
	if err != nil {
		return ""
	}
	return text
}

func (c *control) Click(ctx context.Context) error {
	if err := c.s.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.s.clickElement(ctx, c.el)
}

// clickElement left-clicks el within the action timeout.
func (s *Session) clickElement(ctx context.Context, el *rod.Element) error {
	actionCtx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	return el.Context(actionCtx).Click(proto.InputMouseButtonLeft, 1)
}

// found turns an element lookup error into a presence answer: a lookup that
// ran out its own timeout means "absent", anything else is an error.
func found(ctx context.Context, err error) (bool, error) {
	var notFound *rod.ElementNotFoundError
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &notFound):
		return false, nil
	default:
		return false, categorizeError(err, "element lookup failed")
	}
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func categorizeError(err error, msg string) *models.ProbeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewProbeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewProbeError(models.ErrCodeTimeout, "run canceled", err)
	default:
		return models.NewProbeError(models.ErrCodeNavigation, msg, err)
	}
}

var _ probe.Session = (*Session)(nil)
