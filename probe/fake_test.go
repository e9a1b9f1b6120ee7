package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/use-agent/pbiprobe/config"
)

// fakePage scripts what one report page shows.
type fakePage struct {
	label      string
	texts      []string
	errorPre   bool  // overlay present on the fast pre-check
	errorPost  bool  // overlay present on the final check
	overlayErr error // overlay checks fail
	clickErr   error
}

// fakeSession is a scripted Session. pages[0] is the active page until a
// control is clicked.
type fakeSession struct {
	baseURL  string
	loaded   bool
	navErr   error
	noList   bool
	pages    []*fakePage
	shotErr  error
	navPanic bool

	current       int
	overlayChecks map[int]int
	shots         []string
	closeClicks   int
	closed        bool
}

func newFakeSession(pages ...*fakePage) *fakeSession {
	return &fakeSession{
		baseURL:       "https://app.powerbi.com/groups/g/reports/r1",
		loaded:        true,
		pages:         pages,
		overlayChecks: map[int]int{},
	}
}

var sel = config.DefaultSelectors()

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	if f.navPanic {
		panic("browser went away")
	}
	f.baseURL = url
	return f.navErr
}

func (f *fakeSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	switch selector {
	case sel.Container:
		return f.loaded, nil
	case sel.MidViewport:
		return true, nil
	case sel.ErrorOverlay:
		if len(f.pages) == 0 {
			return false, nil
		}
		p := f.pages[f.current]
		if p.overlayErr != nil {
			return false, p.overlayErr
		}
		f.overlayChecks[f.current]++
		if f.overlayChecks[f.current] == 1 {
			return p.errorPre, nil
		}
		return p.errorPost, nil
	}
	return false, nil
}

func (f *fakeSession) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return errors.New("element not found")
}

func (f *fakeSession) Controls(ctx context.Context, list, item string, timeout time.Duration) ([]Control, error) {
	if f.noList {
		return nil, nil
	}
	out := make([]Control, len(f.pages))
	for i := range f.pages {
		out[i] = &fakeControl{s: f, idx: i}
	}
	return out, nil
}

func (f *fakeSession) ClickAll(ctx context.Context, selector string) (int, error) {
	f.closeClicks++
	return 0, nil
}

func (f *fakeSession) HTML(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("<html><body>")
	if len(f.pages) > 0 {
		for _, t := range f.pages[f.current].texts {
			fmt.Fprintf(&b, `<div><span class="textRun">%s</span></div>`, t)
		}
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (f *fakeSession) URL(ctx context.Context) string {
	if f.noList {
		return f.baseURL + "/ReportSection"
	}
	return fmt.Sprintf("%s/ReportSection%d", f.baseURL, f.current+1)
}

func (f *fakeSession) Screenshot(ctx context.Context, path string) error {
	if f.shotErr != nil {
		return f.shotErr
	}
	f.shots = append(f.shots, path)
	return os.WriteFile(path, []byte("\x89PNG"), 0o644)
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeControl struct {
	s   *fakeSession
	idx int
}

func (c *fakeControl) Label(ctx context.Context) string { return c.s.pages[c.idx].label }

func (c *fakeControl) Click(ctx context.Context) error {
	if err := c.s.pages[c.idx].clickErr; err != nil {
		return err
	}
	c.s.current = c.idx
	return nil
}

// fastWalkConfig is the default walk config with every wait collapsed.
func fastWalkConfig() config.WalkConfig {
	cfg := config.Load().Walk
	cfg.LoadTimeout = 0
	cfg.ExpandTimeout = 0
	cfg.LoadSettle = 0
	cfg.PageListTimeout = 0
	cfg.ErrorCheckTimeout = 0
	cfg.ErrorSettle = 0
	cfg.RenderTimeout = 0
	return cfg
}

func pages(n int) []*fakePage {
	out := make([]*fakePage, n)
	for i := range out {
		out[i] = &fakePage{label: fmt.Sprintf("Page %d", i+1)}
	}
	return out
}
