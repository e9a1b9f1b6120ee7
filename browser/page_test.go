package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pbiprobe/config"
)

const testPage = `<!doctype html>
<html><body>
<div id="pages">
  <button onclick="document.body.dataset.page='1'">Page one</button>
  <button onclick="document.body.dataset.page='2'">Page two</button>
</div>
<button id="go" onclick="document.body.dataset.clicked='yes'">Go</button>
</body></html>`

// openTestSession starts a headless browser on a throwaway profile. Tests
// using it are skipped when no Chromium binary is installed.
func openTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("starts a browser")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chromium binary found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Load().Browser
	cfg.BrowserBin = bin
	cfg.Headless = true
	cfg.NoSandbox = true
	cfg.NavInterval = 0
	cfg.BlockedResourceTypes = nil
	cfg.BlockedHosts = nil
	cfg.ActionTimeout = 5 * time.Second

	s, err := Open(context.Background(), cfg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, srv.URL
}

func TestSession_WaitFor(t *testing.T) {
	s, url := openTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, url))

	ok, err := s.WaitFor(ctx, "#go", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	start := time.Now()
	ok, err = s.WaitFor(ctx, "#missing", 300*time.Millisecond)
	require.NoError(t, err, "a lookup that runs out its own timeout is an absence")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSession_WaitForCanceledRun(t *testing.T) {
	s, url := openTestSession(t)
	require.NoError(t, s.Navigate(context.Background(), url))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.WaitFor(ctx, "#missing", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_ClickAfterBoundedLookup(t *testing.T) {
	s, url := openTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, url))

	require.NoError(t, s.Click(ctx, "#go", time.Second))

	html, err := s.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `data-clicked="yes"`)
}

func TestSession_Controls(t *testing.T) {
	s, url := openTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, url))

	controls, err := s.Controls(ctx, "#pages", "button", time.Second)
	require.NoError(t, err)
	require.Len(t, controls, 2)
	assert.Equal(t, "Page two", controls[1].Label(ctx))

	require.NoError(t, controls[1].Click(ctx))
	html, err := s.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `data-page="2"`)

	none, err := s.Controls(ctx, "#no-list", "button", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSession_URL(t *testing.T) {
	s, url := openTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, url))

	assert.Equal(t, url+"/", s.URL(ctx))
}
