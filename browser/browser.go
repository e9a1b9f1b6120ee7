// Package browser runs one Rod-driven Chromium session per worker on a
// persisted user-data profile, and implements probe.Session on top of it.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/pbiprobe/config"
	"github.com/use-agent/pbiprobe/models"
	"github.com/ysmood/gson"
	"golang.org/x/time/rate"
)

// Session is a browser bound to one profile directory with a single page.
// It is not safe for concurrent use.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter
	limiter  *rate.Limiter
	cfg      config.BrowserConfig
	profile  string
}

// Open launches a browser on profileDir and prepares its page.
//
// Lifecycle:
//
//  1. Launch           – persisted profile, window size, automation flags
//  2. Connect          – CDP over the launcher's control URL
//  3. Page             – one tab, viewport pinned to the window size
//  4. Stealth, headers – installed before the first navigation
//  5. Hijack           – blocked resource types and hosts
//
// The profile directory is never removed; it holds the signed-in state.
func Open(ctx context.Context, cfg config.BrowserConfig, profileDir string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width, height, err := parseWindowSize(cfg.WindowSize)
	if err != nil {
		return nil, models.NewProbeError(models.ErrCodeConfigInvalid, "invalid window size", err)
	}

	// ── 1. Launch ────────────────────────────────────────────────────
	l := launcher.New().
		UserDataDir(profileDir).
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	l.Set(flags.Flag("start-maximized"))
	l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", width, height))
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewProbeError(models.ErrCodeBrowserLaunch,
			"failed to launch browser on profile "+profileDir, err)
	}
	slog.Info("browser launched", "profile", profileDir, "controlURL", controlURL)

	// ── 2. Connect ───────────────────────────────────────────────────
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, models.NewProbeError(models.ErrCodeBrowserLaunch, "failed to connect to browser", err)
	}

	s := &Session{
		launcher: l,
		browser:  b,
		limiter:  newLimiter(cfg.NavInterval),
		cfg:      cfg,
		profile:  profileDir,
	}

	// ── 3. Page ──────────────────────────────────────────────────────
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Close()
		return nil, models.NewProbeError(models.ErrCodeBrowserLaunch, "failed to create page", err)
	}
	s.page = page
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		slog.Warn("failed to set viewport", "error", err)
	}

	// ── 4. Stealth + headers ─────────────────────────────────────────
	if cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if len(cfg.ExtraHeaders) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(cfg.ExtraHeaders),
		}).Call(page); err != nil {
			slog.Warn("failed to set extra headers", "error", err)
		}
	}

	// ── 5. Hijack ────────────────────────────────────────────────────
	s.router = setupHijack(page, cfg.BlockedResourceTypes, cfg.BlockedHosts)

	return s, nil
}

// Close stops request interception and shuts the browser down, killing the
// process if a graceful close fails. The profile directory is left in place.
func (s *Session) Close() error {
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			slog.Debug("failed to stop hijack router", "error", err)
		}
	}
	err := s.browser.Close()
	if err != nil {
		slog.Warn("graceful browser close failed, killing process", "profile", s.profile, "error", err)
		s.launcher.Kill()
	}
	slog.Info("browser closed", "profile", s.profile)
	return err
}

// newLimiter paces navigations and clicks to one per interval.
func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// parseWindowSize parses "width,height" (or "widthxheight").
func parseWindowSize(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	sep := ","
	if !strings.Contains(s, sep) {
		sep = "x"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window size %q: want width,height", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("window size %q: bad width: %w", s, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("window size %q: bad height: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("window size %q: dimensions must be positive", s)
	}
	return w, h, nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
