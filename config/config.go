package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/use-agent/pbiprobe/models"
)

// Config holds all application configuration.
type Config struct {
	Browser BrowserConfig
	Walk    WalkConfig
	Input   InputConfig
	Output  OutputConfig
	Notify  NotifyConfig
	Webhook WebhookConfig
	Log     LogConfig
}

// BrowserConfig controls the Rod browser sessions, one per input source.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: false (the BI app is signed in through the profile)

	// BrowserBin overrides the Chromium/Edge binary path.
	BrowserBin string

	// ProfileBase is the directory holding the persisted user-data profiles.
	// Worker i uses <ProfileBase>/<profile>_<i>.
	ProfileBase string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// WindowSize is the viewport used for screenshots, "width,height".
	WindowSize string // default: "1920,1080"

	// Stealth masks navigator.webdriver and friends before navigation.
	Stealth bool // default: false

	// ExtraHeaders are sent with every request from the session.
	// Format: "Name=value,Other=value".
	ExtraHeaders map[string]string

	// BlockedResourceTypes lists resource types to block, e.g. "Media".
	BlockedResourceTypes []string

	// BlockedHosts lists hostnames (and their subdomains) to block.
	BlockedHosts []string

	// NavInterval is the minimum spacing between navigations and clicks.
	NavInterval time.Duration // default: 1s

	// NavigationTimeout bounds page.Navigate alone.
	NavigationTimeout time.Duration // default: 30s

	// ActionTimeout bounds a single click or screenshot.
	ActionTimeout time.Duration // default: 10s
}

// WalkConfig controls the per-report page walk: timeouts and UI markers.
type WalkConfig struct {
	// LoadTimeout bounds the wait for the report container.
	LoadTimeout time.Duration // default: 20s

	// ExpandTimeout bounds the wait for the page-navigation expand button.
	ExpandTimeout time.Duration // default: 1s

	// LoadSettle is the pause after the report container appears.
	LoadSettle time.Duration // default: 25s

	// PageListTimeout bounds the page list discovery.
	PageListTimeout time.Duration // default: 10s

	// ErrorCheckTimeout bounds each error-overlay check.
	ErrorCheckTimeout time.Duration // default: 10s

	// ErrorSettle is the pause before screenshotting an errored page.
	ErrorSettle time.Duration // default: 15s

	// RenderTimeout bounds the wait for the mid-viewport marker.
	RenderTimeout time.Duration // default: 180s

	// CloseEvery closes stray open-report panels after this many pages.
	CloseEvery int // default: 5

	// SkipKeywords mark non-content pages that produce no row.
	SkipKeywords []string // default: ["home page", "navigation"]

	Selectors Selectors
}

// Selectors are the CSS selectors that identify UI markers in the BI app.
type Selectors struct {
	Container    string // report container
	ExpandButton string // page-navigation expand button
	PageList     string // page navigation list
	PageButton   string // page controls inside PageList
	ErrorOverlay string // visual error overlay
	MidViewport  string // rendered-content marker
	CloseButton  string // stray open-report panel close buttons
	TextRun      string // text spans scanned for skip keywords
}

// InputConfig controls where report lists are read from.
type InputConfig struct {
	// Dir is the directory scanned for input files.
	Dir string // default: "."

	// Patterns are glob patterns matched against file names.
	Patterns []string // default: ["*.xlsx"]
}

// OutputConfig controls where screenshots and the results page are written.
type OutputConfig struct {
	// Dir is the parent of the per-run output directories.
	Dir string // default: "screenshots"
}

// NotifyConfig controls the per-area summary emails.
type NotifyConfig struct {
	// Enabled toggles email delivery.
	Enabled bool // default: true

	// SendGridAPIKey authenticates against the SendGrid API.
	SendGridAPIKey string

	// From is the sender address.
	From string

	// MaxAttempts is the total number of send attempts.
	MaxAttempts int // default: 3

	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration // default: 5s

	// OnlyOnErrors skips areas whose rows are all clean.
	OnlyOnErrors bool // default: false

	// DeliveryTimeout bounds the email and webhook phase. It runs detached
	// from an interrupt so results still go out after Ctrl-C.
	DeliveryTimeout time.Duration // default: 2m
}

// WebhookConfig controls the optional run-completed webhook.
type WebhookConfig struct {
	URL    string
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:             envBoolOr("PBIPROBE_HEADLESS", false),
			BrowserBin:           os.Getenv("PBIPROBE_BROWSER_BIN"),
			ProfileBase:          envOr("PBIPROBE_PROFILE_BASE", defaultProfileBase()),
			NoSandbox:            envBoolOr("PBIPROBE_NO_SANDBOX", false),
			WindowSize:           envOr("PBIPROBE_WINDOW_SIZE", "1920,1080"),
			Stealth:              envBoolOr("PBIPROBE_STEALTH", false),
			ExtraHeaders:         envMapOr("PBIPROBE_EXTRA_HEADERS", nil),
			BlockedResourceTypes: envSliceOr("PBIPROBE_BLOCKED_RESOURCES", nil),
			BlockedHosts:         envSliceOr("PBIPROBE_BLOCKED_HOSTS", nil),
			NavInterval:          envDurationOr("PBIPROBE_NAV_INTERVAL", time.Second),
			NavigationTimeout:    envDurationOr("PBIPROBE_NAV_TIMEOUT", 30*time.Second),
			ActionTimeout:        envDurationOr("PBIPROBE_ACTION_TIMEOUT", 10*time.Second),
		},
		Walk: WalkConfig{
			LoadTimeout:       envDurationOr("PBIPROBE_LOAD_TIMEOUT", 20*time.Second),
			ExpandTimeout:     envDurationOr("PBIPROBE_EXPAND_TIMEOUT", time.Second),
			LoadSettle:        envDurationOr("PBIPROBE_LOAD_SETTLE", 25*time.Second),
			PageListTimeout:   envDurationOr("PBIPROBE_PAGE_LIST_TIMEOUT", 10*time.Second),
			ErrorCheckTimeout: envDurationOr("PBIPROBE_ERROR_CHECK_TIMEOUT", 10*time.Second),
			ErrorSettle:       envDurationOr("PBIPROBE_ERROR_SETTLE", 15*time.Second),
			RenderTimeout:     envDurationOr("PBIPROBE_RENDER_TIMEOUT", 180*time.Second),
			CloseEvery:        envIntOr("PBIPROBE_CLOSE_EVERY", 5),
			SkipKeywords:      envSliceOr("PBIPROBE_SKIP_KEYWORDS", []string{"home page", "navigation"}),
			Selectors:         DefaultSelectors(),
		},
		Input: InputConfig{
			Dir:      envOr("PBIPROBE_INPUT_DIR", "."),
			Patterns: envSliceOr("PBIPROBE_INPUT_PATTERNS", []string{"*.xlsx"}),
		},
		Output: OutputConfig{
			Dir: envOr("PBIPROBE_OUTPUT_DIR", "screenshots"),
		},
		Notify: NotifyConfig{
			Enabled:         envBoolOr("PBIPROBE_NOTIFY", true),
			SendGridAPIKey:  os.Getenv("SENDGRID_API_KEY"),
			From:            envOr("PBIPROBE_MAIL_FROM", "pbiprobe@localhost"),
			MaxAttempts:     envIntOr("PBIPROBE_MAIL_ATTEMPTS", 3),
			RetryDelay:      envDurationOr("PBIPROBE_MAIL_RETRY_DELAY", 5*time.Second),
			OnlyOnErrors:    envBoolOr("PBIPROBE_NOTIFY_ONLY_ON_ERRORS", false),
			DeliveryTimeout: envDurationOr("PBIPROBE_DELIVERY_TIMEOUT", 2*time.Minute),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("PBIPROBE_WEBHOOK_URL"),
			Secret: os.Getenv("PBIPROBE_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("PBIPROBE_LOG_LEVEL", "info"),
			Format: envOr("PBIPROBE_LOG_FORMAT", "json"),
		},
	}
}

// DefaultSelectors returns the markers of the Power BI web UI.
func DefaultSelectors() Selectors {
	return Selectors{
		Container:    "pbi-overlay-container",
		ExpandButton: "#pageNavBtn",
		PageList:     "mat-action-list[data-testid='pages-navigation-list']",
		PageButton:   "button",
		ErrorOverlay: "canvas-visual-error-overlay",
		MidViewport:  ".mid-viewport",
		CloseButton:  "button[class*='close-button']",
		TextRun:      "span.textRun",
	}
}

// Validate checks that selectors compile and numeric settings are usable.
func (c *Config) Validate() error {
	sels := map[string]string{
		"container":     c.Walk.Selectors.Container,
		"expand button": c.Walk.Selectors.ExpandButton,
		"page list":     c.Walk.Selectors.PageList,
		"page button":   c.Walk.Selectors.PageButton,
		"error overlay": c.Walk.Selectors.ErrorOverlay,
		"mid viewport":  c.Walk.Selectors.MidViewport,
		"close button":  c.Walk.Selectors.CloseButton,
		"text run":      c.Walk.Selectors.TextRun,
	}
	for name, sel := range sels {
		if _, err := cascadia.Compile(sel); err != nil {
			return models.NewProbeError(models.ErrCodeConfigInvalid,
				fmt.Sprintf("%s selector %q", name, sel), err)
		}
	}
	if c.Walk.CloseEvery < 1 {
		return models.NewProbeError(models.ErrCodeConfigInvalid, "close interval must be at least 1", nil)
	}
	if c.Notify.MaxAttempts < 1 {
		return models.NewProbeError(models.ErrCodeConfigInvalid, "mail attempts must be at least 1", nil)
	}
	if c.Notify.DeliveryTimeout <= 0 {
		return models.NewProbeError(models.ErrCodeConfigInvalid, "delivery timeout must be positive", nil)
	}
	if len(c.Input.Patterns) == 0 {
		return models.NewProbeError(models.ErrCodeConfigInvalid, "no input patterns", nil)
	}
	return nil
}

func defaultProfileBase() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "profiles"
	}
	return filepath.Join(dir, "pbiprobe")
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envMapOr parses "k=v,k2=v2". Entries without "=" are ignored.
func envMapOr(key string, fallback map[string]string) map[string]string {
	pairs := envSliceOr(key, nil)
	if len(pairs) == 0 {
		return fallback
	}
	result := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return result
}
