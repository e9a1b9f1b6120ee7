package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/pbiprobe/config"
	"github.com/use-agent/pbiprobe/models"
)

// Walker opens a report, pages through it and records one ResultRow per page.
// A Walker holds no per-report state and may be shared by several Probes.
type Walker struct {
	cfg    config.WalkConfig
	outDir string
}

// NewWalker creates a Walker that writes screenshots below outDir.
func NewWalker(cfg config.WalkConfig, outDir string) *Walker {
	if cfg.CloseEvery < 1 {
		cfg.CloseEvery = 5
	}
	skip := make([]string, 0, len(cfg.SkipKeywords))
	for _, k := range cfg.SkipKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			skip = append(skip, k)
		}
	}
	cfg.SkipKeywords = skip
	return &Walker{cfg: cfg, outDir: outDir}
}

// pageOutcome classifies what happened on one page.
type pageOutcome int

const (
	pageSkipped  pageOutcome = iota // no row
	pageFastFail                    // error overlay seen on the pre-check
	pageChecked                     // full wait-and-recheck path
)

// Walk produces the rows for one report. It never fails: a report that
// cannot be opened yields a single fatal_error row.
//
// Lifecycle:
//
//  1. Navigate + wait for the report container (bounded)
//  2. Expand the page list (best-effort) and let the report settle
//  3. Discover pages: MultiPage(controls) or SinglePage
//  4. Per page: click, skip check, fast error check, render wait, final
//     check, screenshot
//  5. Every CloseEvery checked pages: close stray open-report panels
//
// Any failure in steps 1-3, or a cancelled context, triggers the fatal
// fallback row.
func (w *Walker) Walk(ctx context.Context, s Session, src models.Source, rep models.Report) []models.ResultRow {
	log := slog.With("area", src.Area, "report", rep.Name)

	rows, err := w.walk(ctx, s, src, rep, log)
	if err != nil {
		log.Error("fatal error while processing report", "url", rep.URL, "error", err)
		rows = append(rows, w.fatalRow(ctx, s, src, rep, log))
	}
	return rows
}

func (w *Walker) walk(ctx context.Context, s Session, src models.Source, rep models.Report, log *slog.Logger) ([]models.ResultRow, error) {
	sel := w.cfg.Selectors

	// ── 1. Load ──────────────────────────────────────────────────────
	log.Info("loading report", "url", rep.URL)
	if err := s.Navigate(ctx, rep.URL); err != nil {
		return nil, err
	}
	loaded, err := s.WaitFor(ctx, sel.Container, w.cfg.LoadTimeout)
	if err != nil {
		return nil, categorizeError(err, "waiting for report container")
	}
	if !loaded {
		return nil, models.NewProbeError(models.ErrCodeTimeout,
			fmt.Sprintf("report container did not appear within %s", w.cfg.LoadTimeout), nil)
	}

	// ── 2. Expand + settle ───────────────────────────────────────────
	if err := s.Click(ctx, sel.ExpandButton, w.cfg.ExpandTimeout); err != nil {
		log.Debug("page expand button not present", "error", err)
	}
	if err := sleep(ctx, w.cfg.LoadSettle); err != nil {
		return nil, err
	}
	start := time.Now()

	// ── 3. Discover ──────────────────────────────────────────────────
	pages := w.discover(ctx, s, log)
	total := pages.Count()
	log.Info("report loaded", "pages", total)

	// ── 4. Walk pages ────────────────────────────────────────────────
	var rows []models.ResultRow
	checked := 0
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		n := i + 1
		plog := log.With("page", n, "of", total)

		row, outcome := w.walkPage(ctx, s, pages, i, src, rep, start, plog)
		if outcome == pageSkipped {
			continue
		}
		rows = append(rows, row)
		plog.Info("page checked",
			"status", row.Status,
			"url", row.PageURL,
			"elapsed", row.ElapsedSeconds(),
		)

		// ── 5. Periodic panel cleanup ────────────────────────────────
		if outcome == pageChecked {
			checked++
			if checked%w.cfg.CloseEvery == 0 {
				w.closePanels(ctx, s, plog)
			}
		}
	}
	return rows, nil
}

// discover finds the page navigation list. Anything short of a non-empty
// list means the report is walked as a single page.
func (w *Walker) discover(ctx context.Context, s Session, log *slog.Logger) PageList {
	controls, err := s.Controls(ctx, w.cfg.Selectors.PageList, w.cfg.Selectors.PageButton, w.cfg.PageListTimeout)
	if err != nil {
		log.Warn("page list discovery failed, treating report as a single page", "error", err)
		return PageList{Kind: SinglePage}
	}
	if len(controls) == 0 {
		log.Debug("no page list, treating report as a single page")
		return PageList{Kind: SinglePage}
	}
	return PageList{Kind: MultiPage, Controls: controls}
}

// walkPage visits page i and returns its row. Failures here never escape:
// they either skip the page or degrade the row's status.
func (w *Walker) walkPage(ctx context.Context, s Session, pages PageList, i int, src models.Source, rep models.Report, start time.Time, log *slog.Logger) (models.ResultRow, pageOutcome) {
	sel := w.cfg.Selectors
	n := i + 1

	// a. Activate + skip check.
	if pages.Kind == MultiPage {
		ctl := pages.Controls[i]
		if err := ctl.Click(ctx); err != nil {
			log.Warn("failed to click page control", "error", err)
			return models.ResultRow{}, pageSkipped
		}
		if kw, ok := w.skipMatch(ctl.Label(ctx)); ok {
			log.Info("skipping page: control label matches skip keyword", "keyword", kw)
			return models.ResultRow{}, pageSkipped
		}
		if kw, ok := w.skipMatchTexts(ctx, s, log); ok {
			log.Info("skipping page: content matches skip keyword", "keyword", kw)
			return models.ResultRow{}, pageSkipped
		}
	}

	row := models.ResultRow{
		Area:        src.Area,
		ReportName:  rep.Name,
		DatasetName: rep.Dataset,
		ReportURL:   rep.URL,
		PageNumber:  n,
		PageTotal:   pages.Count(),
	}
	shotPath := w.ScreenshotPath(src, rep.Name, fmt.Sprintf("page_%d", n))

	// b. Fast path: pages that error immediately.
	present, err := s.WaitFor(ctx, sel.ErrorOverlay, w.cfg.ErrorCheckTimeout)
	switch {
	case err != nil:
		log.Warn("error overlay pre-check failed", "error", err)
	case present:
		log.Info("error overlay present, waiting before screenshot")
		_ = sleep(ctx, w.cfg.ErrorSettle)
		row.PageURL = s.URL(ctx)
		row.Status = models.StatusError
		row.ScreenshotPath = w.capture(ctx, s, shotPath, log)
		row.Elapsed = time.Since(start)
		return row, pageFastFail
	}

	// c. Wait for the content marker; a timeout is not fatal.
	if ok, err := s.WaitFor(ctx, sel.MidViewport, w.cfg.RenderTimeout); err != nil || !ok {
		log.Info("timeout waiting for mid-viewport, checking anyway", "error", err)
	}
	row.PageURL = s.URL(ctx)

	// d. Final check.
	var status models.Status
	present, err = s.WaitFor(ctx, sel.ErrorOverlay, w.cfg.ErrorCheckTimeout)
	switch {
	case err != nil:
		log.Warn("error overlay check failed", "error", err)
		status = models.StatusCheckFailed
	case present:
		status = models.StatusError
	default:
		status = models.StatusNoError
	}

	// e. Screenshot + row.
	row.Status = status
	row.ScreenshotPath = w.capture(ctx, s, shotPath, log)
	row.Elapsed = time.Since(start)
	return row, pageChecked
}

// fatalRow builds the single fallback row for a report that could not be
// walked, with a best-effort screenshot of whatever the browser shows.
func (w *Walker) fatalRow(ctx context.Context, s Session, src models.Source, rep models.Report, log *slog.Logger) models.ResultRow {
	shot := models.NoScreenshot
	if err := sleep(ctx, w.cfg.ErrorSettle); err == nil {
		shot = w.capture(ctx, s, w.ScreenshotPath(src, rep.Name, "error"), log)
	}
	return models.ResultRow{
		Area:           src.Area,
		ReportName:     rep.Name,
		DatasetName:    rep.Dataset,
		ReportURL:      rep.URL,
		PageURL:        rep.URL,
		Status:         models.StatusFatal,
		ScreenshotPath: shot,
	}
}

// ClosePanels closes stray open-report panels in the session.
func (w *Walker) ClosePanels(ctx context.Context, s Session) {
	w.closePanels(ctx, s, slog.Default())
}

func (w *Walker) closePanels(ctx context.Context, s Session, log *slog.Logger) {
	n, err := s.ClickAll(ctx, w.cfg.Selectors.CloseButton)
	if err != nil {
		log.Warn("failed to close open reports", "error", err)
		return
	}
	if n > 0 {
		log.Debug("closed open reports", "count", n)
	}
}

// capture writes a screenshot and returns its path, or NoScreenshot.
func (w *Walker) capture(ctx context.Context, s Session, path string, log *slog.Logger) string {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("failed to create screenshot dir", "error", err)
		return models.NoScreenshot
	}
	if err := s.Screenshot(ctx, path); err != nil {
		log.Warn("failed to save screenshot", "path", path, "error", err)
		return models.NoScreenshot
	}
	return path
}

// ScreenshotPath returns <outDir>/<area>/<source>/<report>_<suffix>.png.
// Several input files may share an area, so the source file name keeps
// their screenshots apart.
func (w *Walker) ScreenshotPath(src models.Source, report, suffix string) string {
	return filepath.Join(w.outDir, SanitizeName(src.Area), sourceDir(src.Path),
		SanitizeName(report)+"_"+suffix+".png")
}

// sourceDir turns "Sales EMEA.xlsx" into "Sales_EMEA_xlsx".
func sourceDir(path string) string {
	if path == "" {
		return ""
	}
	return SanitizeName(strings.ReplaceAll(filepath.Base(path), ".", "_"))
}

func (w *Walker) skipMatch(text string) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}
	for _, kw := range w.cfg.SkipKeywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// skipMatchTexts scans the rendered text runs of the current page.
func (w *Walker) skipMatchTexts(ctx context.Context, s Session, log *slog.Logger) (string, bool) {
	if len(w.cfg.SkipKeywords) == 0 {
		return "", false
	}
	html, err := s.HTML(ctx)
	if err != nil {
		log.Warn("failed to read page for skip keywords", "error", err)
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Warn("failed to parse page for skip keywords", "error", err)
		return "", false
	}
	var (
		keyword string
		found   bool
	)
	doc.Find(w.cfg.Selectors.TextRun).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		keyword, found = w.skipMatch(el.Text())
		return !found
	})
	return keyword, found
}

// SanitizeName makes a report or area name safe as a file name component:
// spaces become underscores and path separators are dropped.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ':
			return '_'
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, name)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// categorizeError wraps raw session errors into typed ProbeErrors.
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
