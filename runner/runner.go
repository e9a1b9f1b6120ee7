// Package runner checks every input source in parallel, one browser session
// per source, and merges the per-source results into one ordered table.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/pbiprobe/models"
	"github.com/use-agent/pbiprobe/probe"
	"golang.org/x/sync/errgroup"
)

// SessionFactory opens a browser session on the given profile directory.
type SessionFactory func(ctx context.Context, profileDir string) (probe.Session, error)

// Runner fans sources out to workers.
type Runner struct {
	newSession  SessionFactory
	walker      *probe.Walker
	profileBase string
	profileName string
}

// New creates a Runner. Worker i uses <profileBase>/<profileName>_<i>.
func New(newSession SessionFactory, walker *probe.Walker, profileBase, profileName string) *Runner {
	return &Runner{
		newSession:  newSession,
		walker:      walker,
		profileBase: profileBase,
		profileName: profileName,
	}
}

// Outcome is the merged result of a run.
type Outcome struct {
	Rows      []models.ResultRow
	HadErrors bool
	HadFatal  bool
}

// workerResult is what one worker hands back.
type workerResult struct {
	rows      []models.ResultRow
	hadErrors bool
	hadFatal  bool
}

// ProfileDir returns the profile directory for worker i.
func (r *Runner) ProfileDir(i int) string {
	return filepath.Join(r.profileBase, fmt.Sprintf("%s_%d", r.profileName, i))
}

// Run checks all sources concurrently and returns the merged outcome. It
// only returns an error when the run itself could not proceed; per-report
// failures are fatal_error rows.
func (r *Runner) Run(ctx context.Context, sources []models.Source) (*Outcome, error) {
	if len(sources) == 0 {
		slog.Info("no sources to check")
		return &Outcome{}, nil
	}

	results := make([]workerResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(sources))

	start := time.Now()
	for i, src := range sources {
		g.Go(func() error {
			results[i] = r.work(gctx, i, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all [][]models.ResultRow
	out := &Outcome{}
	for _, res := range results {
		all = append(all, res.rows)
		out.HadErrors = out.HadErrors || res.hadErrors
		out.HadFatal = out.HadFatal || res.hadFatal
	}
	out.Rows = Merge(all...)

	slog.Info("run complete",
		"sources", len(sources),
		"rows", len(out.Rows),
		"hadErrors", out.HadErrors,
		"hadFatal", out.HadFatal,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return out, nil
}

// work runs one source on its own session. It never panics out: a panicking
// walk keeps the rows recorded so far and the session is still closed.
func (r *Runner) work(ctx context.Context, i int, src models.Source) (res workerResult) {
	log := slog.With("worker", i, "area", src.Area, "source", src.Path)
	profile := r.ProfileDir(i)

	session, err := r.newSession(ctx, profile)
	if err != nil {
		log.Error("failed to open browser session", "profile", profile, "error", err)
		return sessionFailure(src)
	}

	p := probe.New(session, r.walker)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("worker panicked", "panic", rec, "stack", string(debug.Stack()))
			res = workerResult{rows: p.Results(), hadErrors: p.HadErrors(), hadFatal: true}
		}
		// Close even when the run was canceled.
		if err := p.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to close browser session", "error", err)
		}
	}()

	log.Info("worker started", "reports", len(src.Reports), "profile", profile)
	p.Run(ctx, src)
	return workerResult{rows: p.Results(), hadErrors: p.HadErrors(), hadFatal: p.HadFatal()}
}

// sessionFailure yields one fatal_error row per report of a source whose
// browser never opened.
func sessionFailure(src models.Source) workerResult {
	rows := make([]models.ResultRow, 0, len(src.Reports))
	for _, rep := range src.Reports {
		rows = append(rows, models.ResultRow{
			Area:           src.Area,
			ReportName:     rep.Name,
			DatasetName:    rep.Dataset,
			ReportURL:      rep.URL,
			PageURL:        rep.URL,
			Status:         models.StatusFatal,
			ScreenshotPath: models.NoScreenshot,
		})
	}
	return workerResult{rows: rows, hadFatal: len(rows) > 0}
}

// NewRunID returns a sortable, unique name for a run's output directory.
func NewRunID(now time.Time) string {
	return now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}
