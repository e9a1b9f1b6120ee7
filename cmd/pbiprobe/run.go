package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/use-agent/pbiprobe/config"
	"github.com/use-agent/pbiprobe/input"
	"github.com/use-agent/pbiprobe/models"
	"github.com/use-agent/pbiprobe/notify"
	"github.com/use-agent/pbiprobe/probe"
	"github.com/use-agent/pbiprobe/report"
	"github.com/use-agent/pbiprobe/runner"
	"github.com/use-agent/pbiprobe/webhook"
)

type areaNotifier interface {
	NotifyArea(ctx context.Context, sum report.AreaSummary) error
}

// deps are the outward-facing collaborators of a run.
type deps struct {
	newSession  func(cfg config.BrowserConfig) runner.SessionFactory
	newNotifier func(r notify.Recipients, cfg config.NotifyConfig) areaNotifier
}

// run executes one full check and returns the exit code.
//
// Lifecycle:
//
//  1. Tenants file → browser profile name
//  2. Input workbooks → sources (one per area)
//  3. Runner: one browser per source, merged rows
//  4. result.html in the run directory
//  5. One email per area
//  6. Optional run.completed webhook
func run(ctx context.Context, cfg *config.Config, opts options, d deps) int {
	// ── 1. Tenant ────────────────────────────────────────────────────
	tenants, err := config.LoadTenants(opts.configPath)
	if err != nil {
		slog.Error("failed to load tenants", "path", opts.configPath, "error", err)
		return exitConfig
	}
	profile, err := tenants.Profile(opts.tenant)
	if err != nil {
		slog.Error("unknown tenant", "tenant", opts.tenant, "error", err)
		return exitConfig
	}

	// ── 2. Sources ───────────────────────────────────────────────────
	sources, err := input.ReadSources(cfg.Input.Dir, cfg.Input.Patterns)
	if err != nil {
		slog.Error("failed to read input files", "dir", cfg.Input.Dir, "error", err)
		return exitConfig
	}

	runID := runner.NewRunID(time.Now())
	runDir := filepath.Join(cfg.Output.Dir, runID)
	slog.Info("pbiprobe starting",
		"run", runID,
		"tenant", opts.tenant,
		"profile", profile,
		"sources", len(sources),
		"output", runDir,
	)

	// ── 3. Check every report ────────────────────────────────────────
	walker := probe.NewWalker(cfg.Walk, runDir)
	r := runner.New(d.newSession(cfg.Browser), walker, cfg.Browser.ProfileBase, profile)
	outcome, err := r.Run(ctx, sources)
	if err != nil {
		slog.Error("run failed", "error", err)
		return exitFailed
	}

	// ── 4. Results page ──────────────────────────────────────────────
	resultPath := filepath.Join(runDir, "result.html")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		slog.Error("failed to create run directory", "dir", runDir, "error", err)
	}
	if err := report.WriteHTML(resultPath, outcome.Rows); err != nil {
		slog.Error("failed to write results page", "error", err)
		resultPath = ""
	} else {
		slog.Info("results page written", "path", resultPath)
	}

	// ── 5. Notifications ─────────────────────────────────────────────
	// Results go out even after an interrupt, within their own bound.
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Notify.DeliveryTimeout)
	defer cancel()

	areas := sourceAreas(sources)
	summaries := make([]report.AreaSummary, 0, len(areas))
	for _, area := range areas {
		summaries = append(summaries, report.Summarize(outcome.Rows, area))
	}
	notifyFailed := false
	if cfg.Notify.Enabled && len(summaries) > 0 {
		n := d.newNotifier(tenants, cfg.Notify)
		for _, sum := range summaries {
			err := n.NotifyArea(deliverCtx, sum)
			switch {
			case err == nil, errors.Is(err, notify.ErrNoRecipients):
			default:
				slog.Error("notification failed", "area", sum.Area, "error", err)
				notifyFailed = true
			}
		}
	}

	// ── 6. Webhook ───────────────────────────────────────────────────
	if cfg.Webhook.URL != "" {
		ev := webhook.NewRunCompleted(runID, runSummary(outcome, summaries, resultPath))
		if err := webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret).Send(deliverCtx, ev); err != nil {
			slog.Error("webhook failed", "error", err)
		}
	}

	fmt.Printf("pbiprobe: %d pages checked, errors=%t, fatal=%t, results: %s\n",
		len(outcome.Rows), outcome.HadErrors, outcome.HadFatal, resultPath)

	if ctx.Err() != nil {
		slog.Warn("run was interrupted, some reports were not checked")
		return exitFailed
	}
	if outcome.HadFatal || notifyFailed {
		return exitFailed
	}
	return exitOK
}

// sourceAreas returns the distinct areas of the input sources in input order.
func sourceAreas(sources []models.Source) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range sources {
		if !seen[s.Area] {
			seen[s.Area] = true
			out = append(out, s.Area)
		}
	}
	return out
}

func runSummary(o *runner.Outcome, areas []report.AreaSummary, resultPath string) webhook.RunSummary {
	s := webhook.RunSummary{
		Pages:      len(o.Rows),
		HadErrors:  o.HadErrors,
		ResultPath: resultPath,
		Areas:      areas,
	}
	for _, row := range o.Rows {
		switch row.Status {
		case models.StatusError:
			s.Errors++
		case models.StatusFatal:
			s.Fatal++
		}
	}
	return s
}
