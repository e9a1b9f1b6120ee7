// Package probe walks Power BI reports in a browser session and records what
// each page looked like.
package probe

import (
	"context"
	"log/slog"

	"github.com/use-agent/pbiprobe/models"
)

// Probe owns one browser session and the observations made through it.
// A Probe is not safe for concurrent use; each worker gets its own.
type Probe struct {
	session   Session
	walker    *Walker
	rows      []models.ResultRow
	hadErrors bool
	hadFatal  bool
}

// New creates a Probe around an open session.
func New(session Session, walker *Walker) *Probe {
	return &Probe{session: session, walker: walker}
}

// Run walks every report of src in order, closing stray panels between
// reports.
func (p *Probe) Run(ctx context.Context, src models.Source) {
	for i, rep := range src.Reports {
		if ctx.Err() != nil {
			slog.Warn("run canceled, reports left unchecked",
				"area", src.Area, "remaining", len(src.Reports)-i)
			return
		}
		for _, row := range p.walker.Walk(ctx, p.session, src, rep) {
			p.record(row)
		}
		p.walker.ClosePanels(ctx, p.session)
	}
}

func (p *Probe) record(row models.ResultRow) {
	switch row.Status {
	case models.StatusError:
		p.hadErrors = true
	case models.StatusFatal:
		p.hadFatal = true
	}
	p.rows = append(p.rows, row)
}

// Results returns a copy of the rows recorded so far.
func (p *Probe) Results() []models.ResultRow {
	out := make([]models.ResultRow, len(p.rows))
	copy(out, p.rows)
	return out
}

// HadErrors reports whether any page so far showed a visual error.
func (p *Probe) HadErrors() bool { return p.hadErrors }

// HadFatal reports whether any report so far failed to load.
func (p *Probe) HadFatal() bool { return p.hadFatal }

// Close closes stray panels and ends the session.
func (p *Probe) Close(ctx context.Context) error {
	p.walker.ClosePanels(ctx, p.session)
	return p.session.Close()
}
