package models

import (
	"fmt"
	"time"
)

// Status is the observed outcome for one report page.
type Status string

const (
	StatusError       Status = "error"
	StatusNoError     Status = "no error"
	StatusCheckFailed Status = "check_failed"
	StatusFatal       Status = "fatal_error"
)

// NoScreenshot marks a row whose screenshot could not be written.
const NoScreenshot = "N/A"

// Severity orders statuses for merge precedence. Higher wins.
func (s Status) Severity() int {
	switch s {
	case StatusError:
		return 3
	case StatusFatal:
		return 2
	case StatusCheckFailed:
		return 1
	default:
		return 0
	}
}

// Report is one input row: a dashboard to open and walk.
type Report struct {
	Name    string `json:"report_name"`
	URL     string `json:"report_url"`
	Dataset string `json:"dataset_name"`
}

// PageKey identifies an observation across workers.
type PageKey struct {
	ReportURL  string
	PageURL    string
	PageNumber int
}

// ResultRow describes one (report, page) observation. Rows are built once
// by the walker and never mutated afterwards.
type ResultRow struct {
	Area           string        `json:"area"`
	ReportName     string        `json:"report_name"`
	DatasetName    string        `json:"dataset_name"`
	ReportURL      string        `json:"url_report"`
	PageURL        string        `json:"url_page"`
	PageNumber     int           `json:"page_number"` // 1-based; 0 for fatal rows
	PageTotal      int           `json:"page_total"`
	Status         Status        `json:"status"`
	ScreenshotPath string        `json:"screenshot_path"`
	Elapsed        time.Duration `json:"-"`
}

// Key returns the merge key for the row.
func (r ResultRow) Key() PageKey {
	return PageKey{ReportURL: r.ReportURL, PageURL: r.PageURL, PageNumber: r.PageNumber}
}

// PageLabel renders the page position as "n/total", or "error" for the
// single fallback row of a report that never loaded.
func (r ResultRow) PageLabel() string {
	if r.PageNumber == 0 {
		return "error"
	}
	return fmt.Sprintf("%d/%d", r.PageNumber, r.PageTotal)
}

// HasScreenshot reports whether a screenshot file was written for the row.
func (r ResultRow) HasScreenshot() bool {
	return r.ScreenshotPath != "" && r.ScreenshotPath != NoScreenshot
}

// ElapsedSeconds formats the elapsed time the way the results table shows it.
func (r ResultRow) ElapsedSeconds() string {
	return fmt.Sprintf("%.2f", r.Elapsed.Seconds())
}
