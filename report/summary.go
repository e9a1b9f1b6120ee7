// Package report turns merged result rows into per-area summaries, the
// results page and notification bodies.
package report

import (
	"strings"

	"github.com/use-agent/pbiprobe/models"
)

// DatasetStats counts rows for one dataset within an area.
type DatasetStats struct {
	Name   string `json:"name"`
	Total  int    `json:"total"`
	Errors int    `json:"errors"`
}

// Successful returns the rows that did not show a visual error.
func (d DatasetStats) Successful() int { return d.Total - d.Errors }

// AreaSummary is everything a notification for one area needs.
type AreaSummary struct {
	Area     string             `json:"area"`
	Datasets []DatasetStats     `json:"datasets"`
	Errored  []models.ResultRow `json:"-"`
}

// Total returns the number of rows in the area.
func (s AreaSummary) Total() int {
	n := 0
	for _, d := range s.Datasets {
		n += d.Total
	}
	return n
}

// ErrorCount returns the number of rows with status error.
func (s AreaSummary) ErrorCount() int { return len(s.Errored) }

// Summarize computes per-dataset totals for the rows of area. Datasets keep
// the order in which they first appear in rows.
func Summarize(rows []models.ResultRow, area string) AreaSummary {
	sum := AreaSummary{Area: area}
	idx := make(map[string]int)
	for _, row := range rows {
		if !strings.EqualFold(row.Area, area) {
			continue
		}
		i, ok := idx[row.DatasetName]
		if !ok {
			i = len(sum.Datasets)
			idx[row.DatasetName] = i
			sum.Datasets = append(sum.Datasets, DatasetStats{Name: row.DatasetName})
		}
		sum.Datasets[i].Total++
		if row.Status == models.StatusError {
			sum.Datasets[i].Errors++
			sum.Errored = append(sum.Errored, row)
		}
	}
	return sum
}
