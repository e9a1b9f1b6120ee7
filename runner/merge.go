package runner

import (
	"cmp"
	"slices"

	"github.com/use-agent/pbiprobe/models"
)

// Merge combines per-worker rows into one table with a single row per
// PageKey, sorted by report URL, page number, then page URL.
//
// When two rows share a key, the one with the more severe status wins; on a
// tie a row with a screenshot beats one without, and after that the row seen
// first wins. The result does not depend on worker completion order as long
// as the input slices are passed in source order.
func Merge(rowSets ...[]models.ResultRow) []models.ResultRow {
	best := make(map[models.PageKey]models.ResultRow)
	var order []models.PageKey
	for _, rows := range rowSets {
		for _, row := range rows {
			key := row.Key()
			cur, ok := best[key]
			if !ok {
				best[key] = row
				order = append(order, key)
				continue
			}
			if preferred(row, cur) {
				best[key] = row
			}
		}
	}

	out := make([]models.ResultRow, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	slices.SortStableFunc(out, compareRows)
	return out
}

// preferred reports whether candidate should replace current.
func preferred(candidate, current models.ResultRow) bool {
	if c, k := candidate.Status.Severity(), current.Status.Severity(); c != k {
		return c > k
	}
	return candidate.HasScreenshot() && !current.HasScreenshot()
}

func compareRows(a, b models.ResultRow) int {
	return cmp.Or(
		cmp.Compare(a.ReportURL, b.ReportURL),
		cmp.Compare(a.PageNumber, b.PageNumber),
		cmp.Compare(a.PageURL, b.PageURL),
	)
}
