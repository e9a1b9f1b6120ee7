package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pbiprobe/models"
)

func row(report string, page int, status models.Status, shot string) models.ResultRow {
	return models.ResultRow{
		ReportURL:      report,
		PageURL:        report + "/page",
		PageNumber:     page,
		PageTotal:      10,
		Status:         status,
		ScreenshotPath: shot,
	}
}

func TestMerge_UniqueKeys(t *testing.T) {
	a := []models.ResultRow{row("r1", 1, models.StatusNoError, "a.png"), row("r1", 2, models.StatusNoError, "b.png")}
	b := []models.ResultRow{row("r1", 1, models.StatusNoError, "c.png")}

	got := Merge(a, b)

	require.Len(t, got, 2)
	seen := map[models.PageKey]bool{}
	for _, r := range got {
		assert.False(t, seen[r.Key()], "duplicate key %v", r.Key())
		seen[r.Key()] = true
	}
	assert.Equal(t, "a.png", got[0].ScreenshotPath, "first seen wins a full tie")
}

func TestMerge_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		first models.ResultRow
		later models.ResultRow
		want  models.ResultRow
	}{
		{
			name:  "error beats no error",
			first: row("r", 1, models.StatusNoError, "ok.png"),
			later: row("r", 1, models.StatusError, "err.png"),
			want:  row("r", 1, models.StatusError, "err.png"),
		},
		{
			name:  "error beats fatal",
			first: row("r", 1, models.StatusFatal, models.NoScreenshot),
			later: row("r", 1, models.StatusError, models.NoScreenshot),
			want:  row("r", 1, models.StatusError, models.NoScreenshot),
		},
		{
			name:  "check failed beats no error",
			first: row("r", 1, models.StatusCheckFailed, "x.png"),
			later: row("r", 1, models.StatusNoError, "y.png"),
			want:  row("r", 1, models.StatusCheckFailed, "x.png"),
		},
		{
			name:  "screenshot beats none on equal status",
			first: row("r", 1, models.StatusError, models.NoScreenshot),
			later: row("r", 1, models.StatusError, "err.png"),
			want:  row("r", 1, models.StatusError, "err.png"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forward := Merge([]models.ResultRow{tt.first}, []models.ResultRow{tt.later})
			backward := Merge([]models.ResultRow{tt.later}, []models.ResultRow{tt.first})

			require.Len(t, forward, 1)
			assert.Equal(t, tt.want, forward[0])
			assert.Equal(t, forward, backward, "precedence does not depend on order")
		})
	}
}

func TestMerge_NumericPageOrder(t *testing.T) {
	var rows []models.ResultRow
	for _, n := range []int{10, 2, 1, 9, 3} {
		rows = append(rows, row("r1", n, models.StatusNoError, "x.png"))
	}
	rows = append(rows, row("r0", 4, models.StatusNoError, "x.png"))

	got := Merge(rows)

	require.Len(t, got, 6)
	assert.Equal(t, "r0", got[0].ReportURL)
	var pages []int
	for _, r := range got[1:] {
		pages = append(pages, r.PageNumber)
	}
	assert.Equal(t, []int{1, 2, 3, 9, 10}, pages)
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge())
	assert.Empty(t, Merge(nil, nil))
}
