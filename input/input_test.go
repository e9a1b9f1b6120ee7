package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pbiprobe/models"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeWorkbook(t *testing.T, path string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestAreaFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"Finance Reports.xlsx", "finance"},
		{"/data/sales.xlsx", "sales"},
		{"GSCR  weekly.csv", "gscr"},
		{".xlsx", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, AreaFromPath(tt.path))
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.xlsx", "")
	writeFile(t, dir, "finance.xlsx", "")
	writeFile(t, dir, "~$finance.xlsx", "")
	writeFile(t, dir, "services.csv", "")
	writeFile(t, dir, "notes.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.xlsx"), 0o755))

	files, err := Discover(dir, []string{"*.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "finance.xlsx"), filepath.Join(dir, "sales.xlsx")}, files)

	files, err = Discover(dir, []string{"*.xlsx", "*.csv"})
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestDiscover_BadPattern(t *testing.T) {
	_, err := Discover(t.TempDir(), []string{"[unclosed"})
	require.Error(t, err)
}

func TestReadSource_CSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "Sales team.csv",
		"\ufeffPBI Report Name,PBI Link, pbi dataset name\n"+
			"Revenue,https://bi/groups/g/reports/1,Sales Model\n"+
			"No Link,,Sales Model\n"+
			",https://bi/groups/g/reports/2,Sales Model\n")

	src, err := ReadSource(path)
	require.NoError(t, err)

	assert.Equal(t, "sales", src.Area)
	assert.Equal(t, path, src.Path)
	assert.Equal(t, []models.Report{
		{Name: "Revenue", URL: "https://bi/groups/g/reports/1", Dataset: "Sales Model"},
		{Name: "https://bi/groups/g/reports/2", URL: "https://bi/groups/g/reports/2", Dataset: "Sales Model"},
	}, src.Reports)
}

func TestReadSource_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Finance.xlsx")
	writeWorkbook(t, path, [][]any{
		{"PBI Report Name", "PBI Link", "PBI Dataset Name"},
		{"P&L", "https://bi/groups/g/reports/10", "Finance Model"},
		{"Cash", "https://bi/groups/g/reports/11"},
	})

	src, err := ReadSource(path)
	require.NoError(t, err)

	assert.Equal(t, "finance", src.Area)
	require.Len(t, src.Reports, 2)
	assert.Equal(t, models.Report{Name: "P&L", URL: "https://bi/groups/g/reports/10", Dataset: "Finance Model"}, src.Reports[0])
	assert.Equal(t, "", src.Reports[1].Dataset)
}

func TestReadSource_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadSource(writeFile(t, dir, "empty.csv", ""))
	require.Error(t, err)

	_, err = ReadSource(writeFile(t, dir, "nolink.csv", "PBI Report Name,Other\nA,B\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ColumnReportURL)

	_, err = ReadSource(writeFile(t, dir, "list.txt", "x"))
	require.Error(t, err)
}

func TestReadSources_SkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "finance.csv", "PBI Report Name,PBI Link,PBI Dataset Name\nA,https://bi/a,M\n")
	writeFile(t, dir, "sales.csv", "garbage\n")

	sources, err := ReadSources(dir, []string{"*.csv"})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "finance", sources[0].Area)
}
