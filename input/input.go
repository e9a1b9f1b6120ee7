// Package input reads the per-area report lists that drive a run.
//
// Each file in the input directory belongs to one business area. The area is
// the first word of the file name, lowercased: "Finance Reports.xlsx" and
// "finance.csv" both feed the "finance" area.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/use-agent/pbiprobe/models"
	"github.com/xuri/excelize/v2"
)

// Column headers expected in every input file.
const (
	ColumnReportName = "PBI Report Name"
	ColumnReportURL  = "PBI Link"
	ColumnDataset    = "PBI Dataset Name"
)

// lockFilePrefix marks the owner files Office leaves next to open workbooks.
const lockFilePrefix = "~$"

// Discover lists the files in dir whose names match any of patterns,
// sorted by name. Office lock files are never returned.
func Discover(dir string, patterns []string) ([]string, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, models.NewProbeError(models.ErrCodeInputInvalid,
				fmt.Sprintf("bad input pattern %q", p), err)
		}
		globs = append(globs, g)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, models.NewProbeError(models.ErrCodeInputInvalid, "read input dir", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, lockFilePrefix) {
			continue
		}
		for _, g := range globs {
			if g.Match(name) {
				files = append(files, filepath.Join(dir, name))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// AreaFromPath derives the area name from an input file path.
func AreaFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fields := strings.Fields(base)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// ReadSource reads one input file into a Source. The format is chosen by
// extension: .xlsx via excelize, .csv via encoding/csv.
func ReadSource(path string) (models.Source, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		err = fmt.Errorf("unsupported input format %q", filepath.Ext(path))
	}
	if err != nil {
		return models.Source{}, models.NewProbeError(models.ErrCodeInputInvalid,
			fmt.Sprintf("read %s", filepath.Base(path)), err)
	}

	reports, err := parseRows(rows)
	if err != nil {
		return models.Source{}, models.NewProbeError(models.ErrCodeInputInvalid,
			fmt.Sprintf("parse %s", filepath.Base(path)), err)
	}
	return models.Source{
		Area:    AreaFromPath(path),
		Path:    path,
		Reports: reports,
	}, nil
}

// ReadSources discovers and reads every input file. A file that cannot be
// read is logged and skipped so one bad workbook does not stop the run.
func ReadSources(dir string, patterns []string) ([]models.Source, error) {
	files, err := Discover(dir, patterns)
	if err != nil {
		return nil, err
	}
	sources := make([]models.Source, 0, len(files))
	for _, f := range files {
		src, err := ReadSource(f)
		if err != nil {
			slog.Error("skipping input file", "file", f, "error", err)
			continue
		}
		slog.Info("input file loaded", "file", f, "area", src.Area, "reports", len(src.Reports))
		sources = append(sources, src)
	}
	return sources, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
}

// parseRows maps the header row onto the expected columns and returns one
// Report per data row. Rows without a link are skipped.
func parseRows(rows [][]string) ([]models.Report, error) {
	if len(rows) == 0 {
		return nil, errors.New("empty file")
	}

	idx := map[string]int{ColumnReportName: -1, ColumnReportURL: -1, ColumnDataset: -1}
	for i, h := range rows[0] {
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		for col := range idx {
			if strings.EqualFold(h, col) {
				idx[col] = i
			}
		}
	}
	for _, col := range []string{ColumnReportName, ColumnReportURL} {
		if idx[col] < 0 {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	cell := func(row []string, col string) string {
		i := idx[col]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	reports := make([]models.Report, 0, len(rows)-1)
	for n, row := range rows[1:] {
		r := models.Report{
			Name:    cell(row, ColumnReportName),
			URL:     cell(row, ColumnReportURL),
			Dataset: cell(row, ColumnDataset),
		}
		if r.URL == "" {
			if r.Name != "" {
				slog.Warn("report without link skipped", "row", n+2, "report", r.Name)
			}
			continue
		}
		if r.Name == "" {
			r.Name = r.URL
		}
		reports = append(reports, r)
	}
	return reports, nil
}
