package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/use-agent/pbiprobe/models"
)

var statusClass = map[models.Status]string{
	models.StatusNoError:     "ok",
	models.StatusError:       "error",
	models.StatusCheckFailed: "check-failed",
	models.StatusFatal:       "fatal",
}

// rowHTML is one table row formatted for the results page.
type rowHTML struct {
	models.ResultRow
	StatusClass string
	Screenshot  string // path relative to the results page, or ""
}

type pageData struct {
	Title       string
	GeneratedAt string
	Rows        []rowHTML
	Total       int
	Errors      int
	Fatal       int
}

// WriteHTML renders rows as a results page at path. Screenshot links are
// made relative to the page's directory so the run directory can be moved
// as a whole.
func WriteHTML(path string, rows []models.ResultRow) error {
	data := pageData{
		Title:       "Power BI Report Validation Results",
		GeneratedAt: time.Now().Format(time.RFC1123),
		Total:       len(rows),
	}
	dir := filepath.Dir(path)
	for _, r := range rows {
		switch r.Status {
		case models.StatusError:
			data.Errors++
		case models.StatusFatal:
			data.Fatal++
		}
		data.Rows = append(data.Rows, rowHTML{
			ResultRow:   r,
			StatusClass: statusClass[r.Status],
			Screenshot:  relativeShot(dir, r),
		})
	}

	var buf bytes.Buffer
	if err := resultsTmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render results page: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write results page: %w", err)
	}
	return nil
}

func relativeShot(dir string, r models.ResultRow) string {
	if !r.HasScreenshot() {
		return ""
	}
	rel, err := filepath.Rel(dir, r.ScreenshotPath)
	if err != nil {
		return filepath.ToSlash(r.ScreenshotPath)
	}
	return filepath.ToSlash(rel)
}

// RenderEmail renders the HTML body of an area notification.
func RenderEmail(s AreaSummary) (string, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
}

var resultsTmpl = template.Must(template.New("results").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 24px; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 6px 8px; text-align: left; vertical-align: top; }
th { background: #f3f3f3; }
tr.error td.status { color: #b00020; font-weight: bold; }
tr.fatal td.status { color: #fff; background: #b00020; }
tr.check-failed td.status { color: #a15c00; }
img.thumb { width: 150px; height: auto; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="summary">Generated {{.GeneratedAt}}: {{.Total}} pages, {{.Errors}} with errors, {{.Fatal}} reports failed to load.</p>
<table id="results">
<thead>
<tr><th>area</th><th>report_name</th><th>dataset_name</th><th>url_report</th><th>url_page</th><th>page</th><th>status</th><th>screenshot</th><th>time_taken_seconds</th></tr>
</thead>
<tbody>
{{- range .Rows}}
<tr class="{{.StatusClass}}">
<td>{{.Area}}</td>
<td>{{.ReportName}}</td>
<td>{{.DatasetName}}</td>
<td><a href="{{.ReportURL}}" target="_blank">link to report</a></td>
<td>{{if .PageURL}}<a href="{{.PageURL}}" target="_blank">link to page</a>{{else}}N/A{{end}}</td>
<td>{{.PageLabel}}</td>
<td class="status">{{.Status}}</td>
<td>{{if .Screenshot}}<a href="{{.Screenshot}}" target="_blank"><img class="thumb" src="{{.Screenshot}}" alt="Screenshot"></a>{{else}}N/A{{end}}</td>
<td>{{.ElapsedSeconds}}</td>
</tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

var emailTmpl = template.Must(template.New("email").Funcs(funcs).Parse(`<h2>Summary of report check results for area: {{upper .Area}}</h2>
<table border="1" style="border-collapse: collapse;">
<tr>
<th style="padding: 8px;">Semantic Model</th>
<th style="padding: 8px;">Total Reports</th>
<th style="padding: 8px;">Errors</th>
<th style="padding: 8px;">Successful</th>
</tr>
{{- range .Datasets}}
<tr>
<td style="padding: 8px;">{{.Name}}</td>
<td style="padding: 8px;">{{.Total}}</td>
<td style="padding: 8px;">{{.Errors}}</td>
<td style="padding: 8px;">{{.Successful}}</td>
</tr>
{{- end}}
</table>
{{- if .Errored}}
<h3>Errored Reports below:</h3>
{{- range .Errored}}
<p>Report: {{.ReportName}}<br>Dataset: {{.DatasetName}}<br>Page: {{.PageLabel}} <a href="{{.PageURL}}">open</a></p>
{{- end}}
{{- end}}
`))
