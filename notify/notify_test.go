package notify

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pbiprobe/config"
	"github.com/use-agent/pbiprobe/models"
	"github.com/use-agent/pbiprobe/report"
)

type reply struct {
	resp *rest.Response
	err  error
}

// scriptedTransport answers each send with the next scripted reply; the last
// reply repeats.
type scriptedTransport struct {
	replies []reply
	sent    []*mail.SGMailV3
}

func (s *scriptedTransport) SendWithContext(ctx context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	i := min(len(s.sent), len(s.replies)-1)
	s.sent = append(s.sent, m)
	return s.replies[i].resp, s.replies[i].err
}

type staticRecipients map[string][]string

func (r staticRecipients) RecipientsFor(area string) []string { return r[area] }

func status(code int) reply { return reply{resp: &rest.Response{StatusCode: code}} }

func netFailure() reply {
	return reply{err: &url.Error{Op: "Post", URL: "https://api.sendgrid.com/v3/mail/send", Err: errors.New("connection reset")}}
}

func testConfig() config.NotifyConfig {
	return config.NotifyConfig{Enabled: true, From: "ops@example.com", MaxAttempts: 3}
}

func salesSummary(t *testing.T) report.AreaSummary {
	dir := t.TempDir()
	shot := filepath.Join(dir, "Overview_page_2.png")
	require.NoError(t, os.WriteFile(shot, []byte("\x89PNG"), 0o644))
	rows := []models.ResultRow{
		{Area: "sales", ReportName: "Overview", DatasetName: "Sales Model", ReportURL: "u1", PageURL: "u1/a", PageNumber: 1, PageTotal: 3, Status: models.StatusNoError, ScreenshotPath: "x.png"},
		{Area: "sales", ReportName: "Overview", DatasetName: "Sales Model", ReportURL: "u1", PageURL: "u1/b", PageNumber: 2, PageTotal: 3, Status: models.StatusError, ScreenshotPath: shot},
		{Area: "sales", ReportName: "Overview", DatasetName: "Sales Model", ReportURL: "u1", PageURL: "u1/c", PageNumber: 3, PageTotal: 3, Status: models.StatusError, ScreenshotPath: filepath.Join(dir, "missing.png")},
		{Area: "sales", ReportName: "Pipeline", DatasetName: "CRM", ReportURL: "u2", PageURL: "u2/a", PageNumber: 1, PageTotal: 1, Status: models.StatusError, ScreenshotPath: models.NoScreenshot},
	}
	return report.Summarize(rows, "sales")
}

func TestNotifyArea_RetriesThenSucceeds(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{netFailure(), status(503), status(202)}}
	n := New(tr, staticRecipients{"sales": {"a@example.com", "b@example.com"}}, testConfig())

	err := n.NotifyArea(context.Background(), salesSummary(t))

	require.NoError(t, err)
	assert.Len(t, tr.sent, 3)
}

func TestNotifyArea_GivesUpAfterBudget(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{status(500)}}
	n := New(tr, staticRecipients{"sales": {"a@example.com"}}, testConfig())

	err := n.NotifyArea(context.Background(), salesSummary(t))

	require.Error(t, err)
	var pe *models.ProbeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.ErrCodeNotifyFailed, pe.Code)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
	assert.Len(t, tr.sent, 3)
}

func TestNotifyArea_ClientErrorIsPermanent(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{status(401)}}
	n := New(tr, staticRecipients{"sales": {"a@example.com"}}, testConfig())

	err := n.NotifyArea(context.Background(), salesSummary(t))

	require.Error(t, err)
	assert.Len(t, tr.sent, 1)
}

func TestNotifyArea_UnknownArea(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{status(202)}}
	n := New(tr, staticRecipients{"finance": {"f@example.com"}}, testConfig())

	err := n.NotifyArea(context.Background(), salesSummary(t))

	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Empty(t, tr.sent)
}

func TestNotifyArea_OnlyOnErrors(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{status(202)}}
	cfg := testConfig()
	cfg.OnlyOnErrors = true
	n := New(tr, staticRecipients{"gscr": {"g@example.com"}}, cfg)

	clean := report.AreaSummary{Area: "gscr", Datasets: []report.DatasetStats{{Name: "Ops", Total: 2}}}
	require.NoError(t, n.NotifyArea(context.Background(), clean))
	assert.Empty(t, tr.sent)
}

func TestNotifyArea_MessageShape(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{status(200)}}
	n := New(tr, staticRecipients{"sales": {"a@example.com", "b@example.com"}}, testConfig())

	require.NoError(t, n.NotifyArea(context.Background(), salesSummary(t)))
	require.Len(t, tr.sent, 1)
	m := tr.sent[0]

	assert.Equal(t, "Power BI report check - Sales (3 errors)", m.Subject)
	assert.Equal(t, "ops@example.com", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	require.Len(t, m.Personalizations[0].To, 2)
	assert.Equal(t, "b@example.com", m.Personalizations[0].To[1].Address)

	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Contains(t, m.Content[0].Value, "Sales Model")
	assert.NotContains(t, m.Content[0].Value, "<td")
	assert.Equal(t, "text/html", m.Content[1].Type)

	require.Len(t, m.Attachments, 1, "only errored rows with a file on disk are attached")
	assert.Equal(t, "Overview_page_2.png", m.Attachments[0].Filename)
	assert.Equal(t, "image/png", m.Attachments[0].Type)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Power BI report check - Finance", Subject(report.AreaSummary{Area: "finance"}))
	one := report.AreaSummary{Area: "gscr", Errored: []models.ResultRow{{}}}
	assert.Equal(t, "Power BI report check - Gscr (1 error)", Subject(one))
}

func TestSubject_MultiByteArea(t *testing.T) {
	got := Subject(report.AreaSummary{Area: "éxport"})

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "Power BI report check - Éxport", got)
	assert.Equal(t, "Power BI report check - ", Subject(report.AreaSummary{}))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		reply     reply
		wantNil   bool
		permanent bool
	}{
		{"accepted", status(202), true, false},
		{"ok", status(200), true, false},
		{"rate limited", status(429), false, false},
		{"server error", status(502), false, false},
		{"bad request", status(400), false, true},
		{"network", netFailure(), false, false},
		{"deadline", reply{err: context.DeadlineExceeded}, false, false},
		{"other error", reply{err: errors.New("bad key format")}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.reply.resp, tt.reply.err)
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var perm *backoff.PermanentError
			assert.Equal(t, tt.permanent, errors.As(err, &perm))
		})
	}
}
