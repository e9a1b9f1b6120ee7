// Package notify emails each area its summary through SendGrid.
package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/cenkalti/backoff/v4"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/use-agent/pbiprobe/config"
	"github.com/use-agent/pbiprobe/models"
	"github.com/use-agent/pbiprobe/report"
)

// ErrNoRecipients is returned for an area nobody subscribed to.
var ErrNoRecipients = errors.New("no recipients configured for area")

// Transport delivers one message. *sendgrid.Client satisfies it.
type Transport interface {
	SendWithContext(ctx context.Context, m *mail.SGMailV3) (*rest.Response, error)
}

// Recipients resolves an area to its addresses. *config.Tenants satisfies it.
type Recipients interface {
	RecipientsFor(area string) []string
}

// Notifier builds and sends area summaries.
type Notifier struct {
	transport  Transport
	recipients Recipients
	cfg        config.NotifyConfig
	conv       *converter.Converter
}

// New creates a Notifier on an arbitrary transport.
func New(transport Transport, recipients Recipients, cfg config.NotifyConfig) *Notifier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Notifier{
		transport:  transport,
		recipients: recipients,
		cfg:        cfg,
		conv:       newTextConverter(),
	}
}

// NewSendGrid creates a Notifier that sends through the SendGrid v3 API.
func NewSendGrid(recipients Recipients, cfg config.NotifyConfig) *Notifier {
	return New(sendgrid.NewSendClient(cfg.SendGridAPIKey), recipients, cfg)
}

// NotifyArea emails the summary for one area. An area without recipients
// yields ErrNoRecipients; a clean area under OnlyOnErrors is skipped with a
// nil error.
func (n *Notifier) NotifyArea(ctx context.Context, sum report.AreaSummary) error {
	log := slog.With("area", sum.Area)

	to := n.recipients.RecipientsFor(sum.Area)
	if len(to) == 0 {
		log.Warn("no recipients configured for area, skipping notification")
		return ErrNoRecipients
	}
	if n.cfg.OnlyOnErrors && sum.ErrorCount() == 0 {
		log.Info("no errors in area, skipping notification")
		return nil
	}

	msg, err := n.build(sum, to)
	if err != nil {
		return models.NewProbeError(models.ErrCodeNotifyFailed, "failed to build email", err)
	}
	if err := n.send(ctx, msg, log); err != nil {
		return models.NewProbeError(models.ErrCodeNotifyFailed, "email for area "+sum.Area+" not delivered", err)
	}
	return nil
}

// Subject returns the email subject for a summary.
func Subject(sum report.AreaSummary) string {
	area := sum.Area
	if r, size := utf8.DecodeRuneInString(area); r != utf8.RuneError {
		area = string(unicode.ToUpper(r)) + area[size:]
	}
	switch n := sum.ErrorCount(); n {
	case 0:
		return "Power BI report check - " + area
	case 1:
		return "Power BI report check - " + area + " (1 error)"
	default:
		return fmt.Sprintf("Power BI report check - %s (%d errors)", area, n)
	}
}

func (n *Notifier) build(sum report.AreaSummary, to []string) (*mail.SGMailV3, error) {
	htmlBody, err := report.RenderEmail(sum)
	if err != nil {
		return nil, err
	}
	text, err := n.conv.ConvertString(htmlBody)
	if err != nil {
		return nil, fmt.Errorf("convert email body to text: %w", err)
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", n.cfg.From))
	m.Subject = Subject(sum)

	p := mail.NewPersonalization()
	for _, addr := range to {
		p.AddTos(mail.NewEmail("", addr))
	}
	m.AddPersonalizations(p)
	// text/plain must precede text/html.
	m.AddContent(mail.NewContent("text/plain", text), mail.NewContent("text/html", htmlBody))

	for _, path := range attachmentPaths(sum.Errored) {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("failed to read screenshot, not attaching", "path", path, "error", err)
			continue
		}
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(data))
		a.SetType("image/png")
		a.SetFilename(filepath.Base(path))
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}
	return m, nil
}

// attachmentPaths returns the distinct existing screenshots of rows.
func attachmentPaths(rows []models.ResultRow) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !r.HasScreenshot() || seen[r.ScreenshotPath] {
			continue
		}
		seen[r.ScreenshotPath] = true
		if _, err := os.Stat(r.ScreenshotPath); err != nil {
			slog.Debug("no screenshot on disk", "report", r.ReportName, "path", r.ScreenshotPath)
			continue
		}
		out = append(out, r.ScreenshotPath)
	}
	return out
}

// send delivers msg with a bounded fixed-delay retry. Only transport
// failures, 429 and 5xx are retried.
func (n *Notifier) send(ctx context.Context, msg *mail.SGMailV3, log *slog.Logger) error {
	attempt := 0
	op := func() error {
		attempt++
		resp, err := n.transport.SendWithContext(ctx, msg)
		err = classify(resp, err)
		if err == nil {
			log.Info("email sent", "attempt", attempt, "status", resp.StatusCode)
			return nil
		}
		log.Warn("email send failed", "attempt", attempt, "error", err)
		return err
	}

	var bo backoff.BackOff = backoff.NewConstantBackOff(n.cfg.RetryDelay)
	bo = backoff.WithMaxRetries(bo, uint64(n.cfg.MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	if err := backoff.Retry(op, bo); err != nil {
		log.Error("email not delivered", "attempts", attempt, "error", err)
		return err
	}
	return nil
}

// StatusError is a non-success HTTP status from the mail API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mail API returned status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// classify maps a send result to nil (delivered), a retryable error, or a
// backoff.Permanent error.
func classify(resp *rest.Response, err error) error {
	if err != nil {
		if transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	if resp == nil {
		return backoff.Permanent(errors.New("mail API returned no response"))
	}
	switch code := resp.StatusCode; {
	case code == http.StatusOK || code == http.StatusAccepted:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return &StatusError{Code: code, Body: resp.Body}
	default:
		return backoff.Permanent(&StatusError{Code: code, Body: resp.Body})
	}
}

func transient(err error) bool {
	var (
		urlErr *url.Error
		netErr net.Error
	)
	return errors.As(err, &urlErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded)
}

// newTextConverter renders the HTML email as a plain-text alternative.
func newTextConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

var _ Transport = (*sendgrid.Client)(nil)
