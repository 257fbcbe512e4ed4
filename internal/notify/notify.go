// Package notify delivers blocked-application alerts to administrators.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"inventariagent/internal/model"
)

// Notification is one alert about an enforced block.
type Notification struct {
	DeviceID string
	Title    string
	Category string
	Severity model.Severity
	At       time.Time
	// Link points at the device page of the inventory console, if configured.
	Link string
}

func (n Notification) Subject() string {
	return "New incident: " + n.Title
}

// Text is the plain-text rendering used by chat sinks.
func (n Notification) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s\n", n.Title)
	fmt.Fprintf(&b, "Device: %s\n", n.DeviceID)
	fmt.Fprintf(&b, "Priority: %s\n", strings.ToUpper(string(n.Severity)))
	fmt.Fprintf(&b, "Category: %s\n", n.Category)
	fmt.Fprintf(&b, "Date: %s", n.At.Format("02/01/2006 15:04"))
	if n.Link != "" {
		fmt.Fprintf(&b, "\n%s", n.Link)
	}
	return b.String()
}

// Sink delivers a notification.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every sink. All sinks are attempted.
type Multi []Sink

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink only logs. It is used when no delivery channel is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(_ context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Notification", "title", n.Title, "device", n.DeviceID, "priority", n.Severity, "category", n.Category)
	return nil
}

var severityColors = map[model.Severity]string{
	model.SeverityHigh:   "#ef4444",
	model.SeverityMedium: "#f59e0b",
	"low":                "#3b82f6",
}

var mailTemplate = template.Must(template.New("mail").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; color: #374151; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background-color: #1f2937; color: white; padding: 20px; border-radius: 8px 8px 0 0; }
.content { background-color: #ffffff; padding: 20px; border: 1px solid #e5e7eb; border-radius: 0 0 8px 8px; }
.badge { display: inline-block; padding: 4px 12px; border-radius: 9999px; font-size: 12px; font-weight: 600; color: white; }
.field { margin-bottom: 16px; }
.label { font-size: 12px; color: #6b7280; text-transform: uppercase; font-weight: 600; }
.value { font-size: 16px; font-weight: 500; margin-top: 4px; }
.button { display: inline-block; background-color: #2563eb; color: white; padding: 12px 24px; border-radius: 6px; text-decoration: none; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h1 style="margin:0; font-size: 24px;">New incident detected</h1></div>
<div class="content">
<div class="field"><div class="label">Title</div><div class="value">{{.Title}}</div></div>
<div class="field"><div class="label">Device</div><div class="value">{{.DeviceID}}</div></div>
<div class="field"><div class="label">Priority</div><div style="margin-top:4px;"><span class="badge" style="background-color: {{.Color}};">{{.Priority}}</span></div></div>
<div class="field"><div class="label">Category</div><div class="value">{{.Category}}</div></div>
<div class="field"><div class="label">Date</div><div class="value">{{.Date}}</div></div>
<div class="field"><div class="label">Status</div><div class="value">Open (automatic)</div></div>
{{if .Link}}<a href="{{.Link}}" class="button">View device</a>{{end}}
</div>
</div>
</body>
</html>
`))

// RenderHTML renders the mail body for n.
func RenderHTML(n Notification) (string, error) {
	color, ok := severityColors[n.Severity]
	if !ok {
		color = "#6b7280"
	}
	var buf bytes.Buffer
	err := mailTemplate.Execute(&buf, struct {
		Title, DeviceID, Priority, Category, Date, Link string
		Color                                           template.CSS
	}{
		Title:    n.Title,
		DeviceID: n.DeviceID,
		Priority: strings.ToUpper(string(n.Severity)),
		Category: n.Category,
		Date:     n.At.Format("02/01/2006 15:04"),
		Link:     n.Link,
		Color:    template.CSS(color),
	})
	if err != nil {
		return "", fmt.Errorf("render mail: %w", err)
	}
	return buf.String(), nil
}
