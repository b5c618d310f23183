// Package notify delivers assembled report messages to chat platforms
// (Slack, Discord). Each platform implements the Adapter interface; the
// Dispatcher fans one notification out to every configured adapter.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/switchyard-ci/switchyard/internal/reporter"
	"github.com/switchyard-ci/switchyard/internal/results"
)

// Severity classifies a notification for platform-side styling.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Sidebar colors shared by the Slack and Discord adapters.
const (
	ColorSuccess = "#36a64f"
	ColorWarning = "#f2c744"
	ColorError   = "#d00000"
	ColorInfo    = "#439fe0"
)

// Field is a key-value pair displayed alongside a notification.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notification is one platform-agnostic report message.
type Notification struct {
	Subject  string
	Body     string
	Severity Severity
	Color    string
	Fields   []Field
}

// Adapter posts notifications to one chat platform.
type Adapter interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	Close() error
}

// SeverityFor maps a build result to a notification severity.
func SeverityFor(r results.Code) Severity {
	switch r {
	case results.Success:
		return SeveritySuccess
	case results.Warnings:
		return SeverityWarning
	case results.Failure, results.Exception:
		return SeverityError
	default:
		return SeverityInfo
	}
}

// ColorFor maps a severity to its sidebar color.
func ColorFor(s Severity) string {
	switch s {
	case SeveritySuccess:
		return ColorSuccess
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// FromMessage converts an assembled report message into a notification.
// Non-string bodies (json formatters) are summarized per build instead of
// embedded raw.
func FromMessage(msg *reporter.Message) Notification {
	severity := SeverityFor(msg.Results)

	body, ok := msg.Body.(string)
	if !ok {
		var lines []string
		for _, b := range msg.Builds {
			lines = append(lines, fmt.Sprintf("%s: %s", b.Builder.Name, b.Results.String()))
		}
		body = strings.Join(lines, "\n")
	}

	var fields []Field
	for _, b := range msg.Builds {
		fields = append(fields, Field{
			Name:  b.Builder.Name,
			Value: b.Results.String(),
			Short: true,
		})
	}

	return Notification{
		Subject:  msg.Subject,
		Body:     body,
		Severity: severity,
		Color:    ColorFor(severity),
		Fields:   fields,
	}
}

// Dispatcher fans notifications out to a set of adapters. A failing adapter
// is logged and skipped so one misbehaving platform cannot block the rest.
type Dispatcher struct {
	adapters []Adapter
}

// NewDispatcher builds a dispatcher over the given adapters.
func NewDispatcher(adapters ...Adapter) *Dispatcher {
	return &Dispatcher{adapters: adapters}
}

// Dispatch sends the notification to every adapter.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	for _, a := range d.adapters {
		if err := a.Send(ctx, n); err != nil {
			log.Printf("notify: %s: send: %v", a.Name(), err)
		}
	}
}

// Close shuts down every adapter, returning the first error seen.
func (d *Dispatcher) Close() error {
	var first error
	for _, a := range d.adapters {
		if err := a.Close(); err != nil && first == nil {
			first = fmt.Errorf("notify: close %s: %w", a.Name(), err)
		}
	}
	return first
}
