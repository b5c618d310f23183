package reporter

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/switchyard-ci/switchyard/internal/results"
)

// MessageContext is the data a formatter renders from.
type MessageContext struct {
	Build *Build
	Modes []string
	Title string
}

// FormatterOutput is what a formatter produces. An empty Subject means the
// generator's subject template applies. For type "json" the Body must be a
// JSON-able root value of a shape that stays consistent across invocations
// of the same formatter instance.
type FormatterOutput struct {
	Body      interface{}
	Subject   string
	ExtraInfo map[string]map[string]interface{}
}

// Formatter renders a message body and subject for a build.
type Formatter interface {
	FormatMessageForBuild(ctx MessageContext) (*FormatterOutput, error)
	Type() string
}

// defaultTemplate is the body of the plain-text formatter.
const defaultTemplate = `{{.Summary}}

{{.SourceStamps}}Builder: {{.BuilderName}}
Status: {{.Status}}
`

// TemplateFormatter renders plain or HTML bodies through text/template. The
// unknown-template-type check happens at construction.
type TemplateFormatter struct {
	tmpl     *template.Template
	tmplType string
}

// NewTemplateFormatter compiles a body template of the given type ("plain"
// or "html"). An empty body uses the default build summary template.
func NewTemplateFormatter(body, tmplType string) (*TemplateFormatter, error) {
	if tmplType == "" {
		tmplType = "plain"
	}
	if tmplType != "plain" && tmplType != "html" {
		return nil, fmt.Errorf("reporter: unknown template type %q", tmplType)
	}
	if body == "" {
		body = defaultTemplate
	}
	tmpl, err := template.New("message").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("reporter: parse message template: %w", err)
	}
	return &TemplateFormatter{tmpl: tmpl, tmplType: tmplType}, nil
}

// Type returns "plain" or "html".
func (f *TemplateFormatter) Type() string {
	return f.tmplType
}

// FormatMessageForBuild renders the template against the build context.
func (f *TemplateFormatter) FormatMessageForBuild(ctx MessageContext) (*FormatterOutput, error) {
	data := map[string]interface{}{
		"Summary":      SummaryText(ctx.Build),
		"SourceStamps": sourceStampText(ctx.Build),
		"BuilderName":  ctx.Build.Builder.Name,
		"Status":       ctx.Build.Results.String(),
		"Title":        ctx.Title,
	}
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("reporter: render message template: %w", err)
	}
	return &FormatterOutput{Body: buf.String()}, nil
}

// JSONFormatter emits a structured body with a stable root shape.
type JSONFormatter struct{}

// Type returns "json".
func (f *JSONFormatter) Type() string {
	return "json"
}

// FormatMessageForBuild returns a map-rooted body; the shape is identical
// for every build so merged buildset messages stay self-consistent.
func (f *JSONFormatter) FormatMessageForBuild(ctx MessageContext) (*FormatterOutput, error) {
	stamps := make([]interface{}, 0, len(sourceStamps(ctx.Build)))
	for _, ss := range sourceStamps(ctx.Build) {
		stamps = append(stamps, map[string]interface{}{
			"codebase": ss.Codebase,
			"branch":   nullable(ss.Branch.Valid, ss.Branch.String),
			"revision": nullable(ss.Revision.Valid, ss.Revision.String),
			"project":  ss.Project,
		})
	}
	body := []interface{}{map[string]interface{}{
		"builder":      ctx.Build.Builder.Name,
		"results":      int(ctx.Build.Results),
		"result_text":  ctx.Build.Results.String(),
		"state_string": ctx.Build.StateString,
		"sourcestamps": stamps,
	}}
	return &FormatterOutput{Body: body}, nil
}

func nullable(valid bool, s string) interface{} {
	if !valid {
		return nil
	}
	return s
}

// SummaryText is the one-line outcome summary used in message bodies.
func SummaryText(b *Build) string {
	suffix := ""
	if b.StateString != "" {
		suffix = ": " + b.StateString
	}
	switch b.Results {
	case results.Success:
		return "Build succeeded!"
	case results.Warnings:
		return "Build Had Warnings" + suffix
	case results.Cancelled:
		return "Build was cancelled"
	default:
		return "BUILD FAILED" + suffix
	}
}

func sourceStamps(b *Build) []SourceStampInfo {
	if b.Buildset == nil {
		return nil
	}
	return b.Buildset.SourceStamps
}

// sourceStampText describes each sourcestamp of the build, one line per
// codebase.
func sourceStampText(b *Build) string {
	var buf bytes.Buffer
	for _, ss := range sourceStamps(b) {
		source := ""
		if ss.Branch.Valid && ss.Branch.String != "" {
			source += "[branch " + ss.Branch.String + "] "
		}
		if ss.Revision.Valid && ss.Revision.String != "" {
			source += ss.Revision.String
		} else {
			source += "HEAD"
		}
		if ss.Patch != nil {
			source += " (plus patch)"
		}
		discriminator := ""
		if ss.Codebase != "" {
			discriminator = fmt.Sprintf(" %q", ss.Codebase)
		}
		fmt.Fprintf(&buf, "Build Source Stamp%s: %s\n", discriminator, source)
	}
	return buf.String()
}
