package reporter

import (
	"fmt"
	"log"
	"strings"

	"github.com/switchyard-ci/switchyard/internal/models"
	"github.com/switchyard-ci/switchyard/internal/results"
)

// possibleModes are the individually valid generator modes.
var possibleModes = []string{
	"change", "failing", "passing", "problem", "warnings", "exception", "cancelled",
}

// DefaultSubject is the subject template used when a formatter returns no
// subject of its own.
const DefaultSubject = "Switchyard {{.Result}} in {{.Title}} on {{.Builder}}"

// GeneratorConfig configures a Generator. Mode accepts a single mode string
// (including the "all" and "warnings" shortcuts) or a list of modes. Tags
// and Builders are mutually exclusive allow-lists; Schedulers and Branches
// are optional allow-lists.
type GeneratorConfig struct {
	Mode       interface{}
	Tags       []string
	Builders   []string
	Schedulers []string
	Branches   []string
	Subject    string
	AddPatch   bool
}

// Generator decides message need and assembles notification messages.
type Generator struct {
	modes      []string
	tags       []string
	builders   []string
	schedulers []string
	branches   []string
	subject    string
	addPatch   bool
}

// NewGenerator validates cfg and builds a Generator. All configuration
// errors surface here, never at message time.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	modes, err := computeShortcutModes(cfg.Mode)
	if err != nil {
		return nil, err
	}
	for _, m := range modes {
		if m == "all" {
			return nil, fmt.Errorf("reporter: mode \"all\" is not valid in a list and must be passed as a single string")
		}
		if !containsString(possibleModes, m) {
			return nil, fmt.Errorf("reporter: mode %q is not a valid mode", m)
		}
	}

	if strings.Contains(cfg.Subject, "\n") {
		return nil, fmt.Errorf("reporter: newlines are not allowed in message subjects")
	}
	if cfg.Tags != nil && cfg.Builders != nil {
		return nil, fmt.Errorf("reporter: please specify only builders or tags to include, not both")
	}

	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &Generator{
		modes:      modes,
		tags:       cfg.Tags,
		builders:   cfg.Builders,
		schedulers: cfg.Schedulers,
		branches:   cfg.Branches,
		subject:    subject,
		addPatch:   cfg.AddPatch,
	}, nil
}

// computeShortcutModes expands the "all" and "warnings" single-string
// shortcuts into their mode sets.
func computeShortcutModes(mode interface{}) ([]string, error) {
	switch m := mode.(type) {
	case nil:
		return []string{"failing", "passing", "warnings", "exception", "cancelled"}, nil
	case string:
		switch m {
		case "all":
			return []string{"failing", "passing", "warnings", "exception", "cancelled"}, nil
		case "warnings":
			return []string{"failing", "warnings"}, nil
		default:
			return []string{m}, nil
		}
	case []string:
		return m, nil
	case []interface{}:
		out := make([]string, 0, len(m))
		for _, e := range m {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("reporter: mode entries must be strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("reporter: mode must be a string or list of strings, got %T", mode)
	}
}

// Modes returns the expanded mode set.
func (g *Generator) Modes() []string {
	out := make([]string, len(g.modes))
	copy(out, g.modes)
	return out
}

// IsMessageNeededByProps reports whether the build passes the builder,
// scheduler, branch, and tag allow-lists.
func (g *Generator) IsMessageNeededByProps(b *Build) bool {
	if g.builders != nil && !containsString(g.builders, b.Builder.Name) {
		return false
	}
	if g.schedulers != nil && !containsString(g.schedulers, b.propertyString("scheduler")) {
		return false
	}
	if g.branches != nil && !containsString(g.branches, b.propertyString("branch")) {
		return false
	}
	if g.tags != nil && !matchesAnyTag(g.tags, b.Builder.Tags) {
		return false
	}
	return true
}

// IsMessageNeededByResults evaluates the build result against the mode set.
// "problem" means a new failure: the previous build, if any, did not fail.
func (g *Generator) IsMessageNeededByResults(b *Build) bool {
	if g.hasMode("change") {
		if b.PrevResults != nil && *b.PrevResults != b.Results {
			return true
		}
	}
	if g.hasMode("failing") && b.Results == results.Failure {
		return true
	}
	if g.hasMode("passing") && b.Results == results.Success {
		return true
	}
	if g.hasMode("problem") && b.Results == results.Failure {
		if b.PrevResults == nil || *b.PrevResults != results.Failure {
			return true
		}
	}
	if g.hasMode("warnings") && b.Results == results.Warnings {
		return true
	}
	if g.hasMode("exception") && b.Results == results.Exception {
		return true
	}
	if g.hasMode("cancelled") && b.Results == results.Cancelled {
		return true
	}
	return false
}

func (g *Generator) hasMode(m string) bool {
	return containsString(g.modes, m)
}

// Message is an assembled notification, ready for dispatch.
type Message struct {
	Body      interface{}
	Subject   string
	Type      string
	Results   results.Code
	Builds    []*Build
	Users     []string
	Patches   []*models.Patch
	Logs      []LogInfo
	ExtraInfo map[string]map[string]interface{}
}

// BuildMessage assembles one build's notification: recipients, patches when
// enabled, logs carrying inline content, and the formatter-rendered body.
// The templated subject applies only when the formatter returned none.
func (g *Generator) BuildMessage(f Formatter, title string, b *Build) (*Message, error) {
	patches := g.patchesForBuild(b)
	logs := logsForBuild(b)

	out, err := f.FormatMessageForBuild(MessageContext{
		Build: b,
		Modes: g.Modes(),
		Title: title,
	})
	if err != nil {
		return nil, fmt.Errorf("reporter: format message for build %d: %w", b.ID, err)
	}

	subject := out.Subject
	if subject == "" {
		subject = renderSubject(g.subject, g.modes, title, b)
	}

	return &Message{
		Body:      out.Body,
		Subject:   subject,
		Type:      f.Type(),
		Results:   b.Results,
		Builds:    []*Build{b},
		Users:     append([]string(nil), b.Blamelist...),
		Patches:   patches,
		Logs:      logs,
		ExtraInfo: out.ExtraInfo,
	}, nil
}

// BuildBuildsetMessage assembles one notification batching several builds,
// merging bodies, types and extra info with graceful degradation on
// mismatch.
func (g *Generator) BuildBuildsetMessage(f Formatter, title string, builds []*Build) (*Message, error) {
	var body interface{}
	var msgType string
	var subject string
	var extra map[string]map[string]interface{}
	var users []string
	var logs []LogInfo
	var patches []*models.Patch
	worst := results.Success

	for _, b := range builds {
		out, err := f.FormatMessageForBuild(MessageContext{
			Build: b,
			Modes: g.Modes(),
			Title: title,
		})
		if err != nil {
			return nil, fmt.Errorf("reporter: format message for build %d: %w", b.ID, err)
		}

		body, _ = MergeBody(body, out.Body)
		msgType, _ = MergeMsgType(msgType, f.Type())
		if subject == "" && out.Subject != "" {
			subject = out.Subject
		}
		extra, _ = MergeExtraInfo(extra, out.ExtraInfo)

		users = append(users, b.Blamelist...)
		logs = append(logs, logsForBuild(b)...)
		patches = append(patches, g.patchesForBuild(b)...)
		if b.Results > worst {
			worst = b.Results
		}
	}

	if subject == "" && len(builds) > 0 {
		subject = renderSubject(g.subject, g.modes, title, builds[0])
	}

	return &Message{
		Body:      body,
		Subject:   subject,
		Type:      msgType,
		Results:   worst,
		Builds:    builds,
		Users:     dedupeUsers(users),
		Patches:   patches,
		Logs:      logs,
		ExtraInfo: extra,
	}, nil
}

// patchesForBuild returns the buildset's patches when patch inclusion is
// enabled.
func (g *Generator) patchesForBuild(b *Build) []*models.Patch {
	if !g.addPatch || b.Buildset == nil {
		return nil
	}
	var patches []*models.Patch
	for _, ss := range b.Buildset.SourceStamps {
		if ss.Patch != nil {
			patches = append(patches, ss.Patch)
		}
	}
	return patches
}

// logsForBuild keeps only logs carrying inline content.
func logsForBuild(b *Build) []LogInfo {
	var logs []LogInfo
	for _, l := range b.Logs {
		if l.HasContent {
			logs = append(logs, l)
		}
	}
	return logs
}

// renderSubject fills the subject template with result text, project title,
// and builder name, in the replacer style used across the notify layer.
func renderSubject(template string, modes []string, title string, b *Build) string {
	r := strings.NewReplacer(
		"{{.Result}}", results.DetectedStatusText(modes, b.Results, b.PrevResults),
		"{{.Title}}", title,
		"{{.ProjectName}}", title,
		"{{.Builder}}", b.Builder.Name,
	)
	return r.Replace(template)
}

// MergeBody concatenates compatible bodies: string with string, list with
// list. Incompatible shapes keep the existing body and report false; the
// dropped fragment is logged, not an error.
func MergeBody(body, newBody interface{}) (interface{}, bool) {
	if body == nil {
		return newBody, true
	}
	if newBody == nil {
		return body, true
	}
	if s, ok := body.(string); ok {
		if ns, ok := newBody.(string); ok {
			return s + ns, true
		}
	}
	if l, ok := body.([]interface{}); ok {
		if nl, ok := newBody.([]interface{}); ok {
			return append(l, nl...), true
		}
	}
	log.Printf("reporter: incompatible message body types for multiple builds (%T and %T), ignoring", body, newBody)
	return body, false
}

// MergeMsgType keeps the first non-empty message type; mismatching later
// types are dropped with a warning.
func MergeMsgType(msgType, newType string) (string, bool) {
	if newType == "" {
		return msgType, false
	}
	if msgType == "" {
		return newType, true
	}
	if msgType != newType {
		log.Printf("reporter: incompatible message types for multiple builds (%s and %s), ignoring", msgType, newType)
		return msgType, false
	}
	return msgType, true
}

// MergeExtraInfo merges extra-info dictionaries key by key, filling in only
// absent nested keys: the first writer wins.
func MergeExtraInfo(info, newInfo map[string]map[string]interface{}) (map[string]map[string]interface{}, bool) {
	if info == nil {
		return newInfo, true
	}
	if newInfo == nil {
		return info, true
	}
	for key, newValue := range newInfo {
		value, ok := info[key]
		if !ok {
			info[key] = newValue
			continue
		}
		for vkey, vvalue := range newValue {
			if _, ok := value[vkey]; !ok {
				value[vkey] = vvalue
			}
		}
	}
	return info, true
}

func matchesAnyTag(want, have []string) bool {
	for _, tag := range want {
		if containsString(have, tag) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func dedupeUsers(users []string) []string {
	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
