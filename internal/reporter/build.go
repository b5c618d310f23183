// Package reporter decides whether a build outcome warrants a notification
// and assembles the message through pluggable formatters.
package reporter

import (
	"database/sql"

	"github.com/switchyard-ci/switchyard/internal/models"
	"github.com/switchyard-ci/switchyard/internal/results"
)

// BuilderInfo identifies the builder a build ran on.
type BuilderInfo struct {
	Name string
	Tags []string
}

// SourceStampInfo is the slice of a sourcestamp the reporter needs.
type SourceStampInfo struct {
	Codebase   string
	Repository string
	Branch     sql.NullString
	Revision   sql.NullString
	Project    string
	Patch      *models.Patch
}

// BuildsetInfo is the buildset context of a reported build.
type BuildsetInfo struct {
	ID           int64
	Reason       string
	SourceStamps []SourceStampInfo
}

// LogInfo is one build log; only logs carrying inline content are included
// in messages.
type LogInfo struct {
	Name       string
	Content    string
	HasContent bool
}

// Build is the result record a report is generated from. PrevResults is the
// previous build's result on the same builder, when known.
type Build struct {
	ID          int64
	Builder     BuilderInfo
	Results     results.Code
	PrevResults *results.Code
	StateString string
	Properties  map[string]models.PropertyValue
	Buildset    *BuildsetInfo
	Logs        []LogInfo
	Blamelist   []string
}

// propertyString returns a named build property as a string, or "".
func (b *Build) propertyString(name string) string {
	pv, ok := b.Properties[name]
	if !ok {
		return ""
	}
	s, _ := pv.Value.(string)
	return s
}
