package reporter

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ci/switchyard/internal/models"
	"github.com/switchyard-ci/switchyard/internal/results"
)

func prevCode(c results.Code) *results.Code { return &c }

func testBuild(res results.Code) *Build {
	return &Build{
		ID:      12,
		Builder: BuilderInfo{Name: "linux", Tags: []string{"ci", "fast"}},
		Results: res,
		Properties: map[string]models.PropertyValue{
			"scheduler": {Value: "trunk", Source: "Scheduler"},
			"branch":    {Value: "main", Source: "Change"},
		},
		Buildset: &BuildsetInfo{
			ID:     3,
			Reason: "because",
			SourceStamps: []SourceStampInfo{{
				Codebase:   "lib",
				Repository: "https://example.com/lib",
				Branch:     sql.NullString{String: "main", Valid: true},
				Revision:   sql.NullString{String: "abc123", Valid: true},
			}},
		},
		Blamelist: []string{"alice", "bob"},
	}
}

func TestNewGeneratorModeExpansion(t *testing.T) {
	tests := []struct {
		name string
		mode interface{}
		want []string
	}{
		{"nil means all", nil, []string{"failing", "passing", "warnings", "exception", "cancelled"}},
		{"all shortcut", "all", []string{"failing", "passing", "warnings", "exception", "cancelled"}},
		{"warnings shortcut", "warnings", []string{"failing", "warnings"}},
		{"single mode", "problem", []string{"problem"}},
		{"string list", []string{"failing", "change"}, []string{"failing", "change"}},
		{"interface list", []interface{}{"passing"}, []string{"passing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(GeneratorConfig{Mode: tt.mode})
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Modes())
		})
	}
}

func TestNewGeneratorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  GeneratorConfig
	}{
		{"all inside a list", GeneratorConfig{Mode: []string{"all", "failing"}}},
		{"unknown mode", GeneratorConfig{Mode: "sometimes"}},
		{"non-string mode entry", GeneratorConfig{Mode: []interface{}{1}}},
		{"mode wrong type", GeneratorConfig{Mode: 7}},
		{"newline in subject", GeneratorConfig{Subject: "line one\nline two"}},
		{"tags and builders together", GeneratorConfig{Tags: []string{"ci"}, Builders: []string{"linux"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestIsMessageNeededByProps(t *testing.T) {
	b := testBuild(results.Success)

	tests := []struct {
		name string
		cfg  GeneratorConfig
		want bool
	}{
		{"no allow-lists", GeneratorConfig{}, true},
		{"builder allowed", GeneratorConfig{Builders: []string{"linux"}}, true},
		{"builder denied", GeneratorConfig{Builders: []string{"windows"}}, false},
		{"empty builder list denies all", GeneratorConfig{Builders: []string{}}, false},
		{"scheduler allowed", GeneratorConfig{Schedulers: []string{"trunk"}}, true},
		{"scheduler denied", GeneratorConfig{Schedulers: []string{"nightly"}}, false},
		{"branch allowed", GeneratorConfig{Branches: []string{"main"}}, true},
		{"branch denied", GeneratorConfig{Branches: []string{"release"}}, false},
		{"tag overlap", GeneratorConfig{Tags: []string{"slow", "fast"}}, true},
		{"tag miss", GeneratorConfig{Tags: []string{"slow"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.IsMessageNeededByProps(b))
		})
	}
}

func TestIsMessageNeededByResults(t *testing.T) {
	tests := []struct {
		name string
		mode interface{}
		res  results.Code
		prev *results.Code
		want bool
	}{
		{"failing matches failure", "failing", results.Failure, nil, true},
		{"failing ignores success", "failing", results.Success, nil, false},
		{"passing matches success", "passing", results.Success, nil, true},
		{"warnings list matches warnings", []string{"warnings"}, results.Warnings, nil, true},
		{"exception", "exception", results.Exception, nil, true},
		{"cancelled", "cancelled", results.Cancelled, nil, true},
		{"change needs a different previous", "change", results.Success, prevCode(results.Success), false},
		{"change fires on transition", "change", results.Success, prevCode(results.Failure), true},
		{"change without previous", "change", results.Success, nil, false},
		{"problem is a new failure", "problem", results.Failure, prevCode(results.Success), true},
		{"problem without previous", "problem", results.Failure, nil, true},
		{"repeat failure is not a problem", "problem", results.Failure, prevCode(results.Failure), false},
		{"problem ignores success", "problem", results.Success, prevCode(results.Failure), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(GeneratorConfig{Mode: tt.mode})
			require.NoError(t, err)
			b := testBuild(tt.res)
			b.PrevResults = tt.prev
			assert.Equal(t, tt.want, g.IsMessageNeededByResults(b))
		})
	}
}

func TestBuildMessage(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{Mode: "failing"})
	require.NoError(t, err)
	f, err := NewTemplateFormatter("", "plain")
	require.NoError(t, err)

	b := testBuild(results.Failure)
	b.Logs = []LogInfo{
		{Name: "stdio", Content: "boom", HasContent: true},
		{Name: "empty", HasContent: false},
	}

	msg, err := g.BuildMessage(f, "Switchyard", b)
	require.NoError(t, err)
	assert.Equal(t, "Switchyard failed build in Switchyard on linux", msg.Subject)
	assert.Equal(t, "plain", msg.Type)
	assert.Equal(t, results.Failure, msg.Results)
	assert.Equal(t, []string{"alice", "bob"}, msg.Users)
	require.Len(t, msg.Logs, 1, "only logs with inline content are carried")
	assert.Equal(t, "stdio", msg.Logs[0].Name)
	assert.Contains(t, msg.Body.(string), "BUILD FAILED")
}

func TestBuildMessageCustomSubject(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{
		Mode:    "passing",
		Subject: "{{.Builder}} is {{.Result}} for {{.ProjectName}}",
	})
	require.NoError(t, err)
	f, err := NewTemplateFormatter("", "plain")
	require.NoError(t, err)

	msg, err := g.BuildMessage(f, "Demo", testBuild(results.Success))
	require.NoError(t, err)
	assert.Equal(t, "linux is passing build for Demo", msg.Subject)
}

type stubFormatter struct {
	out *FormatterOutput
	err error
	typ string
}

func (s *stubFormatter) FormatMessageForBuild(MessageContext) (*FormatterOutput, error) {
	return s.out, s.err
}

func (s *stubFormatter) Type() string { return s.typ }

func TestBuildMessageFormatterSubjectWins(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{})
	require.NoError(t, err)
	f := &stubFormatter{out: &FormatterOutput{Body: "hi", Subject: "custom"}, typ: "plain"}

	msg, err := g.BuildMessage(f, "Demo", testBuild(results.Success))
	require.NoError(t, err)
	assert.Equal(t, "custom", msg.Subject)
}

func TestBuildMessageFormatterError(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{})
	require.NoError(t, err)
	boom := errors.New("boom")
	f := &stubFormatter{err: boom, typ: "plain"}

	_, err = g.BuildMessage(f, "Demo", testBuild(results.Success))
	assert.ErrorIs(t, err, boom)
}

func TestBuildMessageIncludesPatches(t *testing.T) {
	patch := &models.Patch{Body: "diff --git"}
	b := testBuild(results.Failure)
	b.Buildset.SourceStamps[0].Patch = patch

	f, err := NewTemplateFormatter("", "plain")
	require.NoError(t, err)

	g, err := NewGenerator(GeneratorConfig{AddPatch: true})
	require.NoError(t, err)
	msg, err := g.BuildMessage(f, "Demo", b)
	require.NoError(t, err)
	require.Len(t, msg.Patches, 1)
	assert.Same(t, patch, msg.Patches[0])

	g, err = NewGenerator(GeneratorConfig{AddPatch: false})
	require.NoError(t, err)
	msg, err = g.BuildMessage(f, "Demo", b)
	require.NoError(t, err)
	assert.Empty(t, msg.Patches)
}

func TestBuildBuildsetMessage(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{})
	require.NoError(t, err)
	f, err := NewTemplateFormatter("", "plain")
	require.NoError(t, err)

	ok := testBuild(results.Success)
	ok.Builder.Name = "linux"
	bad := testBuild(results.Failure)
	bad.Builder.Name = "windows"
	bad.Blamelist = []string{"bob", "carol"}

	msg, err := g.BuildBuildsetMessage(f, "Demo", []*Build{ok, bad})
	require.NoError(t, err)
	assert.Equal(t, results.Failure, msg.Results, "the worst result wins")
	assert.Equal(t, []string{"alice", "bob", "carol"}, msg.Users, "users dedupe preserving order")
	assert.Len(t, msg.Builds, 2)

	body := msg.Body.(string)
	assert.Contains(t, body, "Build succeeded!")
	assert.Contains(t, body, "BUILD FAILED")
}

func TestMergeBody(t *testing.T) {
	v, ok := MergeBody(nil, "text")
	assert.True(t, ok)
	assert.Equal(t, "text", v)

	v, ok = MergeBody("a", "b")
	assert.True(t, ok)
	assert.Equal(t, "ab", v)

	v, ok = MergeBody([]interface{}{1}, []interface{}{2})
	assert.True(t, ok)
	assert.Equal(t, []interface{}{1, 2}, v)

	v, ok = MergeBody("a", []interface{}{2})
	assert.False(t, ok, "incompatible shapes keep the existing body")
	assert.Equal(t, "a", v)

	v, ok = MergeBody("a", nil)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestMergeMsgType(t *testing.T) {
	v, ok := MergeMsgType("", "plain")
	assert.True(t, ok)
	assert.Equal(t, "plain", v)

	v, ok = MergeMsgType("plain", "plain")
	assert.True(t, ok)
	assert.Equal(t, "plain", v)

	v, ok = MergeMsgType("plain", "html")
	assert.False(t, ok)
	assert.Equal(t, "plain", v, "the first type wins on mismatch")

	_, ok = MergeMsgType("plain", "")
	assert.False(t, ok)
}

func TestMergeExtraInfo(t *testing.T) {
	a := map[string]map[string]interface{}{"slack": {"color": "red"}}
	b := map[string]map[string]interface{}{
		"slack":   {"color": "green", "channel": "#ci"},
		"discord": {"embed": true},
	}

	merged, ok := MergeExtraInfo(a, b)
	assert.True(t, ok)
	assert.Equal(t, "red", merged["slack"]["color"], "the first writer wins")
	assert.Equal(t, "#ci", merged["slack"]["channel"], "absent nested keys fill in")
	assert.Equal(t, true, merged["discord"]["embed"])

	merged, _ = MergeExtraInfo(nil, b)
	assert.Equal(t, b, merged)
	merged, _ = MergeExtraInfo(a, nil)
	assert.Equal(t, a, merged)
}
