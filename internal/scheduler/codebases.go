package scheduler

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownCodebase is returned when a codebase name is not configured.
// Distinct from a filter declining a change: this is a configuration or
// programming error on the caller's side.
var ErrUnknownCodebase = errors.New("scheduler: unknown codebase")

// CodebaseDef holds the configured defaults for one codebase.
type CodebaseDef struct {
	Repository string
	Branch     sql.NullString
	Revision   sql.NullString
	Project    string
}

// Codebases maps codebase names to their configured defaults.
type Codebases struct {
	defs map[string]CodebaseDef
}

// NewCodebasesFromList builds a Codebases where every named codebase gets
// empty defaults.
func NewCodebasesFromList(names []string) *Codebases {
	defs := make(map[string]CodebaseDef, len(names))
	for _, name := range names {
		defs[name] = CodebaseDef{}
	}
	return &Codebases{defs: defs}
}

// NewCodebases builds a Codebases from an explicit mapping of codebase name
// to default fields. Every entry must carry a "repository" key, even if its
// value is the empty string; other recognized keys are "branch", "revision"
// and "project".
func NewCodebases(raw map[string]map[string]interface{}) (*Codebases, error) {
	defs := make(map[string]CodebaseDef, len(raw))
	for name, fields := range raw {
		if fields == nil {
			fields = map[string]interface{}{}
		}
		if _, ok := fields["repository"]; !ok && len(fields) > 0 {
			return nil, fmt.Errorf("scheduler: codebase %q: a repository key is required", name)
		}
		def := CodebaseDef{}
		for key, value := range fields {
			switch key {
			case "repository":
				s, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("scheduler: codebase %q: repository must be a string", name)
				}
				def.Repository = s
			case "branch":
				ns, err := nullableString(name, "branch", value)
				if err != nil {
					return nil, err
				}
				def.Branch = ns
			case "revision":
				ns, err := nullableString(name, "revision", value)
				if err != nil {
					return nil, err
				}
				def.Revision = ns
			case "project":
				s, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("scheduler: codebase %q: project must be a string", name)
				}
				def.Project = s
			default:
				return nil, fmt.Errorf("scheduler: codebase %q: unknown key %q", name, key)
			}
		}
		defs[name] = def
	}
	return &Codebases{defs: defs}, nil
}

func nullableString(codebase, key string, value interface{}) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	s, ok := value.(string)
	if !ok {
		return sql.NullString{}, fmt.Errorf("scheduler: codebase %q: %s must be a string or null", codebase, key)
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// Get returns the configured defaults for name. Unknown names are an
// ErrUnknownCodebase lookup failure; callers must pre-validate names before
// relying on defaults.
func (c *Codebases) Get(name string) (CodebaseDef, error) {
	def, ok := c.defs[name]
	if !ok {
		return CodebaseDef{}, fmt.Errorf("scheduler: codebase %q: %w", name, ErrUnknownCodebase)
	}
	return def, nil
}

// Has reports whether name is configured.
func (c *Codebases) Has(name string) bool {
	_, ok := c.defs[name]
	return ok
}

// Names returns the configured codebase names in sorted order.
func (c *Codebases) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
