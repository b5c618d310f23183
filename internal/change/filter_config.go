package change

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// FieldSpec configures one field filter. Eq and NotEq accept a string or a
// []string; Re and NotRe accept a pattern string or a compiled
// *regexp.Regexp. All configured criteria apply together.
type FieldSpec struct {
	Eq    interface{}
	NotEq interface{}
	Re    interface{}
	NotRe interface{}
	Fn    func(string) bool
}

func (s FieldSpec) empty() bool {
	return s.Eq == nil && s.NotEq == nil && s.Re == nil && s.NotRe == nil && s.Fn == nil
}

// BranchValue is a branch filter value: either a named branch or the null
// branch (the repository default).
type BranchValue struct {
	Branch sql.NullString
}

// Named returns a BranchValue matching the given branch name.
func Named(branch string) BranchValue {
	return BranchValue{Branch: sql.NullString{String: branch, Valid: true}}
}

// DefaultBranch returns a BranchValue matching changes with no branch set.
func DefaultBranch() BranchValue {
	return BranchValue{}
}

// BranchSpec configures the branch filter. The zero value means "no branch
// criterion"; setting Eq or NotEq to an empty non-nil slice is a distinct,
// valid configuration.
type BranchSpec struct {
	Eq    []BranchValue
	NotEq []BranchValue
	Re    interface{}
	NotRe interface{}
	Fn    func(sql.NullString) bool
}

func (s BranchSpec) empty() bool {
	return s.Eq == nil && s.NotEq == nil && s.Re == nil && s.NotRe == nil && s.Fn == nil
}

// PropertySpec configures one property filter, keyed by property name.
type PropertySpec struct {
	Eq    interface{}
	NotEq interface{}
	Re    interface{}
	NotRe interface{}
}

// Config assembles a Filter. Every spec is validated at construction; a
// malformed spec is a configuration error, never a filter-time error.
type Config struct {
	FilterFn func(*models.Change) bool

	Project    FieldSpec
	ProjectFn  func(string) bool
	Repository   FieldSpec
	RepositoryFn func(string) bool
	Category   FieldSpec
	CategoryFn func(string) bool
	Codebase   FieldSpec
	CodebaseFn func(string) bool

	Branch BranchSpec

	Properties map[string]PropertySpec
}

// New builds a Filter from cfg, failing fast on malformed specs.
func New(cfg Config) (*Filter, error) {
	f := &Filter{
		filterFn:     cfg.FilterFn,
		projectFn:    cfg.ProjectFn,
		repositoryFn: cfg.RepositoryFn,
		categoryFn:   cfg.CategoryFn,
		codebaseFn:   cfg.CodebaseFn,
	}

	for _, fc := range []struct {
		name string
		spec FieldSpec
	}{
		{"project", cfg.Project},
		{"repository", cfg.Repository},
		{"category", cfg.Category},
		{"codebase", cfg.Codebase},
	} {
		if fc.spec.empty() {
			continue
		}
		ff, err := newFieldFilter(fc.name, fc.spec)
		if err != nil {
			return nil, err
		}
		f.fields = append(f.fields, ff)
	}

	if !cfg.Branch.empty() {
		bf, err := newBranchFilter(cfg.Branch)
		if err != nil {
			return nil, err
		}
		f.branch = bf
	}

	for _, name := range sortedPropNames(cfg.Properties) {
		pf, err := newPropertyFilter(name, cfg.Properties[name])
		if err != nil {
			return nil, err
		}
		f.props = append(f.props, pf)
	}

	return f, nil
}

func newFieldFilter(field string, spec FieldSpec) (*fieldFilter, error) {
	eq, err := normalizeStrings(field, spec.Eq)
	if err != nil {
		return nil, err
	}
	notEq, err := normalizeStrings(field, spec.NotEq)
	if err != nil {
		return nil, err
	}
	re, err := compilePattern(field, spec.Re)
	if err != nil {
		return nil, err
	}
	notRe, err := compilePattern(field, spec.NotRe)
	if err != nil {
		return nil, err
	}
	return &fieldFilter{
		field:  field,
		eq:     eq,
		notEq:  notEq,
		re:     re,
		notRe:  notRe,
		fn:     spec.Fn,
		hasEq:  spec.Eq != nil,
		hasNot: spec.NotEq != nil,
	}, nil
}

func newBranchFilter(spec BranchSpec) (*branchFilter, error) {
	re, err := compilePattern("branch", spec.Re)
	if err != nil {
		return nil, err
	}
	notRe, err := compilePattern("branch", spec.NotRe)
	if err != nil {
		return nil, err
	}
	bf := &branchFilter{
		re:     re,
		notRe:  notRe,
		fn:     spec.Fn,
		hasEq:  spec.Eq != nil,
		hasNot: spec.NotEq != nil,
	}
	for _, v := range spec.Eq {
		bf.eq = append(bf.eq, v.Branch)
	}
	for _, v := range spec.NotEq {
		bf.notEq = append(bf.notEq, v.Branch)
	}
	return bf, nil
}

func newPropertyFilter(name string, spec PropertySpec) (*propertyFilter, error) {
	field := fmt.Sprintf("property %q", name)
	eq, err := normalizeStrings(field, spec.Eq)
	if err != nil {
		return nil, err
	}
	notEq, err := normalizeStrings(field, spec.NotEq)
	if err != nil {
		return nil, err
	}
	re, err := compilePattern(field, spec.Re)
	if err != nil {
		return nil, err
	}
	notRe, err := compilePattern(field, spec.NotRe)
	if err != nil {
		return nil, err
	}
	return &propertyFilter{
		name:   name,
		eq:     eq,
		notEq:  notEq,
		re:     re,
		notRe:  notRe,
		hasEq:  spec.Eq != nil,
		hasNot: spec.NotEq != nil,
	}, nil
}

func sortedPropNames(m map[string]PropertySpec) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromSchedulerArgs builds a filter from the deprecated (branch, categories)
// scheduler arguments when no explicit filter is supplied. Supplying both
// forms is a configuration error. Returns nil when nothing is configured.
func FromSchedulerArgs(filter *Filter, branch *BranchValue, categories []string) (*Filter, error) {
	if filter != nil {
		if branch != nil || len(categories) > 0 {
			return nil, fmt.Errorf("change: cannot specify both a change filter and branch or categories")
		}
		return filter, nil
	}
	if branch == nil && len(categories) == 0 {
		return nil, nil
	}
	cfg := Config{}
	if branch != nil {
		cfg.Branch = BranchSpec{Eq: []BranchValue{*branch}}
	}
	if len(categories) > 0 {
		cfg.Category = FieldSpec{Eq: categories}
	}
	return New(cfg)
}
