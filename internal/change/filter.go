// Package change implements filtering of incoming source-control changes.
package change

import (
	"database/sql"
	"fmt"
	"regexp"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// FieldFilter matches one string attribute of a change. All configured
// criteria apply with AND semantics.
type fieldFilter struct {
	field  string
	eq     []string
	notEq  []string
	re     *regexp.Regexp
	notRe  *regexp.Regexp
	fn     func(string) bool
	hasEq  bool
	hasNot bool
}

func (f *fieldFilter) matches(value string) bool {
	if f.hasEq && !containsString(f.eq, value) {
		return false
	}
	if f.hasNot && containsString(f.notEq, value) {
		return false
	}
	if f.re != nil && !f.re.MatchString(value) {
		return false
	}
	if f.notRe != nil && f.notRe.MatchString(value) {
		return false
	}
	if f.fn != nil && !f.fn(value) {
		return false
	}
	return true
}

// branchFilter matches the branch attribute, which is nullable: a null
// branch means the repository's default branch. The filter distinguishes
// "no branch criterion configured" from "must equal the null branch".
type branchFilter struct {
	eq    []sql.NullString
	notEq []sql.NullString
	re    *regexp.Regexp
	notRe *regexp.Regexp
	fn    func(sql.NullString) bool
	hasEq bool
	hasNot bool
}

func (f *branchFilter) matches(value sql.NullString) bool {
	if f.hasEq && !containsBranch(f.eq, value) {
		return false
	}
	if f.hasNot && containsBranch(f.notEq, value) {
		return false
	}
	if f.re != nil && (!value.Valid || !f.re.MatchString(value.String)) {
		return false
	}
	if f.notRe != nil && value.Valid && f.notRe.MatchString(value.String) {
		return false
	}
	if f.fn != nil && !f.fn(value) {
		return false
	}
	return true
}

// propertyFilter matches one change property by name.
type propertyFilter struct {
	name   string
	eq     []string
	notEq  []string
	re     *regexp.Regexp
	notRe  *regexp.Regexp
	hasEq  bool
	hasNot bool
}

func (f *propertyFilter) matches(c *models.Change) bool {
	raw, _ := c.PropertyValue(f.name)
	value, _ := raw.(string)
	if f.hasEq && !containsString(f.eq, value) {
		return false
	}
	if f.hasNot && containsString(f.notEq, value) {
		return false
	}
	if f.re != nil && !f.re.MatchString(value) {
		return false
	}
	if f.notRe != nil && f.notRe.MatchString(value) {
		return false
	}
	return true
}

// Filter combines field, branch, and property filters over change
// attributes. The zero value matches everything; build instances with New.
type Filter struct {
	filterFn     func(*models.Change) bool
	projectFn    func(string) bool
	repositoryFn func(string) bool
	categoryFn   func(string) bool
	codebaseFn   func(string) bool
	branch       *branchFilter
	fields       []*fieldFilter
	props        []*propertyFilter
}

// FilterChange reports whether the change passes every configured filter.
// Checks run in a fixed order and short-circuit on the first failure.
func (f *Filter) FilterChange(c *models.Change) bool {
	if f.filterFn != nil && !f.filterFn(c) {
		return false
	}
	if f.projectFn != nil && !f.projectFn(c.Project) {
		return false
	}
	if f.codebaseFn != nil && !f.codebaseFn(c.Codebase) {
		return false
	}
	if f.repositoryFn != nil && !f.repositoryFn(c.Repository) {
		return false
	}
	if f.categoryFn != nil && !f.categoryFn(c.Category) {
		return false
	}
	if f.branch != nil && !f.branch.matches(c.Branch) {
		return false
	}
	for _, ff := range f.fields {
		if !ff.matches(fieldValue(c, ff.field)) {
			return false
		}
	}
	for _, pf := range f.props {
		if !pf.matches(c) {
			return false
		}
	}
	return true
}

func fieldValue(c *models.Change, field string) string {
	switch field {
	case "project":
		return c.Project
	case "repository":
		return c.Repository
	case "category":
		return c.Category
	case "codebase":
		return c.Codebase
	default:
		return ""
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsBranch(list []sql.NullString, v sql.NullString) bool {
	for _, b := range list {
		if b.Valid == v.Valid && b.String == v.String {
			return true
		}
	}
	return false
}

// normalizeStrings accepts a string or a []string and returns a list.
// Anything else is a configuration error.
func normalizeStrings(field string, v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("change: %s filter: expected string, got %T", field, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("change: %s filter: expected string or list of strings, got %T", field, v)
	}
}

func compilePattern(field string, v interface{}) (*regexp.Regexp, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		re, err := regexp.Compile(t)
		if err != nil {
			return nil, fmt.Errorf("change: %s filter: %w", field, err)
		}
		return re, nil
	case *regexp.Regexp:
		return t, nil
	default:
		return nil, fmt.Errorf("change: %s filter: expected pattern, got %T", field, v)
	}
}
