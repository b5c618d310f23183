// Package scheduler implements the orchestration core: change consumption,
// activation arbitration across cooperating masters, and buildset assembly.
package scheduler

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/switchyard-ci/switchyard/internal/bus"
	"github.com/switchyard-ci/switchyard/internal/db"
	"github.com/switchyard-ci/switchyard/internal/models"
	"github.com/switchyard-ci/switchyard/internal/properties"
)

// sourceScheduler tags properties set by the scheduler itself.
const sourceScheduler = "Scheduler"

// sourceChange tags properties merged from changes.
const sourceChange = "Change"

// ChangeHandler receives each qualifying (change, important) pair.
type ChangeHandler func(c *models.Change, important bool) error

// Config describes one scheduler.
type Config struct {
	// Name identifies the scheduler in claims, state, and the `scheduler`
	// build property.
	Name string

	// BuilderNames entries are either plain strings or
	// properties.Renderable values computed per buildset. Must be
	// non-empty.
	BuilderNames []interface{}

	// Codebases defaults to a single unnamed codebase with empty defaults.
	Codebases *Codebases

	// Properties are scheduler-level static properties; values may be
	// Renderable.
	Properties map[string]interface{}

	// PollInterval overrides the activation claim poll interval.
	PollInterval time.Duration

	// Priority is the default priority for created buildsets.
	Priority int
}

// Scheduler decides which changes trigger which buildsets.
type Scheduler struct {
	name         string
	builderNames []interface{}
	codebases    *Codebases
	props        map[string]interface{}
	priority     int
	pollInterval time.Duration

	store    *db.Store
	broker   *bus.Broker
	objectID int64
	arbiter  *Arbiter
	consumer *consumer
}

// New validates cfg and builds a Scheduler. Validation errors here are
// configuration errors and are never deferred to buildset-creation time.
func New(store *db.Store, broker *bus.Broker, cfg Config) (*Scheduler, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("scheduler: name is required")
	}
	if len(cfg.BuilderNames) == 0 {
		return nil, fmt.Errorf("scheduler: builderNames must be a non-empty list of builder names")
	}
	for _, entry := range cfg.BuilderNames {
		switch entry.(type) {
		case string, properties.Renderable:
		default:
			return nil, fmt.Errorf("scheduler: builderNames must contain builder names or renderables, got %T", entry)
		}
	}
	codebases := cfg.Codebases
	if codebases == nil {
		codebases = NewCodebasesFromList([]string{""})
	}
	return &Scheduler{
		name:         cfg.Name,
		builderNames: cfg.BuilderNames,
		codebases:    codebases,
		props:        cfg.Properties,
		priority:     cfg.Priority,
		pollInterval: cfg.PollInterval,
		store:        store,
		broker:       broker,
	}, nil
}

// Name returns the scheduler's configured name.
func (s *Scheduler) Name() string {
	return s.name
}

// ListBuilderNames returns the statically configured builder names, skipping
// renderable entries.
func (s *Scheduler) ListBuilderNames() []string {
	var names []string
	for _, entry := range s.builderNames {
		if name, ok := entry.(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// GetCodebaseDef returns the configured defaults for a codebase name.
func (s *Scheduler) GetCodebaseDef(name string) (CodebaseDef, error) {
	return s.codebases.Get(name)
}

// PartialStamp is a caller-supplied partial sourcestamp naming a codebase.
// Nil pointer fields were not specified and fall back to the codebase's
// configured defaults, not to null.
type PartialStamp struct {
	Codebase   string
	Repository *string
	Project    *string
	Branch     *sql.NullString
	Revision   *sql.NullString
	Patch      *models.Patch
}

// BuildsetOpts carries the optional arguments shared by the buildset entry
// points.
type BuildsetOpts struct {
	// BuilderNames, when non-nil, overrides the scheduler's configured
	// builder names and is authoritative.
	BuilderNames []string

	// Properties are caller-supplied properties overlaid onto the
	// scheduler's static properties.
	Properties *properties.Properties

	// ExternalIDString is an opaque external identifier for the buildset.
	ExternalIDString string

	// Priority overrides the scheduler's default priority when non-nil.
	Priority *int

	ParentBuildsetID   *int64
	ParentRelationship string
}

// AddBuildsetForSourceStampsWithDefaults creates a buildset from partial
// sourcestamp specifications. Every configured codebase contributes a stamp:
// configured defaults filled in where the input leaves fields unset, null
// branch/revision and empty project where configuration does too. Input
// stamps naming unconfigured codebases pass through with empty defaults.
func (s *Scheduler) AddBuildsetForSourceStampsWithDefaults(reason string, stamps []PartialStamp, waitedFor bool, opts BuildsetOpts) (int64, map[string]int64, error) {
	merged := make(map[string]db.StampFields)
	for _, name := range s.codebases.Names() {
		def, err := s.codebases.Get(name)
		if err != nil {
			return 0, nil, err
		}
		merged[name] = db.StampFields{
			Codebase:   name,
			Repository: def.Repository,
			Branch:     def.Branch,
			Revision:   def.Revision,
			Project:    def.Project,
		}
	}

	for _, ps := range stamps {
		fields, ok := merged[ps.Codebase]
		if !ok {
			// Unconfigured codebase: pass through with empty defaults.
			fields = db.StampFields{Codebase: ps.Codebase}
		}
		if ps.Repository != nil {
			fields.Repository = *ps.Repository
		}
		if ps.Project != nil {
			fields.Project = *ps.Project
		}
		if ps.Branch != nil {
			fields.Branch = *ps.Branch
		}
		if ps.Revision != nil {
			fields.Revision = *ps.Revision
		}
		if ps.Patch != nil {
			fields.Patch = ps.Patch
		}
		merged[ps.Codebase] = fields
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	refs := make([]db.StampRef, 0, len(names))
	for _, name := range names {
		fields := merged[name]
		refs = append(refs, db.StampRef{Fields: &fields})
	}
	return s.AddBuildsetForSourceStamps(reason, refs, waitedFor, opts)
}

// AddBuildsetForChanges creates a buildset for a set of change ids. Within
// each codebase the sourcestamp of the highest-numbered change wins (change
// id is the ordering, not submission time; the input order is arbitrary).
// Configured codebases with no changes contribute default inline stamps.
// The selected changes' own properties merge into the buildset properties in
// change-id order, tagged "Change".
func (s *Scheduler) AddBuildsetForChanges(reason string, changeids []int64, waitedFor bool, opts BuildsetOpts) (int64, map[string]int64, error) {
	changes := make([]*models.Change, 0, len(changeids))
	for _, id := range changeids {
		c, err := s.store.GetChange(id)
		if err != nil {
			return 0, nil, err
		}
		changes = append(changes, c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })

	// Latest change per codebase; iteration in ascending id order means the
	// last writer is the highest id.
	latest := make(map[string]*models.Change)
	for _, c := range changes {
		latest[c.Codebase] = c
	}

	changeProps := properties.New()
	for _, c := range changes {
		for _, name := range sortedPropertyNames(c.Properties) {
			pv := c.Properties[name]
			changeProps.Set(name, pv.Value, sourceChange)
		}
	}

	seen := make(map[string]bool)
	var refs []db.StampRef

	// Codebases with changes first, in codebase order.
	withChanges := make([]string, 0, len(latest))
	for name := range latest {
		withChanges = append(withChanges, name)
	}
	sort.Strings(withChanges)
	for _, name := range withChanges {
		refs = append(refs, db.StampRef{ID: latest[name].SourceStampID})
		seen[name] = true
	}

	// Configured codebases without changes get default inline stamps.
	for _, name := range s.codebases.Names() {
		if seen[name] {
			continue
		}
		def, err := s.codebases.Get(name)
		if err != nil {
			return 0, nil, err
		}
		fields := db.StampFields{
			Codebase:   name,
			Repository: def.Repository,
			Branch:     def.Branch,
			Revision:   def.Revision,
			Project:    def.Project,
		}
		refs = append(refs, db.StampRef{Fields: &fields})
	}

	return s.addBuildset(reason, refs, waitedFor, opts, changes, changeProps)
}

// AddBuildsetForSourceStamps creates a buildset for an explicit sourcestamp
// list: persisted ids, inline field sets, or a mix.
func (s *Scheduler) AddBuildsetForSourceStamps(reason string, stamps []db.StampRef, waitedFor bool, opts BuildsetOpts) (int64, map[string]int64, error) {
	// Changes already associated with persisted stamps contribute their
	// properties and serve as the render context.
	var changes []*models.Change
	changeProps := properties.New()
	for _, ref := range stamps {
		if ref.ID == 0 {
			continue
		}
		assoc, err := s.store.GetChangesForSourceStamp(ref.ID)
		if err != nil {
			return 0, nil, err
		}
		for i := range assoc {
			c := &assoc[i]
			changes = append(changes, c)
			for _, name := range sortedPropertyNames(c.Properties) {
				pv := c.Properties[name]
				changeProps.Set(name, pv.Value, sourceChange)
			}
		}
	}

	return s.addBuildset(reason, stamps, waitedFor, opts, changes, changeProps)
}

// addBuildset is the common tail: builder-name resolution, property merge,
// and the single atomic buildset-creation call. Failures propagate to the
// caller; at most one buildset is created per call.
func (s *Scheduler) addBuildset(reason string, stamps []db.StampRef, waitedFor bool, opts BuildsetOpts, changes []*models.Change, changeProps *properties.Properties) (int64, map[string]int64, error) {
	// Merge order: change-derived properties first, then the scheduler's
	// static properties, then caller-supplied properties.
	props := properties.New()
	props.Update(changeProps)

	for _, name := range sortedKeys(s.props) {
		value, err := properties.Render(s.props[name], props)
		if err != nil {
			return 0, nil, fmt.Errorf("scheduler: render property %q: %w", name, err)
		}
		props.Set(name, value, sourceScheduler)
	}

	props.Update(opts.Properties)

	// The scheduler property is set unconditionally and last, so callers
	// cannot override it.
	props.Set("scheduler", s.name, sourceScheduler)

	renderCtx := props.Copy()
	for _, c := range changes {
		if c.Branch.Valid {
			if _, ok := renderCtx.Get("branch"); !ok {
				renderCtx.Set("branch", c.Branch.String, sourceChange)
			}
		}
	}

	names, explicit, err := s.resolveBuilderNames(opts.BuilderNames, renderCtx)
	if err != nil {
		return 0, nil, err
	}
	if len(names) == 0 && explicit {
		return 0, nil, fmt.Errorf("scheduler: %s: no builders requested", s.name)
	}

	builders := make([]db.BuilderRef, 0, len(names))
	for _, name := range names {
		id, err := s.store.GetBuilderID(name)
		if err != nil {
			return 0, nil, err
		}
		builders = append(builders, db.BuilderRef{ID: id, Name: name})
	}

	priority := s.priority
	if opts.Priority != nil {
		priority = *opts.Priority
	}

	bsid, brids, err := s.store.CreateBuildset(db.BuildsetRequest{
		Reason:             reason,
		WaitedFor:          waitedFor,
		ExternalIDString:   opts.ExternalIDString,
		Properties:         props.Map(),
		SourceStamps:       stamps,
		Builders:           builders,
		Priority:           priority,
		ParentBuildsetID:   opts.ParentBuildsetID,
		ParentRelationship: opts.ParentRelationship,
	})
	if err != nil {
		return 0, nil, err
	}

	if s.broker != nil {
		s.broker.Publish(bus.Topic{Scope: "buildsets", ID: fmt.Sprint(bsid), Verb: "new"}, bsid)
	}
	return bsid, brids, nil
}

// resolveBuilderNames produces the final builder-name list. A non-nil
// override is authoritative (explicit=true); otherwise the configured
// entries are evaluated, where renderables may yield a name, a list, or nil
// meaning skip. Names are flattened and deduplicated preserving order. An
// empty computed result is valid and yields no build requests.
func (s *Scheduler) resolveBuilderNames(override []string, renderCtx *properties.Properties) (names []string, explicit bool, err error) {
	if override != nil {
		return dedupe(override), true, nil
	}

	var out []string
	for _, entry := range s.builderNames {
		switch v := entry.(type) {
		case string:
			out = append(out, v)
		case properties.Renderable:
			rendered, err := v.Render(renderCtx)
			if err != nil {
				return nil, false, fmt.Errorf("scheduler: render builder names: %w", err)
			}
			flat, err := flattenNames(rendered)
			if err != nil {
				return nil, false, err
			}
			out = append(out, flat...)
		}
	}
	return dedupe(out), false, nil
}

func flattenNames(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []interface{}:
		var out []string
		for _, e := range t {
			flat, err := flattenNames(e)
			if err != nil {
				return nil, err
			}
			out = append(out, flat...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("scheduler: computed builder names must be strings, got %T", v)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPropertyNames(m map[string]models.PropertyValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
