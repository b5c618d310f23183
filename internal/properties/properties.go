// Package properties implements the ordered property set carried by
// buildsets and the deferred-computation values resolved at assembly time.
package properties

import (
	"sort"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// Properties is an ordered mapping from property name to (value, source).
// Updating an existing key keeps its position and overwrites value and
// source.
type Properties struct {
	order []string
	vals  map[string]models.PropertyValue
}

// New returns an empty property set.
func New() *Properties {
	return &Properties{vals: make(map[string]models.PropertyValue)}
}

// Set stores a property value tagged with its source.
func (p *Properties) Set(name string, value interface{}, source string) {
	if _, ok := p.vals[name]; !ok {
		p.order = append(p.order, name)
	}
	p.vals[name] = models.PropertyValue{Value: value, Source: source}
}

// Get returns a property value, or (nil, false) if unset.
func (p *Properties) Get(name string) (interface{}, bool) {
	pv, ok := p.vals[name]
	if !ok {
		return nil, false
	}
	return pv.Value, true
}

// GetString returns a property value as a string. Non-string values and
// unset properties yield "".
func (p *Properties) GetString(name string) string {
	v, ok := p.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Source returns the source tag of a property, or "" if unset.
func (p *Properties) Source(name string) string {
	return p.vals[name].Source
}

// Names returns the property names in insertion order.
func (p *Properties) Names() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	return len(p.order)
}

// Update overlays other onto p, keeping other's source tags. Later keys win.
func (p *Properties) Update(other *Properties) {
	if other == nil {
		return
	}
	for _, name := range other.order {
		pv := other.vals[name]
		p.Set(name, pv.Value, pv.Source)
	}
}

// UpdateFromMap overlays a plain map onto p, tagging every entry with the
// given source. Keys are applied in sorted order for determinism.
func (p *Properties) UpdateFromMap(m map[string]interface{}, source string) {
	for _, name := range sortedKeys(m) {
		p.Set(name, m[name], source)
	}
}

// Copy returns an independent copy of p.
func (p *Properties) Copy() *Properties {
	out := New()
	out.Update(p)
	return out
}

// Map returns the properties as a plain map suitable for persistence.
func (p *Properties) Map() map[string]models.PropertyValue {
	out := make(map[string]models.PropertyValue, len(p.vals))
	for name, pv := range p.vals {
		out[name] = pv
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
