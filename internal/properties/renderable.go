package properties

// Renderable is a deferred-computation value evaluated against a property
// snapshot at assembly time. Render may return a plain value, a list, or nil
// (meaning "skip").
type Renderable interface {
	Render(props *Properties) (interface{}, error)
}

// Literal is a Renderable wrapping a constant value.
type Literal struct {
	Value interface{}
}

// Render returns the wrapped value unchanged.
func (l Literal) Render(*Properties) (interface{}, error) {
	return l.Value, nil
}

// Computed is a Renderable backed by a function of the property snapshot.
type Computed func(props *Properties) (interface{}, error)

// Render evaluates the function.
func (c Computed) Render(props *Properties) (interface{}, error) {
	return c(props)
}

// Render resolves v: Renderables are evaluated against props, anything else
// is returned as-is.
func Render(v interface{}, props *Properties) (interface{}, error) {
	if r, ok := v.(Renderable); ok {
		return r.Render(props)
	}
	return v, nil
}
