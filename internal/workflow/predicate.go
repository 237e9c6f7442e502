package workflow

import "fmt"

// Context is the typed key/value state a workflow run accumulates. Step
// outputs merge into it; later steps and branch predicates read from it.
// Handlers never share memory with the engine: they see only copies.
type Context map[string]any

// Clone returns a shallow copy of the context.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into the context, overwriting existing
// keys.
func (c Context) Merge(other map[string]any) {
	for k, v := range other {
		c[k] = v
	}
}

// GetString returns the string value for a key, or "" if absent or not a
// string.
func (c Context) GetString(key string) string {
	s, _ := c[key].(string)
	return s
}

// GetBool returns the bool value for a key, or false if absent or not a
// bool.
func (c Context) GetBool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Predicate is an explicit boolean condition over a workflow context.
// Predicates are plain values composed with And/Or/Not; there is no
// expression evaluation and no ambient state. Eval errors are reported,
// never swallowed as false.
type Predicate interface {
	Eval(ctx Context) (bool, error)
	String() string
}

// keyExists is true when the key is present in the context.
type keyExists struct {
	key string
}

// KeyExists matches contexts containing the key.
func KeyExists(key string) Predicate { return keyExists{key: key} }

func (p keyExists) Eval(ctx Context) (bool, error) {
	_, ok := ctx[p.key]
	return ok, nil
}

func (p keyExists) String() string { return fmt.Sprintf("exists(%s)", p.key) }

// keyEquals is true when the key holds exactly the given value.
type keyEquals struct {
	key   string
	value any
}

// KeyEquals matches contexts where key holds value.
func KeyEquals(key string, value any) Predicate { return keyEquals{key: key, value: value} }

func (p keyEquals) Eval(ctx Context) (bool, error) {
	v, ok := ctx[p.key]
	if !ok {
		return false, nil
	}
	return v == p.value, nil
}

func (p keyEquals) String() string { return fmt.Sprintf("%s == %v", p.key, p.value) }

// not negates a predicate.
type not struct {
	inner Predicate
}

// Not negates a predicate.
func Not(inner Predicate) Predicate { return not{inner: inner} }

func (p not) Eval(ctx Context) (bool, error) {
	v, err := p.inner.Eval(ctx)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (p not) String() string { return fmt.Sprintf("not(%s)", p.inner) }

// and is true when every child predicate is true.
type and struct {
	children []Predicate
}

// And is true when every child predicate is true.
func And(children ...Predicate) Predicate { return and{children: children} }

func (p and) Eval(ctx Context) (bool, error) {
	for _, child := range p.children {
		v, err := child.Eval(ctx)
		if err != nil {
			return false, err
		}
		if !v {
			return false, nil
		}
	}
	return true, nil
}

func (p and) String() string { return joinPredicates("and", p.children) }

// or is true when any child predicate is true.
type or struct {
	children []Predicate
}

// Or is true when any child predicate is true.
func Or(children ...Predicate) Predicate { return or{children: children} }

func (p or) Eval(ctx Context) (bool, error) {
	for _, child := range p.children {
		v, err := child.Eval(ctx)
		if err != nil {
			return false, err
		}
		if v {
			return true, nil
		}
	}
	return false, nil
}

func (p or) String() string { return joinPredicates("or", p.children) }

// always is a constant predicate.
type always struct {
	value bool
}

// Always returns a predicate with a fixed result, useful as a default
// branch or loop guard.
func Always(value bool) Predicate { return always{value: value} }

func (p always) Eval(Context) (bool, error) { return p.value, nil }

func (p always) String() string { return fmt.Sprintf("%v", p.value) }

func joinPredicates(op string, children []Predicate) string {
	s := op + "("
	for i, child := range children {
		if i > 0 {
			s += ", "
		}
		s += child.String()
	}
	return s + ")"
}
