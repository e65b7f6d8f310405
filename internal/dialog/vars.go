package dialog

// Vars holds the bindings accumulated during one conversation. Handlers
// read and extend it; nodes render from it.
type Vars struct {
	values map[string]any
}

func NewVars(initial map[string]any) *Vars {
	v := &Vars{values: make(map[string]any, len(initial))}
	for k, val := range initial {
		v.values[k] = val
	}
	return v
}

func (v *Vars) Set(key string, value any) { v.values[key] = value }

func (v *Vars) Get(key string) (any, bool) {
	val, ok := v.values[key]
	return val, ok
}

func (v *Vars) Delete(key string) { delete(v.values, key) }

// String returns the value under key when it is a string, else "".
func (v *Vars) String(key string) string {
	s, _ := Lookup[string](v, key)
	return s
}

// Bool returns the value under key when it is a bool, else false.
func (v *Vars) Bool(key string) bool {
	b, _ := Lookup[bool](v, key)
	return b
}

// Lookup returns the value under key asserted to T.
func Lookup[T any](v *Vars, key string) (T, bool) {
	var zero T
	raw, ok := v.values[key]
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
