package mquickjs

// Env bundles a Scope with a HandleScope for code that creates and roots
// values, most notably native functions. An Env is a Rooter, so Pin and
// Escapable accept it directly.
type Env struct {
	scope *Scope
	hs    *HandleScope
}

// NewEnv opens a HandleScope in s.
func NewEnv(s *Scope) *Env {
	return &Env{scope: s, hs: NewHandleScope(s)}
}

func (e *Env) Scope() *Scope { return e.scope }

func (e *Env) HandleScope() *HandleScope { return e.hs }

func (e *Env) rootScope() *HandleScope { return e.hs }

// Close releases every value rooted through the Env.
func (e *Env) Close() {
	e.hs.Close()
}

// Pin roots a value in the Env's HandleScope.
func (e *Env) Pin(v Local[Value]) Handle[Value] {
	return Pin(e.hs, v)
}

func (e *Env) Object() (Handle[Object], error) {
	o, err := e.scope.NewObject()
	if err != nil {
		return Handle[Object]{}, err
	}
	return Pin(e.hs, o), nil
}

func (e *Env) Array() (Handle[Array], error) {
	return e.ArrayWithLen(0)
}

func (e *Env) ArrayWithLen(n uint32) (Handle[Array], error) {
	a, err := e.scope.NewArray(n)
	if err != nil {
		return Handle[Array]{}, err
	}
	return Pin(e.hs, a), nil
}

func (e *Env) String(s string) (Handle[Value], error) {
	v, err := e.scope.NewString(s)
	if err != nil {
		return Handle[Value]{}, err
	}
	return Pin(e.hs, v), nil
}

func (e *Env) Float64(f float64) (Handle[Value], error) {
	v, err := e.scope.NewFloat64(f)
	if err != nil {
		return Handle[Value]{}, err
	}
	return Pin(e.hs, v), nil
}

// Int32 returns an immediate; it needs no rooting.
func (e *Env) Int32(i int32) Local[Value] {
	return e.scope.NewInt32(i)
}

func (e *Env) Uint32(u uint32) (Handle[Value], error) {
	v, err := e.scope.NewUint32(u)
	if err != nil {
		return Handle[Value]{}, err
	}
	return Pin(e.hs, v), nil
}

func (e *Env) Bool(b bool) Local[Value] {
	return e.scope.NewBool(b)
}

func (e *Env) Function(name string, length int, fn NativeFunc) (Handle[Function], error) {
	f, err := e.scope.NewFunction(name, length, fn)
	if err != nil {
		return Handle[Function]{}, err
	}
	return Pin(e.hs, f), nil
}

// GetString returns v if it is a string.
func (e *Env) GetString(v Local[Value]) (string, error) {
	if !v.IsString(e.scope) {
		return "", ErrNotString
	}
	return e.scope.ToString(v)
}

// GetNumber returns v if it is a number.
func (e *Env) GetNumber(v Local[Value]) (float64, error) {
	if !v.IsNumber(e.scope) {
		return 0, ErrNotNumber
	}
	return e.scope.ToNumber(v)
}

// GetBool returns v if it is a bool.
func (e *Env) GetBool(v Local[Value]) (bool, error) {
	if !v.IsBool() {
		return false, ErrNotBool
	}
	return v.raw.Bool(), nil
}

// Return wraps a rooted value for returning from a native function.
func (e *Env) Return(h Handle[Value]) ReturnAny {
	return ReturnHandle(e.scope, h)
}
