package mquickjs

import (
	"sync"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/buke/mquickjs-go/engine"
)

// ContextToken is the capability to activate a context.
type ContextToken struct {
	ec    engine.Context
	inner *ContextInner
}

// ContextID returns the identity of the token's context.
func (t ContextToken) ContextID() ContextId {
	if t.inner == nil {
		return 0
	}
	return t.inner.ID()
}

// Enter activates the context on the calling goroutine. Scopes nest: every
// Scope must be closed on the same goroutine, innermost first.
func (t ContextToken) Enter() *Scope {
	if t.inner == nil {
		violate(Logger(), RuleScopeOutlivesContext, "enter with a zero ContextToken")
	}
	if !t.inner.Alive() {
		violate(t.inner.logger, RuleScopeOutlivesContext, "enter on closed context %s", t.inner.ID())
	}
	gid := goid.Get()
	st := scopeStackFor(gid, true)
	s := &Scope{
		token: t,
		id:    t.inner.ID(),
		gid:   gid,
		depth: len(st.entries),
	}
	st.entries = append(st.entries, s)
	return s
}

// CurrentToken returns the token of the innermost active Scope on the
// calling goroutine.
func CurrentToken() (ContextToken, bool) {
	st := scopeStackFor(goid.Get(), false)
	if st == nil || len(st.entries) == 0 {
		return ContextToken{}, false
	}
	return st.entries[len(st.entries)-1].token, true
}

type scopeStack struct {
	entries []*Scope
}

// goroutine id -> *scopeStack
var scopeStacks sync.Map

func scopeStackFor(gid int64, create bool) *scopeStack {
	if st, ok := scopeStacks.Load(gid); ok {
		return st.(*scopeStack)
	}
	if !create {
		return nil
	}
	st := &scopeStack{}
	scopeStacks.Store(gid, st)
	return st
}

func scopeActive(id ContextId) bool {
	st := scopeStackFor(goid.Get(), false)
	if st == nil {
		return false
	}
	for _, s := range st.entries {
		if s.id == id {
			return true
		}
	}
	return false
}

// Scope proves that its context is active on the current goroutine. Every
// other handle type is obtained through one.
type Scope struct {
	token  ContextToken
	id     ContextId
	gid    int64
	depth  int
	closed bool
}

// Close deactivates the scope. Closing twice is a no-op.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	l := s.token.inner.logger
	if gid := goid.Get(); gid != s.gid {
		violate(l, RuleScopeGoroutine, "scope entered on goroutine %d closed on goroutine %d", s.gid, gid)
	}
	st := scopeStackFor(s.gid, false)
	if st == nil || len(st.entries) != s.depth+1 || st.entries[s.depth] != s {
		violate(l, RuleScopeOrder, "scope %d of context %s closed out of order", s.depth, s.id)
	}
	if top := s.token.inner.hsTop; top != nil && top.scope == s {
		violate(l, RuleScopeOrder, "scope of context %s closed with an open handle scope", s.id)
	}
	st.entries[s.depth] = nil
	st.entries = st.entries[:s.depth]
	if len(st.entries) == 0 {
		scopeStacks.Delete(s.gid)
	}
	s.closed = true
}

func (s *Scope) check() {
	l := s.token.inner.logger
	if s.closed {
		violate(l, RuleHandleOutsideScope, "use of closed scope of context %s", s.id)
	}
	if !s.token.inner.Alive() {
		violate(l, RuleScopeOutlivesContext, "scope used after context %s was closed", s.id)
	}
	if gid := goid.Get(); gid != s.gid {
		violate(l, RuleScopeGoroutine, "scope entered on goroutine %d used on goroutine %d", s.gid, gid)
	}
}

// isTop reports whether s is the innermost active scope of its goroutine.
func (s *Scope) isTop() bool {
	st := scopeStackFor(s.gid, false)
	return st != nil && len(st.entries) == s.depth+1 && st.entries[s.depth] == s
}

func (s *Scope) logger() *zap.Logger {
	return s.token.inner.logger
}

func (s *Scope) engine() engine.Context {
	s.check()
	return s.token.ec
}

// ContextID returns the identity of the active context.
func (s *Scope) ContextID() ContextId {
	return s.id
}

// Token returns the token this scope was entered with.
func (s *Scope) Token() ContextToken {
	return s.token
}

// Engine exposes the unchecked engine context for glue code.
func (s *Scope) Engine() engine.Context {
	return s.engine()
}

// UserData returns the context's user data.
func (s *Scope) UserData() any {
	return s.token.inner.UserData()
}

// Value wraps a raw engine value of this context.
func (s *Scope) Value(raw engine.Value) Local[Value] {
	return Local[Value]{raw: raw, id: s.id}
}

func (s *Scope) checkLocal(what string, id ContextId) engine.Context {
	ec := s.engine()
	checkSameContext(s.logger(), what, s.id, id)
	return ec
}

// Eval evaluates code and returns its completion value. The result is not
// rooted.
func (s *Scope) Eval(code string, opts ...EvalOption) (Local[Value], error) {
	ec := s.engine()
	filename, flags := evalFlags(opts)
	v := ec.Eval(code, filename, flags)
	if v.IsException() {
		return Local[Value]{}, s.takeException()
	}
	return s.Value(v), nil
}

func (s *Scope) evalString(code string, opts ...EvalOption) (string, error) {
	ec := s.engine()
	filename, flags := evalFlags(opts)
	v := ec.Eval(code, filename, flags)
	if v.IsException() {
		return "", s.takeException()
	}
	str, ok := ec.ToCString(v)
	if !ok {
		return "undefined", nil
	}
	return str, nil
}

// takeException converts the pending exception into an *Error.
func (s *Scope) takeException() error {
	ec := s.engine()
	ex := ec.GetException()
	switch {
	case ex.IsException():
		// the exception value itself could not be materialized
		return &Error{Name: "InternalError", Message: "out of memory"}
	case ex.IsNull():
		return &Error{Name: "InternalError", Message: "unknown error"}
	}

	if !ec.IsError(ex) {
		str, ok := ec.ToCString(ex)
		if !ok {
			return &Error{Message: "unknown error"}
		}
		return &Error{Message: str}
	}

	hs := NewHandleScope(s)
	defer hs.Close()
	h := Pin(hs, s.Value(ex))

	return &Error{
		Name:    s.propertyString(h.Raw(), "name"),
		Message: s.propertyString(h.Raw(), "message"),
		Stack:   s.propertyString(h.Raw(), "stack"),
	}
}

func (s *Scope) propertyString(obj engine.Value, name string) string {
	ec := s.token.ec
	v := ec.GetPropertyStr(obj, name)
	if v.IsException() {
		ec.GetException()
		return ""
	}
	if v.IsUndefined() {
		return ""
	}
	str, _ := ec.ToCString(v)
	return str
}

func (s *Scope) NewString(str string) (Local[Value], error) {
	return s.checked(s.engine().NewString(str))
}

func (s *Scope) NewFloat64(f float64) (Local[Value], error) {
	return s.checked(s.engine().NewFloat64(f))
}

func (s *Scope) NewInt32(i int32) Local[Value] {
	return s.Value(s.engine().NewInt32(i))
}

func (s *Scope) NewUint32(u uint32) (Local[Value], error) {
	return s.checked(s.engine().NewUint32(u))
}

func (s *Scope) NewBool(b bool) Local[Value] {
	s.check()
	return s.Value(engine.MakeBool(b))
}

func (s *Scope) Undefined() Local[Value] {
	s.check()
	return s.Value(engine.Undefined)
}

func (s *Scope) Null() Local[Value] {
	s.check()
	return s.Value(engine.Null)
}

func (s *Scope) NewObject() (Local[Object], error) {
	v, err := s.checked(s.engine().NewObject())
	return Local[Object]{raw: v.raw, id: v.id}, err
}

// NewArray creates an array of length undefined elements.
func (s *Scope) NewArray(length uint32) (Local[Array], error) {
	v, err := s.checked(s.engine().NewArray(int(length)))
	return Local[Array]{raw: v.raw, id: v.id}, err
}

// NewFunction wraps fn as a script function.
func (s *Scope) NewFunction(name string, length int, fn NativeFunc) (Local[Function], error) {
	v, err := s.checked(s.engine().NewCFunction(name, length, wrapNative(fn)))
	return Local[Function]{raw: v.raw, id: v.id}, err
}

// Global returns the global object. Like every other Local it must be
// rooted before the next allocation if it is used afterwards.
func (s *Scope) Global() (Local[Object], error) {
	v, err := s.checked(s.engine().GetGlobalObject())
	return Local[Object]{raw: v.raw, id: v.id}, err
}

func (s *Scope) checked(v engine.Value) (Local[Value], error) {
	if v.IsException() {
		return Local[Value]{}, s.takeException()
	}
	return s.Value(v), nil
}

// ToString converts v with the engine's string conversion.
func (s *Scope) ToString(v Local[Value]) (string, error) {
	ec := s.checkLocal("Scope.ToString", v.id)
	str, ok := ec.ToCString(v.raw)
	if !ok {
		return "", ErrNotString
	}
	return str, nil
}

func (s *Scope) ToNumber(v Local[Value]) (float64, error) {
	ec := s.checkLocal("Scope.ToNumber", v.id)
	f, ok := ec.ToNumber(v.raw)
	if !ok {
		return 0, ErrNotNumber
	}
	return f, nil
}

func (s *Scope) ToBool(v Local[Value]) bool {
	ec := s.checkLocal("Scope.ToBool", v.id)
	return ec.ToBool(v.raw)
}
