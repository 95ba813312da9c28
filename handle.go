package mquickjs

import (
	"github.com/buke/mquickjs-go/engine"
)

// roots are allocated in blocks so pinning a value does not allocate
const rootBlockSize = 16

type rootBlock struct {
	refs [rootBlockSize]engine.GCRef
	used int
	prev *rootBlock
}

// Rooter is implemented by *HandleScope and *EscapableHandleScope.
type Rooter interface {
	rootScope() *HandleScope
}

// HandleScope is a stack-disciplined region of roots. Everything pinned in it
// is unrooted, innermost first, when it closes. Only the innermost open
// HandleScope of a context may pin values.
type HandleScope struct {
	scope  *Scope
	ec     engine.Context
	inner  *ContextInner
	id     ContextId
	parent *HandleScope

	first  rootBlock
	block  *rootBlock
	count  int
	closed bool
}

// NewHandleScope opens a HandleScope nested in every HandleScope currently
// open on the context.
func NewHandleScope(s *Scope) *HandleScope {
	s.check()
	hs := &HandleScope{
		scope: s,
		ec:    s.token.ec,
		inner: s.token.inner,
		id:    s.id,
	}
	hs.open()
	return hs
}

func (hs *HandleScope) open() {
	hs.block = &hs.first
	hs.parent = hs.inner.hsTop
	hs.inner.hsTop = hs
}

func (hs *HandleScope) rootScope() *HandleScope { return hs }

// Scope returns the Scope the HandleScope was opened in.
func (hs *HandleScope) Scope() *Scope { return hs.scope }

func (hs *HandleScope) ContextID() ContextId { return hs.id }

// Len returns the number of values rooted by the scope.
func (hs *HandleScope) Len() int { return hs.count }

func (hs *HandleScope) usable(what string) {
	l := hs.inner.logger
	if hs.closed {
		violate(l, RuleHandleOutsideScope, "%s on closed handle scope of context %s", what, hs.id)
	}
	if !hs.inner.Alive() {
		violate(l, RuleScopeOutlivesContext, "%s after context %s was closed", what, hs.id)
	}
	hs.scope.check()
}

func (hs *HandleScope) root(raw engine.Value) *engine.GCRef {
	if hs.inner.hsTop != hs {
		violate(hs.inner.logger, RuleScopeOrder, "pin on handle scope that is not the innermost open one of context %s", hs.id)
	}
	b := hs.block
	if b.used == rootBlockSize {
		b = &rootBlock{prev: b}
		hs.block = b
	}
	ref := &b.refs[b.used]
	b.used++
	*hs.ec.PushGCRef(ref) = raw
	hs.count++
	return ref
}

// Close unroots every value pinned in the scope. Closing twice is a no-op.
func (hs *HandleScope) Close() {
	if hs.closed {
		return
	}
	l := hs.inner.logger
	if !hs.inner.Alive() {
		violate(l, RuleScopeOutlivesContext, "handle scope closed after context %s was closed", hs.id)
	}
	if hs.inner.hsTop != hs {
		violate(l, RuleScopeOrder, "handle scope of context %s closed while a nested one is open", hs.id)
	}
	for b := hs.block; b != nil; b = b.prev {
		for i := b.used - 1; i >= 0; i-- {
			hs.ec.PopGCRef(&b.refs[i])
			b.refs[i] = engine.GCRef{}
		}
		b.used = 0
	}
	hs.inner.hsTop = hs.parent
	hs.block = nil
	hs.parent = nil
	hs.closed = true
}

// Handle is a Local rooted by a HandleScope. It must not be used after that
// scope closes.
type Handle[T Kind] struct {
	ref *engine.GCRef
	hs  *HandleScope
}

// Pin roots v in the innermost open HandleScope r.
func Pin[T Kind](r Rooter, v Local[T]) Handle[T] {
	hs := r.rootScope()
	hs.usable("Pin")
	checkSameContext(hs.inner.logger, "Pin", hs.id, v.id)
	return Handle[T]{ref: hs.root(v.raw), hs: hs}
}

func (h Handle[T]) check() {
	if h.hs == nil {
		violate(Logger(), RuleHandleOutsideScope, "use of zero Handle")
	}
	if h.hs.closed {
		violate(h.hs.inner.logger, RuleHandleOutsideScope, "handle used after its handle scope of context %s closed", h.hs.id)
	}
}

// Local returns the rooted value.
func (h Handle[T]) Local() Local[T] {
	h.check()
	return Local[T]{raw: h.ref.Val, id: h.hs.id}
}

func (h Handle[T]) Raw() engine.Value {
	h.check()
	return h.ref.Val
}

func (h Handle[T]) ContextID() ContextId {
	h.check()
	return h.hs.id
}

// AsValue drops the refinement.
func (h Handle[T]) AsValue() Handle[Value] {
	h.check()
	return Handle[Value]{ref: h.ref, hs: h.hs}
}

// EscapableHandleScope is a HandleScope whose values die with it unless one
// of them is passed to Escape.
type EscapableHandleScope struct {
	hs      HandleScope
	target  *engine.GCRef
	escaped bool
}

func (e *EscapableHandleScope) rootScope() *HandleScope { return &e.hs }

// Scope returns the Scope the enclosing HandleScope was opened in.
func (e *EscapableHandleScope) Scope() *Scope { return e.hs.scope }

func (e *EscapableHandleScope) ContextID() ContextId { return e.hs.id }

// Escaped is a value promoted out of an EscapableHandleScope. It is rooted
// only through the enclosing scope's reserved slot.
type Escaped[T Kind] struct {
	raw  engine.Value
	id   ContextId
	from *EscapableHandleScope
}

func (e Escaped[T]) ContextID() ContextId { return e.id }

// Escapable runs fn in a nested EscapableHandleScope and roots the value it
// escapes in r. The slot in r is reserved before the nested scope opens, so
// roots are still released in LIFO order.
func Escapable[T Kind](r Rooter, fn func(*EscapableHandleScope) Escaped[T]) Handle[T] {
	parent := r.rootScope()
	parent.usable("Escapable")
	slot := Handle[T]{ref: parent.root(engine.Undefined), hs: parent}

	inner := &EscapableHandleScope{target: slot.ref}
	inner.hs = HandleScope{
		scope: parent.scope,
		ec:    parent.ec,
		inner: parent.inner,
		id:    parent.id,
	}
	inner.hs.open()

	esc := func() Escaped[T] {
		defer inner.hs.Close()
		return fn(inner)
	}()
	if esc.from != inner {
		violate(parent.inner.logger, RuleEscape, "escapable scope of context %s returned a value it did not escape", parent.id)
	}
	return slot
}

// Escape promotes h out of e. It may be called once per scope and h must have
// been pinned in e itself.
func Escape[T Kind](e *EscapableHandleScope, h Handle[T]) Escaped[T] {
	l := e.hs.inner.logger
	if e.escaped {
		violate(l, RuleEscape, "second escape from the same scope of context %s", e.hs.id)
	}
	h.check()
	if h.hs != &e.hs {
		checkSameContext(l, "Escape", e.hs.id, h.hs.id)
		violate(l, RuleEscape, "escaped handle was not pinned in the escaping scope")
	}
	e.hs.usable("Escape")
	e.target.Val = h.ref.Val
	e.escaped = true
	return Escaped[T]{raw: h.ref.Val, id: e.hs.id, from: e}
}
