package mquickjs

import (
	"go.uber.org/zap"

	"github.com/buke/mquickjs-go/engine"
)

// Global is a root independent of any HandleScope. It must be closed before
// its Context.
type Global[T Kind] struct {
	ref    engine.GCRef
	ec     engine.Context
	inner  *ContextInner
	id     ContextId
	closed bool
}

// NewGlobal roots v until Close.
func NewGlobal[T Kind](s *Scope, v Local[T]) *Global[T] {
	ec := s.checkLocal("NewGlobal", v.id)
	g := &Global[T]{
		ec:    ec,
		inner: s.token.inner.acquire(),
		id:    s.id,
	}
	*ec.AddGCRef(&g.ref) = v.raw
	return g
}

func (g *Global[T]) usable(what string) {
	if g.closed {
		violate(g.inner.logger, RuleHandleOutsideScope, "%s on closed Global of context %s", what, g.id)
	}
}

// Reset points the Global at v in place.
func (g *Global[T]) Reset(s *Scope, v Local[T]) {
	g.usable("Global.Reset")
	checkSameContext(g.inner.logger, "Global.Reset(scope)", g.id, s.id)
	checkSameContext(g.inner.logger, "Global.Reset(value)", g.id, v.id)
	s.check()
	g.ref.Val = v.raw
}

// ResetEmpty clears the Global to undefined. It needs no active Scope.
func (g *Global[T]) ResetEmpty() {
	g.usable("Global.ResetEmpty")
	g.ref.Val = engine.Undefined
}

// Local returns the rooted value.
func (g *Global[T]) Local(s *Scope) Local[T] {
	g.usable("Global.Local")
	checkSameContext(g.inner.logger, "Global.Local", g.id, s.id)
	s.check()
	return Local[T]{raw: g.ref.Val, id: g.id}
}

func (g *Global[T]) Raw() engine.Value {
	g.usable("Global.Raw")
	return g.ref.Val
}

func (g *Global[T]) ContextID() ContextId { return g.id }

// Close unroots the value. Closing a Global whose Context is already closed
// panics: its root list no longer exists.
func (g *Global[T]) Close() {
	if g.closed {
		return
	}
	if !g.inner.Alive() {
		violate(g.inner.logger, RuleGlobalOutlivesContext, "Global closed after context %s was closed", g.id)
	}
	g.ec.DeleteGCRef(&g.ref)
	g.closed = true
	g.ec = nil
	g.inner.logger.Debug("global released", zap.Stringer("context", g.id))
	g.inner.release()
}
