package mquickjs

import (
	"github.com/buke/mquickjs-go/engine"
)

// ReturnSafe carries a value out of a native function back to the engine.
// It exposes no engine operations; the boundary glue turns it back into a
// Local with ToLocal under the then-active Scope. The zero ReturnSafe
// returns undefined.
type ReturnSafe[T Kind] struct {
	raw engine.Value
	id  ContextId
	set bool
}

// ReturnAny is the result type of every NativeFunc.
type ReturnAny = ReturnSafe[Value]

// Return wraps v for return. s must be the innermost active Scope.
func Return[T Kind](s *Scope, v Local[T]) ReturnSafe[T] {
	s.check()
	checkSameContext(s.logger(), "Return", s.id, v.id)
	if !s.isTop() {
		violate(s.logger(), RuleScopeOrder, "Return with a scope of context %s that is not the innermost", s.id)
	}
	return ReturnSafe[T]{raw: v.raw, id: v.id, set: true}
}

// ReturnHandle wraps a rooted value for return.
func ReturnHandle[T Kind](s *Scope, h Handle[T]) ReturnSafe[T] {
	return Return(s, h.Local())
}

func (r ReturnSafe[T]) ContextID() ContextId { return r.id }

// Any drops the refinement.
func (r ReturnSafe[T]) Any() ReturnAny {
	return ReturnAny{raw: r.raw, id: r.id, set: r.set}
}

// ToLocal revalidates the value against the active Scope.
func (r ReturnSafe[T]) ToLocal(s *Scope) Local[T] {
	s.check()
	if !r.set {
		return Local[T]{raw: engine.Undefined, id: s.id}
	}
	checkSameContext(s.logger(), "ReturnSafe.ToLocal", s.id, r.id)
	return Local[T]{raw: r.raw, id: r.id}
}
