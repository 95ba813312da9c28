package mquickjs

import (
	"github.com/buke/mquickjs-go/engine"
)

// Value, Object, Array and Function are the refinements a Local can carry.
type (
	Value    struct{}
	Object   struct{}
	Array    struct{}
	Function struct{}
)

// Kind is the set of Local refinements.
type Kind interface {
	Value | Object | Array | Function
}

// ObjectKind is the set of refinements known to be objects.
type ObjectKind interface {
	Object | Array | Function
}

// Local is an unrooted view of an engine value, tagged with its context. It
// stays valid only while something else (a Handle, a Global, the engine's own
// call frame) keeps the value alive.
type Local[T Kind] struct {
	raw engine.Value
	id  ContextId
}

// Raw returns the raw engine value.
func (l Local[T]) Raw() engine.Value { return l.raw }

// ContextID returns the context the value belongs to.
func (l Local[T]) ContextID() ContextId { return l.id }

// AsValue drops the refinement.
func (l Local[T]) AsValue() Local[Value] {
	return Local[Value]{raw: l.raw, id: l.id}
}

func (l Local[T]) IsUndefined() bool { return l.raw.IsUndefined() }
func (l Local[T]) IsNull() bool      { return l.raw.IsNull() }
func (l Local[T]) IsBool() bool      { return l.raw.IsBool() }
func (l Local[T]) IsException() bool { return l.raw.IsException() }

func (l Local[T]) IsString(s *Scope) bool {
	return s.checkLocal("Local.IsString", l.id).IsString(l.raw)
}

func (l Local[T]) IsNumber(s *Scope) bool {
	return s.checkLocal("Local.IsNumber", l.id).IsNumber(l.raw)
}

func (l Local[T]) IsObject(s *Scope) bool {
	return s.checkLocal("Local.IsObject", l.id).IsObject(l.raw)
}

func (l Local[T]) IsArray(s *Scope) bool {
	return s.checkLocal("Local.IsArray", l.id).IsArray(l.raw)
}

func (l Local[T]) IsFunction(s *Scope) bool {
	return s.checkLocal("Local.IsFunction", l.id).IsFunction(l.raw)
}

func (l Local[T]) IsError(s *Scope) bool {
	return s.checkLocal("Local.IsError", l.id).IsError(l.raw)
}

// TryIntoObject refines l after checking that it is an object.
func (l Local[T]) TryIntoObject(s *Scope) (Local[Object], error) {
	if !l.IsObject(s) {
		return Local[Object]{}, ErrNotObject
	}
	return Local[Object]{raw: l.raw, id: l.id}, nil
}

// TryIntoArray refines l after checking that it is an array.
func (l Local[T]) TryIntoArray(s *Scope) (Local[Array], error) {
	if !l.IsArray(s) {
		return Local[Array]{}, ErrNotArray
	}
	return Local[Array]{raw: l.raw, id: l.id}, nil
}

// TryIntoFunction refines l after checking that it is callable.
func (l Local[T]) TryIntoFunction(s *Scope) (Local[Function], error) {
	if !l.IsFunction(s) {
		return Local[Function]{}, ErrNotFunction
	}
	return Local[Function]{raw: l.raw, id: l.id}, nil
}
