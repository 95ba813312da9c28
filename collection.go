package mquickjs

import (
	"fmt"
	"math"
)

// ArrayLen returns the length of a.
func ArrayLen(s *Scope, a Local[Array]) (uint32, error) {
	length, err := GetProperty(s, a, "length")
	if err != nil {
		return 0, err
	}
	n, err := s.ToNumber(length)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: invalid length %v", ErrNotNumber, n)
	}
	return uint32(n), nil
}

// ArrayGet reads a[index] and roots it in env.
func ArrayGet(env *Env, a Local[Array], index uint32) (Handle[Value], error) {
	s := env.Scope()
	ec := s.checkLocal("ArrayGet", a.id)
	v, err := s.checked(ec.GetPropertyUint32(a.raw, index))
	if err != nil {
		return Handle[Value]{}, err
	}
	return env.Pin(v), nil
}

// ArraySet assigns a[index] = v. index may be at most the current length;
// setting index == length appends.
func ArraySet[V Kind](s *Scope, a Local[Array], index uint32, v Local[V]) error {
	ec := s.checkLocal("ArraySet", a.id)
	checkSameContext(s.logger(), "ArraySet(value)", s.id, v.id)
	if ec.SetPropertyUint32(a.raw, index, v.raw).IsException() {
		return s.takeException()
	}
	return nil
}

// ArrayPush appends v and returns the new length.
func ArrayPush[V Kind](s *Scope, a Local[Array], v Local[V]) (uint32, error) {
	n, err := ArrayLen(s, a)
	if err != nil {
		return 0, err
	}
	if err := ArraySet(s, a, n, v); err != nil {
		return 0, err
	}
	return n + 1, nil
}

// ArrayPop removes the last element and returns it rooted in env. Popping an
// empty array returns undefined.
func ArrayPop(env *Env, a Local[Array]) (Handle[Value], error) {
	s := env.Scope()
	n, err := ArrayLen(s, a)
	if err != nil {
		return Handle[Value]{}, err
	}
	if n == 0 {
		return env.Pin(s.Undefined()), nil
	}
	last, err := ArrayGet(env, a, n-1)
	if err != nil {
		return Handle[Value]{}, err
	}
	length, err := s.NewUint32(n - 1)
	if err != nil {
		return Handle[Value]{}, err
	}
	if err := SetProperty(s, a, "length", length); err != nil {
		return Handle[Value]{}, err
	}
	return last, nil
}
