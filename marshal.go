package mquickjs

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Marshaler is the interface implemented by types that can marshal themselves
// into a script value. The result must be pinned in hs.
type Marshaler interface {
	MarshalJS(hs *HandleScope) (Handle[Value], error)
}

// Unmarshaler is the interface implemented by types that can unmarshal a
// script value into themselves. v is rooted for the duration of the call.
type Unmarshaler interface {
	UnmarshalJS(s *Scope, v Local[Value]) error
}

var errUnmarshalTarget = errors.New("unmarshal target must be a non-nil pointer")

// largest integer a float64 holds exactly
const maxSafeInteger = 1<<53 - 1

// Marshal converts a Go value into a script value rooted in env.
//
// Marshal uses the following type mappings:
//   - bool -> boolean
//   - signed and unsigned integers, float32, float64 -> number (64-bit
//     integers outside the safe integer range are an error)
//   - string -> string
//   - slice/array -> Array
//   - map, struct -> Object
//   - pointer -> the pointed value, nil becomes null
//
// Struct fields use the "js" tag, then the "json" tag, then the field name.
// A tag of "-" skips the field and ",omitempty" skips zero values.
// Containers are built in escapable scopes, so only the result stays rooted
// in env.
func Marshal(env *Env, v any) (Handle[Value], error) {
	if v == nil {
		return env.Pin(env.scope.Null()), nil
	}
	return marshal(env.hs, reflect.ValueOf(v))
}

// Unmarshal stores the script value v in the Go value pointed to by dst. v
// must be rooted by the caller; nested values are rooted while they are read.
//
// When unmarshaling into an interface{}, Unmarshal stores one of: nil, bool,
// int64 (integral numbers), float64, string, []any or map[string]any.
func Unmarshal(s *Scope, v Local[Value], dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errUnmarshalTarget
	}
	checkSameContext(s.logger(), "Unmarshal", s.id, v.id)
	return unmarshal(s, v, rv.Elem())
}

func marshal(hs *HandleScope, rv reflect.Value) (Handle[Value], error) {
	s := hs.scope
	pin := func(v Local[Value], err error) (Handle[Value], error) {
		if err != nil {
			return Handle[Value]{}, err
		}
		return Pin(hs, v), nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Pin(hs, s.Null()), nil
		}
		rv = rv.Elem()
	}

	if rv.CanInterface() {
		if m, ok := rv.Interface().(Marshaler); ok {
			return m.MarshalJS(hs)
		}
	}

	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Pin(hs, s.Null()), nil
		}
		return marshal(hs, rv.Elem())
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Pin(hs, s.NewBool(rv.Bool())), nil

	case reflect.Int8, reflect.Int16, reflect.Int32:
		return Pin(hs, s.NewInt32(int32(rv.Int()))), nil

	case reflect.Int, reflect.Int64:
		n := rv.Int()
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return Pin(hs, s.NewInt32(int32(n))), nil
		}
		if n > maxSafeInteger || n < -maxSafeInteger {
			return Handle[Value]{}, fmt.Errorf("integer %d cannot be represented exactly", n)
		}
		return pin(s.NewFloat64(float64(n)))

	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return pin(s.NewUint32(uint32(rv.Uint())))

	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n <= math.MaxUint32 {
			return pin(s.NewUint32(uint32(n)))
		}
		if n > maxSafeInteger {
			return Handle[Value]{}, fmt.Errorf("integer %d cannot be represented exactly", n)
		}
		return pin(s.NewFloat64(float64(n)))

	case reflect.Float32, reflect.Float64:
		return pin(s.NewFloat64(rv.Float()))

	case reflect.String:
		return pin(s.NewString(rv.String()))

	case reflect.Slice:
		if rv.IsNil() {
			return Pin(hs, s.Null()), nil
		}
		return marshalArray(hs, rv)

	case reflect.Array:
		return marshalArray(hs, rv)

	case reflect.Map:
		if rv.IsNil() {
			return Pin(hs, s.Null()), nil
		}
		return marshalMap(hs, rv)

	case reflect.Struct:
		return marshalStruct(hs, rv)

	default:
		return Handle[Value]{}, fmt.Errorf("unsupported type: %v", rv.Type())
	}
}

// buildObject creates a container in an escapable scope nested in hs and
// calls fill on it. Only the finished container survives in hs.
func buildObject[T ObjectKind](hs *HandleScope, create func(s *Scope) (Local[T], error), fill func(esc *EscapableHandleScope, obj Local[T]) error) (Handle[Value], error) {
	var err error
	h := Escapable(hs, func(esc *EscapableHandleScope) Escaped[Value] {
		s := esc.Scope()
		var obj Local[T]
		if obj, err = create(s); err != nil {
			return Escape(esc, Pin(esc, s.Undefined()))
		}
		oh := Pin(esc, obj)
		if err = fill(esc, oh.Local()); err != nil {
			return Escape(esc, Pin(esc, s.Undefined()))
		}
		return Escape(esc, oh.AsValue())
	})
	if err != nil {
		return Handle[Value]{}, err
	}
	return h, nil
}

// withElement marshals rv in its own HandleScope and passes the result to
// set before the scope is closed again.
func withElement(s *Scope, rv reflect.Value, set func(v Local[Value]) error) error {
	hs := NewHandleScope(s)
	defer hs.Close()
	h, err := marshal(hs, rv)
	if err != nil {
		return err
	}
	return set(h.Local())
}

func marshalArray(hs *HandleScope, rv reflect.Value) (Handle[Value], error) {
	return buildObject(hs,
		func(s *Scope) (Local[Array], error) { return s.NewArray(0) },
		func(esc *EscapableHandleScope, arr Local[Array]) error {
			s := esc.Scope()
			for i := 0; i < rv.Len(); i++ {
				err := withElement(s, rv.Index(i), func(v Local[Value]) error {
					return ArraySet(s, arr, uint32(i), v)
				})
				if err != nil {
					return fmt.Errorf("array element %d: %w", i, err)
				}
			}
			return nil
		})
}

func marshalMap(hs *HandleScope, rv reflect.Value) (Handle[Value], error) {
	return buildObject(hs,
		func(s *Scope) (Local[Object], error) { return s.NewObject() },
		func(esc *EscapableHandleScope, obj Local[Object]) error {
			s := esc.Scope()
			iter := rv.MapRange()
			for iter.Next() {
				key := fmt.Sprint(iter.Key().Interface())
				err := withElement(s, iter.Value(), func(v Local[Value]) error {
					return SetProperty(s, obj, key, v)
				})
				if err != nil {
					return fmt.Errorf("map value for key %s: %w", key, err)
				}
			}
			return nil
		})
}

func marshalStruct(hs *HandleScope, rv reflect.Value) (Handle[Value], error) {
	return buildObject(hs,
		func(s *Scope) (Local[Object], error) { return s.NewObject() },
		func(esc *EscapableHandleScope, obj Local[Object]) error {
			s := esc.Scope()
			rt := rv.Type()
			for i := 0; i < rv.NumField(); i++ {
				field := rt.Field(i)
				name, omitEmpty, ok := fieldName(field)
				if !ok {
					continue
				}
				fv := rv.Field(i)
				if omitEmpty && fv.IsZero() {
					continue
				}
				err := withElement(s, fv, func(v Local[Value]) error {
					return SetProperty(s, obj, name, v)
				})
				if err != nil {
					return fmt.Errorf("struct field %s: %w", field.Name, err)
				}
			}
			return nil
		})
}

// fieldName resolves the property name of a struct field from its "js" or
// "json" tag. ok is false for unexported and skipped fields.
func fieldName(field reflect.StructField) (name string, omitEmpty, ok bool) {
	if !field.IsExported() {
		return "", false, false
	}
	tag := field.Tag.Get("js")
	if tag == "" {
		tag = field.Tag.Get("json")
	}
	if tag == "-" {
		return "", false, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	return name, opts == "omitempty", true
}

func unmarshal(s *Scope, v Local[Value], rv reflect.Value) error {
	if rv.CanAddr() {
		if u, ok := rv.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalJS(s, v)
		}
	}

	if rv.Kind() == reflect.Pointer {
		if v.IsNull() || v.IsUndefined() {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return unmarshal(s, v, rv.Elem())
	}

	switch rv.Kind() {
	case reflect.Bool:
		if !v.IsBool() {
			return typeMismatch(s, v, rv)
		}
		rv.SetBool(v.raw.Bool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := number(s, v, rv)
		if err != nil {
			return err
		}
		if f != math.Trunc(f) || rv.OverflowInt(int64(f)) {
			return fmt.Errorf("number %v overflows Go %v", f, rv.Type())
		}
		rv.SetInt(int64(f))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		f, err := number(s, v, rv)
		if err != nil {
			return err
		}
		if f < 0 || f != math.Trunc(f) || rv.OverflowUint(uint64(f)) {
			return fmt.Errorf("number %v overflows Go %v", f, rv.Type())
		}
		rv.SetUint(uint64(f))

	case reflect.Float32, reflect.Float64:
		f, err := number(s, v, rv)
		if err != nil {
			return err
		}
		rv.SetFloat(f)

	case reflect.String:
		if !v.IsString(s) {
			return typeMismatch(s, v, rv)
		}
		str, err := s.ToString(v)
		if err != nil {
			return err
		}
		rv.SetString(str)

	case reflect.Slice:
		return unmarshalSlice(s, v, rv)

	case reflect.Array:
		return unmarshalArray(s, v, rv)

	case reflect.Map:
		return unmarshalMap(s, v, rv)

	case reflect.Struct:
		return unmarshalStruct(s, v, rv)

	case reflect.Interface:
		val, err := unmarshalAny(s, v)
		if err != nil {
			return err
		}
		if val == nil {
			rv.Set(reflect.Zero(rv.Type()))
		} else {
			rv.Set(reflect.ValueOf(val))
		}

	default:
		return fmt.Errorf("unsupported type: %v", rv.Type())
	}
	return nil
}

func number(s *Scope, v Local[Value], rv reflect.Value) (float64, error) {
	if !v.IsNumber(s) {
		return 0, typeMismatch(s, v, rv)
	}
	return s.ToNumber(v)
}

func typeMismatch(s *Scope, v Local[Value], rv reflect.Value) error {
	str, err := s.ToString(v)
	if err != nil {
		str = "value"
	}
	return fmt.Errorf("cannot unmarshal %s into Go %v", str, rv.Type())
}

// element reads a[i] into its own HandleScope and passes it to f.
func element(s *Scope, a Local[Array], i uint32, f func(v Local[Value]) error) error {
	hs := NewHandleScope(s)
	defer hs.Close()
	v, err := s.checked(s.engine().GetPropertyUint32(a.raw, i))
	if err != nil {
		return err
	}
	return f(Pin(hs, v).Local())
}

// property reads obj[name] into its own HandleScope and passes it to f.
func property(s *Scope, obj Local[Object], name string, f func(v Local[Value]) error) error {
	hs := NewHandleScope(s)
	defer hs.Close()
	v, err := GetProperty(s, obj, name)
	if err != nil {
		return err
	}
	return f(Pin(hs, v).Local())
}

func unmarshalSlice(s *Scope, v Local[Value], rv reflect.Value) error {
	if v.IsNull() || v.IsUndefined() {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	a, err := v.TryIntoArray(s)
	if err != nil {
		return fmt.Errorf("expected array: %w", err)
	}
	n, err := ArrayLen(s, a)
	if err != nil {
		return err
	}
	slice := reflect.MakeSlice(rv.Type(), int(n), int(n))
	for i := uint32(0); i < n; i++ {
		err := element(s, a, i, func(el Local[Value]) error {
			return unmarshal(s, el, slice.Index(int(i)))
		})
		if err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
	}
	rv.Set(slice)
	return nil
}

func unmarshalArray(s *Scope, v Local[Value], rv reflect.Value) error {
	if v.IsNull() || v.IsUndefined() {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	a, err := v.TryIntoArray(s)
	if err != nil {
		return fmt.Errorf("expected array: %w", err)
	}
	n, err := ArrayLen(s, a)
	if err != nil {
		return err
	}
	m := min(int(n), rv.Len())
	for i := 0; i < m; i++ {
		err := element(s, a, uint32(i), func(el Local[Value]) error {
			return unmarshal(s, el, rv.Index(i))
		})
		if err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
	}
	return nil
}

func unmarshalMap(s *Scope, v Local[Value], rv reflect.Value) error {
	if v.IsNull() || v.IsUndefined() {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	obj, err := v.TryIntoObject(s)
	if err != nil {
		return fmt.Errorf("expected object: %w", err)
	}
	if rv.IsNil() {
		rv.Set(reflect.MakeMap(rv.Type()))
	}
	keys, err := PropertyNames(s, obj)
	if err != nil {
		return err
	}

	keyType := rv.Type().Key()
	valueType := rv.Type().Elem()
	for _, key := range keys {
		kv := reflect.New(keyType).Elem()
		switch keyType.Kind() {
		case reflect.String:
			kv.SetString(key)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(key, 10, 64)
			if err != nil || kv.OverflowInt(n) {
				continue
			}
			kv.SetInt(n)
		default:
			return fmt.Errorf("unsupported map key type: %v", keyType)
		}

		vv := reflect.New(valueType).Elem()
		err := property(s, obj, key, func(pv Local[Value]) error {
			return unmarshal(s, pv, vv)
		})
		if err != nil {
			return fmt.Errorf("map value for key %s: %w", key, err)
		}
		rv.SetMapIndex(kv, vv)
	}
	return nil
}

func unmarshalStruct(s *Scope, v Local[Value], rv reflect.Value) error {
	obj, err := v.TryIntoObject(s)
	if err != nil {
		return fmt.Errorf("expected object: %w", err)
	}
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		name, _, ok := fieldName(field)
		if !ok {
			continue
		}
		fv := rv.Field(i)
		err := property(s, obj, name, func(pv Local[Value]) error {
			if pv.IsUndefined() {
				return nil
			}
			return unmarshal(s, pv, fv)
		})
		if err != nil {
			return fmt.Errorf("struct field %s: %w", field.Name, err)
		}
	}
	return nil
}

func unmarshalAny(s *Scope, v Local[Value]) (any, error) {
	switch {
	case v.IsNull(), v.IsUndefined():
		return nil, nil
	case v.IsBool():
		return v.raw.Bool(), nil
	case v.IsNumber(s):
		f, err := s.ToNumber(v)
		if err != nil {
			return nil, err
		}
		if f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger {
			return int64(f), nil
		}
		return f, nil
	case v.IsString(s):
		return s.ToString(v)
	case v.IsArray(s):
		var out []any
		err := unmarshalSlice(s, v, reflect.ValueOf(&out).Elem())
		return out, err
	case v.IsFunction(s):
		return nil, fmt.Errorf("cannot unmarshal function: %w", ErrNotObject)
	case v.IsObject(s):
		out := map[string]any{}
		err := unmarshalMap(s, v, reflect.ValueOf(&out).Elem())
		return out, err
	}
	return nil, fmt.Errorf("cannot unmarshal %s", v.raw)
}
