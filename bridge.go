package mquickjs

import (
	"errors"

	"github.com/buke/mquickjs-go/engine"
)

// NativeFunc is a Go function callable from scripts. this and args are kept
// alive by the engine for the duration of the call. Returning an error throws
// it; an *Error keeps its Name.
type NativeFunc func(env *Env, this Local[Value], args []Local[Value]) (ReturnAny, error)

// wrapNative adapts fn to the engine calling convention. The context's
// extension block is recovered from the engine user-data slot and the context
// is re-entered for the duration of the call.
func wrapNative(fn NativeFunc) engine.NativeFunc {
	return func(ec engine.Context, this engine.Value, args []engine.Value) engine.Value {
		inner, ok := ec.UserData().(*ContextInner)
		if !ok {
			return ec.ThrowError(engine.InternalError, "native call on a context without handle state")
		}
		s := ContextToken{ec: ec, inner: inner}.Enter()
		defer s.Close()
		env := NewEnv(s)
		defer env.Close()

		argv := make([]Local[Value], len(args))
		for i, a := range args {
			argv[i] = s.Value(a)
		}
		ret, err := fn(env, s.Value(this), argv)
		if err != nil {
			return throwError(ec, err)
		}
		// the engine takes the value before any further allocation, so the
		// roots released by env.Close are not needed past this point
		return ret.ToLocal(s).raw
	}
}

func throwError(ec engine.Context, err error) engine.Value {
	var jsErr *Error
	if errors.As(err, &jsErr) {
		kind := engine.PlainError
		if jsErr.Name != "" {
			kind = engine.ErrorKind(jsErr.Name)
		}
		return ec.ThrowError(kind, jsErr.Message)
	}
	return ec.ThrowError(engine.PlainError, err.Error())
}
