package gojaengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buke/mquickjs-go/engine"
	"github.com/buke/mquickjs-go/engine/gojaengine"
)

func newContext(t *testing.T, arenaSize int) engine.Context {
	t.Helper()
	ctx, err := gojaengine.New().NewContext(make([]byte, arenaSize), nil)
	require.NoError(t, err)
	t.Cleanup(ctx.Free)
	return ctx
}

func cstring(t *testing.T, ctx engine.Context, v engine.Value) string {
	t.Helper()
	s, ok := ctx.ToCString(v)
	require.True(t, ok, "ToCString(%s)", v)
	return s
}

func TestNewContextArenaTooSmall(t *testing.T) {
	_, err := gojaengine.New().NewContext(make([]byte, gojaengine.MinArenaSize-1), nil)
	require.ErrorIs(t, err, engine.ErrArenaTooSmall)
}

func TestEval(t *testing.T) {
	ctx := newContext(t, 64*1024)

	tests := []struct {
		code string
		want string
	}{
		{"1 + 1", "2"},
		{"'hello' + ' ' + 'world'", "hello world"},
		{"var x = 10; x * 2", "20"},
		{"(function(a, b) { return a * b })(6, 7)", "42"},
		{"[1, 2, 3].join('-')", "1-2-3"},
		{"JSON.stringify({a: 1})", `{"a":1}`},
		{"0.5 + 0.25", "0.75"},
		{"undefined", "undefined"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			v := ctx.Eval(tc.code, "eval.js", engine.EvalRetval)
			require.False(t, v.IsException())
			require.EqualValues(t, tc.want, cstring(t, ctx, v))
		})
	}
}

func TestEvalExceptions(t *testing.T) {
	ctx := newContext(t, 64*1024)

	tests := []struct {
		code   string
		prefix string
	}{
		{"throw new TypeError('bad')", "TypeError: bad"},
		{"notDefined + 1", "ReferenceError"},
		{"function (", "SyntaxError"},
		{"throw 'plain'", "plain"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			v := ctx.Eval(tc.code, "eval.js", engine.EvalRetval)
			require.True(t, v.IsException())
			ex := ctx.GetException()
			require.Contains(t, cstring(t, ctx, ex), tc.prefix)
			// exception is consumed
			require.True(t, ctx.GetException().IsNull())
		})
	}
}

func TestEvalStrict(t *testing.T) {
	ctx := newContext(t, 64*1024)
	v := ctx.Eval("undeclared = 1", "strict.js", engine.EvalRetval|engine.EvalStrict)
	require.True(t, v.IsException())
	require.True(t, ctx.IsError(ctx.GetException()))
}

func TestCollectionFreesUnrooted(t *testing.T) {
	ctx := newContext(t, 64*1024)

	unrooted := ctx.NewString("gone")
	var ref engine.GCRef
	slot := ctx.PushGCRef(&ref)
	*slot = ctx.NewString("pinned")

	ctx.GC()

	_, ok := ctx.ToCString(unrooted)
	require.False(t, ok, "unrooted value must be stale after collection")
	require.EqualValues(t, "pinned", cstring(t, ctx, *slot))

	require.EqualValues(t, *slot, ctx.PopGCRef(&ref))
	ctx.GC()
	require.EqualValues(t, 0, ctx.Stats().Live)
}

func TestStaleReferenceRaisesInternalError(t *testing.T) {
	ctx := newContext(t, 64*1024)
	obj := ctx.NewObject()
	ctx.GC()

	r := ctx.GetPropertyStr(obj, "x")
	require.True(t, r.IsException())
	require.Contains(t, cstring(t, ctx, ctx.GetException()), "InternalError")
}

func TestGlobalRoots(t *testing.T) {
	ctx := newContext(t, 64*1024)

	var a, b engine.GCRef
	*ctx.AddGCRef(&a) = ctx.NewString("a")
	*ctx.AddGCRef(&b) = ctx.NewString("b")
	require.EqualValues(t, 2, ctx.Stats().GlobalRoots)

	// independent roots are released in any order
	ctx.DeleteGCRef(&a)
	ctx.GC()
	require.EqualValues(t, "b", cstring(t, ctx, b.Val))
	ctx.DeleteGCRef(&b)

	require.Panics(t, func() { ctx.DeleteGCRef(&b) })
}

func TestPopGCRefOutOfOrderPanics(t *testing.T) {
	ctx := newContext(t, 64*1024)

	var first, second engine.GCRef
	ctx.PushGCRef(&first)
	ctx.PushGCRef(&second)
	require.Panics(t, func() { ctx.PopGCRef(&first) })
	ctx.PopGCRef(&second)
	ctx.PopGCRef(&first)
	require.EqualValues(t, 0, ctx.Stats().StackRoots)
}

func TestOutOfMemory(t *testing.T) {
	ctx := newContext(t, gojaengine.MinArenaSize)
	slots := ctx.Stats().Slots

	refs := make([]engine.GCRef, slots)
	for i := range refs {
		*ctx.PushGCRef(&refs[i]) = ctx.NewObject()
		require.False(t, refs[i].Val.IsException())
	}

	v := ctx.NewObject()
	require.True(t, v.IsException())
	// the error object itself cannot be allocated either, and nothing is
	// left pending after it is taken
	require.True(t, ctx.GetException().IsException())
	require.True(t, ctx.GetException().IsNull())

	for i := len(refs) - 1; i >= 0; i-- {
		ctx.PopGCRef(&refs[i])
	}
	require.False(t, ctx.NewObject().IsException())
	require.Greater(t, ctx.Stats().Collections, 0)
}

func TestArraySetPolicy(t *testing.T) {
	ctx := newContext(t, 64*1024)

	var ref engine.GCRef
	arr := ctx.PushGCRef(&ref)
	*arr = ctx.NewArray(0)
	require.True(t, ctx.IsArray(*arr))

	require.False(t, ctx.SetPropertyUint32(*arr, 0, ctx.NewInt32(1)).IsException())
	require.False(t, ctx.SetPropertyUint32(*arr, 1, ctx.NewInt32(2)).IsException())

	r := ctx.SetPropertyUint32(*arr, 5, ctx.NewInt32(3))
	require.True(t, r.IsException())
	require.Contains(t, cstring(t, ctx, ctx.GetException()), "TypeError")

	n, ok := ctx.ToInt32(ctx.GetPropertyStr(*arr, "length"))
	require.True(t, ok)
	require.EqualValues(t, 2, n)

	// plain objects accept any index
	obj := ctx.NewObject()
	require.False(t, ctx.SetPropertyUint32(obj, 10, engine.True).IsException())
}

func TestCallConvention(t *testing.T) {
	ctx := newContext(t, 64*1024)

	var ref engine.GCRef
	fn := ctx.PushGCRef(&ref)
	*fn = ctx.Eval("(function(a, b) { return this.base + a - b })", "call.js", engine.EvalRetval)
	require.True(t, ctx.IsFunction(*fn))

	this := ctx.Eval("({base: 100})", "this.js", engine.EvalRetval)
	ctx.PushArg(ctx.NewInt32(3))
	ctx.PushArg(ctx.NewInt32(10))
	ctx.PushArg(*fn)
	ctx.PushArg(this)
	ret := ctx.Call(2)
	require.False(t, ret.IsException())
	n, ok := ctx.ToInt32(ret)
	require.True(t, ok)
	require.EqualValues(t, 107, n)

	ctx.PushArg(ctx.NewInt32(1))
	ctx.PushArg(engine.Undefined)
	require.True(t, ctx.Call(0).IsException())
	require.Contains(t, cstring(t, ctx, ctx.GetException()), "not a function")
}

func TestArgStackDepth(t *testing.T) {
	ctx, err := gojaengine.New(gojaengine.WithArgStackDepth(2)).NewContext(make([]byte, 8*1024), nil)
	require.NoError(t, err)
	defer ctx.Free()

	require.True(t, ctx.StackCheck(2))
	require.False(t, ctx.StackCheck(3))
	ctx.PushArg(engine.Null)
	ctx.PushArg(engine.Null)
	require.Panics(t, func() { ctx.PushArg(engine.Null) })
}

func TestNativeFunctionFrameRootsArguments(t *testing.T) {
	ctx := newContext(t, 64*1024)

	var seen string
	fn := ctx.NewCFunction("measure", 1, func(c engine.Context, this engine.Value, args []engine.Value) engine.Value {
		c.GC()
		s, ok := c.ToCString(args[0])
		if !ok {
			return c.ThrowError(engine.InternalError, "argument collected")
		}
		seen = s
		return c.NewInt32(int32(len(s)))
	})
	global := ctx.GetGlobalObject()
	require.False(t, ctx.SetPropertyStr(global, "measure", fn).IsException())

	v := ctx.Eval("measure('abc' + 'def')", "native.js", engine.EvalRetval)
	require.False(t, v.IsException())
	require.EqualValues(t, "6", cstring(t, ctx, v))
	require.EqualValues(t, "abcdef", seen)
}

func TestNativeFunctionThrows(t *testing.T) {
	ctx := newContext(t, 64*1024)

	fn := ctx.NewCFunction("fail", 0, func(c engine.Context, this engine.Value, args []engine.Value) engine.Value {
		return c.ThrowError(engine.RangeError, "too far")
	})
	require.False(t, ctx.SetPropertyStr(ctx.GetGlobalObject(), "fail", fn).IsException())

	v := ctx.Eval("try { fail() } catch (e) { e.name + '|' + e.message }", "throw.js", engine.EvalRetval)
	require.EqualValues(t, "RangeError|too far", cstring(t, ctx, v))
}

func TestStdlibInstall(t *testing.T) {
	var got []string
	stdlib := &engine.Stdlib{Functions: []engine.StdlibFunction{{
		Name:   "host.util.record",
		Length: 1,
		Fn: func(c engine.Context, this engine.Value, args []engine.Value) engine.Value {
			s, _ := c.ToCString(args[0])
			got = append(got, s)
			return engine.Undefined
		},
	}}}
	ctx, err := gojaengine.New().NewContext(make([]byte, 16*1024), stdlib)
	require.NoError(t, err)
	defer ctx.Free()

	v := ctx.Eval("host.util.record('x'); host.util.record.length", "stdlib.js", engine.EvalRetval)
	require.False(t, v.IsException())
	require.EqualValues(t, "1", cstring(t, ctx, v))
	require.EqualValues(t, []string{"x"}, got)
}

func TestUserDataFinalizer(t *testing.T) {
	ctx, err := gojaengine.New().NewContext(make([]byte, 8*1024), nil)
	require.NoError(t, err)

	var finalized any
	ctx.SetUserData("state", func(p any) { finalized = p })
	require.EqualValues(t, "state", ctx.UserData())

	ctx.Free()
	require.EqualValues(t, "state", finalized)
	require.Nil(t, ctx.UserData())
	require.Panics(t, func() { ctx.NewObject() })
	// second free is a no-op
	ctx.Free()
}

func TestPredicatesAndConversions(t *testing.T) {
	ctx := newContext(t, 64*1024)

	str := ctx.NewString("12.5")
	num := ctx.NewFloat64(12.5)
	big := ctx.NewUint32(1 << 31)

	assert.True(t, ctx.IsString(str))
	assert.False(t, ctx.IsNumber(str))
	assert.True(t, ctx.IsNumber(num))
	assert.True(t, ctx.IsNumber(ctx.NewInt32(-1)))
	assert.True(t, ctx.IsNumber(big))
	assert.True(t, ctx.IsObject(ctx.NewObject()))
	assert.False(t, ctx.IsObject(engine.Null))
	assert.True(t, ctx.IsError(ctx.Eval("new Error('x')", "e.js", engine.EvalRetval)))

	f, ok := ctx.ToNumber(str)
	require.True(t, ok)
	assert.EqualValues(t, 12.5, f)

	i, ok := ctx.ToInt32(big)
	require.True(t, ok)
	assert.EqualValues(t, int32(-1<<31), i)

	assert.True(t, ctx.ToBool(str))
	assert.False(t, ctx.ToBool(ctx.NewString("")))
	assert.False(t, ctx.ToBool(engine.Undefined))
}

func TestOwnKeys(t *testing.T) {
	ctx := newContext(t, 64*1024)

	obj := ctx.Eval("({b: 1, a: 2, 3: 'x'})", "eval.js", engine.EvalRetval)
	require.False(t, obj.IsException())
	keys, ok := ctx.OwnKeys(obj)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b", "3"}, keys)

	_, ok = ctx.OwnKeys(engine.MakeInt(1))
	require.False(t, ok)
	ex := ctx.GetException()
	require.True(t, ctx.IsError(ex))
}
