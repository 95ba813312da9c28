package gojaengine

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/buke/mquickjs-go/engine"
)

// toGoja resolves a raw value. It fails for stale references and for the
// exception sentinel.
func (c *jsContext) toGoja(v engine.Value) (goja.Value, bool) {
	switch v.SpecialTag() {
	case engine.TagInt:
		return c.rt.ToValue(int64(v.Int())), true
	case engine.TagPtr:
		return c.heap.deref(v)
	case engine.TagBool:
		return c.rt.ToValue(v.Bool()), true
	case engine.TagNull:
		return goja.Null(), true
	case engine.TagUndefined, engine.TagUninitialized:
		return goja.Undefined(), true
	}
	return nil, false
}

// fromGoja turns a script value into a raw value, allocating a heap slot for
// anything that is not an immediate.
func (c *jsContext) fromGoja(gv goja.Value) engine.Value {
	if gv == nil || goja.IsUndefined(gv) {
		return engine.Undefined
	}
	if goja.IsNull(gv) {
		return engine.Null
	}
	if _, ok := gv.(*goja.Object); !ok {
		switch x := gv.Export().(type) {
		case bool:
			return engine.MakeBool(x)
		case int64:
			if x >= math.MinInt32 && x <= math.MaxInt32 {
				return engine.MakeInt(int32(x))
			}
		}
	}
	v, err := c.heap.alloc(gv, c.collect)
	if err != nil {
		c.logger.Warn("allocation failed", zap.Error(err))
		return c.throwError(engine.InternalError, "out of memory")
	}
	return v
}

// operand resolves v or leaves a pending exception describing why it could not.
func (c *jsContext) operand(v engine.Value) (goja.Value, bool) {
	gv, ok := c.toGoja(v)
	if ok {
		return gv, true
	}
	if v.IsException() {
		c.throwError(engine.InternalError, "exception sentinel used as a value")
	} else {
		c.throwError(engine.InternalError, fmt.Sprintf("stale value reference %s (collected)", v))
	}
	return nil, false
}

func (c *jsContext) object(v engine.Value) (*goja.Object, bool) {
	gv, ok := c.operand(v)
	if !ok {
		return nil, false
	}
	o, ok := gv.(*goja.Object)
	if !ok {
		c.throwError(engine.TypeError, "not an object")
		return nil, false
	}
	return o, true
}

func (c *jsContext) newError(kind engine.ErrorKind, message string) goja.Value {
	ctor := c.rt.Get(string(kind))
	if ctor == nil || goja.IsUndefined(ctor) {
		obj, err := c.rt.New(c.rt.Get("Error"), c.rt.ToValue(message))
		if err != nil {
			return c.rt.ToValue(string(kind) + ": " + message)
		}
		_ = obj.Set("name", string(kind))
		return obj
	}
	obj, err := c.rt.New(ctor, c.rt.ToValue(message))
	if err != nil {
		return c.rt.ToValue(string(kind) + ": " + message)
	}
	return obj
}

func (c *jsContext) throwValue(gv goja.Value) engine.Value {
	c.exception = gv
	return engine.Exception
}

func (c *jsContext) throwError(kind engine.ErrorKind, message string) engine.Value {
	return c.throwValue(c.newError(kind, message))
}

func (c *jsContext) throwGoError(err error) engine.Value {
	var (
		ex  *goja.Exception
		syn *goja.CompilerSyntaxError
		ref *goja.CompilerReferenceError
	)
	switch {
	case errors.As(err, &ex):
		return c.throwValue(ex.Value())
	case errors.As(err, &syn):
		return c.throwError(engine.SyntaxError, syn.Error())
	case errors.As(err, &ref):
		return c.throwError(engine.ReferenceError, ref.Message)
	}
	return c.throwError(engine.InternalError, err.Error())
}

func (c *jsContext) takeException() goja.Value {
	ex := c.exception
	c.exception = nil
	if ex == nil {
		return c.newError(engine.InternalError, "exception raised without a pending value")
	}
	return ex
}

// try runs f, turning a thrown script value into a pending exception.
func (c *jsContext) try(f func() goja.Value) (result goja.Value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case *goja.Exception:
				c.exception = x.Value()
			case *goja.InterruptedError:
				c.exception = c.newError(engine.InternalError, x.Error())
			case goja.Value:
				c.exception = x
			default:
				panic(r)
			}
			result, ok = nil, false
		}
	}()
	return f(), true
}

func (c *jsContext) Eval(source, filename string, flags engine.EvalFlags) engine.Value {
	c.check()
	prg, err := goja.Compile(filename, source, flags&engine.EvalStrict != 0)
	if err != nil {
		return c.throwGoError(err)
	}
	res, err := c.rt.RunProgram(prg)
	if err != nil {
		return c.throwGoError(err)
	}
	if flags&engine.EvalRetval == 0 {
		return engine.Undefined
	}
	return c.fromGoja(res)
}

func (c *jsContext) GetException() engine.Value {
	c.check()
	if c.exception == nil {
		return engine.Null
	}
	v := c.fromGoja(c.takeException())
	if v.IsException() {
		// the out-of-memory error raised by fromGoja is dropped with it
		c.exception = nil
	}
	return v
}

func (c *jsContext) Throw(v engine.Value) engine.Value {
	c.check()
	gv, ok := c.operand(v)
	if !ok {
		return engine.Exception
	}
	return c.throwValue(gv)
}

func (c *jsContext) ThrowError(kind engine.ErrorKind, message string) engine.Value {
	c.check()
	return c.throwError(kind, message)
}

func (c *jsContext) ToCString(v engine.Value) (string, bool) {
	c.check()
	gv, ok := c.toGoja(v)
	if !ok {
		return "", false
	}
	var s string
	_, ok = c.try(func() goja.Value {
		s = gv.String()
		return nil
	})
	if !ok {
		// conversion threw; drop it like a failed JS_ToCString
		c.exception = nil
		return "", false
	}
	return s, true
}

func (c *jsContext) NewString(s string) engine.Value {
	c.check()
	return c.fromGoja(c.rt.ToValue(s))
}

func (c *jsContext) NewFloat64(f float64) engine.Value {
	c.check()
	return c.fromGoja(c.rt.ToValue(f))
}

func (c *jsContext) NewInt32(i int32) engine.Value {
	return engine.MakeInt(i)
}

func (c *jsContext) NewUint32(u uint32) engine.Value {
	if u <= math.MaxInt32 {
		return engine.MakeInt(int32(u))
	}
	return c.NewFloat64(float64(u))
}

func (c *jsContext) NewObject() engine.Value {
	c.check()
	return c.fromGoja(c.rt.NewObject())
}

func (c *jsContext) NewArray(length int) engine.Value {
	c.check()
	if length < 0 {
		return c.throwError(engine.RangeError, "invalid array length")
	}
	items := make([]interface{}, length)
	for i := range items {
		items[i] = goja.Undefined()
	}
	return c.fromGoja(c.rt.NewArray(items...))
}

func (c *jsContext) NewCFunction(name string, length int, fn engine.NativeFunc) engine.Value {
	c.check()
	return c.fromGoja(c.nativeFunction(name, length, fn))
}

func (c *jsContext) nativeFunction(name string, length int, fn engine.NativeFunc) *goja.Object {
	f := c.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return c.invokeNative(fn, call)
	}).(*goja.Object)
	_ = f.DefineDataProperty("name", c.rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = f.DefineDataProperty("length", c.rt.ToValue(length), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	return f
}

// invokeNative runs a host function. this and the arguments stay rooted by
// the call frame until the host returns.
func (c *jsContext) invokeNative(fn engine.NativeFunc, call goja.FunctionCall) goja.Value {
	c.frames = append(c.frames, make([]engine.Value, 0, len(call.Arguments)+1))
	defer func() {
		c.frames = c.frames[:len(c.frames)-1]
	}()

	this := c.frameValue(call.This)
	args := make([]engine.Value, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = c.frameValue(a)
	}

	ret := fn(c, this, args)
	if ret.IsException() {
		panic(c.takeException())
	}
	gv, ok := c.toGoja(ret)
	if !ok {
		panic(c.newError(engine.InternalError, fmt.Sprintf("native function returned stale value %s", ret)))
	}
	return gv
}

func (c *jsContext) frameValue(gv goja.Value) engine.Value {
	v := c.fromGoja(gv)
	if v.IsException() {
		panic(c.takeException())
	}
	if v.IsPtr() {
		top := len(c.frames) - 1
		c.frames[top] = append(c.frames[top], v)
	}
	return v
}

func (c *jsContext) GetGlobalObject() engine.Value {
	c.check()
	return c.fromGoja(c.rt.GlobalObject())
}

func (c *jsContext) GetPropertyStr(obj engine.Value, name string) engine.Value {
	c.check()
	gv, ok := c.operand(obj)
	if !ok {
		return engine.Exception
	}
	res, ok := c.try(func() goja.Value {
		return gv.ToObject(c.rt).Get(name)
	})
	if !ok {
		return engine.Exception
	}
	return c.fromGoja(res)
}

func (c *jsContext) OwnKeys(obj engine.Value) ([]string, bool) {
	c.check()
	o, ok := c.object(obj)
	if !ok {
		return nil, false
	}
	var keys []string
	if _, ok := c.try(func() goja.Value {
		keys = o.Keys()
		return nil
	}); !ok {
		return nil, false
	}
	return keys, true
}

func (c *jsContext) SetPropertyStr(obj engine.Value, name string, v engine.Value) engine.Value {
	c.check()
	o, ok := c.object(obj)
	if !ok {
		return engine.Exception
	}
	val, ok := c.operand(v)
	if !ok {
		return engine.Exception
	}
	if err := o.Set(name, val); err != nil {
		return c.throwGoError(err)
	}
	return engine.Undefined
}

func (c *jsContext) GetPropertyUint32(obj engine.Value, index uint32) engine.Value {
	return c.GetPropertyStr(obj, strconv.FormatUint(uint64(index), 10))
}

// SetPropertyUint32 implements engine.Context. Arrays never grow holes: an
// index past the current length is a TypeError, the length itself appends.
func (c *jsContext) SetPropertyUint32(obj engine.Value, index uint32, v engine.Value) engine.Value {
	c.check()
	o, ok := c.object(obj)
	if !ok {
		return engine.Exception
	}
	if o.ClassName() == "Array" {
		if n := o.Get("length").ToInteger(); int64(index) > n {
			return c.throwError(engine.TypeError, fmt.Sprintf("array index %d out of bounds (length %d)", index, n))
		}
	}
	val, ok := c.operand(v)
	if !ok {
		return engine.Exception
	}
	if err := o.Set(strconv.FormatUint(uint64(index), 10), val); err != nil {
		return c.throwGoError(err)
	}
	return engine.Undefined
}

func (c *jsContext) Call(argc int) engine.Value {
	c.check()
	if argc < 0 || len(c.args) < argc+2 {
		panic(fmt.Sprintf("gojaengine: Call(%d) with %d pushed values", argc, len(c.args)))
	}
	thisRaw := c.popArg()
	fnRaw := c.popArg()
	raws := make([]engine.Value, argc)
	for i := range raws {
		raws[i] = c.popArg()
	}

	this, ok := c.operand(thisRaw)
	if !ok {
		return engine.Exception
	}
	fnVal, ok := c.operand(fnRaw)
	if !ok {
		return engine.Exception
	}
	args := make([]goja.Value, argc)
	for i, r := range raws {
		if args[i], ok = c.operand(r); !ok {
			return engine.Exception
		}
	}

	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return c.throwError(engine.TypeError, "not a function")
	}
	res, err := fn(this, args...)
	if err != nil {
		return c.throwGoError(err)
	}
	return c.fromGoja(res)
}

func (c *jsContext) kind(v engine.Value) reflect.Kind {
	gv, ok := c.toGoja(v)
	if !ok {
		return reflect.Invalid
	}
	if _, isObj := gv.(*goja.Object); isObj {
		return reflect.Map
	}
	t := gv.ExportType()
	if t == nil {
		return reflect.Invalid
	}
	return t.Kind()
}

func (c *jsContext) IsString(v engine.Value) bool {
	return c.kind(v) == reflect.String
}

func (c *jsContext) IsNumber(v engine.Value) bool {
	if v.IsInt() {
		return true
	}
	switch c.kind(v) {
	case reflect.Int64, reflect.Float64:
		return true
	}
	return false
}

func (c *jsContext) IsObject(v engine.Value) bool {
	if !v.IsPtr() {
		return false
	}
	gv, ok := c.heap.deref(v)
	if !ok {
		return false
	}
	_, isObj := gv.(*goja.Object)
	return isObj
}

func (c *jsContext) classOf(v engine.Value) string {
	if !v.IsPtr() {
		return ""
	}
	gv, ok := c.heap.deref(v)
	if !ok {
		return ""
	}
	if o, isObj := gv.(*goja.Object); isObj {
		return o.ClassName()
	}
	return ""
}

func (c *jsContext) IsArray(v engine.Value) bool {
	return c.classOf(v) == "Array"
}

func (c *jsContext) IsError(v engine.Value) bool {
	return c.classOf(v) == "Error"
}

func (c *jsContext) IsFunction(v engine.Value) bool {
	if !v.IsPtr() {
		return false
	}
	gv, ok := c.heap.deref(v)
	if !ok {
		return false
	}
	_, isFn := goja.AssertFunction(gv)
	return isFn
}

func (c *jsContext) ToNumber(v engine.Value) (float64, bool) {
	if v.IsInt() {
		return float64(v.Int()), true
	}
	gv, ok := c.toGoja(v)
	if !ok {
		return 0, false
	}
	var f float64
	if _, ok := c.try(func() goja.Value {
		f = gv.ToFloat()
		return nil
	}); !ok {
		c.exception = nil
		return 0, false
	}
	return f, true
}

func (c *jsContext) ToInt32(v engine.Value) (int32, bool) {
	if v.IsInt() {
		return v.Int(), true
	}
	f, ok := c.ToNumber(v)
	if !ok {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true
	}
	return int32(uint32(int64(math.Trunc(math.Mod(f, 1<<32))))), true
}

func (c *jsContext) ToBool(v engine.Value) bool {
	gv, ok := c.toGoja(v)
	if !ok {
		return false
	}
	return gv.ToBoolean()
}
