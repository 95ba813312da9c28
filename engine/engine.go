/*
Package engine defines the low-level contract between the handle layer and an
embedded, tracing-garbage-collected script engine.

Everything here is unchecked: raw values are plain words, root-list nodes are
linked and unlinked by the caller, and nothing verifies which context a value
came from. The root package layers the checked discipline on top.
*/
package engine

import "errors"

var (
	// ErrArenaTooSmall is returned when the supplied arena cannot hold a context.
	ErrArenaTooSmall = errors.New("engine: arena too small")
	// ErrOutOfMemory is returned when the heap cannot be laid out over the arena.
	ErrOutOfMemory = errors.New("engine: out of memory")
)

// GCRef is a root-list node. While linked, the collector treats Val as
// reachable. Prev is owned by the adapter.
type GCRef struct {
	Val  Value
	Prev *GCRef
}

// Finalizer is the per-context teardown callback registered with SetUserData.
type Finalizer func(userData any)

// NativeFunc is a host function callable from scripts. Returning Exception
// (after Throw/ThrowError) raises the pending exception in the caller.
type NativeFunc func(ctx Context, this Value, args []Value) Value

// EvalFlags controls Eval.
type EvalFlags uint32

const (
	// EvalRetval makes Eval return the completion value of the script.
	EvalRetval EvalFlags = 1 << iota
	// EvalStrict evaluates in strict mode.
	EvalStrict
)

// ErrorKind selects the constructor used by ThrowError.
type ErrorKind string

const (
	PlainError     ErrorKind = "Error"
	TypeError      ErrorKind = "TypeError"
	RangeError     ErrorKind = "RangeError"
	ReferenceError ErrorKind = "ReferenceError"
	SyntaxError    ErrorKind = "SyntaxError"
	InternalError  ErrorKind = "InternalError"
)

// StdlibFunction is one global function installed at context creation.
// Name may be dotted ("console.log") to place it on a namespace object.
type StdlibFunction struct {
	Name   string
	Length int
	Fn     NativeFunc
}

// Stdlib is the table of host globals installed into every new context.
type Stdlib struct {
	Functions []StdlibFunction
}

// Stats is a snapshot of a context heap.
type Stats struct {
	ArenaSize   int
	Slots       int
	Live        int
	StackRoots  int
	GlobalRoots int
	Collections int
	Freed       int
}

// Adapter creates engine contexts.
type Adapter interface {
	// NewContext lays a context out over arena. The arena must outlive the
	// returned Context and must not be touched by the caller until Free.
	NewContext(arena []byte, stdlib *Stdlib) (Context, error)
}

// Context is one engine context. Implementations are single-threaded.
type Context interface {
	// Free runs the user-data finalizer and then releases engine state.
	Free()

	SetUserData(p any, fin Finalizer)
	UserData() any

	Eval(source, filename string, flags EvalFlags) Value
	GetException() Value
	Throw(v Value) Value
	ThrowError(kind ErrorKind, message string) Value
	ToCString(v Value) (string, bool)

	// GC runs a full collection.
	GC()
	Stats() Stats

	// PushGCRef links ref on top of the stack-root list and returns its slot.
	// PopGCRef must be called in LIFO order.
	PushGCRef(ref *GCRef) *Value
	PopGCRef(ref *GCRef) Value
	// AddGCRef and DeleteGCRef manage independent roots in any order.
	AddGCRef(ref *GCRef) *Value
	DeleteGCRef(ref *GCRef)

	NewString(s string) Value
	NewFloat64(f float64) Value
	NewInt32(i int32) Value
	NewUint32(u uint32) Value
	NewObject() Value
	NewArray(length int) Value
	NewCFunction(name string, length int, fn NativeFunc) Value
	GetGlobalObject() Value

	GetPropertyStr(obj Value, name string) Value
	SetPropertyStr(obj Value, name string, v Value) Value
	GetPropertyUint32(obj Value, index uint32) Value
	SetPropertyUint32(obj Value, index uint32, v Value) Value
	// OwnKeys lists the own enumerable string keys of obj. On failure it
	// returns false with an exception pending.
	OwnKeys(obj Value) ([]string, bool)

	// StackCheck reports whether n more values can be pushed with PushArg.
	StackCheck(n int) bool
	PushArg(v Value)
	// Call pops this, the function and argc arguments pushed with PushArg.
	Call(argc int) Value

	IsString(v Value) bool
	IsNumber(v Value) bool
	IsObject(v Value) bool
	IsArray(v Value) bool
	IsFunction(v Value) bool
	IsError(v Value) bool

	ToNumber(v Value) (float64, bool)
	ToInt32(v Value) (int32, bool)
	ToBool(v Value) bool
}
