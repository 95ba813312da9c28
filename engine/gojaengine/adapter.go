/*
Package gojaengine is an engine.Adapter backed by github.com/dop251/goja.

Values handed to the host live in a slot heap laid out over the caller's
arena. The collector frees every slot that is not reachable from the stack
roots, the independent roots, the pushed call arguments or an active native
call frame, so a host that keeps a raw value without rooting it gets a stale
reference, exactly as with a moving or freeing collector.
*/
package gojaengine

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/buke/mquickjs-go/engine"
)

const (
	defaultArgStackDepth    = 1024
	defaultMaxCallStackSize = 4096
)

// Adapter creates goja-backed contexts.
type Adapter struct {
	maxCallStackSize int
	argStackDepth    int
	logger           *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMaxCallStackSize limits script recursion depth.
func WithMaxCallStackSize(n int) Option {
	return func(a *Adapter) {
		a.maxCallStackSize = n
	}
}

// WithArgStackDepth limits how many values may be pushed with PushArg.
func WithArgStackDepth(n int) Option {
	return func(a *Adapter) {
		a.argStackDepth = n
	}
}

// WithLogger sets the logger used for collection and lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// New creates an Adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		maxCallStackSize: defaultMaxCallStackSize,
		argStackDepth:    defaultArgStackDepth,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// NewContext implements engine.Adapter.
func (a *Adapter) NewContext(arena []byte, stdlib *engine.Stdlib) (engine.Context, error) {
	h, err := newHeap(arena)
	if err != nil {
		return nil, err
	}

	rt := goja.New()
	if a.maxCallStackSize > 0 {
		rt.SetMaxCallStackSize(a.maxCallStackSize)
	}

	c := &jsContext{
		adapter: a,
		rt:      rt,
		heap:    h,
		globals: make(map[*engine.GCRef]struct{}),
		logger:  a.logger,
	}

	if stdlib != nil {
		for _, fn := range stdlib.Functions {
			if err := c.installStdlib(fn); err != nil {
				h.release()
				return nil, err
			}
		}
	}

	c.logger.Debug("context created",
		zap.Int("arena", len(arena)),
		zap.Int("slots", h.slots()))
	return c, nil
}

// jsContext implements engine.Context. It is not safe for concurrent use.
type jsContext struct {
	adapter *Adapter
	rt      *goja.Runtime
	heap    *heap

	stackTop   *engine.GCRef
	stackDepth int
	globals    map[*engine.GCRef]struct{}
	args       []engine.Value
	frames     [][]engine.Value

	exception goja.Value

	userData  any
	finalizer engine.Finalizer
	freed     bool

	logger *zap.Logger
}

func (c *jsContext) check() {
	if c.freed {
		panic("gojaengine: use of freed context")
	}
}

func (c *jsContext) installStdlib(fn engine.StdlibFunction) error {
	path := strings.Split(fn.Name, ".")
	target := c.rt.GlobalObject()
	for _, name := range path[:len(path)-1] {
		next, ok := target.Get(name).(*goja.Object)
		if !ok {
			next = c.rt.NewObject()
			if err := target.Set(name, next); err != nil {
				return fmt.Errorf("gojaengine: install %s: %w", fn.Name, err)
			}
		}
		target = next
	}
	f := c.nativeFunction(path[len(path)-1], fn.Length, fn.Fn)
	if err := target.Set(path[len(path)-1], f); err != nil {
		return fmt.Errorf("gojaengine: install %s: %w", fn.Name, err)
	}
	return nil
}

// Free implements engine.Context.
func (c *jsContext) Free() {
	if c.freed {
		return
	}
	if fin := c.finalizer; fin != nil {
		c.finalizer = nil
		fin(c.userData)
	}
	c.userData = nil

	c.logger.Debug("context freed",
		zap.Int("live", c.heap.live),
		zap.Int("collections", c.heap.collections))

	c.heap.release()
	c.stackTop = nil
	c.globals = nil
	c.args = nil
	c.frames = nil
	c.exception = nil
	c.rt = nil
	c.freed = true
}

func (c *jsContext) SetUserData(p any, fin engine.Finalizer) {
	c.check()
	c.userData = p
	c.finalizer = fin
}

func (c *jsContext) UserData() any {
	if c.freed {
		return nil
	}
	return c.userData
}

// GC implements engine.Context.
func (c *jsContext) GC() {
	c.check()
	c.collect()
}

func (c *jsContext) collect() {
	h := c.heap
	for r := c.stackTop; r != nil; r = r.Prev {
		h.mark(r.Val)
	}
	for r := range c.globals {
		h.mark(r.Val)
	}
	for _, v := range c.args {
		h.mark(v)
	}
	for _, f := range c.frames {
		for _, v := range f {
			h.mark(v)
		}
	}
	freed := h.sweep()
	c.logger.Debug("collection",
		zap.Int("freed", freed),
		zap.Int("live", h.live),
		zap.Int("stackRoots", c.stackDepth),
		zap.Int("globalRoots", len(c.globals)))
}

func (c *jsContext) Stats() engine.Stats {
	c.check()
	return engine.Stats{
		ArenaSize:   len(c.heap.arena),
		Slots:       c.heap.slots(),
		Live:        c.heap.live,
		StackRoots:  c.stackDepth,
		GlobalRoots: len(c.globals),
		Collections: c.heap.collections,
		Freed:       c.heap.freed,
	}
}

// PushGCRef implements engine.Context.
func (c *jsContext) PushGCRef(ref *engine.GCRef) *engine.Value {
	c.check()
	ref.Val = engine.Undefined
	ref.Prev = c.stackTop
	c.stackTop = ref
	c.stackDepth++
	return &ref.Val
}

// PopGCRef implements engine.Context. Roots must be popped in LIFO order.
func (c *jsContext) PopGCRef(ref *engine.GCRef) engine.Value {
	c.check()
	if c.stackTop != ref {
		panic(fmt.Sprintf("gojaengine: PopGCRef out of order: %p is not the top of the root stack", ref))
	}
	c.stackTop = ref.Prev
	c.stackDepth--
	ref.Prev = nil
	return ref.Val
}

func (c *jsContext) AddGCRef(ref *engine.GCRef) *engine.Value {
	c.check()
	ref.Val = engine.Undefined
	c.globals[ref] = struct{}{}
	return &ref.Val
}

func (c *jsContext) DeleteGCRef(ref *engine.GCRef) {
	c.check()
	if _, ok := c.globals[ref]; !ok {
		panic(fmt.Sprintf("gojaengine: DeleteGCRef of unregistered root %p", ref))
	}
	delete(c.globals, ref)
	ref.Val = engine.Undefined
}

func (c *jsContext) StackCheck(n int) bool {
	return len(c.args)+n <= c.adapter.argStackDepth
}

func (c *jsContext) PushArg(v engine.Value) {
	c.check()
	if !c.StackCheck(1) {
		panic("gojaengine: argument stack overflow")
	}
	c.args = append(c.args, v)
}

func (c *jsContext) popArg() engine.Value {
	if len(c.args) == 0 {
		panic("gojaengine: argument stack underflow")
	}
	v := c.args[len(c.args)-1]
	c.args = c.args[:len(c.args)-1]
	return v
}
