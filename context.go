package mquickjs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/buke/mquickjs-go/engine"
	"github.com/buke/mquickjs-go/engine/gojaengine"
)

// DefaultArenaSize is the arena size used by most callers.
const DefaultArenaSize = 1024 * 1024

// ContextId identifies the ContextInner a value belongs to.
type ContextId uintptr

func (id ContextId) String() string {
	return fmt.Sprintf("ctx#%x", uintptr(id))
}

// ContextInner is the reference-counted block shared by a Context, the
// engine's user-data slot and every live Global. It outlives the Context when
// Globals are still around, but is marked dead as soon as the Context closes.
type ContextInner struct {
	refs  atomic.Int32
	alive atomic.Bool

	mu       sync.Mutex
	userData any
	drop     func(any)
	userSet  bool

	// innermost open HandleScope; only touched by the goroutine driving the
	// context
	hsTop *HandleScope

	logger *zap.Logger
}

func newContextInner(l *zap.Logger) *ContextInner {
	in := &ContextInner{logger: l}
	in.refs.Store(1)
	in.alive.Store(true)
	return in
}

// ID returns the identity shared by all values of this context.
func (in *ContextInner) ID() ContextId {
	return ContextId(uintptr(unsafe.Pointer(in)))
}

// Alive reports whether the owning Context is still open.
func (in *ContextInner) Alive() bool {
	return in.alive.Load()
}

// UserData returns the value stored with Context.SetUserData.
func (in *ContextInner) UserData() any {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.userData
}

func (in *ContextInner) setUserData(v any, drop func(any)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.userSet {
		return ErrUserDataSet
	}
	in.userData = v
	in.drop = drop
	in.userSet = true
	return nil
}

func (in *ContextInner) acquire() *ContextInner {
	in.refs.Add(1)
	return in
}

func (in *ContextInner) release() {
	n := in.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("mquickjs: ContextInner released too many times")
	}
	in.mu.Lock()
	v, drop := in.userData, in.drop
	in.userData, in.drop = nil, nil
	in.mu.Unlock()
	if drop != nil {
		in.logger.Debug("dropping context user data", zap.Stringer("context", in.ID()))
		drop(v)
	}
}

// releaseInner is the engine-side teardown callback.
func releaseInner(p any) {
	if in, ok := p.(*ContextInner); ok {
		in.release()
	}
}

// ContextOption configures NewContext.
type ContextOption func(*contextOptions)

type contextOptions struct {
	adapter   engine.Adapter
	stdlib    *engine.Stdlib
	stdlibSet bool
	stdout    io.Writer
	stderr    io.Writer
	logger    *zap.Logger
}

// WithAdapter selects the engine adapter. The default is gojaengine.
func WithAdapter(a engine.Adapter) ContextOption {
	return func(o *contextOptions) {
		o.adapter = a
	}
}

// WithStdlib replaces the host globals installed at creation. Passing nil
// installs none.
func WithStdlib(s *engine.Stdlib) ContextOption {
	return func(o *contextOptions) {
		o.stdlib = s
		o.stdlibSet = true
	}
}

// WithConsole redirects console.log and console.error.
func WithConsole(stdout, stderr io.Writer) ContextOption {
	return func(o *contextOptions) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithLogger sets the logger for this context and its default adapter.
func WithLogger(l *zap.Logger) ContextOption {
	return func(o *contextOptions) {
		o.logger = l
	}
}

// Context is one isolated engine instance together with the arena backing
// its heap.
type Context struct {
	arena  []byte
	ec     engine.Context
	inner  *ContextInner
	logger *zap.Logger
	closed bool
}

// NewContext allocates an arena of arenaSize bytes and creates an engine
// context over it.
func NewContext(arenaSize int, opts ...ContextOption) (*Context, error) {
	o := contextOptions{
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: Logger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if arenaSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidArenaSize, arenaSize)
	}
	if o.adapter == nil {
		o.adapter = gojaengine.New(gojaengine.WithLogger(o.logger))
	}
	stdlib := o.stdlib
	if !o.stdlibSet {
		stdlib = ConsoleStdlib(o.stdout, o.stderr)
	}

	arena := make([]byte, arenaSize)
	ec, err := o.adapter.NewContext(arena, stdlib)
	if err != nil {
		if errors.Is(err, engine.ErrArenaTooSmall) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArenaSize, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCreateContext, err)
	}

	inner := newContextInner(o.logger)
	// the engine holds one reference, dropped by its teardown callback
	ec.SetUserData(inner.acquire(), releaseInner)

	ctx := &Context{
		arena:  arena,
		ec:     ec,
		inner:  inner,
		logger: o.logger,
	}
	o.logger.Debug("context created",
		zap.Stringer("context", inner.ID()),
		zap.Int("arena", arenaSize))
	return ctx, nil
}

// ID returns the context identity.
func (ctx *Context) ID() ContextId {
	return ctx.inner.ID()
}

// Token returns the token used to activate this context.
func (ctx *Context) Token() ContextToken {
	return ContextToken{ec: ctx.ec, inner: ctx.inner}
}

// Inner returns the shared extension block.
func (ctx *Context) Inner() *ContextInner {
	return ctx.inner
}

// SetUserData stores application state for this context. drop, if not nil,
// runs once when the last reference to the context's extension block is
// released. It can be set only once.
func (ctx *Context) SetUserData(v any, drop func(any)) error {
	if ctx.closed {
		return ErrContextClosed
	}
	return ctx.inner.setUserData(v, drop)
}

// UserData returns the value stored with SetUserData.
func (ctx *Context) UserData() any {
	return ctx.inner.UserData()
}

// Eval evaluates code and returns its completion value converted to a
// string. It activates the context itself.
func (ctx *Context) Eval(code string, opts ...EvalOption) (string, error) {
	if ctx.closed {
		return "", ErrContextClosed
	}
	s := ctx.Token().Enter()
	defer s.Close()
	return s.evalString(code, opts...)
}

// RegisterFunction installs fn as a global function.
func (ctx *Context) RegisterFunction(name string, fn NativeFunc) error {
	if ctx.closed {
		return ErrContextClosed
	}
	s := ctx.Token().Enter()
	defer s.Close()

	hs := NewHandleScope(s)
	defer hs.Close()

	f, err := s.NewFunction(name, 0, fn)
	if err != nil {
		return err
	}
	fh := Pin(hs, f)
	global, err := s.Global()
	if err != nil {
		return err
	}
	return SetProperty(s, global, name, fh.Local())
}

// RunGC forces a full collection.
func (ctx *Context) RunGC() {
	if ctx.closed {
		return
	}
	ctx.ec.GC()
}

// Stats returns a snapshot of the context heap.
func (ctx *Context) Stats() engine.Stats {
	if ctx.closed {
		return engine.Stats{}
	}
	return ctx.ec.Stats()
}

// Close frees the engine context and then the arena. Globals of this
// context must be closed before. Closing a context while one of its Scopes
// is active on the calling goroutine panics.
func (ctx *Context) Close() {
	if ctx.closed {
		return
	}
	id := ctx.inner.ID()
	if scopeActive(id) {
		violate(ctx.logger, RuleContextActive, "context %s closed while one of its scopes is active", id)
	}

	ctx.closed = true
	ctx.inner.alive.Store(false)
	stats := ctx.ec.Stats()
	ctx.ec.Free()
	ctx.ec = nil
	ctx.arena = nil
	ctx.inner.release()

	ctx.logger.Debug("context closed",
		zap.Stringer("context", id),
		zap.Int("globalRoots", stats.GlobalRoots),
		zap.Int("collections", stats.Collections))
}

// EvalOptions configures an evaluation.
type EvalOptions struct {
	filename string
	strict   bool
}

type EvalOption func(*EvalOptions)

func EvalFileName(filename string) EvalOption {
	return func(o *EvalOptions) {
		o.filename = filename
	}
}

func EvalFlagStrict(strict bool) EvalOption {
	return func(o *EvalOptions) {
		o.strict = strict
	}
}

func evalFlags(opts []EvalOption) (string, engine.EvalFlags) {
	o := EvalOptions{filename: "eval.js"}
	for _, fn := range opts {
		fn(&o)
	}
	flags := engine.EvalRetval
	if o.strict {
		flags |= engine.EvalStrict
	}
	return o.filename, flags
}
