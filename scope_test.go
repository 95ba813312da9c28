package mquickjs_test

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buke/mquickjs-go"
)

func TestScopeNesting(t *testing.T) {
	a := newTestContext(t)
	b := newTestContext(t)

	_, ok := mquickjs.CurrentToken()
	require.False(t, ok)

	sa := a.Token().Enter()
	tok, ok := mquickjs.CurrentToken()
	require.True(t, ok)
	require.Equal(t, a.ID(), tok.ContextID())

	// re-entering the same context and entering another one both nest
	sa2 := a.Token().Enter()
	sb := b.Token().Enter()
	tok, _ = mquickjs.CurrentToken()
	require.Equal(t, b.ID(), tok.ContextID())
	require.NotEqual(t, a.ID(), b.ID())

	sb.Close()
	sa2.Close()
	tok, _ = mquickjs.CurrentToken()
	require.Equal(t, a.ID(), tok.ContextID())
	sa.Close()

	_, ok = mquickjs.CurrentToken()
	require.False(t, ok)
}

func TestScopeCloseOutOfOrder(t *testing.T) {
	ctx := newTestContext(t)

	outer := ctx.Token().Enter()
	inner := ctx.Token().Enter()
	requireViolation(t, mquickjs.RuleScopeOrder, outer.Close)

	inner.Close()
	outer.Close()
	// closing twice is a no-op
	outer.Close()
}

func TestScopeCloseOnOtherGoroutine(t *testing.T) {
	ctx := newTestContext(t)
	s := ctx.Token().Enter()

	done := make(chan any)
	go func() {
		defer func() { done <- recover() }()
		s.Close()
	}()
	v, ok := (<-done).(*mquickjs.Violation)
	require.True(t, ok)
	require.Equal(t, mquickjs.RuleScopeGoroutine, v.Rule)

	s.Close()
}

func TestScopeUseOnOtherGoroutine(t *testing.T) {
	ctx := newTestContext(t)
	s := ctx.Token().Enter()
	defer s.Close()

	done := make(chan any)
	go func() {
		defer func() { done <- recover() }()
		s.NewInt32(1)
	}()
	v, ok := (<-done).(*mquickjs.Violation)
	require.True(t, ok, "use from another goroutine must be rejected")
	require.Equal(t, mquickjs.RuleScopeGoroutine, v.Rule)

	_, ok = mquickjs.CurrentToken()
	require.True(t, ok)
}

func TestScopeManyGoroutines(t *testing.T) {
	const n = 50

	type result struct {
		err       any
		sameToken bool
	}
	results := make([]result, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { results[i].err = recover() }()

			ctx, err := mquickjs.NewContext(testArenaSize, mquickjs.WithStdlib(nil))
			if err != nil {
				results[i].err = err
				return
			}
			defer ctx.Close()

			s := ctx.Token().Enter()
			runtime.Gosched()
			s.NewInt32(int32(i))
			tok, ok := mquickjs.CurrentToken()
			results[i].sameToken = ok && tok.ContextID() == ctx.ID()
			runtime.Gosched()
			s.Close()
		}()
	}
	wg.Wait()

	for i, r := range results {
		require.Nil(t, r.err, "goroutine %d", i)
		require.True(t, r.sameToken, "goroutine %d saw another goroutine's scope", i)
	}
	_, ok := mquickjs.CurrentToken()
	require.False(t, ok)
}

func TestScopeUseAfterClose(t *testing.T) {
	ctx := newTestContext(t)
	s := ctx.Token().Enter()
	s.Close()

	requireViolation(t, mquickjs.RuleHandleOutsideScope, func() { s.NewInt32(1) })
	requireViolation(t, mquickjs.RuleHandleOutsideScope, func() { mquickjs.NewHandleScope(s) })
}

func TestScopeCloseWithOpenHandleScope(t *testing.T) {
	ctx := newTestContext(t)
	s := ctx.Token().Enter()
	hs := mquickjs.NewHandleScope(s)

	requireViolation(t, mquickjs.RuleScopeOrder, s.Close)

	hs.Close()
	s.Close()
}

func TestScopeValues(t *testing.T) {
	ctx := newTestContext(t)
	s := ctx.Token().Enter()
	defer s.Close()

	str, err := s.NewString("text")
	require.NoError(t, err)
	require.True(t, str.IsString(s))
	require.EqualValues(t, "text", mustString(t, s, str))

	f, err := s.NewFloat64(2.5)
	require.NoError(t, err)
	n, err := s.ToNumber(f)
	require.NoError(t, err)
	require.EqualValues(t, 2.5, n)

	u, err := s.NewUint32(1 << 31)
	require.NoError(t, err)
	n, err = s.ToNumber(u)
	require.NoError(t, err)
	require.EqualValues(t, float64(1<<31), n)

	require.True(t, s.NewInt32(-3).IsNumber(s))
	require.True(t, s.NewBool(true).IsBool())
	require.True(t, s.ToBool(s.NewBool(true)))
	require.True(t, s.Undefined().IsUndefined())
	require.True(t, s.Null().IsNull())
	require.EqualValues(t, s.ContextID(), str.ContextID())

	v, err := s.Eval("[1, 2, 3]")
	require.NoError(t, err)
	require.True(t, v.IsArray(s))
	require.True(t, v.IsObject(s))

	_, err = s.Eval("throw new RangeError('x')")
	require.EqualError(t, err, "RangeError: x")
}
