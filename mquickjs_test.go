package mquickjs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buke/mquickjs-go"
)

const testArenaSize = 256 * 1024

func newTestContext(t *testing.T, opts ...mquickjs.ContextOption) *mquickjs.Context {
	t.Helper()
	opts = append([]mquickjs.ContextOption{mquickjs.WithStdlib(nil)}, opts...)
	ctx, err := mquickjs.NewContext(testArenaSize, opts...)
	require.NoError(t, err)
	t.Cleanup(ctx.Close)
	return ctx
}

// requireViolation runs f and checks that it panics with a Violation of rule.
func requireViolation(t *testing.T, rule string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		v, ok := r.(*mquickjs.Violation)
		require.True(t, ok, "expected *mquickjs.Violation panic, got %v", r)
		require.Equal(t, rule, v.Rule, v.Detail)
	}()
	f()
}

// recoverViolation runs f and returns the Violation it panicked with, or nil.
func recoverViolation(f func()) (v *mquickjs.Violation) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if v, ok = r.(*mquickjs.Violation); !ok {
				panic(r)
			}
		}
	}()
	f()
	return nil
}

func mustString(t *testing.T, s *mquickjs.Scope, v mquickjs.Local[mquickjs.Value]) string {
	t.Helper()
	str, err := s.ToString(v)
	require.NoError(t, err)
	return str
}
