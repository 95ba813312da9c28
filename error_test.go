package mquickjs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buke/mquickjs-go"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		err  *mquickjs.Error
		want string
	}{
		{&mquickjs.Error{Name: "TypeError", Message: "x is not a function"}, "TypeError: x is not a function"},
		{&mquickjs.Error{Message: "thrown string"}, "thrown string"},
		{&mquickjs.Error{Name: "Error", Message: ""}, "Error: "},
	}
	for _, tc := range tests {
		require.EqualError(t, tc.err, tc.want)
	}
}

func TestViolationFormat(t *testing.T) {
	v := &mquickjs.Violation{Rule: mquickjs.RuleEscape, Detail: "second escape"}
	require.EqualError(t, v, "mquickjs: escape violation: second escape")
}

func TestContextIdString(t *testing.T) {
	ctx := newTestContext(t)
	require.Regexp(t, `^ctx#[0-9a-f]+$`, ctx.ID().String())
	require.NotZero(t, ctx.ID())
}
