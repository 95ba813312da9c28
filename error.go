package mquickjs

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrNotObject   = errors.New("value is not an object")
	ErrNotArray    = errors.New("value is not an array")
	ErrNotFunction = errors.New("value is not a function")
	ErrNotString   = errors.New("value is not a string")
	ErrNotNumber   = errors.New("value is not a number")
	ErrNotBool     = errors.New("value is not a bool")

	// ErrUserDataSet is returned when per-context user data is set twice.
	ErrUserDataSet = errors.New("context user data already set")
	// ErrContextClosed is returned by operations on a closed Context.
	ErrContextClosed = errors.New("context is closed")

	ErrInvalidArenaSize = errors.New("invalid arena size")
	ErrCreateContext    = errors.New("failed to create context")
)

// Error represents a script exception.
type Error struct {
	Name    string // Error name (e.g., "TypeError", "ReferenceError")
	Message string // Error message
	Stack   string // Stack trace
}

// Error implements the error interface.
func (err *Error) Error() string {
	if err.Name == "" {
		return err.Message
	}
	return fmt.Sprintf("%s: %s", err.Name, err.Message)
}

// Rules reported by Violation.
const (
	RuleCrossContext          = "cross-context"
	RuleScopeOrder            = "scope-order"
	RuleScopeGoroutine        = "scope-goroutine"
	RuleGlobalOutlivesContext = "global-outlives-context"
	RuleScopeOutlivesContext  = "scope-outlives-context"
	RuleHandleOutsideScope    = "handle-outside-scope"
	RuleEscape                = "escape"
	RuleContextActive         = "context-active"
)

// Violation is the panic value raised when the rooting discipline is broken.
// It is never returned as an error: the process state can no longer be
// trusted once one is raised.
type Violation struct {
	Rule   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("mquickjs: %s violation: %s", v.Rule, v.Detail)
}

func violate(l *zap.Logger, rule, format string, args ...any) {
	v := &Violation{Rule: rule, Detail: fmt.Sprintf(format, args...)}
	l.Error("rooting discipline violated", zap.String("rule", rule), zap.String("detail", v.Detail))
	panic(v)
}

func checkSameContext(l *zap.Logger, what string, want, got ContextId) {
	if want != got {
		violate(l, RuleCrossContext, "%s: context %s used with context %s", what, got, want)
	}
}
