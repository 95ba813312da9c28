/*
Package mquickjs is a rooting discipline for sharing values between Go and an
embedded, tracing-garbage-collected script engine.

A Context owns a fixed arena and one engine context laid out over it. Code
that touches engine values first activates the context with a Scope, then
roots whatever it needs to keep across allocations in a HandleScope (values
die with the scope) or a Global (values live until the Global is closed).
Local values are plain views that are only valid while something else keeps
them rooted.

	ctx, err := mquickjs.NewContext(mquickjs.DefaultArenaSize)
	if err != nil {
		return err
	}
	defer ctx.Close()

	s := ctx.Token().Enter()
	defer s.Close()

	hs := mquickjs.NewHandleScope(s)
	defer hs.Close()
	str, err := s.NewString("pinned")
	if err != nil {
		return err
	}
	h := mquickjs.Pin(hs, str)

Misuse of the discipline (mixing values of two contexts, closing scopes out
of order, closing a Global after its Context) panics with a *Violation.
*/
package mquickjs
