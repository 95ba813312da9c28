package mquickjs

// Call invokes f with this and args. The result is not rooted.
func Call[T Kind](s *Scope, f Local[Function], this Local[T], args ...Local[Value]) (Local[Value], error) {
	ec := s.checkLocal("Call", f.id)
	l := s.logger()
	checkSameContext(l, "Call(this)", s.id, this.id)
	for _, a := range args {
		checkSameContext(l, "Call(arg)", s.id, a.id)
	}
	if !ec.StackCheck(len(args) + 2) {
		return Local[Value]{}, &Error{Name: "RangeError", Message: "stack overflow"}
	}

	for i := len(args) - 1; i >= 0; i-- {
		ec.PushArg(args[i].raw)
	}
	ec.PushArg(f.raw)
	ec.PushArg(this.raw)
	return s.checked(ec.Call(len(args)))
}
