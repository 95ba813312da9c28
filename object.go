package mquickjs

// GetProperty reads obj[name]. The result is not rooted.
func GetProperty[T ObjectKind](s *Scope, obj Local[T], name string) (Local[Value], error) {
	ec := s.checkLocal("GetProperty", obj.id)
	return s.checked(ec.GetPropertyStr(obj.raw, name))
}

// SetProperty assigns obj[name] = v.
func SetProperty[T ObjectKind, V Kind](s *Scope, obj Local[T], name string, v Local[V]) error {
	ec := s.checkLocal("SetProperty", obj.id)
	checkSameContext(s.logger(), "SetProperty(value)", s.id, v.id)
	if ec.SetPropertyStr(obj.raw, name, v.raw).IsException() {
		return s.takeException()
	}
	return nil
}

// PropertyNames returns the own enumerable property names of obj.
func PropertyNames[T ObjectKind](s *Scope, obj Local[T]) ([]string, error) {
	ec := s.checkLocal("PropertyNames", obj.id)
	keys, ok := ec.OwnKeys(obj.raw)
	if !ok {
		return nil, s.takeException()
	}
	return keys, nil
}
