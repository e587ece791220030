package function

// Registrar registers methods on one type namespace with a fluent API:
//
//	function.ForType[Player](reg).
//		Method("heal", heal, function.Args("self", "amount")).
//		Method("name", name).
//		Err()
//
// The first registration error sticks and later calls are skipped.
type Registrar struct {
	reg *Registry
	err error
	ns  Namespace
}

// ForType starts registering methods of T.
func ForType[T any](reg *Registry) *Registrar {
	return &Registrar{reg: reg, ns: NamespaceOf[T]()}
}

// Globals starts registering free functions.
func Globals(reg *Registry) *Registrar {
	return &Registrar{reg: reg, ns: Global}
}

// Method registers fn as name in the registrar's namespace.
func (r *Registrar) Method(name string, fn any, opts ...Option) *Registrar {
	if r.err == nil {
		r.err = r.reg.Register(r.ns, name, fn, opts...)
	}
	return r
}

// Namespace returns the namespace being registered.
func (r *Registrar) Namespace() Namespace { return r.ns }

// Err returns the first registration error.
func (r *Registrar) Err() error { return r.err }
