package cluster

import (
	"sort"
	"strings"

	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/vm"
)

// CallableKind discriminates callable descriptors.
type CallableKind int

const (
	KindFunction CallableKind = iota
	KindConstructor
	KindMethod
	KindFieldRead
	KindFieldWrite
)

func (k CallableKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindConstructor:
		return "constructor"
	case KindMethod:
		return "method"
	case KindFieldRead:
		return "field-read"
	default:
		return "field-write"
	}
}

// Param is one formal parameter with its inferred type.
type Param struct {
	Name string
	Type *Type
}

// Callable describes one invokable member of the target module. It is
// immutable after cluster construction.
type Callable struct {
	Name       string // qualified, e.g. "queue.Queue.enqueue"
	Kind       CallableKind
	Owner      string // owning class for methods and fields
	Params     []Param
	Ret        *Type
	Public     bool
	Field      string // field name for field-read/field-write
	ModuleName string
}

// Cluster is the lookup service the test factory builds tests from.
type Cluster struct {
	Module    *vm.Module
	callables []*Callable
	classes   map[string]*vm.Class
}

// Build enumerates the callables of a loaded module, pairing the
// runtime namespace with the parsed declarations for annotations.
// include/exclude filter by qualified-name substring; an empty include
// list admits everything public.
func Build(ast *lang.Module, module *vm.Module, include, exclude []string) *Cluster {
	c := &Cluster{Module: module, classes: make(map[string]*vm.Class)}

	admitted := func(name string, public bool) bool {
		if !public {
			return false
		}
		for _, ex := range exclude {
			if ex != "" && strings.Contains(name, ex) {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, in := range include {
			if strings.Contains(name, in) {
				return true
			}
		}
		return false
	}

	for _, decl := range ast.Decls {
		switch d := decl.(type) {
		case *lang.FnDecl:
			name := module.Name + "." + d.Name
			if !admitted(name, isPublic(d.Name)) {
				continue
			}
			c.callables = append(c.callables, &Callable{
				Name:       name,
				Kind:       KindFunction,
				Params:     paramsOf(d, false),
				Ret:        FromAnnotation(d.Ret),
				Public:     true,
				ModuleName: module.Name,
			})
		case *lang.ClassDecl:
			c.addClass(module, d, admitted)
		}
	}
	sort.Slice(c.callables, func(i, j int) bool { return c.callables[i].Name < c.callables[j].Name })
	return c
}

func (c *Cluster) addClass(module *vm.Module, d *lang.ClassDecl, admitted func(string, bool) bool) {
	className := module.Name + "." + d.Name
	if v, ok := module.Lookup(d.Name); ok {
		if cls, ok := v.(*vm.Class); ok {
			c.classes[d.Name] = cls
		}
	}
	classType := ClassType(d.Name)
	var init *lang.FnDecl
	for _, m := range d.Methods {
		if m.Name == "init" {
			init = m
			break
		}
	}
	if admitted(className, isPublic(d.Name)) {
		ctor := &Callable{
			Name:       className,
			Kind:       KindConstructor,
			Owner:      d.Name,
			Ret:        classType,
			Public:     true,
			ModuleName: module.Name,
		}
		if init != nil {
			ctor.Params = paramsOf(init, true)
		}
		c.callables = append(c.callables, ctor)
	}
	for _, m := range d.Methods {
		if m.Name == "init" {
			continue
		}
		name := className + "." + m.Name
		if !admitted(name, isPublic(m.Name)) {
			continue
		}
		params := append([]Param{{Name: "self", Type: classType}}, paramsOf(m, true)...)
		c.callables = append(c.callables, &Callable{
			Name:       name,
			Kind:       KindMethod,
			Owner:      d.Name,
			Params:     params,
			Ret:        FromAnnotation(m.Ret),
			Public:     true,
			ModuleName: module.Name,
		})
	}
	// Fields assigned in init become field accessors.
	if init != nil {
		for _, field := range fieldsOf(init) {
			name := className + "." + field
			if !admitted(name, isPublic(field)) {
				continue
			}
			c.callables = append(c.callables,
				&Callable{
					Name:       name,
					Kind:       KindFieldRead,
					Owner:      d.Name,
					Params:     []Param{{Name: "self", Type: classType}},
					Ret:        Any,
					Public:     true,
					Field:      field,
					ModuleName: module.Name,
				},
				&Callable{
					Name:       name + "=",
					Kind:       KindFieldWrite,
					Owner:      d.Name,
					Params:     []Param{{Name: "self", Type: classType}, {Name: "value", Type: Any}},
					Ret:        NoneType,
					Public:     true,
					Field:      field,
					ModuleName: module.Name,
				},
			)
		}
	}
}

// paramsOf converts declared parameters, dropping the receiver for
// methods.
func paramsOf(d *lang.FnDecl, method bool) []Param {
	src := d.Params
	if method && len(src) > 0 && src[0].Name == "self" {
		src = src[1:]
	}
	out := make([]Param, len(src))
	for i, p := range src {
		out[i] = Param{Name: p.Name, Type: FromAnnotation(p.Type)}
	}
	return out
}

// fieldsOf collects self.<field> assignment targets in init.
func fieldsOf(init *lang.FnDecl) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, st := range init.Body {
		lang.Walk(st, func(n lang.Node) bool {
			if as, ok := n.(*lang.AssignStmt); ok {
				if attr, ok := as.Target.(*lang.Attr); ok {
					if name, ok := attr.X.(*lang.Name); ok && name.Name == "self" && !seen[attr.Name] {
						seen[attr.Name] = true
						fields = append(fields, attr.Name)
					}
				}
			}
			return true
		})
	}
	return fields
}

func isPublic(name string) bool {
	return !strings.HasPrefix(name, "_")
}

// Callables returns all descriptors.
func (c *Cluster) Callables() []*Callable { return c.callables }

// UnderTest returns the callables the search targets: everything except
// field accessors, which only feed value construction.
func (c *Cluster) UnderTest() []*Callable {
	var out []*Callable
	for _, ca := range c.callables {
		switch ca.Kind {
		case KindFieldRead, KindFieldWrite:
			continue
		}
		out = append(out, ca)
	}
	return out
}

// Returning lists callables whose return type fills a slot of type t.
func (c *Cluster) Returning(t *Type) []*Callable {
	var out []*Callable
	for _, ca := range c.callables {
		if ca.Ret != nil && ca.Ret.AssignableTo(t) {
			out = append(out, ca)
		}
	}
	return out
}

// Class resolves a runtime class by name.
func (c *Cluster) Class(name string) (*vm.Class, bool) {
	cls, ok := c.classes[name]
	return cls, ok
}

// Rebind returns a cluster with the same descriptors resolved against
// a different live module, used when a mutant replaces the original.
func (c *Cluster) Rebind(module *vm.Module) *Cluster {
	out := &Cluster{Module: module, callables: c.callables, classes: make(map[string]*vm.Class)}
	for name := range c.classes {
		if v, ok := module.Lookup(name); ok {
			if cls, ok := v.(*vm.Class); ok {
				out.classes[name] = cls
			}
		}
	}
	return out
}

// Resolve finds the runtime value backing a callable: the function or
// class object in the module namespace.
func (c *Cluster) Resolve(ca *Callable) (vm.Value, bool) {
	short := strings.TrimPrefix(ca.Name, ca.ModuleName+".")
	switch ca.Kind {
	case KindFunction, KindConstructor:
		return c.Module.Lookup(short)
	case KindMethod:
		cls, ok := c.classes[ca.Owner]
		if !ok {
			return nil, false
		}
		parts := strings.Split(short, ".")
		m, ok := cls.Methods[parts[len(parts)-1]]
		return m, ok
	}
	return nil, false
}
