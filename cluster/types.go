// Package cluster enumerates the callables of a target module and the
// types flowing through them. The test factory consults it to pick
// callables and compatible argument sources; types guide candidate
// selection only and are never enforced at runtime.
package cluster

import (
	"strings"

	"github.com/petrel-dev/petrel/lang"
)

// TypeKind discriminates the type-info sum type.
type TypeKind int

const (
	KindClass    TypeKind = iota // concrete class or primitive
	KindUnion                    // one of several alternatives
	KindAny                      // top
	KindNone                     // bottom for non-optional slots
	KindGeneric                  // parameterized, e.g. list[int]
	KindCallable                 // callable signature
)

// Type is inferred type information for a parameter, return value or
// variable reference.
type Type struct {
	Kind  TypeKind
	Name  string  // class or primitive name (KindClass), base (KindGeneric)
	Elems []*Type // union alternatives or generic arguments

	// Callable signature (KindCallable).
	Params []*Type
	Ret    *Type
}

// Common types.
var (
	Any       = &Type{Kind: KindAny}
	NoneType  = &Type{Kind: KindNone}
	IntType   = &Type{Kind: KindClass, Name: "int"}
	FloatType = &Type{Kind: KindClass, Name: "float"}
	BoolType  = &Type{Kind: KindClass, Name: "bool"}
	StrType   = &Type{Kind: KindClass, Name: "str"}
	ListType  = &Type{Kind: KindClass, Name: "list"}
	DictType  = &Type{Kind: KindClass, Name: "dict"}
)

// ClassType builds a named concrete type.
func ClassType(name string) *Type {
	switch name {
	case "int":
		return IntType
	case "float":
		return FloatType
	case "bool":
		return BoolType
	case "str":
		return StrType
	case "list":
		return ListType
	case "dict":
		return DictType
	case "any":
		return Any
	case "none":
		return NoneType
	}
	return &Type{Kind: KindClass, Name: name}
}

// Union builds a union type, flattening single-element cases.
func Union(elems ...*Type) *Type {
	if len(elems) == 1 {
		return elems[0]
	}
	return &Type{Kind: KindUnion, Elems: elems}
}

// Generic builds a parameterized type.
func Generic(base string, args ...*Type) *Type {
	return &Type{Kind: KindGeneric, Name: base, Elems: args}
}

// FromAnnotation converts a parsed annotation. Nil yields Any.
func FromAnnotation(t *lang.TypeExpr) *Type {
	if t == nil {
		return Any
	}
	alts := make([]*Type, 0, len(t.Names))
	for i, name := range t.Names {
		if i == 0 && len(t.Args) > 0 {
			args := make([]*Type, len(t.Args))
			for j, a := range t.Args {
				args[j] = FromAnnotation(a)
			}
			alts = append(alts, Generic(name, args...))
			continue
		}
		alts = append(alts, ClassType(name))
	}
	return Union(alts...)
}

// String renders the type for logs.
func (t *Type) String() string {
	switch t.Kind {
	case KindAny:
		return "any"
	case KindNone:
		return "none"
	case KindClass:
		return t.Name
	case KindGeneric:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return t.Name + "[" + strings.Join(parts, ", ") + "]"
	case KindUnion:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return strings.Join(parts, "|")
	case KindCallable:
		return "callable"
	}
	return "?"
}

// AssignableTo reports whether a value of type t can fill a slot of
// type want. The relation is a partial order with Any on top; none is
// assignable only to slots whose union admits it.
func (t *Type) AssignableTo(want *Type) bool {
	if want == nil || want.Kind == KindAny || t.Kind == KindAny {
		return true
	}
	switch want.Kind {
	case KindUnion:
		for _, alt := range want.Elems {
			if t.AssignableTo(alt) {
				return true
			}
		}
		return false
	case KindNone:
		return t.Kind == KindNone
	}
	switch t.Kind {
	case KindNone:
		return false
	case KindUnion:
		for _, alt := range t.Elems {
			if !alt.AssignableTo(want) {
				return false
			}
		}
		return true
	case KindGeneric:
		if want.Kind == KindGeneric {
			if t.Name != want.Name || len(t.Elems) != len(want.Elems) {
				return t.Name == want.Name && len(want.Elems) == 0
			}
			for i := range t.Elems {
				if !t.Elems[i].AssignableTo(want.Elems[i]) {
					return false
				}
			}
			return true
		}
		// list[int] fills a bare list slot.
		return want.Kind == KindClass && want.Name == t.Name
	case KindClass:
		if want.Kind == KindGeneric {
			return t.Name == want.Name
		}
		if want.Kind != KindClass {
			return false
		}
		if t.Name == want.Name {
			return true
		}
		// Numeric widening mirrors the VM's promotion rules.
		return t.Name == "int" && want.Name == "float"
	case KindCallable:
		return want.Kind == KindCallable
	}
	return false
}

// InferFromTypeName maps a runtime type name back to a Type.
func InferFromTypeName(name string) *Type {
	return ClassType(name)
}
