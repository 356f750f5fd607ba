// Package testcase models candidate tests as ordered statement
// sequences over an arena: statements refer to the values produced by
// earlier statements through arena indices, never pointers, so cloning
// and structural comparison stay cycle-free.
package testcase

import (
	"fmt"
	"strings"

	"github.com/petrel-dev/petrel/cluster"
)

// StatementKind discriminates the sealed statement family.
type StatementKind int

const (
	StmtPrimitive StatementKind = iota
	StmtCollection
	StmtConstructor
	StmtFunctionCall
	StmtMethodCall
	StmtFieldRead
	StmtFieldWrite
	StmtAssign
)

func (k StatementKind) String() string {
	switch k {
	case StmtPrimitive:
		return "primitive"
	case StmtCollection:
		return "collection"
	case StmtConstructor:
		return "constructor"
	case StmtFunctionCall:
		return "call"
	case StmtMethodCall:
		return "method"
	case StmtFieldRead:
		return "field-read"
	case StmtFieldWrite:
		return "field-write"
	default:
		return "assign"
	}
}

// NoRef marks an absent reference slot.
const NoRef = -1

// Statement is one step of a test case. Every value-producing
// statement owns the single variable reference identified by its arena
// position; argument slots hold the positions of earlier statements.
type Statement struct {
	Kind StatementKind

	// Primitive literal.
	Value any // int64, float64, bool, string, nil

	// Collection literal: "list" or "dict" with element references.
	CollKind string
	Elems    []int

	// Calls and field access.
	Callable *cluster.Callable
	Recv     int // receiver reference, NoRef for functions/constructors
	Args     []int
	KwNames  []string
	KwArgs   []int

	// Assignment and field-write source reference.
	Source int

	// RetType is the inferred type of the produced value; execution may
	// refine it.
	RetType *cluster.Type
}

// newStatement zeroes reference slots.
func newStatement(kind StatementKind) *Statement {
	return &Statement{Kind: kind, Recv: NoRef, Source: NoRef, RetType: cluster.Any}
}

// PrimitiveStatement builds a primitive-literal statement.
func PrimitiveStatement(value any) *Statement {
	s := newStatement(StmtPrimitive)
	s.Value = value
	switch value.(type) {
	case int64:
		s.RetType = cluster.IntType
	case float64:
		s.RetType = cluster.FloatType
	case bool:
		s.RetType = cluster.BoolType
	case string:
		s.RetType = cluster.StrType
	case nil:
		s.RetType = cluster.NoneType
	}
	return s
}

// CallStatement builds a function-call statement over argument
// references.
func CallStatement(ca *cluster.Callable, args []int) *Statement {
	s := newStatement(StmtFunctionCall)
	s.Callable = ca
	s.Args = append([]int(nil), args...)
	if ca.Ret != nil {
		s.RetType = ca.Ret
	}
	return s
}

// MethodStatement builds a method-call statement on a receiver.
func MethodStatement(ca *cluster.Callable, recv int, args []int) *Statement {
	s := newStatement(StmtMethodCall)
	s.Callable = ca
	s.Recv = recv
	s.Args = append([]int(nil), args...)
	if ca.Ret != nil {
		s.RetType = ca.Ret
	}
	return s
}

// ConstructorStatement builds a constructor-call statement.
func ConstructorStatement(ca *cluster.Callable, args []int) *Statement {
	s := newStatement(StmtConstructor)
	s.Callable = ca
	s.Args = append([]int(nil), args...)
	if ca.Ret != nil {
		s.RetType = ca.Ret
	}
	return s
}

// References returns every arena index the statement reads.
func (s *Statement) References() []int {
	var refs []int
	if s.Recv != NoRef {
		refs = append(refs, s.Recv)
	}
	refs = append(refs, s.Args...)
	refs = append(refs, s.KwArgs...)
	refs = append(refs, s.Elems...)
	if s.Source != NoRef {
		refs = append(refs, s.Source)
	}
	return refs
}

// shiftRefs adds delta to every reference at or above from.
func (s *Statement) shiftRefs(from, delta int) {
	adj := func(r int) int {
		if r != NoRef && r >= from {
			return r + delta
		}
		return r
	}
	s.Recv = adj(s.Recv)
	s.Source = adj(s.Source)
	for i := range s.Args {
		s.Args[i] = adj(s.Args[i])
	}
	for i := range s.KwArgs {
		s.KwArgs[i] = adj(s.KwArgs[i])
	}
	for i := range s.Elems {
		s.Elems[i] = adj(s.Elems[i])
	}
}

// clone deep-copies the statement.
func (s *Statement) clone() *Statement {
	c := *s
	c.Args = append([]int(nil), s.Args...)
	c.KwArgs = append([]int(nil), s.KwArgs...)
	c.KwNames = append([]string(nil), s.KwNames...)
	c.Elems = append([]int(nil), s.Elems...)
	return &c
}

// equalShape compares two statements structurally. Reference slots
// compare by position, which realizes reference-graph isomorphism for
// arena-indexed cases.
func (s *Statement) equalShape(o *Statement) bool {
	if s.Kind != o.Kind || s.Recv != o.Recv || s.Source != o.Source {
		return false
	}
	if s.CollKind != o.CollKind {
		return false
	}
	if s.Callable != nil || o.Callable != nil {
		if s.Callable == nil || o.Callable == nil || s.Callable.Name != o.Callable.Name {
			return false
		}
	}
	if s.Kind == StmtPrimitive && s.Value != o.Value {
		return false
	}
	if len(s.Args) != len(o.Args) || len(s.KwArgs) != len(o.KwArgs) || len(s.Elems) != len(o.Elems) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	for i := range s.KwArgs {
		if s.KwArgs[i] != o.KwArgs[i] || s.KwNames[i] != o.KwNames[i] {
			return false
		}
	}
	for i := range s.Elems {
		if s.Elems[i] != o.Elems[i] {
			return false
		}
	}
	return true
}

// String renders the statement for logs and debugging.
func (s *Statement) String() string {
	switch s.Kind {
	case StmtPrimitive:
		return fmt.Sprintf("%v", s.Value)
	case StmtCollection:
		return fmt.Sprintf("%s(%v)", s.CollKind, s.Elems)
	case StmtAssign:
		return fmt.Sprintf("= v%d", s.Source)
	case StmtFieldRead:
		return fmt.Sprintf("v%d.%s", s.Recv, s.Callable.Field)
	case StmtFieldWrite:
		return fmt.Sprintf("v%d.%s = v%d", s.Recv, s.Callable.Field, s.Source)
	default:
		args := make([]string, len(s.Args))
		for i, a := range s.Args {
			args[i] = fmt.Sprintf("v%d", a)
		}
		recv := ""
		if s.Recv != NoRef {
			recv = fmt.Sprintf("v%d.", s.Recv)
		}
		return fmt.Sprintf("%s%s(%s)", recv, s.Callable.Name, strings.Join(args, ", "))
	}
}
