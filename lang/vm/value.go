// Package vm executes Slate bytecode on an operand-stack machine with
// optional trace hooks and a cooperative abort flag.
package vm

import (
	"fmt"
	"strings"

	"github.com/petrel-dev/petrel/lang/bytecode"
)

// Value is any Slate runtime value: int64, float64, bool, string, nil,
// *List, *Dict, *Object, *Class, *Func, *Builtin, *BoundMethod,
// *ExcClass, *Exception, *Range, *Iterator, or *Proxy.
type Value = any

// List is a mutable Slate list.
type List struct {
	Items []Value
}

// Dict is a Slate dictionary with primitive keys.
type Dict struct {
	keys   []Value
	values []Value
}

// NewDict builds an empty dictionary.
func NewDict() *Dict { return &Dict{} }

// Get returns the value for key.
func (d *Dict) Get(key Value) (Value, bool) {
	for i, k := range d.keys {
		if Equal(k, key) {
			return d.values[i], true
		}
	}
	return nil, false
}

// Set inserts or replaces key.
func (d *Dict) Set(key, value Value) {
	for i, k := range d.keys {
		if Equal(k, key) {
			d.values[i] = value
			return
		}
	}
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
}

// Keys returns a snapshot of the keys in insertion order.
func (d *Dict) Keys() []Value {
	out := make([]Value, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Globals is a module namespace.
type Globals struct {
	Module string
	Vars   map[string]Value
}

// NewGlobals builds a namespace pre-populated with the builtins.
func NewGlobals(module string) *Globals {
	g := &Globals{Module: module, Vars: make(map[string]Value)}
	installBuiltins(g)
	return g
}

// Func is a user-defined Slate function bound to its module namespace.
type Func struct {
	Code    *bytecode.Code
	Globals *Globals
}

// Class is a runtime class object.
type Class struct {
	Name    string
	Methods map[string]*Func
}

// Object is a class instance with dynamic fields.
type Object struct {
	Class  *Class
	Fields map[string]Value
}

// BoundMethod pairs a receiver with a method function.
type BoundMethod struct {
	Recv Value
	Fn   *Func
}

// Builtin is a native function. Builtins do not tolerate proxies; the
// unwrap adapter substitutes them beforehand.
type Builtin struct {
	Name string
	Fn   func(args []Value) (Value, error)
}

// ExcClass is a builtin exception class. Calling it constructs an
// Exception; subtype relations follow the Parent chain.
type ExcClass struct {
	Kind   string
	Parent *ExcClass
}

// Exception is a raised Slate error. It doubles as the Go error that
// unwinds the interpreter.
type Exception struct {
	Kind string
	Msg  string
}

func (e *Exception) Error() string {
	if e.Msg == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Msg
}

// Range is the value produced by the range builtin.
type Range struct {
	Start, Stop, Step int64
}

// Iterator walks a materialized element snapshot, or a range lazily so
// huge ranges stay cheap.
type Iterator struct {
	items []Value
	idx   int
	rng   *Range
	cur   int64
}

// HasNext reports whether another element is available.
func (it *Iterator) HasNext() bool {
	if it.rng != nil {
		if it.rng.Step > 0 {
			return it.cur < it.rng.Stop
		}
		return it.cur > it.rng.Stop
	}
	return it.idx < len(it.items)
}

// Next returns the next element.
func (it *Iterator) Next() Value {
	if it.rng != nil {
		v := it.cur
		it.cur += it.rng.Step
		return v
	}
	v := it.items[it.idx]
	it.idx++
	return v
}

// Proxy transparently wraps a value so executions can refine the
// inferred type of the variable that produced it. VM operators see
// through proxies; native builtins do not.
type Proxy struct {
	Wrapped Value
	// Observe is invoked with the wrapped value's type name on first
	// unwrap, feeding type refinement.
	Observe func(typeName string)
	seen    bool
}

// Unwrap strips proxy layers from v.
func Unwrap(v Value) Value {
	for {
		p, ok := v.(*Proxy)
		if !ok {
			return v
		}
		if !p.seen && p.Observe != nil {
			p.Observe(TypeName(p.Wrapped))
			p.seen = true
		}
		v = p.Wrapped
	}
}

// Builtin exception class hierarchy.
var (
	ErrorClass        = &ExcClass{Kind: "Error"}
	ValueErrorClass   = &ExcClass{Kind: "ValueError", Parent: ErrorClass}
	TypeErrorClass    = &ExcClass{Kind: "TypeError", Parent: ErrorClass}
	ZeroDivisionClass = &ExcClass{Kind: "ZeroDivisionError", Parent: ErrorClass}
	IndexErrorClass   = &ExcClass{Kind: "IndexError", Parent: ErrorClass}
	KeyErrorClass     = &ExcClass{Kind: "KeyError", Parent: ErrorClass}
	RuntimeErrorClass = &ExcClass{Kind: "RuntimeError", Parent: ErrorClass}
)

var excClasses = []*ExcClass{
	ErrorClass, ValueErrorClass, TypeErrorClass, ZeroDivisionClass,
	IndexErrorClass, KeyErrorClass, RuntimeErrorClass,
}

// ExcClassFor resolves an exception kind name, nil when unknown.
func ExcClassFor(kind string) *ExcClass {
	for _, c := range excClasses {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// IsSubKind reports whether exception kind is cls or derives from it.
func IsSubKind(kind string, cls *ExcClass) bool {
	c := ExcClassFor(kind)
	for c != nil {
		if c == cls {
			return true
		}
		c = c.Parent
	}
	return false
}

// Truthy implements Slate truthiness: false, zero, empty string, empty
// container and none are falsy.
func Truthy(v Value) bool {
	switch x := Unwrap(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *List:
		return len(x.Items) > 0
	case *Dict:
		return x.Len() > 0
	default:
		return true
	}
}

// TypeName returns the Slate type name of v.
func TypeName(v Value) string {
	switch x := Unwrap(v).(type) {
	case nil:
		return "none"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *List:
		return "list"
	case *Dict:
		return "dict"
	case *Func:
		return "function"
	case *Builtin:
		return "builtin"
	case *BoundMethod:
		return "method"
	case *Class:
		return "class"
	case *ExcClass:
		return "class"
	case *Exception:
		return x.Kind
	case *Range:
		return "range"
	case *Iterator:
		return "iterator"
	case *Object:
		return x.Class.Name
	default:
		return fmt.Sprintf("%T", x)
	}
}

// Equal implements Slate structural equality.
func Equal(a, b Value) bool {
	a, b = Unwrap(a), Unwrap(b)
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, found := y.Get(k)
			if !found || !Equal(x.values[i], v) {
				return false
			}
		}
		return true
	case *Exception:
		y, ok := b.(*Exception)
		return ok && x.Kind == y.Kind && x.Msg == y.Msg
	default:
		return a == b
	}
}

// Repr renders a value for logs and statistics.
func Repr(v Value) string {
	switch x := Unwrap(v).(type) {
	case nil:
		return "none"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%g", x)
	case string:
		return fmt.Sprintf("%q", x)
	case *List:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			parts[i] = Repr(it)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Dict:
		var parts []string
		for i, k := range x.keys {
			parts = append(parts, Repr(k)+": "+Repr(x.values[i]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Exception:
		return x.Error()
	default:
		return "<" + TypeName(x) + ">"
	}
}

// IsPrimitive reports whether v is a primitive suitable for exact
// regression assertions.
func IsPrimitive(v Value) bool {
	switch Unwrap(v).(type) {
	case nil, bool, int64, float64, string:
		return true
	}
	return false
}

// Module is a loaded Slate module: its namespace and root code object.
type Module struct {
	Name    string
	Globals *Globals
	Code    *bytecode.Code
}

// Lookup resolves a top-level name.
func (m *Module) Lookup(name string) (Value, bool) {
	v, ok := m.Globals.Vars[name]
	return v, ok
}
