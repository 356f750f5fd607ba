package bytecode

import "fmt"

// Instr is one VM instruction with its source line.
type Instr struct {
	Op   Opcode
	Arg  int32
	Arg2 int32
	Line int32
}

func (in Instr) String() string {
	return fmt.Sprintf("%s %d %d (line %d)", in.Op, in.Arg, in.Arg2, in.Line)
}

// FuncProto is the compile-time description of a function value.
type FuncProto struct {
	Code *Code
}

// ClassProto is the compile-time description of a class: its name and
// method code objects, init included.
type ClassProto struct {
	Name    string
	Methods map[string]*Code
}

// Code is one compiled Slate code object. Nested code objects (methods
// and nested functions) appear both in Consts (via protos) and in
// Children for recursive passes.
type Code struct {
	// ID is assigned during instrumentation registration; -1 before.
	ID int

	Name      string
	Module    string
	Params    []string
	LocalVars []string // slot index -> name, params first
	Names     []string // global/attribute name table
	Consts    []any    // literals, *FuncProto, *ClassProto
	Instrs    []Instr
	FirstLine int
	Children  []*Code

	// Instrumented marks a code object already passed through the
	// adapter chain; re-instrumentation is a fatal error.
	Instrumented bool
}

// NameIndex interns a name into the Names table.
func (c *Code) NameIndex(name string) int32 {
	for i, n := range c.Names {
		if n == name {
			return int32(i)
		}
	}
	c.Names = append(c.Names, name)
	return int32(len(c.Names) - 1)
}

// ConstIndex interns a constant. Interning is by identity for protos
// and by value for primitives.
func (c *Code) ConstIndex(v any) int32 {
	switch v.(type) {
	case int64, float64, string, bool, nil:
		for i, existing := range c.Consts {
			if existing == v {
				return int32(i)
			}
		}
	}
	c.Consts = append(c.Consts, v)
	return int32(len(c.Consts) - 1)
}

// LocalIndex resolves a local slot, adding one if needed.
func (c *Code) LocalIndex(name string) int32 {
	for i, n := range c.LocalVars {
		if n == name {
			return int32(i)
		}
	}
	c.LocalVars = append(c.LocalVars, name)
	return int32(len(c.LocalVars) - 1)
}

// QualName is the dotted identity of the code object within its module.
func (c *Code) QualName() string {
	if c.Name == "" {
		return c.Module + ".<module>"
	}
	return c.Module + "." + c.Name
}

// EachCode applies fn to c and every nested code object, parents first.
func EachCode(c *Code, fn func(*Code)) {
	fn(c)
	for _, child := range c.Children {
		EachCode(child, fn)
	}
}
