// Package compile lowers the Slate AST to stack-machine bytecode.
package compile

import (
	"fmt"

	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/bytecode"
)

// CompileError reports a lowering failure.
type CompileError struct {
	Line int
	Msg  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Module compiles a parsed module into its top-level code object.
func Module(mod *lang.Module) (*bytecode.Code, error) {
	c := newCompiler(mod.Name, "", nil)
	for _, decl := range mod.Decls {
		switch d := decl.(type) {
		case *lang.FnDecl:
			if err := c.declareFn(d); err != nil {
				return nil, err
			}
		case *lang.ClassDecl:
			if err := c.declareClass(d); err != nil {
				return nil, err
			}
		default:
			if err := c.stmt(decl); err != nil {
				return nil, err
			}
		}
	}
	// A module body returns none.
	c.emitConst(nil, int32(mod.Pos()))
	c.emit(bytecode.OpReturn, 0, 0, int32(mod.Pos()))
	return c.code, nil
}

type loopLabels struct {
	breakJumps []int
	contTarget int
	contJumps  []int
	// tryDepth at loop entry; break/continue pop handler blocks opened
	// inside the loop before jumping out.
	tryDepth int
}

type compiler struct {
	code    *bytecode.Code
	module  string
	locals  map[string]bool // names that resolve to local slots
	isFn    bool
	loops   []*loopLabels
	tryDeep int
}

func newCompiler(module, name string, params []string) *compiler {
	c := &compiler{
		code: &bytecode.Code{
			ID:     -1,
			Name:   name,
			Module: module,
			Params: params,
		},
		module: module,
		locals: make(map[string]bool),
		isFn:   name != "",
	}
	for _, p := range params {
		c.code.LocalIndex(p)
		c.locals[p] = true
	}
	return c
}

func (c *compiler) emit(op bytecode.Opcode, arg, arg2 int32, line int32) int {
	c.code.Instrs = append(c.code.Instrs, bytecode.Instr{Op: op, Arg: arg, Arg2: arg2, Line: line})
	return len(c.code.Instrs) - 1
}

func (c *compiler) emitConst(v any, line int32) {
	c.emit(bytecode.OpConst, c.code.ConstIndex(v), 0, line)
}

func (c *compiler) patch(at int) {
	c.code.Instrs[at].Arg = int32(len(c.code.Instrs))
}

// scanLocals marks every name assigned anywhere in a function body as a
// local, including loop variables and exception bindings.
func scanLocals(body []lang.Node, out map[string]bool) {
	for _, st := range body {
		lang.Walk(st, func(n lang.Node) bool {
			switch x := n.(type) {
			case *lang.AssignStmt:
				if name, ok := x.Target.(*lang.Name); ok {
					out[name.Name] = true
				}
			case *lang.ForStmt:
				out[x.Var] = true
			case *lang.TryStmt:
				for _, h := range x.Handler {
					if h.Bind != "" {
						out[h.Bind] = true
					}
				}
			case *lang.FnDecl:
				out[x.Name] = true
				return false // nested scope
			}
			return true
		})
	}
}

func (c *compiler) declareFn(d *lang.FnDecl) error {
	proto, err := compileFn(c.module, d, "")
	if err != nil {
		return err
	}
	c.code.Children = append(c.code.Children, proto.Code)
	c.emit(bytecode.OpMakeFunc, c.code.ConstIndex(proto), 0, int32(d.Line))
	c.storeName(d.Name, int32(d.Line))
	return nil
}

func (c *compiler) declareClass(d *lang.ClassDecl) error {
	proto := &bytecode.ClassProto{Name: d.Name, Methods: make(map[string]*bytecode.Code)}
	for _, m := range d.Methods {
		fp, err := compileFn(c.module, m, d.Name)
		if err != nil {
			return err
		}
		proto.Methods[m.Name] = fp.Code
		c.code.Children = append(c.code.Children, fp.Code)
	}
	c.emit(bytecode.OpMakeClass, c.code.ConstIndex(proto), 0, int32(d.Line))
	c.storeName(d.Name, int32(d.Line))
	return nil
}

func compileFn(module string, d *lang.FnDecl, owner string) (*bytecode.FuncProto, error) {
	name := d.Name
	if owner != "" {
		name = owner + "." + d.Name
	}
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		params[i] = p.Name
	}
	fc := newCompiler(module, name, params)
	fc.code.FirstLine = d.Line
	scanLocals(d.Body, fc.locals)
	for _, st := range d.Body {
		if err := fc.stmt(st); err != nil {
			return nil, err
		}
	}
	// Implicit return none.
	fc.emitConst(nil, lastLine(d))
	fc.emit(bytecode.OpReturn, 0, 0, lastLine(d))
	return &bytecode.FuncProto{Code: fc.code}, nil
}

func lastLine(d *lang.FnDecl) int32 {
	if len(d.Body) > 0 {
		return int32(d.Body[len(d.Body)-1].Pos())
	}
	return int32(d.Line)
}

func (c *compiler) storeName(name string, line int32) {
	if c.isFn && c.locals[name] {
		c.emit(bytecode.OpStoreLocal, c.code.LocalIndex(name), 0, line)
		return
	}
	c.emit(bytecode.OpStoreGlobal, c.code.NameIndex(name), 0, line)
}

func (c *compiler) loadName(name string, line int32) {
	if c.isFn && c.locals[name] {
		c.emit(bytecode.OpLoadLocal, c.code.LocalIndex(name), 0, line)
		return
	}
	c.emit(bytecode.OpLoadGlobal, c.code.NameIndex(name), 0, line)
}

func (c *compiler) stmt(n lang.Node) error {
	switch st := n.(type) {
	case *lang.ExprStmt:
		if err := c.expr(st.X); err != nil {
			return err
		}
		c.emit(bytecode.OpPop, 0, 0, int32(st.Line))
	case *lang.AssignStmt:
		return c.assign(st)
	case *lang.IfStmt:
		return c.ifStmt(st)
	case *lang.WhileStmt:
		return c.whileStmt(st)
	case *lang.ForStmt:
		return c.forStmt(st)
	case *lang.ReturnStmt:
		if st.Value != nil {
			if err := c.expr(st.Value); err != nil {
				return err
			}
		} else {
			c.emitConst(nil, int32(st.Line))
		}
		c.emit(bytecode.OpReturn, 0, 0, int32(st.Line))
	case *lang.RaiseStmt:
		if err := c.expr(st.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpRaise, 0, 0, int32(st.Line))
	case *lang.BreakStmt:
		if len(c.loops) == 0 {
			return &CompileError{Line: st.Line, Msg: "break outside loop"}
		}
		top := c.loops[len(c.loops)-1]
		c.unwindTo(top.tryDepth, int32(st.Line))
		top.breakJumps = append(top.breakJumps, c.emit(bytecode.OpJump, 0, 0, int32(st.Line)))
	case *lang.ContinueStmt:
		if len(c.loops) == 0 {
			return &CompileError{Line: st.Line, Msg: "continue outside loop"}
		}
		top := c.loops[len(c.loops)-1]
		c.unwindTo(top.tryDepth, int32(st.Line))
		top.contJumps = append(top.contJumps, c.emit(bytecode.OpJump, 0, 0, int32(st.Line)))
	case *lang.TryStmt:
		return c.tryStmt(st)
	case *lang.FnDecl:
		return c.declareFn(st)
	default:
		return &CompileError{Line: n.Pos(), Msg: "unsupported statement"}
	}
	return nil
}

func (c *compiler) assign(st *lang.AssignStmt) error {
	switch target := st.Target.(type) {
	case *lang.Name:
		if err := c.expr(st.Value); err != nil {
			return err
		}
		c.storeName(target.Name, int32(st.Line))
	case *lang.Attr:
		if err := c.expr(st.Value); err != nil {
			return err
		}
		if err := c.expr(target.X); err != nil {
			return err
		}
		c.emit(bytecode.OpStoreAttr, c.code.NameIndex(target.Name), 0, int32(st.Line))
	case *lang.Index:
		if err := c.expr(st.Value); err != nil {
			return err
		}
		if err := c.expr(target.X); err != nil {
			return err
		}
		if err := c.expr(target.Index); err != nil {
			return err
		}
		c.emit(bytecode.OpStoreIndex, 0, 0, int32(st.Line))
	default:
		return &CompileError{Line: st.Line, Msg: "invalid assignment target"}
	}
	return nil
}

func (c *compiler) block(body []lang.Node) error {
	for _, st := range body {
		if err := c.stmt(st); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) ifStmt(st *lang.IfStmt) error {
	if err := c.expr(st.Cond); err != nil {
		return err
	}
	elseJump := c.emit(bytecode.OpJumpIfFalse, 0, 0, int32(st.Line))
	if err := c.block(st.Then); err != nil {
		return err
	}
	if len(st.Else) == 0 {
		c.patch(elseJump)
		return nil
	}
	endJump := c.emit(bytecode.OpJump, 0, 0, int32(st.Line))
	c.patch(elseJump)
	if err := c.block(st.Else); err != nil {
		return err
	}
	c.patch(endJump)
	return nil
}

// unwindTo pops handler blocks opened since depth, keeping the VM's
// handler stack consistent across break/continue jumps.
func (c *compiler) unwindTo(depth int, line int32) {
	for i := c.tryDeep; i > depth; i-- {
		c.emit(bytecode.OpPopExcept, 0, 0, line)
	}
}

func (c *compiler) whileStmt(st *lang.WhileStmt) error {
	head := len(c.code.Instrs)
	if err := c.expr(st.Cond); err != nil {
		return err
	}
	exit := c.emit(bytecode.OpJumpIfFalse, 0, 0, int32(st.Line))
	labels := &loopLabels{contTarget: head, tryDepth: c.tryDeep}
	c.loops = append(c.loops, labels)
	if err := c.block(st.Body); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.emit(bytecode.OpJump, int32(head), 0, int32(st.Line))
	c.patch(exit)
	for _, j := range labels.breakJumps {
		c.patch(j)
	}
	for _, j := range labels.contJumps {
		c.code.Instrs[j].Arg = int32(head)
	}
	return nil
}

func (c *compiler) forStmt(st *lang.ForStmt) error {
	if err := c.expr(st.Iter); err != nil {
		return err
	}
	c.emit(bytecode.OpGetIter, 0, 0, int32(st.Line))
	head := len(c.code.Instrs)
	forIter := c.emit(bytecode.OpForIter, 0, 0, int32(st.Line))
	c.storeName(st.Var, int32(st.Line))
	labels := &loopLabels{contTarget: head, tryDepth: c.tryDeep}
	c.loops = append(c.loops, labels)
	if err := c.block(st.Body); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.emit(bytecode.OpJump, int32(head), 0, int32(st.Line))
	c.patch(forIter) // exhausted path: iterator already popped
	if len(labels.breakJumps) > 0 {
		// Breaks arrive with the iterator still on the stack: route the
		// exhausted path around a dedicated pop.
		over := c.emit(bytecode.OpJump, 0, 0, int32(st.Line))
		for _, j := range labels.breakJumps {
			c.patch(j)
		}
		c.emit(bytecode.OpPop, 0, 0, int32(st.Line))
		c.patch(over)
	}
	for _, j := range labels.contJumps {
		c.code.Instrs[j].Arg = int32(head)
	}
	return nil
}

func (c *compiler) tryStmt(st *lang.TryStmt) error {
	setup := c.emit(bytecode.OpSetupExcept, 0, 0, int32(st.Line))
	c.tryDeep++
	if err := c.block(st.Body); err != nil {
		return err
	}
	c.tryDeep--
	c.emit(bytecode.OpPopExcept, 0, 0, int32(st.Line))
	endJump := c.emit(bytecode.OpJump, 0, 0, int32(st.Line))
	c.patch(setup) // handler entry: exception object on stack
	var clauseEnds []int
	for i, h := range st.Handler {
		var skip int = -1
		if h.TypeName != "" {
			c.emit(bytecode.OpLoadGlobal, c.code.NameIndex(h.TypeName), 0, int32(h.Line))
			c.emit(bytecode.OpExcMatch, 0, 0, int32(h.Line))
			skip = c.emit(bytecode.OpJumpIfFalse, 0, 0, int32(h.Line))
		}
		if h.Bind != "" {
			c.storeName(h.Bind, int32(h.Line))
		} else {
			c.emit(bytecode.OpPop, 0, 0, int32(h.Line))
		}
		if err := c.block(h.Body); err != nil {
			return err
		}
		clauseEnds = append(clauseEnds, c.emit(bytecode.OpJump, 0, 0, int32(h.Line)))
		if skip >= 0 {
			c.patch(skip)
		}
		if i == len(st.Handler)-1 {
			// No clause matched: re-raise the exception on the stack.
			c.emit(bytecode.OpRaise, 0, 0, int32(h.Line))
		}
	}
	for _, j := range clauseEnds {
		c.patch(j)
	}
	c.patch(endJump)
	return nil
}

func (c *compiler) expr(n lang.Node) error {
	switch e := n.(type) {
	case *lang.IntLit:
		c.emitConst(e.Value, int32(e.Line))
	case *lang.FloatLit:
		c.emitConst(e.Value, int32(e.Line))
	case *lang.StringLit:
		c.emitConst(e.Value, int32(e.Line))
	case *lang.BoolLit:
		c.emitConst(e.Value, int32(e.Line))
	case *lang.NoneLit:
		c.emitConst(nil, int32(e.Line))
	case *lang.Name:
		c.loadName(e.Name, int32(e.Line))
	case *lang.ListLit:
		for _, el := range e.Elems {
			if err := c.expr(el); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpBuildList, int32(len(e.Elems)), 0, int32(e.Line))
	case *lang.MapLit:
		for i := range e.Keys {
			if err := c.expr(e.Keys[i]); err != nil {
				return err
			}
			if err := c.expr(e.Values[i]); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpBuildMap, int32(len(e.Keys)), 0, int32(e.Line))
	case *lang.BinOp:
		if err := c.expr(e.L); err != nil {
			return err
		}
		if err := c.expr(e.R); err != nil {
			return err
		}
		c.emit(bytecode.OpBinary, int32(binKind(e.Op)), 0, int32(e.Line))
	case *lang.UnaryOp:
		if err := c.expr(e.X); err != nil {
			return err
		}
		if e.Op == lang.OpNeg {
			c.emit(bytecode.OpUnaryNeg, 0, 0, int32(e.Line))
		} else {
			c.emit(bytecode.OpUnaryNot, 0, 0, int32(e.Line))
		}
	case *lang.Compare:
		if err := c.expr(e.L); err != nil {
			return err
		}
		if err := c.expr(e.R); err != nil {
			return err
		}
		c.emit(bytecode.OpCompare, int32(cmpKind(e.Op)), 0, int32(e.Line))
	case *lang.BoolOp:
		if err := c.expr(e.L); err != nil {
			return err
		}
		c.emit(bytecode.OpDup, 0, 0, int32(e.Line))
		var jump int
		if e.Op == lang.BoolAnd {
			jump = c.emit(bytecode.OpJumpIfFalse, 0, 0, int32(e.Line))
		} else {
			jump = c.emit(bytecode.OpJumpIfTrue, 0, 0, int32(e.Line))
		}
		c.emit(bytecode.OpPop, 0, 0, int32(e.Line))
		if err := c.expr(e.R); err != nil {
			return err
		}
		c.patch(jump)
	case *lang.Call:
		if err := c.expr(e.Fn); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := c.expr(a); err != nil {
				return err
			}
		}
		for _, a := range e.Kwargs {
			if err := c.expr(a); err != nil {
				return err
			}
		}
		if len(e.Names) > 0 {
			names := make([]string, len(e.Names))
			copy(names, e.Names)
			c.emitConst(names, int32(e.Line))
		}
		c.emit(bytecode.OpCall, int32(len(e.Args)), int32(len(e.Kwargs)), int32(e.Line))
	case *lang.Attr:
		if err := c.expr(e.X); err != nil {
			return err
		}
		c.emit(bytecode.OpLoadAttr, c.code.NameIndex(e.Name), 0, int32(e.Line))
	case *lang.Index:
		if err := c.expr(e.X); err != nil {
			return err
		}
		if err := c.expr(e.Index); err != nil {
			return err
		}
		c.emit(bytecode.OpLoadIndex, 0, 0, int32(e.Line))
	default:
		return &CompileError{Line: n.Pos(), Msg: "unsupported expression"}
	}
	return nil
}

func binKind(op lang.BinOpKind) bytecode.BinKind {
	switch op {
	case lang.OpAdd:
		return bytecode.BinAdd
	case lang.OpSub:
		return bytecode.BinSub
	case lang.OpMul:
		return bytecode.BinMul
	case lang.OpDiv:
		return bytecode.BinDiv
	case lang.OpFloorDiv:
		return bytecode.BinFloorDiv
	default:
		return bytecode.BinMod
	}
}

func cmpKind(op lang.CompareKind) bytecode.CmpKind {
	switch op {
	case lang.CmpEq:
		return bytecode.CmpEq
	case lang.CmpNe:
		return bytecode.CmpNe
	case lang.CmpLt:
		return bytecode.CmpLt
	case lang.CmpLe:
		return bytecode.CmpLe
	case lang.CmpGt:
		return bytecode.CmpGt
	case lang.CmpGe:
		return bytecode.CmpGe
	case lang.CmpIn:
		return bytecode.CmpIn
	case lang.CmpNotIn:
		return bytecode.CmpNotIn
	case lang.CmpIs:
		return bytecode.CmpIs
	default:
		return bytecode.CmpIsNot
	}
}
