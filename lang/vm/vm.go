package vm

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/petrel-dev/petrel/lang/bytecode"
)

// ErrAborted unwinds the interpreter when the cooperative abort flag is
// set by the tracer deadline.
var ErrAborted = errors.New("execution aborted")

// TraceHook receives events from trace opcodes and, when instruction
// recording is on, from every executed instruction. A nil hook runs the
// code untraced.
type TraceHook interface {
	EnteredCode(codeID int)
	PassedCmpPredicate(left, right Value, cmp bytecode.CmpKind, predID int)
	PassedBoolPredicate(v Value, predID int)
	PassedIterPredicate(hasNext bool, predID int)
	PassedExcPredicate(excKind string, cls *ExcClass, predID int)
	TrackLine(lineID int)
	TrackAccess(store bool, kind bytecode.AccessKind, name string)
	HarvestSeeds(values []Value)

	// RecordsInstructions gates the per-instruction callback used for
	// dynamic slicing; it is expensive and off unless checked coverage
	// is requested.
	RecordsInstructions() bool
	RecordInstr(codeID, offset int, op bytecode.Opcode, arg int32, name string, line int32)
}

// VM executes Slate code objects.
type VM struct {
	Hook  TraceHook
	Abort *atomic.Bool

	// MaxDepth bounds Slate call recursion.
	MaxDepth int

	depth int
}

// New builds a VM with the default recursion bound.
func New() *VM {
	return &VM{Abort: &atomic.Bool{}, MaxDepth: 200}
}

type handler struct {
	target int
	sp     int
}

type frame struct {
	code     *bytecode.Code
	locals   []Value
	stack    []Value
	handlers []handler
	globals  *Globals
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) peek(n int) Value { return f.stack[len(f.stack)-1-n] }

// ExecModule runs the module's top-level code in a fresh namespace.
func (vm *VM) ExecModule(name string, code *bytecode.Code) (*Module, error) {
	globals := NewGlobals(name)
	if _, err := vm.runCode(code, globals, make([]Value, len(code.LocalVars))); err != nil {
		return nil, err
	}
	return &Module{Name: name, Globals: globals, Code: code}, nil
}

// Call invokes a Slate callable with positional args and keyword args.
func (vm *VM) Call(callee Value, args []Value, kwnames []string, kwvalues []Value) (Value, error) {
	return vm.callValue(callee, args, kwnames, kwvalues)
}

func (vm *VM) callValue(callee Value, args []Value, kwnames []string, kwvalues []Value) (Value, error) {
	callee = Unwrap(callee)
	switch fn := callee.(type) {
	case *Func:
		resolved, err := bindArgs(fn.Code, nil, args, kwnames, kwvalues)
		if err != nil {
			return nil, err
		}
		return vm.runCode(fn.Code, fn.Globals, resolved)
	case *BoundMethod:
		resolved, err := bindArgs(fn.Fn.Code, fn.Recv, args, kwnames, kwvalues)
		if err != nil {
			return nil, err
		}
		return vm.runCode(fn.Fn.Code, fn.Fn.Globals, resolved)
	case *Builtin:
		if len(kwnames) > 0 {
			return nil, raisef(TypeErrorClass, "%s takes no keyword arguments", fn.Name)
		}
		return fn.Fn(args)
	case *Class:
		obj := &Object{Class: fn, Fields: make(map[string]Value)}
		if init, ok := fn.Methods["init"]; ok {
			resolved, err := bindArgs(init.Code, obj, args, kwnames, kwvalues)
			if err != nil {
				return nil, err
			}
			if _, err := vm.runCode(init.Code, init.Globals, resolved); err != nil {
				return nil, err
			}
		} else if len(args) > 0 || len(kwnames) > 0 {
			return nil, raisef(TypeErrorClass, "%s takes no constructor arguments", fn.Name)
		}
		return obj, nil
	case *ExcClass:
		msg := ""
		if len(args) == 1 {
			if s, ok := Unwrap(args[0]).(string); ok {
				msg = s
			} else {
				msg = Repr(args[0])
			}
		} else if len(args) > 1 {
			return nil, raisef(TypeErrorClass, "%s expects at most one argument", fn.Kind)
		}
		return &Exception{Kind: fn.Kind, Msg: msg}, nil
	}
	return nil, raisef(TypeErrorClass, "%s is not callable", TypeName(callee))
}

// bindArgs resolves positional and keyword arguments onto local slots.
// A receiver occupies the first parameter when present.
func bindArgs(code *bytecode.Code, recv Value, args []Value, kwnames []string, kwvalues []Value) ([]Value, error) {
	locals := make([]Value, len(code.LocalVars))
	params := code.Params
	offset := 0
	if recv != nil {
		if len(params) == 0 {
			return nil, raisef(TypeErrorClass, "%s takes no receiver", code.Name)
		}
		locals[0] = recv
		offset = 1
	}
	if len(args) > len(params)-offset {
		return nil, raisef(TypeErrorClass, "%s expects %d arguments, got %d",
			code.Name, len(params)-offset, len(args))
	}
	for i, a := range args {
		locals[offset+i] = a
	}
	filled := offset + len(args)
	bound := make(map[string]bool, len(kwnames))
	for i, name := range kwnames {
		slot := -1
		for j, p := range params {
			if p == name {
				slot = j
				break
			}
		}
		if slot < 0 {
			return nil, raisef(TypeErrorClass, "%s got unexpected keyword %q", code.Name, name)
		}
		if slot < filled || bound[name] {
			return nil, raisef(TypeErrorClass, "%s got duplicate value for %q", code.Name, name)
		}
		bound[name] = true
		locals[slot] = kwvalues[i]
	}
	for i := filled; i < len(params); i++ {
		if !bound[params[i]] {
			return nil, raisef(TypeErrorClass, "%s missing argument %q", code.Name, params[i])
		}
	}
	return locals, nil
}

func (vm *VM) runCode(code *bytecode.Code, globals *Globals, locals []Value) (Value, error) {
	if vm.depth >= vm.MaxDepth {
		return nil, raisef(RuntimeErrorClass, "maximum recursion depth exceeded")
	}
	vm.depth++
	defer func() { vm.depth-- }()

	f := &frame{code: code, locals: locals, globals: globals}
	record := vm.Hook != nil && vm.Hook.RecordsInstructions()

	pc := 0
	for pc < len(code.Instrs) {
		if vm.Abort != nil && vm.Abort.Load() {
			return nil, ErrAborted
		}
		in := code.Instrs[pc]
		if record {
			name := ""
			switch in.Op {
			case bytecode.OpLoadLocal, bytecode.OpStoreLocal:
				name = code.LocalVars[in.Arg]
			case bytecode.OpLoadGlobal, bytecode.OpStoreGlobal,
				bytecode.OpLoadAttr, bytecode.OpStoreAttr:
				name = code.Names[in.Arg]
			}
			vm.Hook.RecordInstr(code.ID, pc, in.Op, in.Arg, name, in.Line)
		}
		jumped := false

		err := func() error {
			switch in.Op {
			case bytecode.OpConst:
				f.push(constValue(code.Consts[in.Arg]))
			case bytecode.OpLoadLocal:
				f.push(f.locals[in.Arg])
			case bytecode.OpStoreLocal:
				f.locals[in.Arg] = f.pop()
			case bytecode.OpLoadGlobal:
				name := code.Names[in.Arg]
				v, ok := globals.Vars[name]
				if !ok {
					return raisef(RuntimeErrorClass, "name %q is not defined", name)
				}
				f.push(v)
			case bytecode.OpStoreGlobal:
				globals.Vars[code.Names[in.Arg]] = f.pop()
			case bytecode.OpLoadAttr:
				obj := Unwrap(f.pop())
				name := code.Names[in.Arg]
				v, err := loadAttr(obj, name)
				if err != nil {
					return err
				}
				f.push(v)
			case bytecode.OpStoreAttr:
				obj := Unwrap(f.pop())
				value := f.pop()
				o, ok := obj.(*Object)
				if !ok {
					return raisef(TypeErrorClass, "cannot set attribute on %s", TypeName(obj))
				}
				o.Fields[code.Names[in.Arg]] = value
			case bytecode.OpLoadIndex:
				idx := Unwrap(f.pop())
				obj := Unwrap(f.pop())
				v, err := loadIndex(obj, idx)
				if err != nil {
					return err
				}
				f.push(v)
			case bytecode.OpStoreIndex:
				idx := Unwrap(f.pop())
				obj := Unwrap(f.pop())
				value := f.pop()
				if err := storeIndex(obj, idx, value); err != nil {
					return err
				}
			case bytecode.OpBinary:
				r := f.pop()
				l := f.pop()
				v, err := binaryOp(bytecode.BinKind(in.Arg), l, r)
				if err != nil {
					return err
				}
				f.push(v)
			case bytecode.OpUnaryNeg:
				switch x := Unwrap(f.pop()).(type) {
				case int64:
					f.push(-x)
				case float64:
					f.push(-x)
				default:
					return raisef(TypeErrorClass, "cannot negate %s", TypeName(x))
				}
			case bytecode.OpUnaryNot:
				f.push(!Truthy(f.pop()))
			case bytecode.OpCompare:
				r := f.pop()
				l := f.pop()
				v, err := compareOp(bytecode.CmpKind(in.Arg), l, r)
				if err != nil {
					return err
				}
				f.push(v)
			case bytecode.OpJump:
				pc = int(in.Arg)
				jumped = true
			case bytecode.OpJumpIfFalse:
				if !Truthy(f.pop()) {
					pc = int(in.Arg)
					jumped = true
				}
			case bytecode.OpJumpIfTrue:
				if Truthy(f.pop()) {
					pc = int(in.Arg)
					jumped = true
				}
			case bytecode.OpCall:
				npos, nkw := int(in.Arg), int(in.Arg2)
				var kwnames []string
				if nkw > 0 {
					kwnames = f.pop().([]string)
				}
				kwvalues := make([]Value, nkw)
				for i := nkw - 1; i >= 0; i-- {
					kwvalues[i] = f.pop()
				}
				args := make([]Value, npos)
				for i := npos - 1; i >= 0; i-- {
					args[i] = f.pop()
				}
				callee := f.pop()
				v, err := vm.callValue(callee, args, kwnames, kwvalues)
				if err != nil {
					return err
				}
				f.push(v)
			case bytecode.OpReturn:
				// handled after the closure
			case bytecode.OpBuildList:
				n := int(in.Arg)
				items := make([]Value, n)
				for i := n - 1; i >= 0; i-- {
					items[i] = f.pop()
				}
				f.push(&List{Items: items})
			case bytecode.OpBuildMap:
				n := int(in.Arg)
				d := NewDict()
				entries := make([]Value, 2*n)
				for i := 2*n - 1; i >= 0; i-- {
					entries[i] = f.pop()
				}
				for i := 0; i < n; i++ {
					d.Set(Unwrap(entries[2*i]), entries[2*i+1])
				}
				f.push(d)
			case bytecode.OpGetIter:
				it, err := makeIterator(Unwrap(f.pop()))
				if err != nil {
					return err
				}
				f.push(it)
			case bytecode.OpForIter:
				it := f.peek(0).(*Iterator)
				if it.HasNext() {
					f.push(it.Next())
				} else {
					f.pop()
					pc = int(in.Arg)
					jumped = true
				}
			case bytecode.OpPop:
				f.pop()
			case bytecode.OpDup:
				f.push(f.peek(0))
			case bytecode.OpRaise:
				v := Unwrap(f.pop())
				switch x := v.(type) {
				case *Exception:
					return x
				case *ExcClass:
					return &Exception{Kind: x.Kind}
				case string:
					return &Exception{Kind: ErrorClass.Kind, Msg: x}
				default:
					return raisef(TypeErrorClass, "cannot raise %s", TypeName(v))
				}
			case bytecode.OpSetupExcept:
				f.handlers = append(f.handlers, handler{target: int(in.Arg), sp: len(f.stack)})
			case bytecode.OpPopExcept:
				if len(f.handlers) > 0 {
					f.handlers = f.handlers[:len(f.handlers)-1]
				}
			case bytecode.OpExcMatch:
				cls := Unwrap(f.pop())
				exc, ok := Unwrap(f.peek(0)).(*Exception)
				if !ok {
					return raisef(TypeErrorClass, "except on non-exception %s", TypeName(f.peek(0)))
				}
				c, ok := cls.(*ExcClass)
				if !ok {
					return raisef(TypeErrorClass, "except type must be an exception class")
				}
				f.push(IsSubKind(exc.Kind, c))
			case bytecode.OpMakeFunc:
				proto := code.Consts[in.Arg].(*bytecode.FuncProto)
				f.push(&Func{Code: proto.Code, Globals: globals})
			case bytecode.OpMakeClass:
				proto := code.Consts[in.Arg].(*bytecode.ClassProto)
				cls := &Class{Name: proto.Name, Methods: make(map[string]*Func, len(proto.Methods))}
				for name, mc := range proto.Methods {
					cls.Methods[name] = &Func{Code: mc, Globals: globals}
				}
				f.push(cls)

			case bytecode.OpTraceEntered:
				if vm.Hook != nil {
					vm.Hook.EnteredCode(int(in.Arg))
				}
			case bytecode.OpTraceCmp:
				if vm.Hook != nil {
					vm.Hook.PassedCmpPredicate(f.peek(1), f.peek(0), bytecode.CmpKind(in.Arg2), int(in.Arg))
				}
			case bytecode.OpTraceBool:
				if vm.Hook != nil {
					vm.Hook.PassedBoolPredicate(f.peek(0), int(in.Arg))
				}
			case bytecode.OpTraceIter:
				if vm.Hook != nil {
					it, ok := Unwrap(f.peek(0)).(*Iterator)
					if ok {
						vm.Hook.PassedIterPredicate(it.HasNext(), int(in.Arg))
					}
				}
			case bytecode.OpTraceExc:
				if vm.Hook != nil {
					cls, okc := Unwrap(f.peek(0)).(*ExcClass)
					exc, oke := Unwrap(f.peek(1)).(*Exception)
					if okc && oke {
						vm.Hook.PassedExcPredicate(exc.Kind, cls, int(in.Arg))
					}
				}
			case bytecode.OpTraceLine:
				if vm.Hook != nil {
					vm.Hook.TrackLine(int(in.Arg))
				}
			case bytecode.OpTraceLoad:
				if vm.Hook != nil {
					vm.Hook.TrackAccess(false, bytecode.AccessKind(in.Arg2), code.Names[in.Arg])
				}
			case bytecode.OpTraceStore:
				if vm.Hook != nil {
					vm.Hook.TrackAccess(true, bytecode.AccessKind(in.Arg2), code.Names[in.Arg])
				}
			case bytecode.OpTraceSeed:
				if vm.Hook != nil {
					n := int(in.Arg)
					vals := make([]Value, 0, n)
					for i := 0; i < n && i < len(f.stack); i++ {
						vals = append(vals, Unwrap(f.peek(i)))
					}
					vm.Hook.HarvestSeeds(vals)
				}
			case bytecode.OpUnwrap:
				n := int(in.Arg)
				for i := 0; i < n && i < len(f.stack); i++ {
					f.stack[len(f.stack)-1-i] = Unwrap(f.stack[len(f.stack)-1-i])
				}
			default:
				return fmt.Errorf("invalid opcode %d at %d in %s", in.Op, pc, code.QualName())
			}
			return nil
		}()

		if err != nil {
			exc, ok := err.(*Exception)
			if !ok {
				return nil, err // aborts and internal faults propagate
			}
			if len(f.handlers) == 0 {
				return nil, exc
			}
			h := f.handlers[len(f.handlers)-1]
			f.handlers = f.handlers[:len(f.handlers)-1]
			f.stack = f.stack[:h.sp]
			f.push(exc)
			pc = h.target
			continue
		}
		if in.Op == bytecode.OpReturn {
			return f.pop(), nil
		}
		if !jumped {
			pc++
		}
	}
	return nil, nil
}

// constValue converts compile-time constants into runtime values.
func constValue(c any) Value {
	return c
}

func loadAttr(obj Value, name string) (Value, error) {
	switch x := obj.(type) {
	case *Object:
		if v, ok := x.Fields[name]; ok {
			return v, nil
		}
		if m, ok := x.Class.Methods[name]; ok {
			return &BoundMethod{Recv: x, Fn: m}, nil
		}
		return nil, raisef(RuntimeErrorClass, "%s has no attribute %q", x.Class.Name, name)
	default:
		if v, ok := methodFor(obj, name); ok {
			return v, nil
		}
		return nil, raisef(TypeErrorClass, "%s has no attribute %q", TypeName(obj), name)
	}
}

func loadIndex(obj, idx Value) (Value, error) {
	switch x := obj.(type) {
	case *List:
		n, ok := idx.(int64)
		if !ok {
			return nil, raisef(TypeErrorClass, "list index must be int")
		}
		if n < 0 {
			n += int64(len(x.Items))
		}
		if n < 0 || n >= int64(len(x.Items)) {
			return nil, raisef(IndexErrorClass, "list index out of range")
		}
		return x.Items[n], nil
	case *Dict:
		if v, ok := x.Get(idx); ok {
			return v, nil
		}
		return nil, raisef(KeyErrorClass, "key %s", Repr(idx))
	case string:
		n, ok := idx.(int64)
		if !ok {
			return nil, raisef(TypeErrorClass, "string index must be int")
		}
		runes := []rune(x)
		if n < 0 {
			n += int64(len(runes))
		}
		if n < 0 || n >= int64(len(runes)) {
			return nil, raisef(IndexErrorClass, "string index out of range")
		}
		return string(runes[n]), nil
	}
	return nil, raisef(TypeErrorClass, "%s is not indexable", TypeName(obj))
}

func storeIndex(obj, idx, value Value) error {
	switch x := obj.(type) {
	case *List:
		n, ok := idx.(int64)
		if !ok {
			return raisef(TypeErrorClass, "list index must be int")
		}
		if n < 0 {
			n += int64(len(x.Items))
		}
		if n < 0 || n >= int64(len(x.Items)) {
			return raisef(IndexErrorClass, "list assignment out of range")
		}
		x.Items[n] = value
		return nil
	case *Dict:
		x.Set(idx, value)
		return nil
	}
	return raisef(TypeErrorClass, "%s does not support item assignment", TypeName(obj))
}

func makeIterator(v Value) (*Iterator, error) {
	switch x := v.(type) {
	case *List:
		items := make([]Value, len(x.Items))
		copy(items, x.Items)
		return &Iterator{items: items}, nil
	case *Dict:
		return &Iterator{items: x.Keys()}, nil
	case string:
		runes := []rune(x)
		items := make([]Value, len(runes))
		for i, r := range runes {
			items[i] = string(r)
		}
		return &Iterator{items: items}, nil
	case *Range:
		return &Iterator{rng: x, cur: x.Start}, nil
	}
	return nil, raisef(TypeErrorClass, "%s is not iterable", TypeName(v))
}

func binaryOp(kind bytecode.BinKind, l, r Value) (Value, error) {
	l, r = Unwrap(l), Unwrap(r)
	if kind == bytecode.BinAdd {
		if ls, ok := l.(string); ok {
			if rs, ok := r.(string); ok {
				return ls + rs, nil
			}
			return nil, raisef(TypeErrorClass, "cannot add str and %s", TypeName(r))
		}
		if ll, ok := l.(*List); ok {
			if rl, ok := r.(*List); ok {
				items := make([]Value, 0, len(ll.Items)+len(rl.Items))
				items = append(items, ll.Items...)
				items = append(items, rl.Items...)
				return &List{Items: items}, nil
			}
			return nil, raisef(TypeErrorClass, "cannot add list and %s", TypeName(r))
		}
	}
	li, lIsInt := l.(int64)
	ri, rIsInt := r.(int64)
	if lIsInt && rIsInt {
		switch kind {
		case bytecode.BinAdd:
			return li + ri, nil
		case bytecode.BinSub:
			return li - ri, nil
		case bytecode.BinMul:
			return li * ri, nil
		case bytecode.BinDiv:
			if ri == 0 {
				return nil, raisef(ZeroDivisionClass, "division by zero")
			}
			return float64(li) / float64(ri), nil
		case bytecode.BinFloorDiv:
			if ri == 0 {
				return nil, raisef(ZeroDivisionClass, "integer division by zero")
			}
			q := li / ri
			if (li%ri != 0) && ((li < 0) != (ri < 0)) {
				q--
			}
			return q, nil
		case bytecode.BinMod:
			if ri == 0 {
				return nil, raisef(ZeroDivisionClass, "modulo by zero")
			}
			m := li % ri
			if m != 0 && ((li < 0) != (ri < 0)) {
				m += ri
			}
			return m, nil
		}
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if lok && rok {
		switch kind {
		case bytecode.BinAdd:
			return lf + rf, nil
		case bytecode.BinSub:
			return lf - rf, nil
		case bytecode.BinMul:
			return lf * rf, nil
		case bytecode.BinDiv:
			if rf == 0 {
				return nil, raisef(ZeroDivisionClass, "division by zero")
			}
			return lf / rf, nil
		case bytecode.BinFloorDiv:
			if rf == 0 {
				return nil, raisef(ZeroDivisionClass, "integer division by zero")
			}
			return int64(lf / rf), nil
		case bytecode.BinMod:
			if rf == 0 {
				return nil, raisef(ZeroDivisionClass, "modulo by zero")
			}
			return lf - rf*float64(int64(lf/rf)), nil
		}
	}
	return nil, raisef(TypeErrorClass, "unsupported operand types %s and %s", TypeName(l), TypeName(r))
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func compareOp(kind bytecode.CmpKind, l, r Value) (Value, error) {
	l, r = Unwrap(l), Unwrap(r)
	switch kind {
	case bytecode.CmpEq:
		return Equal(l, r), nil
	case bytecode.CmpNe:
		return !Equal(l, r), nil
	case bytecode.CmpIs:
		return identical(l, r), nil
	case bytecode.CmpIsNot:
		return !identical(l, r), nil
	case bytecode.CmpIn:
		return contains(r, l)
	case bytecode.CmpNotIn:
		v, err := contains(r, l)
		if err != nil {
			return nil, err
		}
		return !v.(bool), nil
	}
	// Ordering comparisons.
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if lok && rok {
		switch kind {
		case bytecode.CmpLt:
			return lf < rf, nil
		case bytecode.CmpLe:
			return lf <= rf, nil
		case bytecode.CmpGt:
			return lf > rf, nil
		case bytecode.CmpGe:
			return lf >= rf, nil
		}
	}
	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		switch kind {
		case bytecode.CmpLt:
			return ls < rs, nil
		case bytecode.CmpLe:
			return ls <= rs, nil
		case bytecode.CmpGt:
			return ls > rs, nil
		case bytecode.CmpGe:
			return ls >= rs, nil
		}
	}
	return nil, raisef(TypeErrorClass, "cannot order %s and %s", TypeName(l), TypeName(r))
}

func identical(l, r Value) bool {
	// Primitives compare by value, reference types by pointer.
	return l == r
}

func contains(container, elem Value) (Value, error) {
	switch x := container.(type) {
	case *List:
		for _, it := range x.Items {
			if Equal(it, elem) {
				return true, nil
			}
		}
		return false, nil
	case *Dict:
		_, ok := x.Get(elem)
		return ok, nil
	case string:
		s, ok := elem.(string)
		if !ok {
			return nil, raisef(TypeErrorClass, "substring check requires str, got %s", TypeName(elem))
		}
		return strings.Contains(x, s), nil
	}
	return nil, raisef(TypeErrorClass, "%s is not a container", TypeName(container))
}
