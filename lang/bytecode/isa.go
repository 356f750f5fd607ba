package bytecode

import "fmt"

// ISA isolates bytecode-version-specific concerns: which opcodes are
// conditional jumps, how each instruction moves the operand stack, how
// branches are classified, and the instruction sequences the
// instrumentation adapters splice in. One implementation ships per
// Slate bytecode version so adapters stay version-agnostic.
type ISA interface {
	Version() int

	// IsCondJump reports whether op transfers control conditionally.
	IsCondJump(op Opcode) bool

	// StackEffect is the net operand-stack delta of in. Unknown opcodes
	// return an error so instrumentation aborts instead of corrupting
	// the stack.
	StackEffect(in Instr) (int, error)

	// BranchKindAt classifies the conditional jump at index idx.
	BranchKindAt(code *Code, idx int) BranchKind

	// Adapter instruction factories. Every returned sequence must have
	// net stack effect zero; ChainShapeCheck verifies this when the
	// adapter chain is assembled.
	EnteredSeq(codeID int, line int32) []Instr
	CmpPredicateSeq(predID int, cmp CmpKind, line int32) []Instr
	BoolPredicateSeq(predID int, line int32) []Instr
	IterPredicateSeq(predID int, line int32) []Instr
	ExcPredicateSeq(predID int, line int32) []Instr
	LineSeq(lineID int, line int32) []Instr
	AccessSeq(kind AccessKind, nameIdx int32, store bool, line int32) []Instr
	SeedSeq(operands int, line int32) []Instr
	UnwrapSeq(slots int, line int32) []Instr
}

// ForVersion returns the ISA for a bytecode version.
func ForVersion(v int) (ISA, error) {
	switch v {
	case 1:
		return V1{}, nil
	default:
		return nil, fmt.Errorf("unsupported bytecode version %d", v)
	}
}

// CurrentVersion is the bytecode version this toolchain emits.
const CurrentVersion = 1

// V1 is the ISA of bytecode version 1.
type V1 struct{}

func (V1) Version() int { return 1 }

func (V1) IsCondJump(op Opcode) bool {
	switch op {
	case OpJumpIfFalse, OpJumpIfTrue, OpForIter:
		return true
	}
	return false
}

func (V1) StackEffect(in Instr) (int, error) {
	switch in.Op {
	case OpConst, OpLoadLocal, OpLoadGlobal, OpDup, OpMakeFunc, OpMakeClass:
		return 1, nil
	case OpStoreLocal, OpStoreGlobal, OpPop, OpRaise, OpJumpIfFalse, OpJumpIfTrue,
		OpCompare, OpBinary, OpLoadIndex:
		return -1, nil
	case OpLoadAttr, OpUnaryNeg, OpUnaryNot, OpGetIter, OpJump, OpReturn,
		OpSetupExcept, OpPopExcept:
		return 0, nil
	case OpStoreAttr:
		return -2, nil
	case OpStoreIndex:
		return -3, nil
	case OpExcMatch:
		return 0, nil // pops class, pushes match; exception stays below
	case OpCall:
		// Pops callee, positional args, kwarg values and the kwarg-name
		// table (present only when Arg2 > 0); pushes the result.
		eff := -int(in.Arg) - int(in.Arg2)
		if in.Arg2 > 0 {
			eff--
		}
		return eff, nil
	case OpBuildList:
		return 1 - int(in.Arg), nil
	case OpBuildMap:
		return 1 - 2*int(in.Arg), nil
	case OpForIter:
		return 1, nil // pushes next value on the taken path
	case OpTraceEntered, OpTraceCmp, OpTraceBool, OpTraceIter, OpTraceExc,
		OpTraceLine, OpTraceLoad, OpTraceStore, OpTraceSeed, OpUnwrap:
		return 0, nil
	}
	return 0, fmt.Errorf("stack effect of unknown opcode %d", in.Op)
}

func (V1) BranchKindAt(code *Code, idx int) BranchKind {
	in := code.Instrs[idx]
	if in.Op == OpForIter {
		return BranchFor
	}
	if idx > 0 {
		prev := code.Instrs[idx-1]
		if prev.Op == OpExcMatch {
			return BranchExc
		}
		if prev.Op == OpCompare {
			// Identity comparisons still yield a distance; everything
			// with two operands is a comparison predicate.
			return BranchCmp
		}
	}
	return BranchBool
}

func (V1) EnteredSeq(codeID int, line int32) []Instr {
	return []Instr{{Op: OpTraceEntered, Arg: int32(codeID), Line: line}}
}

func (V1) CmpPredicateSeq(predID int, cmp CmpKind, line int32) []Instr {
	return []Instr{{Op: OpTraceCmp, Arg: int32(predID), Arg2: int32(cmp), Line: line}}
}

func (V1) BoolPredicateSeq(predID int, line int32) []Instr {
	return []Instr{{Op: OpTraceBool, Arg: int32(predID), Line: line}}
}

func (V1) IterPredicateSeq(predID int, line int32) []Instr {
	return []Instr{{Op: OpTraceIter, Arg: int32(predID), Line: line}}
}

func (V1) ExcPredicateSeq(predID int, line int32) []Instr {
	return []Instr{{Op: OpTraceExc, Arg: int32(predID), Line: line}}
}

func (V1) LineSeq(lineID int, line int32) []Instr {
	return []Instr{{Op: OpTraceLine, Arg: int32(lineID), Line: line}}
}

func (V1) AccessSeq(kind AccessKind, nameIdx int32, store bool, line int32) []Instr {
	op := OpTraceLoad
	if store {
		op = OpTraceStore
	}
	return []Instr{{Op: op, Arg: nameIdx, Arg2: int32(kind), Line: line}}
}

func (V1) SeedSeq(operands int, line int32) []Instr {
	return []Instr{{Op: OpTraceSeed, Arg: int32(operands), Line: line}}
}

func (V1) UnwrapSeq(slots int, line int32) []Instr {
	return []Instr{{Op: OpUnwrap, Arg: int32(slots), Line: line}}
}

// ChainShapeCheck verifies that an adapter setup sequence is stack
// neutral under the given ISA. Adapters share the operand stack, so a
// non-zero sequence would corrupt every adapter after it.
func ChainShapeCheck(isa ISA, seq []Instr) error {
	total := 0
	for _, in := range seq {
		d, err := isa.StackEffect(in)
		if err != nil {
			return err
		}
		total += d
	}
	if total != 0 {
		return fmt.Errorf("adapter sequence has net stack effect %d, want 0", total)
	}
	return nil
}
