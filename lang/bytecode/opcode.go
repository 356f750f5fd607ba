package bytecode

// Opcode is a Slate VM instruction. The VM is a plain operand-stack
// machine; every opcode documents its stack transition.
type Opcode uint8

const (
	// Core opcodes emitted by the compiler.
	OpConst       Opcode = iota // push Consts[Arg]
	OpLoadLocal                 // push locals[Arg]
	OpStoreLocal                // pop -> locals[Arg]
	OpLoadGlobal                // push globals[Names[Arg]]
	OpStoreGlobal               // pop -> globals[Names[Arg]]
	OpLoadAttr                  // pop obj, push obj.Names[Arg]
	OpStoreAttr                 // pop obj, pop value, obj.Names[Arg] = value
	OpLoadIndex                 // pop idx, pop obj, push obj[idx]
	OpStoreIndex                // pop idx, pop obj, pop value, obj[idx] = value
	OpBinary                    // pop r, pop l, push l (BinKind Arg) r
	OpUnaryNeg                  // pop x, push -x
	OpUnaryNot                  // pop x, push not truthy(x)
	OpCompare                   // pop r, pop l, push l (CmpKind Arg) r
	OpJump                      // jump to Arg
	OpJumpIfFalse               // pop cond, jump to Arg when falsy
	OpJumpIfTrue                // pop cond, jump to Arg when truthy
	OpCall                      // pop Arg2 kwargs, pop Arg args, pop callee, push result
	OpReturn                    // pop return value, leave frame
	OpBuildList                 // pop Arg elements, push list
	OpBuildMap                  // pop 2*Arg entries, push map
	OpGetIter                   // pop x, push iterator
	OpForIter                   // peek iter; push next value, or pop iter and jump to Arg when exhausted
	OpPop                       // pop and discard
	OpDup                       // duplicate top
	OpRaise                     // pop value, raise it
	OpSetupExcept               // push handler block with target Arg
	OpPopExcept                 // pop handler block
	OpExcMatch                  // pop class, peek exception, push match bool
	OpMakeFunc                  // push function object for Consts[Arg]
	OpMakeClass                 // push class object for Consts[Arg]

	// Trace opcodes inserted by instrumentation. All peek, never pop;
	// each has net stack effect zero so adapter chains compose.
	OpTraceEntered // report code object Arg entered
	OpTraceCmp     // peek l,r; report predicate Arg with CmpKind Arg2
	OpTraceBool    // peek top; report truthiness predicate Arg
	OpTraceIter    // peek iterator; report for-loop predicate Arg
	OpTraceExc     // peek exception,class; report exception-match predicate Arg
	OpTraceLine    // report line id Arg executed
	OpTraceLoad    // report load of Names[Arg], access kind Arg2
	OpTraceStore   // report store of Names[Arg], access kind Arg2
	OpTraceSeed    // peek Arg operands; harvest into the constant pool
	OpUnwrap       // substitute proxies in the top Arg stack slots
)

var opcodeNames = [...]string{
	OpConst: "CONST", OpLoadLocal: "LOAD_LOCAL", OpStoreLocal: "STORE_LOCAL",
	OpLoadGlobal: "LOAD_GLOBAL", OpStoreGlobal: "STORE_GLOBAL",
	OpLoadAttr: "LOAD_ATTR", OpStoreAttr: "STORE_ATTR",
	OpLoadIndex: "LOAD_INDEX", OpStoreIndex: "STORE_INDEX",
	OpBinary: "BINARY", OpUnaryNeg: "UNARY_NEG", OpUnaryNot: "UNARY_NOT",
	OpCompare: "COMPARE", OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE",
	OpJumpIfTrue: "JUMP_IF_TRUE", OpCall: "CALL", OpReturn: "RETURN",
	OpBuildList: "BUILD_LIST", OpBuildMap: "BUILD_MAP", OpGetIter: "GET_ITER",
	OpForIter: "FOR_ITER", OpPop: "POP", OpDup: "DUP", OpRaise: "RAISE",
	OpSetupExcept: "SETUP_EXCEPT", OpPopExcept: "POP_EXCEPT", OpExcMatch: "EXC_MATCH",
	OpMakeFunc: "MAKE_FUNC", OpMakeClass: "MAKE_CLASS",
	OpTraceEntered: "TRACE_ENTERED", OpTraceCmp: "TRACE_CMP", OpTraceBool: "TRACE_BOOL",
	OpTraceIter: "TRACE_ITER", OpTraceExc: "TRACE_EXC", OpTraceLine: "TRACE_LINE",
	OpTraceLoad: "TRACE_LOAD", OpTraceStore: "TRACE_STORE", OpTraceSeed: "TRACE_SEED",
	OpUnwrap: "UNWRAP",
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) && opcodeNames[o] != "" {
		return opcodeNames[o]
	}
	return "UNKNOWN"
}

// HasJumpTarget reports whether the instruction's Arg is an absolute
// instruction index that must be relocated when code is rewritten.
func HasJumpTarget(op Opcode) bool {
	switch op {
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpForIter, OpSetupExcept:
		return true
	}
	return false
}

// BinKind selects the OpBinary operator.
type BinKind int32

const (
	BinAdd BinKind = iota
	BinSub
	BinMul
	BinDiv
	BinFloorDiv
	BinMod
)

// CmpKind selects the OpCompare operator. The tracer derives branch
// distances from it.
type CmpKind int32

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
	CmpIn
	CmpNotIn
	CmpIs
	CmpIsNot
)

// AccessKind classifies a memory access for checked coverage.
type AccessKind int32

const (
	AccessLocal AccessKind = iota
	AccessAttr
	AccessSubscript
	AccessGlobal
)

// BranchKind classifies a conditional jump for the branch adapter.
type BranchKind int

const (
	BranchBool BranchKind = iota // truthiness of a single operand
	BranchCmp                    // two-operand comparison
	BranchFor                    // for-loop continuation
	BranchExc                    // exception-type match
)
