package instrument

import (
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/trace"
)

// BranchAdapter registers predicates and inserts distance-reporting
// trace calls ahead of every conditional branch. Branchless code
// objects get a single entered event on their first instruction.
type BranchAdapter struct {
	registry *trace.Registry
}

// NewBranchAdapter builds the branch-coverage adapter.
func NewBranchAdapter(registry *trace.Registry) *BranchAdapter {
	return &BranchAdapter{registry: registry}
}

func (a *BranchAdapter) Name() string { return "branch" }

func (a *BranchAdapter) ShapeProbe(isa bytecode.ISA) []bytecode.Instr {
	return isa.CmpPredicateSeq(0, bytecode.CmpEq, 0)
}

func (a *BranchAdapter) Apply(rw *rewriter, meta *trace.CodeObjectMeta) error {
	code := rw.code
	isa := rw.isa
	if code.Name == "" {
		// The module body runs once at import, before any test; its
		// branches are not coverable targets.
		return nil
	}
	if len(code.Instrs) > 0 {
		rw.InsertBefore(0, isa.EnteredSeq(code.ID, code.Instrs[0].Line))
	}
	for i, in := range code.Instrs {
		if !isa.IsCondJump(in.Op) {
			continue
		}
		kind := isa.BranchKindAt(code, i)
		predID := a.registry.RegisterPredicate(&trace.PredicateMeta{
			CodeObjectID: code.ID,
			InstrIndex:   i,
			Kind:         kind,
			Line:         int(in.Line),
		})
		switch kind {
		case bytecode.BranchCmp:
			// Operands are consumed by the compare; peek them ahead of
			// the compare instruction, not the jump.
			cmp := bytecode.CmpKind(code.Instrs[i-1].Arg)
			rw.InsertBefore(i-1, isa.CmpPredicateSeq(predID, cmp, in.Line))
		case bytecode.BranchExc:
			rw.InsertBefore(i-1, isa.ExcPredicateSeq(predID, in.Line))
		case bytecode.BranchFor:
			rw.InsertBefore(i, isa.IterPredicateSeq(predID, in.Line))
		default:
			rw.InsertBefore(i, isa.BoolPredicateSeq(predID, in.Line))
		}
	}
	return nil
}

// LineAdapter emits a line event at the first instruction of each
// source line, honoring the nocover pragma set.
type LineAdapter struct {
	registry *trace.Registry
	excluded map[int]bool
}

// NewLineAdapter builds the line-coverage adapter. excluded lists
// pragma-excluded source lines and may be nil.
func NewLineAdapter(registry *trace.Registry, excluded map[int]bool) *LineAdapter {
	return &LineAdapter{registry: registry, excluded: excluded}
}

func (a *LineAdapter) Name() string { return "line" }

func (a *LineAdapter) ShapeProbe(isa bytecode.ISA) []bytecode.Instr {
	return isa.LineSeq(0, 0)
}

func (a *LineAdapter) Apply(rw *rewriter, meta *trace.CodeObjectMeta) error {
	code := rw.code
	if code.Name == "" {
		return nil
	}
	seen := make(map[int32]bool)
	for i, in := range code.Instrs {
		if in.Line <= 0 || seen[in.Line] {
			continue
		}
		seen[in.Line] = true
		if a.excluded[int(in.Line)] {
			continue
		}
		lineID := a.registry.RegisterLine(code.Module, int(in.Line))
		rw.InsertBefore(i, rw.isa.LineSeq(lineID, in.Line))
	}
	return nil
}

// CheckedAdapter emits memory-access events for loads and stores of
// locals, globals, attributes and subscripts so backward slices can be
// computed from assertion positions.
type CheckedAdapter struct{}

// NewCheckedAdapter builds the checked-coverage adapter.
func NewCheckedAdapter() *CheckedAdapter { return &CheckedAdapter{} }

func (a *CheckedAdapter) Name() string { return "checked" }

func (a *CheckedAdapter) ShapeProbe(isa bytecode.ISA) []bytecode.Instr {
	return isa.AccessSeq(bytecode.AccessLocal, 0, false, 0)
}

func (a *CheckedAdapter) Apply(rw *rewriter, meta *trace.CodeObjectMeta) error {
	code := rw.code
	isa := rw.isa
	for i, in := range code.Instrs {
		var kind bytecode.AccessKind
		var name string
		store := false
		switch in.Op {
		case bytecode.OpLoadLocal:
			kind, name = bytecode.AccessLocal, code.LocalVars[in.Arg]
		case bytecode.OpStoreLocal:
			kind, name, store = bytecode.AccessLocal, code.LocalVars[in.Arg], true
		case bytecode.OpLoadGlobal:
			kind, name = bytecode.AccessGlobal, code.Names[in.Arg]
		case bytecode.OpStoreGlobal:
			kind, name, store = bytecode.AccessGlobal, code.Names[in.Arg], true
		case bytecode.OpLoadAttr:
			kind, name = bytecode.AccessAttr, code.Names[in.Arg]
		case bytecode.OpStoreAttr:
			kind, name, store = bytecode.AccessAttr, code.Names[in.Arg], true
		case bytecode.OpLoadIndex:
			kind, name = bytecode.AccessSubscript, "[]"
		case bytecode.OpStoreIndex:
			kind, name, store = bytecode.AccessSubscript, "[]", true
		default:
			continue
		}
		rw.InsertBefore(i, isa.AccessSeq(kind, code.NameIndex(name), store, in.Line))
	}
	return nil
}

// SeedingAdapter captures compared values and the arguments of string
// predicates into the dynamic constant pool.
type SeedingAdapter struct{}

// NewSeedingAdapter builds the dynamic-seeding adapter.
func NewSeedingAdapter() *SeedingAdapter { return &SeedingAdapter{} }

func (a *SeedingAdapter) Name() string { return "seeding" }

func (a *SeedingAdapter) ShapeProbe(isa bytecode.ISA) []bytecode.Instr {
	return isa.SeedSeq(2, 0)
}

// stringPredicates are the attribute names whose call arguments feed
// the constant pool.
var stringPredicates = map[string]bool{
	"startswith": true,
	"endswith":   true,
	"contains":   true,
}

func (a *SeedingAdapter) Apply(rw *rewriter, meta *trace.CodeObjectMeta) error {
	code := rw.code
	isa := rw.isa
	lastPredAttr := -1
	for i, in := range code.Instrs {
		switch in.Op {
		case bytecode.OpCompare:
			switch bytecode.CmpKind(in.Arg) {
			case bytecode.CmpIs, bytecode.CmpIsNot:
				// identity operands carry no seedable constants
			default:
				rw.InsertBefore(i, isa.SeedSeq(2, in.Line))
			}
		case bytecode.OpLoadAttr:
			if stringPredicates[code.Names[in.Arg]] {
				lastPredAttr = i
			}
		case bytecode.OpCall:
			if lastPredAttr >= 0 && in.Arg == 1 && in.Arg2 == 0 {
				rw.InsertBefore(i, isa.SeedSeq(1, in.Line))
			}
			lastPredAttr = -1
		}
	}
	return nil
}

// UnwrapAdapter substitutes transparent proxies in call arguments with
// their underlying values before the call executes, so proxies never
// leak into native routines that cannot tolerate them.
type UnwrapAdapter struct{}

// NewUnwrapAdapter builds the unwrap adapter.
func NewUnwrapAdapter() *UnwrapAdapter { return &UnwrapAdapter{} }

func (a *UnwrapAdapter) Name() string { return "unwrap" }

func (a *UnwrapAdapter) ShapeProbe(isa bytecode.ISA) []bytecode.Instr {
	return isa.UnwrapSeq(1, 0)
}

func (a *UnwrapAdapter) Apply(rw *rewriter, meta *trace.CodeObjectMeta) error {
	code := rw.code
	isa := rw.isa
	for i, in := range code.Instrs {
		if in.Op != bytecode.OpCall {
			continue
		}
		slots := int(in.Arg) + int(in.Arg2)
		if in.Arg2 > 0 {
			slots++ // keyword-name table rides on the stack
		}
		if slots == 0 {
			continue
		}
		rw.InsertBefore(i, isa.UnwrapSeq(slots, in.Line))
	}
	return nil
}
