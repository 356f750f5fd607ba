// Package instrument rewrites compiled Slate code objects so that
// executions emit coverage, branch-distance, memory-access and seeding
// events. A chain of adapters operates over each code object; adapters
// share the operand stack, so every setup sequence must be stack
// neutral and the chain order is part of the contract: coverage
// adapters run before the seeding adapter, which runs before the
// unwrap adapter.
package instrument

import (
	"fmt"

	"github.com/petrel-dev/petrel/analysis"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/trace"
)

// Adapter rewrites one code object. Implementations insert trace
// sequences through the rewriter so jump targets stay consistent.
type Adapter interface {
	Name() string
	Apply(rw *rewriter, meta *trace.CodeObjectMeta) error
	// ShapeProbe returns a representative setup sequence used to verify
	// stack neutrality when the chain is assembled.
	ShapeProbe(isa bytecode.ISA) []bytecode.Instr
}

// Chain is an ordered adapter pipeline over one registry.
type Chain struct {
	isa      bytecode.ISA
	registry *trace.Registry
	adapters []Adapter
}

// NewChain assembles the adapter chain, verifying each adapter's stack
// shape. Assembly fails fast instead of corrupting code at run time.
func NewChain(isa bytecode.ISA, registry *trace.Registry, adapters ...Adapter) (*Chain, error) {
	for _, a := range adapters {
		if err := bytecode.ChainShapeCheck(isa, a.ShapeProbe(isa)); err != nil {
			return nil, &core.InstrumentationError{
				CodeObject: a.Name(),
				Reason:     fmt.Sprintf("shape check failed: %v", err),
			}
		}
	}
	return &Chain{isa: isa, registry: registry, adapters: adapters}, nil
}

// InstrumentModule applies the chain to the module code object and all
// nested code objects. A code object that cannot be instrumented is
// registered as skipped and left untouched; an invalid rewrite aborts
// the whole run.
func (c *Chain) InstrumentModule(code *bytecode.Code) error {
	var firstErr error
	bytecode.EachCode(code, func(co *bytecode.Code) {
		if firstErr != nil {
			return
		}
		meta, err := c.instrumentOne(co)
		if err != nil {
			if _, fatal := err.(*core.InstrumentationError); fatal {
				firstErr = err
				return
			}
			if meta != nil {
				meta.Skipped = true
			} else {
				co.ID = c.registry.RegisterCodeObject(&trace.CodeObjectMeta{Code: co, Skipped: true})
			}
		}
	})
	return firstErr
}

func (c *Chain) instrumentOne(co *bytecode.Code) (*trace.CodeObjectMeta, error) {
	if co.Instrumented {
		return nil, &core.InstrumentationError{CodeObject: co.QualName(), Reason: "already instrumented"}
	}
	meta := &trace.CodeObjectMeta{Code: co}
	co.ID = c.registry.RegisterCodeObject(meta)

	branchless := true
	for _, in := range co.Instrs {
		if c.isa.IsCondJump(in.Op) {
			branchless = false
			break
		}
	}
	meta.Branchless = branchless

	for _, a := range c.adapters {
		rw := newRewriter(c.isa, co)
		if err := a.Apply(rw, meta); err != nil {
			return meta, err
		}
		if err := rw.commit(); err != nil {
			return meta, &core.InstrumentationError{CodeObject: co.QualName(), Reason: err.Error()}
		}
	}
	co.Instrumented = true

	cfg := analysis.BuildCFG(c.isa, co)
	cdg := analysis.BuildCDG(cfg)
	meta.CFG = cfg
	meta.CDG = cdg
	meta.Tree = analysis.BuildPredicateTree(cfg, cdg)
	return meta, nil
}

// rewriter accumulates insert-before edits over one code object and
// relocates jump targets when committing.
type rewriter struct {
	isa  bytecode.ISA
	code *bytecode.Code
	// inserts maps original instruction index -> sequences inserted
	// before that instruction.
	inserts map[int][][]bytecode.Instr
}

func newRewriter(isa bytecode.ISA, code *bytecode.Code) *rewriter {
	return &rewriter{isa: isa, code: code, inserts: make(map[int][][]bytecode.Instr)}
}

// InsertBefore schedules seq ahead of the instruction at index.
func (rw *rewriter) InsertBefore(index int, seq []bytecode.Instr) {
	rw.inserts[index] = append(rw.inserts[index], seq)
}

// commit rebuilds the instruction list and relocates jump targets.
func (rw *rewriter) commit() error {
	if len(rw.inserts) == 0 {
		return nil
	}
	old := rw.code.Instrs
	newIndex := make([]int, len(old)+1)
	var out []bytecode.Instr
	for i, in := range old {
		newIndex[i] = len(out)
		for _, seq := range rw.inserts[i] {
			out = append(out, seq...)
		}
		out = append(out, in)
	}
	newIndex[len(old)] = len(out)
	for i := range out {
		if bytecode.HasJumpTarget(out[i].Op) {
			target := int(out[i].Arg)
			if target < 0 || target > len(old) {
				return fmt.Errorf("jump target %d out of range", target)
			}
			out[i].Arg = int32(newIndex[target])
		}
	}
	rw.code.Instrs = out
	return nil
}
