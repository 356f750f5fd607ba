package trace

import (
	"fmt"
	"sync"
	"time"

	"github.com/petrel-dev/petrel/analysis"
	"github.com/petrel-dev/petrel/lang/bytecode"
)

// PredicateMeta describes one instrumented predicate.
type PredicateMeta struct {
	ID           int
	CodeObjectID int
	InstrIndex   int
	Kind         bytecode.BranchKind
	Line         int
}

// CodeObjectMeta describes one instrumented code object together with
// the graphs built during instrumentation.
type CodeObjectMeta struct {
	ID   int
	Code *bytecode.Code
	CFG  *analysis.CFG
	CDG  *analysis.CDG
	Tree *analysis.PredicateTree

	// Branchless code objects carry a single entered-goal instead of
	// branch goals.
	Branchless bool
	// Skipped code objects could not be instrumented and are excluded
	// from coverage denominators.
	Skipped bool
}

// LineMeta describes one trackable source line.
type LineMeta struct {
	ID     int
	Module string
	Line   int
}

// Registry is the shared metadata store populated by instrumentation
// and read by the tracer, fitness functions and goal providers.
type Registry struct {
	mu          sync.RWMutex
	codeObjects []*CodeObjectMeta
	predicates  []*PredicateMeta
	lines       []*LineMeta
	lineIndex   map[string]int
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{lineIndex: make(map[string]int)}
}

// RegisterCodeObject assigns and returns the code object id.
func (r *Registry) RegisterCodeObject(meta *CodeObjectMeta) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta.ID = len(r.codeObjects)
	r.codeObjects = append(r.codeObjects, meta)
	return meta.ID
}

// RegisterPredicate assigns and returns the predicate id.
func (r *Registry) RegisterPredicate(meta *PredicateMeta) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta.ID = len(r.predicates)
	r.predicates = append(r.predicates, meta)
	return meta.ID
}

// RegisterLine interns a module line and returns its id.
func (r *Registry) RegisterLine(module string, line int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s:%d", module, line)
	if id, ok := r.lineIndex[key]; ok {
		return id
	}
	id := len(r.lines)
	r.lines = append(r.lines, &LineMeta{ID: id, Module: module, Line: line})
	r.lineIndex[key] = id
	return id
}

// CodeObjects returns a snapshot of registered code objects.
func (r *Registry) CodeObjects() []*CodeObjectMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CodeObjectMeta, len(r.codeObjects))
	copy(out, r.codeObjects)
	return out
}

// Predicates returns a snapshot of registered predicates.
func (r *Registry) Predicates() []*PredicateMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PredicateMeta, len(r.predicates))
	copy(out, r.predicates)
	return out
}

// Predicate returns the metadata for id, nil when unknown.
func (r *Registry) Predicate(id int) *PredicateMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.predicates) {
		return nil
	}
	return r.predicates[id]
}

// CodeObject returns the metadata for id, nil when unknown.
func (r *Registry) CodeObject(id int) *CodeObjectMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.codeObjects) {
		return nil
	}
	return r.codeObjects[id]
}

// Lines returns a snapshot of registered lines.
func (r *Registry) Lines() []*LineMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*LineMeta, len(r.lines))
	copy(out, r.lines)
	return out
}

// ExecutedInstr is one dynamic instruction event, recorded only when
// checked coverage needs the raw instruction trace for slicing.
type ExecutedInstr struct {
	CodeID int
	Offset int
	Op     bytecode.Opcode
	Arg    int32
	Name   string
	Line   int32
}

// StatementOutcome is the per-statement result captured by the
// execution service. Exactly one of Value/Exc is meaningful; the
// Timeout flag marks a statement whose abort deadline expired.
type StatementOutcome struct {
	Position int
	Value    any
	Exc      *ExceptionInfo
	TypeName string
	Elapsed  time.Duration
	Timeout  bool

	// Observable object state, captured only during assertion replays:
	// container length and primitive-valued public fields. Generator
	// objects stay opaque beyond their type name.
	HasLength bool
	Length    int64
	Fields    map[string]any
}

// ExceptionInfo is the serializable shape of a raised Slate exception.
type ExceptionInfo struct {
	Kind string
	Msg  string
}

// Trace is the record of one instrumented execution.
type Trace struct {
	ExecutedCodeObjects map[int]bool
	PredicateCounts     map[int]int64
	TrueDistances       map[int]float64 // minimum observed, un-normalized
	FalseDistances      map[int]float64
	CoveredLines        map[int]bool
	Instructions        []ExecutedInstr

	Outcomes []StatementOutcome

	Runtime   time.Duration
	PeakRSSKB int64
	TimedOut  bool
}

// NewTrace builds an empty trace.
func NewTrace() *Trace {
	return &Trace{
		ExecutedCodeObjects: make(map[int]bool),
		PredicateCounts:     make(map[int]int64),
		TrueDistances:       make(map[int]float64),
		FalseDistances:      make(map[int]float64),
		CoveredLines:        make(map[int]bool),
	}
}

// Merge folds other into t, keeping minimum distances and unioning the
// coverage sets. Statement outcomes are appended in order.
func (t *Trace) Merge(other *Trace) {
	for id := range other.ExecutedCodeObjects {
		t.ExecutedCodeObjects[id] = true
	}
	for id, n := range other.PredicateCounts {
		t.PredicateCounts[id] += n
	}
	for id, d := range other.TrueDistances {
		if cur, ok := t.TrueDistances[id]; !ok || d < cur {
			t.TrueDistances[id] = d
		}
	}
	for id, d := range other.FalseDistances {
		if cur, ok := t.FalseDistances[id]; !ok || d < cur {
			t.FalseDistances[id] = d
		}
	}
	for id := range other.CoveredLines {
		t.CoveredLines[id] = true
	}
	t.Instructions = append(t.Instructions, other.Instructions...)
	t.Outcomes = append(t.Outcomes, other.Outcomes...)
	t.Runtime += other.Runtime
	if other.PeakRSSKB > t.PeakRSSKB {
		t.PeakRSSKB = other.PeakRSSKB
	}
	t.TimedOut = t.TimedOut || other.TimedOut
}

// DiscardAfter removes all statement outcomes recorded at or after
// position, used when an aborting statement invalidates the tail of the
// trace. Instruction events are kept.
func (t *Trace) DiscardAfter(position int) {
	kept := t.Outcomes[:0]
	for _, o := range t.Outcomes {
		if o.Position < position {
			kept = append(kept, o)
		}
	}
	t.Outcomes = kept
}
