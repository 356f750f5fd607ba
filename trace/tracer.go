package trace

import (
	"sync"
	"sync/atomic"

	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/lang/vm"
)

// SeedSink receives values harvested by the dynamic-seeding adapter.
type SeedSink interface {
	Add(values ...any)
}

// Tracer collects trace events for one execution at a time. Storage is
// confined to the execution window opened by Begin: events arriving
// outside the window (late worker threads after an abort) are dropped
// with an early return.
type Tracer struct {
	registry *Registry
	seeds    SeedSink

	active  atomic.Bool
	current *Trace

	// recordInstrs turns on the per-instruction event stream needed by
	// the dynamic slicer. Off unless checked coverage is requested.
	recordInstrs bool
}

// NewTracer builds a tracer over the shared registry. seeds may be nil.
func NewTracer(registry *Registry, seeds SeedSink) *Tracer {
	return &Tracer{registry: registry, seeds: seeds}
}

// SetRecordInstructions toggles instruction recording for slicing.
func (t *Tracer) SetRecordInstructions(on bool) { t.recordInstrs = on }

// Registry exposes the shared metadata store.
func (t *Tracer) Registry() *Registry { return t.registry }

// Begin opens an execution window with a fresh trace.
func (t *Tracer) Begin() {
	t.current = NewTrace()
	t.active.Store(true)
}

// End closes the window and returns the collected trace.
func (t *Tracer) End() *Trace {
	t.active.Store(false)
	tr := t.current
	t.current = nil
	if tr == nil {
		tr = NewTrace()
	}
	return tr
}

// EnteredCode implements vm.TraceHook.
func (t *Tracer) EnteredCode(codeID int) {
	if !t.active.Load() {
		return
	}
	t.current.ExecutedCodeObjects[codeID] = true
}

// PassedCmpPredicate implements vm.TraceHook.
func (t *Tracer) PassedCmpPredicate(left, right vm.Value, cmp bytecode.CmpKind, predID int) {
	if !t.active.Load() {
		return
	}
	trueDist, falseDist := CmpDistances(left, right, cmp)
	t.update(predID, trueDist, falseDist)
}

// PassedBoolPredicate implements vm.TraceHook.
func (t *Tracer) PassedBoolPredicate(v vm.Value, predID int) {
	if !t.active.Load() {
		return
	}
	trueDist, falseDist := BoolDistances(v)
	t.update(predID, trueDist, falseDist)
}

// PassedIterPredicate implements vm.TraceHook.
func (t *Tracer) PassedIterPredicate(hasNext bool, predID int) {
	if !t.active.Load() {
		return
	}
	trueDist, falseDist := IterDistances(hasNext)
	t.update(predID, trueDist, falseDist)
}

// PassedExcPredicate implements vm.TraceHook.
func (t *Tracer) PassedExcPredicate(excKind string, cls *vm.ExcClass, predID int) {
	if !t.active.Load() {
		return
	}
	trueDist, falseDist := ExcMatchDistances(excKind, cls)
	t.update(predID, trueDist, falseDist)
}

func (t *Tracer) update(predID int, trueDist, falseDist float64) {
	tr := t.current
	tr.PredicateCounts[predID]++
	if cur, ok := tr.TrueDistances[predID]; !ok || trueDist < cur {
		tr.TrueDistances[predID] = trueDist
	}
	if cur, ok := tr.FalseDistances[predID]; !ok || falseDist < cur {
		tr.FalseDistances[predID] = falseDist
	}
}

// TrackLine implements vm.TraceHook.
func (t *Tracer) TrackLine(lineID int) {
	if !t.active.Load() {
		return
	}
	t.current.CoveredLines[lineID] = true
}

// TrackAccess implements vm.TraceHook. Access events ride in the
// instruction stream so the slicer sees them in order.
func (t *Tracer) TrackAccess(store bool, kind bytecode.AccessKind, name string) {
	if !t.active.Load() || !t.recordInstrs {
		return
	}
	op := bytecode.OpTraceLoad
	if store {
		op = bytecode.OpTraceStore
	}
	t.current.Instructions = append(t.current.Instructions, ExecutedInstr{
		CodeID: -1, Offset: -1, Op: op, Arg: int32(kind), Name: name,
	})
}

// HarvestSeeds implements vm.TraceHook.
func (t *Tracer) HarvestSeeds(values []vm.Value) {
	if !t.active.Load() || t.seeds == nil {
		return
	}
	plain := make([]any, 0, len(values))
	for _, v := range values {
		v = vm.Unwrap(v)
		if vm.IsPrimitive(v) && v != nil {
			plain = append(plain, v)
		}
	}
	if len(plain) > 0 {
		t.seeds.Add(plain...)
	}
}

// RecordsInstructions implements vm.TraceHook.
func (t *Tracer) RecordsInstructions() bool {
	return t.recordInstrs && t.active.Load()
}

// RecordInstr implements vm.TraceHook.
func (t *Tracer) RecordInstr(codeID, offset int, op bytecode.Opcode, arg int32, name string, line int32) {
	if !t.active.Load() {
		return
	}
	t.current.Instructions = append(t.current.Instructions, ExecutedInstr{
		CodeID: codeID, Offset: offset, Op: op, Arg: arg, Name: name, Line: line,
	})
}

// Proxy wraps a swappable tracer so execution phases can exchange the
// backing tracer without re-instrumenting the module.
type Proxy struct {
	mu    sync.RWMutex
	inner vm.TraceHook
}

// NewProxy builds a proxy around the initial hook.
func NewProxy(inner vm.TraceHook) *Proxy {
	return &Proxy{inner: inner}
}

// Swap replaces the backing hook and returns the previous one.
func (p *Proxy) Swap(hook vm.TraceHook) vm.TraceHook {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.inner
	p.inner = hook
	return prev
}

func (p *Proxy) get() vm.TraceHook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inner
}

// EnteredCode implements vm.TraceHook.
func (p *Proxy) EnteredCode(codeID int) { p.get().EnteredCode(codeID) }

// PassedCmpPredicate implements vm.TraceHook.
func (p *Proxy) PassedCmpPredicate(l, r vm.Value, cmp bytecode.CmpKind, predID int) {
	p.get().PassedCmpPredicate(l, r, cmp, predID)
}

// PassedBoolPredicate implements vm.TraceHook.
func (p *Proxy) PassedBoolPredicate(v vm.Value, predID int) {
	p.get().PassedBoolPredicate(v, predID)
}

// PassedIterPredicate implements vm.TraceHook.
func (p *Proxy) PassedIterPredicate(hasNext bool, predID int) {
	p.get().PassedIterPredicate(hasNext, predID)
}

// PassedExcPredicate implements vm.TraceHook.
func (p *Proxy) PassedExcPredicate(kind string, cls *vm.ExcClass, predID int) {
	p.get().PassedExcPredicate(kind, cls, predID)
}

// TrackLine implements vm.TraceHook.
func (p *Proxy) TrackLine(lineID int) { p.get().TrackLine(lineID) }

// TrackAccess implements vm.TraceHook.
func (p *Proxy) TrackAccess(store bool, kind bytecode.AccessKind, name string) {
	p.get().TrackAccess(store, kind, name)
}

// HarvestSeeds implements vm.TraceHook.
func (p *Proxy) HarvestSeeds(values []vm.Value) { p.get().HarvestSeeds(values) }

// RecordsInstructions implements vm.TraceHook.
func (p *Proxy) RecordsInstructions() bool { return p.get().RecordsInstructions() }

// RecordInstr implements vm.TraceHook.
func (p *Proxy) RecordInstr(codeID, offset int, op bytecode.Opcode, arg int32, name string, line int32) {
	p.get().RecordInstr(codeID, offset, op, arg, name, line)
}
