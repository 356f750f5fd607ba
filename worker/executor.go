// Package worker executes built test cases against the instrumented
// target module, either in-process on dedicated worker goroutines or
// in a crash-resistant subprocess per batch.
package worker

import (
	"runtime"
	"sync"
	"time"

	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/lang/vm"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
)

// Service executes test cases and yields their traces.
type Service interface {
	Execute(tc *testcase.TestCase) *trace.Trace
}

// Counter exposes execution statistics for stopping conditions.
type Counter interface {
	Counts() (tests, statements, timeouts int64)
}

// Executor is the in-process execution service. Each test runs on a
// dedicated short-lived goroutine while the caller blocks with a hard
// deadline; abort is cooperative through the VM's shared flag.
type Executor struct {
	Cluster *cluster.Cluster
	Tracer  *trace.Tracer
	Hook    vm.TraceHook // usually a proxy over Tracer
	Budget  core.Budget

	// ObserveState turns on object-state capture (container lengths,
	// primitive public fields) for assertion replays.
	ObserveState bool

	// Stats counters, read by stopping conditions.
	testsExecuted      int64
	statementsExecuted int64
	timeouts           int64
}

// NewExecutor builds the in-process service.
func NewExecutor(cl *cluster.Cluster, tracer *trace.Tracer, hook vm.TraceHook, budget core.Budget) *Executor {
	if hook == nil {
		hook = tracer
	}
	return &Executor{Cluster: cl, Tracer: tracer, Hook: hook, Budget: budget}
}

// Counts reports executed tests, executed statements and timeouts.
func (e *Executor) Counts() (tests, statements, timeouts int64) {
	return e.testsExecuted, e.statementsExecuted, e.timeouts
}

// Execute runs the test case and returns its trace. A timed-out test
// keeps the outcomes recorded before the aborting statement and is
// flagged so archives can reject it.
func (e *Executor) Execute(tc *testcase.TestCase) *trace.Trace {
	e.testsExecuted++
	e.Tracer.Begin()
	start := time.Now()

	machine := vm.New()
	machine.Hook = e.Hook

	progressCh := make(chan progress, tc.Size()+1)
	run := &testRun{
		executor: e,
		machine:  machine,
		tc:       tc,
		env:      make([]vm.Value, tc.Size()),
	}
	go func() {
		defer func() {
			// A panicking target statement is recorded as a failing
			// exception rather than taking the generator down.
			if rec := recover(); rec != nil {
				run.mu.Lock()
				run.fatal = true
				run.mu.Unlock()
			}
			progressCh <- progress{done: true}
		}()
		for i := 0; i < tc.Size(); i++ {
			if machine.Abort.Load() {
				return
			}
			run.executeStatement(i)
			progressCh <- progress{position: i}
			if run.stopped {
				return
			}
		}
	}()

	timedOut := false
	abortedAt := -1
	deadline := time.NewTimer(e.Budget.PerTest)
	defer deadline.Stop()
	stmtTimer := time.NewTimer(e.Budget.PerStatement)
	defer stmtTimer.Stop()
	lastPos := -1

loop:
	for {
		select {
		case p := <-progressCh:
			if p.done {
				break loop
			}
			lastPos = p.position
			if !stmtTimer.Stop() {
				select {
				case <-stmtTimer.C:
				default:
				}
			}
			stmtTimer.Reset(e.Budget.PerStatement)
		case <-stmtTimer.C:
			machine.Abort.Store(true)
			timedOut = true
			abortedAt = lastPos + 1
			e.waitForWorker(progressCh)
			break loop
		case <-deadline.C:
			machine.Abort.Store(true)
			timedOut = true
			abortedAt = lastPos + 1
			e.waitForWorker(progressCh)
			break loop
		}
	}

	tr := e.Tracer.End()
	tr.Runtime = time.Since(start)
	outcomes, fatal := run.snapshotOutcomes()
	tr.Outcomes = outcomes
	tr.TimedOut = timedOut
	if fatal {
		tr.Outcomes = append(tr.Outcomes, trace.StatementOutcome{
			Position: len(tr.Outcomes),
			Exc:      &trace.ExceptionInfo{Kind: "RuntimeError", Msg: "worker crashed"},
		})
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	tr.PeakRSSKB = int64(mem.HeapAlloc / 1024)
	if timedOut {
		e.timeouts++
		// Partial data from the aborting statement onward is invalid.
		tr.DiscardAfter(abortedAt)
		tr.Outcomes = append(tr.Outcomes, trace.StatementOutcome{
			Position: abortedAt,
			Timeout:  true,
		})
	}
	e.statementsExecuted += int64(len(tr.Outcomes))
	return tr
}

// progress is one worker heartbeat: a statement finished, or the whole
// run completed.
type progress struct {
	position int
	done     bool
}

// waitForWorker drains the worker within the abort grace interval; the
// VM checks the abort flag on every instruction, so the grace expiring
// indicates native code stuck outside the dispatch loop.
func (e *Executor) waitForWorker(progressCh chan progress) {
	grace := time.NewTimer(e.Budget.AbortGrace)
	defer grace.Stop()
	for {
		select {
		case p := <-progressCh:
			if p.done {
				return
			}
		case <-grace.C:
			return
		}
	}
}

// testRun holds the mutable state of one execution. The mutex guards
// the outcome list against the abort path reading while the worker
// goroutine drains.
type testRun struct {
	executor *Executor
	machine  *vm.VM
	tc       *testcase.TestCase
	env      []vm.Value

	mu       sync.Mutex
	outcomes []trace.StatementOutcome
	stopped  bool
	fatal    bool
}

func (r *testRun) snapshotOutcomes() ([]trace.StatementOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]trace.StatementOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out, r.fatal
}

func (r *testRun) executeStatement(pos int) {
	s := r.tc.Statements[pos]
	start := time.Now()
	value, err := r.evaluate(s)
	elapsed := time.Since(start)

	out := trace.StatementOutcome{Position: pos, Elapsed: elapsed}
	if err != nil {
		if err == vm.ErrAborted {
			r.stopped = true
			out.Timeout = true
		} else if exc, ok := err.(*vm.Exception); ok {
			out.Exc = &trace.ExceptionInfo{Kind: exc.Kind, Msg: exc.Msg}
			out.TypeName = exc.Kind
			// The first raising statement ends the test.
			r.stopped = true
		} else {
			out.Exc = &trace.ExceptionInfo{Kind: "Error", Msg: err.Error()}
			r.stopped = true
		}
	} else {
		r.env[pos] = value
		out.TypeName = vm.TypeName(value)
		if vm.IsPrimitive(value) {
			out.Value = vm.Unwrap(value)
		} else if r.executor.ObserveState {
			observeState(&out, vm.Unwrap(value))
		}
		// Refine the statement's inferred type from the observation.
		if s.RetType == nil || s.RetType.Kind == cluster.KindAny {
			s.RetType = cluster.InferFromTypeName(out.TypeName)
		}
	}
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

// evaluate runs one statement against the module namespace.
func (r *testRun) evaluate(s *testcase.Statement) (vm.Value, error) {
	switch s.Kind {
	case testcase.StmtPrimitive:
		return s.Value, nil
	case testcase.StmtCollection:
		if s.CollKind == "dict" {
			d := vm.NewDict()
			for i := 0; i+1 < len(s.Elems); i += 2 {
				d.Set(vm.Unwrap(r.env[s.Elems[i]]), r.env[s.Elems[i+1]])
			}
			return d, nil
		}
		items := make([]vm.Value, len(s.Elems))
		for i, ref := range s.Elems {
			items[i] = r.env[ref]
		}
		return &vm.List{Items: items}, nil
	case testcase.StmtAssign:
		return r.env[s.Source], nil
	case testcase.StmtFieldRead:
		obj, ok := vm.Unwrap(r.env[s.Recv]).(*vm.Object)
		if !ok {
			return nil, &vm.Exception{Kind: "TypeError", Msg: "field read on non-object"}
		}
		v, ok := obj.Fields[s.Callable.Field]
		if !ok {
			return nil, &vm.Exception{Kind: "RuntimeError", Msg: "missing field " + s.Callable.Field}
		}
		return v, nil
	case testcase.StmtFieldWrite:
		obj, ok := vm.Unwrap(r.env[s.Recv]).(*vm.Object)
		if !ok {
			return nil, &vm.Exception{Kind: "TypeError", Msg: "field write on non-object"}
		}
		obj.Fields[s.Callable.Field] = r.env[s.Source]
		return nil, nil
	case testcase.StmtConstructor, testcase.StmtFunctionCall, testcase.StmtMethodCall:
		return r.call(s)
	}
	return nil, &vm.Exception{Kind: "RuntimeError", Msg: "unknown statement kind"}
}

func (r *testRun) call(s *testcase.Statement) (vm.Value, error) {
	args := make([]vm.Value, len(s.Args))
	for i, ref := range s.Args {
		args[i] = r.env[ref]
	}
	kwvalues := make([]vm.Value, len(s.KwArgs))
	for i, ref := range s.KwArgs {
		kwvalues[i] = r.env[ref]
	}
	if s.Kind == testcase.StmtMethodCall {
		recv := vm.Unwrap(r.env[s.Recv])
		obj, ok := recv.(*vm.Object)
		if !ok {
			return nil, &vm.Exception{Kind: "TypeError", Msg: "method call on non-object"}
		}
		m, ok := obj.Class.Methods[methodName(s.Callable)]
		if !ok {
			return nil, &vm.Exception{Kind: "RuntimeError", Msg: "missing method " + s.Callable.Name}
		}
		return r.machine.Call(&vm.BoundMethod{Recv: obj, Fn: m}, args, s.KwNames, kwvalues)
	}
	callee, ok := r.executor.Cluster.Resolve(s.Callable)
	if !ok {
		return nil, &vm.Exception{Kind: "RuntimeError", Msg: "unresolvable callable " + s.Callable.Name}
	}
	return r.machine.Call(callee, args, s.KwNames, kwvalues)
}

// observeState captures the observable shape of a non-primitive value:
// container length and primitive-valued public fields.
func observeState(out *trace.StatementOutcome, value vm.Value) {
	switch x := value.(type) {
	case *vm.List:
		out.HasLength = true
		out.Length = int64(len(x.Items))
	case *vm.Dict:
		out.HasLength = true
		out.Length = int64(x.Len())
	case *vm.Object:
		fields := make(map[string]any)
		for name, v := range x.Fields {
			v = vm.Unwrap(v)
			if vm.IsPrimitive(v) {
				fields[name] = v
			}
		}
		if len(fields) > 0 {
			out.Fields = fields
		}
	}
}

func methodName(ca *cluster.Callable) string {
	for i := len(ca.Name) - 1; i >= 0; i-- {
		if ca.Name[i] == '.' {
			return ca.Name[i+1:]
		}
	}
	return ca.Name
}
