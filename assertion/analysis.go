package assertion

import (
	"sync"

	"go.uber.org/zap"

	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/compile"
	"github.com/petrel-dev/petrel/lang/vm"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
	"github.com/petrel-dev/petrel/worker"
)

// higherOrderThreshold is the first-order mutant count above which
// pairing kicks in to reduce executions.
const higherOrderThreshold = 40

// Analyzer builds mutant modules and prunes assertions that kill none
// of them. Mutant installation is serialized; each mutant lives in its
// own namespace, so the original module is never touched.
type Analyzer struct {
	Cfg     *core.Config
	Log     *zap.Logger
	AST     *lang.Module
	Cluster *cluster.Cluster
	Budget  core.Budget

	mu sync.Mutex
}

// Filter runs the assertion-enriched suite against every mutant and
// retains only assertions contributing to at least one kill. An empty
// mutant set keeps all candidate assertions unpruned.
func (a *Analyzer) Filter(suite []*testcase.TestCase, report *Report) {
	mutants := a.buildMutants()
	report.MutantsCreated = len(mutants)
	if len(mutants) == 0 {
		report.MutationScore = 0
		return
	}

	killed := 0
	timedOut := 0
	for _, m := range mutants {
		verdict := a.runAgainstMutant(m, suite)
		switch verdict {
		case mutantTimeout:
			timedOut++
		case mutantKilled:
			killed++
		}
	}
	report.MutantsKilled = killed
	report.MutantsTimeout = timedOut
	denom := report.MutantsCreated - timedOut
	if denom > 0 {
		report.MutationScore = float64(killed) / float64(denom)
	} else {
		report.MutationScore = 0
	}

	// Prune non-contributing assertions.
	for _, tc := range suite {
		kept := tc.Assertions[:0]
		for _, as := range tc.Assertions {
			if as.Contributing {
				kept = append(kept, as)
			}
		}
		tc.Assertions = kept
	}
	if a.Log != nil {
		a.Log.Info("mutation analysis finished",
			zap.Int("mutants", report.MutantsCreated),
			zap.Int("killed", killed),
			zap.Int("timed_out", timedOut),
			zap.Float64("score", report.MutationScore),
		)
	}
}

// buildMutants enumerates the configured operators, switching to
// higher-order pairs when the first-order count explodes.
func (a *Analyzer) buildMutants() []*Mutant {
	ops := OperatorsByName(a.Cfg.MutationOperators)
	var first []*Mutant
	for _, op := range ops {
		first = append(first, op.Mutations(a.AST)...)
	}
	for i, m := range first {
		m.ID = i
	}
	if len(first) <= higherOrderThreshold {
		return first
	}
	return pairHigherOrder(ops, first)
}

// pairHigherOrder combines pairs of first-order mutants of different
// operators, halving executions while preserving operator diversity.
func pairHigherOrder(ops []Operator, first []*Mutant) []*Mutant {
	var out []*Mutant
	used := make(map[int]bool)
	opOf := func(name string) Operator {
		for _, op := range ops {
			if op.Name() == name {
				return op
			}
		}
		return nil
	}
	id := 0
	for i := 0; i < len(first); i++ {
		if used[i] {
			continue
		}
		partner := -1
		for j := i + 1; j < len(first); j++ {
			if !used[j] && first[j].Operator != first[i].Operator {
				partner = j
				break
			}
		}
		if partner < 0 {
			first[i].ID = id
			id++
			out = append(out, first[i])
			used[i] = true
			continue
		}
		used[i], used[partner] = true, true
		// Re-apply the partner's operator to the already-mutated tree.
		combinedOp := opOf(first[partner].Operator)
		var combined *Mutant
		if combinedOp != nil {
			second := combinedOp.Mutations(first[i].Module)
			if len(second) > 0 {
				pick := second[0]
				combined = &Mutant{
					ID:       id,
					Operator: "higher-order",
					Detail:   first[i].Operator + "+" + first[partner].Operator,
					Module:   pick.Module,
					Orders:   []string{first[i].Detail, pick.Detail},
				}
			}
		}
		if combined == nil {
			combined = first[i]
			combined.ID = id
		}
		id++
		out = append(out, combined)
	}
	return out
}

type mutantVerdict int

const (
	mutantSurvived mutantVerdict = iota
	mutantKilled
	mutantTimeout
)

// runAgainstMutant installs the mutant in a scoped namespace, replays
// the suite, and marks the assertions that failed (and thereby killed
// it). The original module is restored implicitly on every exit path
// because the mutant never leaves this scope.
func (a *Analyzer) runAgainstMutant(m *Mutant, suite []*testcase.TestCase) mutantVerdict {
	a.mu.Lock()
	defer a.mu.Unlock()

	code, err := compile.Module(m.Module)
	if err != nil {
		// An operator produced uncompilable code; the mutant is void.
		return mutantSurvived
	}
	machine := vm.New()
	module, err := machine.ExecModule(m.Module.Name, code)
	if err != nil {
		// Import-time divergence already distinguishes the mutant, but
		// no single assertion can take the credit.
		return mutantKilled
	}
	registry := trace.NewRegistry()
	tracer := trace.NewTracer(registry, nil)
	exec := worker.NewExecutor(a.Cluster.Rebind(module), tracer, tracer, a.Budget)
	exec.ObserveState = true

	verdict := mutantSurvived
	for _, tc := range suite {
		tr := exec.Execute(tc.Clone())
		if tr.TimedOut {
			return mutantTimeout
		}
		for i := range tc.Assertions {
			if !Holds(tc.Assertions[i], tr.Outcomes) {
				tc.Assertions[i].Contributing = true
				verdict = mutantKilled
			}
		}
	}
	return verdict
}
