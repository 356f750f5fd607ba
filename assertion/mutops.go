// Package assertion synthesizes regression assertions from replayed
// executions and prunes them through mutation analysis.
package assertion

import (
	"fmt"

	"github.com/petrel-dev/petrel/lang"
)

// Mutant is one systematically altered copy of the target AST.
type Mutant struct {
	ID       int
	Operator string
	Detail   string
	Module   *lang.Module
	// Orders lists the constituent first-order descriptions for
	// higher-order mutants.
	Orders []string
}

// Operator enumerates and applies one class of AST mutations.
type Operator interface {
	Name() string
	// Mutations returns one mutated clone per applicable site.
	Mutations(mod *lang.Module) []*Mutant
}

// DefaultOperators is the full operator catalog.
func DefaultOperators() []Operator {
	return []Operator{
		ArithReplacement{},
		UnaryDeletion{},
		ComparisonReplacement{},
		BoolOpSwap{},
		NegationDeletion{},
		BreakContinueSwap{},
		ExceptionSwap{},
		HandlerRemoval{},
		ConstantTweak{},
	}
}

// OperatorsByName filters the catalog; an empty selection keeps all.
func OperatorsByName(names []string) []Operator {
	all := DefaultOperators()
	if len(names) == 0 {
		return all
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Operator
	for _, op := range all {
		if want[op.Name()] {
			out = append(out, op)
		}
	}
	return out
}

// mutateAt clones the module and applies edit to the site-th matching
// node of the clone. The walk order is deterministic, so site indices
// line up between enumeration and application.
func mutateAt(mod *lang.Module, match func(lang.Node) bool, edit func(lang.Node), site int) *lang.Module {
	clone := lang.Clone(mod).(*lang.Module)
	i := 0
	lang.Walk(clone, func(n lang.Node) bool {
		if match(n) {
			if i == site {
				edit(n)
			}
			i++
		}
		return true
	})
	return clone
}

func countSites(mod *lang.Module, match func(lang.Node) bool) int {
	n := 0
	lang.Walk(mod, func(node lang.Node) bool {
		if match(node) {
			n++
		}
		return true
	})
	return n
}

// ArithReplacement swaps arithmetic operators pairwise.
type ArithReplacement struct{}

func (ArithReplacement) Name() string { return "arith" }

var arithSwap = map[lang.BinOpKind]lang.BinOpKind{
	lang.OpAdd:      lang.OpSub,
	lang.OpSub:      lang.OpAdd,
	lang.OpMul:      lang.OpFloorDiv,
	lang.OpDiv:      lang.OpMul,
	lang.OpFloorDiv: lang.OpMul,
	lang.OpMod:      lang.OpMul,
}

func (op ArithReplacement) Mutations(mod *lang.Module) []*Mutant {
	match := func(n lang.Node) bool {
		_, ok := n.(*lang.BinOp)
		return ok
	}
	var out []*Mutant
	for site := 0; site < countSites(mod, match); site++ {
		m := mutateAt(mod, match, func(n lang.Node) {
			b := n.(*lang.BinOp)
			b.Op = arithSwap[b.Op]
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: m})
	}
	return out
}

// UnaryDeletion removes unary negation.
type UnaryDeletion struct{}

func (UnaryDeletion) Name() string { return "unary-del" }

func (op UnaryDeletion) Mutations(mod *lang.Module) []*Mutant {
	// The walk cannot replace a node in its parent, so the negation is
	// neutralized in place: -x becomes -(0 - x), which evaluates to x.
	match := func(n lang.Node) bool {
		u, ok := n.(*lang.UnaryOp)
		return ok && u.Op == lang.OpNeg
	}
	var out []*Mutant
	for site := 0; site < countSites(mod, match); site++ {
		m := mutateAt(mod, match, func(n lang.Node) {
			u := n.(*lang.UnaryOp)
			u.X = &lang.BinOp{Line: u.Line, Op: lang.OpSub, L: &lang.IntLit{Line: u.Line}, R: u.X}
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: m})
	}
	return out
}

// ComparisonReplacement swaps comparison operators.
type ComparisonReplacement struct{}

func (ComparisonReplacement) Name() string { return "cmp" }

var cmpSwap = map[lang.CompareKind]lang.CompareKind{
	lang.CmpEq:    lang.CmpNe,
	lang.CmpNe:    lang.CmpEq,
	lang.CmpLt:    lang.CmpLe,
	lang.CmpLe:    lang.CmpLt,
	lang.CmpGt:    lang.CmpGe,
	lang.CmpGe:    lang.CmpGt,
	lang.CmpIn:    lang.CmpNotIn,
	lang.CmpNotIn: lang.CmpIn,
	lang.CmpIs:    lang.CmpIsNot,
	lang.CmpIsNot: lang.CmpIs,
}

func (op ComparisonReplacement) Mutations(mod *lang.Module) []*Mutant {
	match := func(n lang.Node) bool {
		_, ok := n.(*lang.Compare)
		return ok
	}
	var out []*Mutant
	for site := 0; site < countSites(mod, match); site++ {
		m := mutateAt(mod, match, func(n lang.Node) {
			c := n.(*lang.Compare)
			c.Op = cmpSwap[c.Op]
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: m})
	}
	return out
}

// BoolOpSwap exchanges and with or.
type BoolOpSwap struct{}

func (BoolOpSwap) Name() string { return "boolop" }

func (op BoolOpSwap) Mutations(mod *lang.Module) []*Mutant {
	match := func(n lang.Node) bool {
		_, ok := n.(*lang.BoolOp)
		return ok
	}
	var out []*Mutant
	for site := 0; site < countSites(mod, match); site++ {
		m := mutateAt(mod, match, func(n lang.Node) {
			b := n.(*lang.BoolOp)
			if b.Op == lang.BoolAnd {
				b.Op = lang.BoolOr
			} else {
				b.Op = lang.BoolAnd
			}
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: m})
	}
	return out
}

// NegationDeletion drops logical not.
type NegationDeletion struct{}

func (NegationDeletion) Name() string { return "not-del" }

func (op NegationDeletion) Mutations(mod *lang.Module) []*Mutant {
	match := func(n lang.Node) bool {
		u, ok := n.(*lang.UnaryOp)
		return ok && u.Op == lang.OpNot
	}
	var out []*Mutant
	for site := 0; site < countSites(mod, match); site++ {
		m := mutateAt(mod, match, func(n lang.Node) {
			u := n.(*lang.UnaryOp)
			// not x -> not (not (not x)) is identity; instead flatten
			// to double negation of x, i.e. truthiness of x.
			u.X = &lang.UnaryOp{Line: u.Line, Op: lang.OpNot, X: u.X}
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: m})
	}
	return out
}

// BreakContinueSwap exchanges break and continue.
type BreakContinueSwap struct{}

func (BreakContinueSwap) Name() string { return "loopjump" }

func (op BreakContinueSwap) Mutations(mod *lang.Module) []*Mutant {
	var out []*Mutant
	// break and continue are leaves replaced via their parent block, so
	// the clone is edited through a block-level walk.
	editBlocks := func(clone *lang.Module, target int) bool {
		i := 0
		edited := false
		var visit func(body []lang.Node)
		visit = func(body []lang.Node) {
			for j, st := range body {
				switch s := st.(type) {
				case *lang.BreakStmt:
					if i == target {
						body[j] = &lang.ContinueStmt{Line: s.Line}
						edited = true
					}
					i++
				case *lang.ContinueStmt:
					if i == target {
						body[j] = &lang.BreakStmt{Line: s.Line}
						edited = true
					}
					i++
				case *lang.IfStmt:
					visit(s.Then)
					visit(s.Else)
				case *lang.WhileStmt:
					visit(s.Body)
				case *lang.ForStmt:
					visit(s.Body)
				case *lang.TryStmt:
					visit(s.Body)
					for _, h := range s.Handler {
						visit(h.Body)
					}
				case *lang.FnDecl:
					visit(s.Body)
				case *lang.ClassDecl:
					for _, mth := range s.Methods {
						visit(mth.Body)
					}
				}
			}
		}
		visit(clone.Decls)
		return edited
	}
	for site := 0; ; site++ {
		clone := lang.Clone(mod).(*lang.Module)
		if !editBlocks(clone, site) {
			break
		}
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: clone})
	}
	return out
}

// ExceptionSwap replaces the caught exception type of a handler.
type ExceptionSwap struct{}

func (ExceptionSwap) Name() string { return "exc-swap" }

var excSwap = map[string]string{
	"ValueError":        "TypeError",
	"TypeError":         "ValueError",
	"ZeroDivisionError": "ValueError",
	"IndexError":        "KeyError",
	"KeyError":          "IndexError",
	"RuntimeError":      "ValueError",
	"Error":             "ValueError",
}

func (op ExceptionSwap) Mutations(mod *lang.Module) []*Mutant {
	match := func(n lang.Node) bool {
		t, ok := n.(*lang.TryStmt)
		if !ok {
			return false
		}
		for _, h := range t.Handler {
			if h.TypeName != "" {
				return true
			}
		}
		return false
	}
	var out []*Mutant
	for site := 0; site < countSites(mod, match); site++ {
		m := mutateAt(mod, match, func(n lang.Node) {
			t := n.(*lang.TryStmt)
			for _, h := range t.Handler {
				if repl, ok := excSwap[h.TypeName]; ok && h.TypeName != "" {
					h.TypeName = repl
					return
				}
			}
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: m})
	}
	return out
}

// HandlerRemoval drops the last except clause of a try with several;
// a lone handler is replaced by one that catches Error and re-raises it.
type HandlerRemoval struct{}

func (HandlerRemoval) Name() string { return "handler-del" }

func (op HandlerRemoval) Mutations(mod *lang.Module) []*Mutant {
	match := func(n lang.Node) bool {
		_, ok := n.(*lang.TryStmt)
		return ok
	}
	var out []*Mutant
	for site := 0; site < countSites(mod, match); site++ {
		m := mutateAt(mod, match, func(n lang.Node) {
			t := n.(*lang.TryStmt)
			if len(t.Handler) > 1 {
				t.Handler = t.Handler[:len(t.Handler)-1]
				return
			}
			// Single handler: neuter it so exceptions pass through.
			t.Handler = []*lang.ExceptClause{{
				Line:     t.Line,
				TypeName: "Error",
				Bind:     "e",
				Body:     []lang.Node{&lang.RaiseStmt{Line: t.Line, Value: &lang.Name{Line: t.Line, Name: "e"}}},
			}}
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("site %d", site), Module: m})
	}
	return out
}

// ConstantTweak perturbs literal constants: integers by one in each
// direction, strings to empty, return values to none.
type ConstantTweak struct{}

func (ConstantTweak) Name() string { return "const" }

func (op ConstantTweak) Mutations(mod *lang.Module) []*Mutant {
	var out []*Mutant
	intMatch := func(n lang.Node) bool {
		_, ok := n.(*lang.IntLit)
		return ok
	}
	for _, delta := range []int64{1, -1} {
		d := delta
		for site := 0; site < countSites(mod, intMatch); site++ {
			m := mutateAt(mod, intMatch, func(n lang.Node) {
				n.(*lang.IntLit).Value += d
			}, site)
			out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("int%+d site %d", d, site), Module: m})
		}
	}
	strMatch := func(n lang.Node) bool {
		s, ok := n.(*lang.StringLit)
		return ok && s.Value != ""
	}
	for site := 0; site < countSites(mod, strMatch); site++ {
		m := mutateAt(mod, strMatch, func(n lang.Node) {
			n.(*lang.StringLit).Value = ""
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("str-empty site %d", site), Module: m})
	}
	retMatch := func(n lang.Node) bool {
		r, ok := n.(*lang.ReturnStmt)
		return ok && r.Value != nil
	}
	for site := 0; site < countSites(mod, retMatch); site++ {
		m := mutateAt(mod, retMatch, func(n lang.Node) {
			r := n.(*lang.ReturnStmt)
			r.Value = &lang.NoneLit{Line: r.Line}
		}, site)
		out = append(out, &Mutant{Operator: op.Name(), Detail: fmt.Sprintf("none-inject site %d", site), Module: m})
	}
	return out
}
