package testcase

import (
	"github.com/petrel-dev/petrel/core"
)

// Crossover recombines two parents at a shared relative split point.
// The head of one parent is concatenated with the tail of the other;
// tail references are rebuilt by structural mapping onto compatible
// head references, and tail statements that cannot be resolved are
// discarded. Each offspring is bounded by the longer parent.
type Crossover struct {
	Rand *core.Source
}

// NewCrossover builds the single-point relative crossover.
func NewCrossover(rng *core.Source) *Crossover {
	return &Crossover{Rand: rng}
}

// Apply produces two offspring from p1 and p2. The parents are not
// modified.
func (c *Crossover) Apply(p1, p2 *TestCase) (*TestCase, *TestCase) {
	if p1.Size() < 2 || p2.Size() < 2 {
		return p1.Clone(), p2.Clone()
	}
	r := c.Rand.Float64()
	cut1 := int(float64(p1.Size()-1)*r) + 1
	cut2 := int(float64(p2.Size()-1)*r) + 1

	bound := p1.Size()
	if p2.Size() > bound {
		bound = p2.Size()
	}
	o1 := c.splice(p1, cut1, p2, cut2, bound)
	o2 := c.splice(p2, cut2, p1, cut1, bound)
	return o1, o2
}

// splice builds head[0:cutHead) + tail[cutTail:) with reference
// remapping.
func (c *Crossover) splice(head *TestCase, cutHead int, tail *TestCase, cutTail int, bound int) *TestCase {
	o := New()
	for i := 0; i < cutHead && i < head.Size(); i++ {
		o.Statements = append(o.Statements, head.Statements[i].clone())
	}
	// remap maps tail positions to offspring positions; NoRef marks
	// unresolvable references.
	remap := make([]int, tail.Size())
	for i := range remap {
		remap[i] = NoRef
	}
	for i := cutTail; i < tail.Size(); i++ {
		s := tail.Statements[i].clone()
		resolved := true
		rebind := func(r int) int {
			if r == NoRef {
				return NoRef
			}
			if r >= cutTail {
				// Reference into the copied tail segment.
				if remap[r] == NoRef {
					resolved = false
					return NoRef
				}
				return remap[r]
			}
			// Reference into the tail parent's head: map structurally
			// onto a compatible reference of the new head.
			want := tail.Statements[r].RetType
			options := o.PositionsOfType(want, len(o.Statements))
			if len(options) == 0 {
				resolved = false
				return NoRef
			}
			// Prefer the same structural position when it fits.
			for _, opt := range options {
				if opt == r {
					return opt
				}
			}
			return options[c.Rand.Intn(len(options))]
		}
		s.Recv = rebind(s.Recv)
		s.Source = rebind(s.Source)
		for j := range s.Args {
			s.Args[j] = rebind(s.Args[j])
		}
		for j := range s.KwArgs {
			s.KwArgs[j] = rebind(s.KwArgs[j])
		}
		for j := range s.Elems {
			s.Elems[j] = rebind(s.Elems[j])
		}
		if !resolved {
			continue
		}
		remap[i] = len(o.Statements)
		o.Statements = append(o.Statements, s)
		if len(o.Statements) >= bound {
			break
		}
	}
	o.RepairReferences()
	return o
}
