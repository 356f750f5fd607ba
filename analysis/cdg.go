package analysis

import "github.com/petrel-dev/petrel/lang/bytecode"

// CDG is the control-dependence graph of one code object, derived from
// post-dominance (Ferrante et al.).
type CDG struct {
	CFG *CFG
	// deps maps a block to the blocks it is control-dependent on.
	deps map[*Block][]*Block
}

// BuildCDG computes control dependences from the CFG.
func BuildCDG(g *CFG) *CDG {
	ipdom := g.PostDominators()
	cdg := &CDG{CFG: g, deps: make(map[*Block][]*Block)}
	add := func(node, on *Block) {
		for _, d := range cdg.deps[node] {
			if d == on {
				return
			}
		}
		cdg.deps[node] = append(cdg.deps[node], on)
	}
	// postdominates reports whether a postdominates b.
	postdominates := func(a, b *Block) bool {
		for cur := b; ; {
			if cur == a {
				return true
			}
			next, ok := ipdom[cur]
			if !ok || next == cur {
				return false
			}
			cur = next
		}
	}
	for _, a := range g.allBlocks() {
		for _, b := range a.Succs {
			if postdominates(b, a) {
				continue
			}
			stop := ipdom[a]
			for cur := b; cur != nil && cur != stop; {
				add(cur, a)
				next, ok := ipdom[cur]
				if !ok || next == cur {
					break
				}
				cur = next
			}
		}
	}
	return cdg
}

// ControllingBlocks returns the blocks b is directly control-dependent
// on. An empty result means b executes whenever the code object does.
func (c *CDG) ControllingBlocks(b *Block) []*Block { return c.deps[b] }

// PredicateTree relates instrumented predicates of one code object by
// control dependence: a child predicate only becomes reachable once its
// parent branched the right way.
type PredicateTree struct {
	// Parents maps predicate id -> controlling predicate ids.
	Parents map[int][]int
	// Roots are predicates with no controlling predicate.
	Roots []int
}

// BuildPredicateTree locates every predicate trace instruction in the
// instrumented code and links it to the predicates controlling its
// block. predAt maps each block to the ids of the predicates it holds.
func BuildPredicateTree(g *CFG, cdg *CDG) *PredicateTree {
	predAt := make(map[*Block][]int)
	for i, in := range g.Code.Instrs {
		switch in.Op {
		case bytecode.OpTraceCmp, bytecode.OpTraceBool, bytecode.OpTraceIter, bytecode.OpTraceExc:
			b := g.BlockAt(i)
			predAt[b] = append(predAt[b], int(in.Arg))
		}
	}
	tree := &PredicateTree{Parents: make(map[int][]int)}
	// nearestPredicates walks control dependences transitively until
	// blocks holding predicates are found.
	var nearest func(b *Block, seen map[*Block]bool) []int
	nearest = func(b *Block, seen map[*Block]bool) []int {
		if seen[b] {
			return nil
		}
		seen[b] = true
		var out []int
		for _, dep := range cdg.ControllingBlocks(b) {
			if ids := predAt[dep]; len(ids) > 0 {
				// The predicate deciding entry into this block is the
				// last one in the controlling block.
				out = append(out, ids[len(ids)-1])
				continue
			}
			out = append(out, nearest(dep, seen)...)
		}
		return out
	}
	for b, ids := range predAt {
		parents := nearest(b, map[*Block]bool{})
		for _, id := range ids {
			// Predicates in the same block share the block's parents;
			// among themselves they are sequential, not dependent.
			ps := make([]int, 0, len(parents))
			for _, p := range parents {
				if p != id {
					ps = append(ps, p)
				}
			}
			tree.Parents[id] = ps
			if len(ps) == 0 {
				tree.Roots = append(tree.Roots, id)
			}
		}
	}
	return tree
}
