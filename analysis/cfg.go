// Package analysis builds control-flow and control-dependence graphs
// over Slate code objects. DynaMOSA's goal activation and the approach
// level of the branch fitness both read the CDG.
package analysis

import (
	"sort"

	"github.com/petrel-dev/petrel/lang/bytecode"
)

// Block is a basic block: a contiguous instruction slice of one code
// object. Entry and exit are synthetic blocks with Start == End == -1.
type Block struct {
	Index int
	Start int // first instruction index, inclusive
	End   int // last instruction index, inclusive

	Succs []*Block
	Preds []*Block
}

// IsSynthetic reports whether b is the entry or exit block.
func (b *Block) IsSynthetic() bool { return b.Start < 0 }

// CFG is the control-flow graph of one code object.
type CFG struct {
	Code   *bytecode.Code
	Entry  *Block
	Exit   *Block
	Blocks []*Block // real blocks ordered by Start

	// blockOf maps an instruction index to its containing block.
	blockOf []*Block
}

// BlockAt returns the block containing instruction index i.
func (g *CFG) BlockAt(i int) *Block {
	if i < 0 || i >= len(g.blockOf) {
		return nil
	}
	return g.blockOf[i]
}

// BuildCFG constructs the CFG of code under the given ISA.
func BuildCFG(isa bytecode.ISA, code *bytecode.Code) *CFG {
	instrs := code.Instrs
	leaders := map[int]bool{0: true}
	for i, in := range instrs {
		if bytecode.HasJumpTarget(in.Op) {
			leaders[int(in.Arg)] = true
			if i+1 < len(instrs) {
				leaders[i+1] = true
			}
		}
		if in.Op == bytecode.OpReturn || in.Op == bytecode.OpRaise {
			if i+1 < len(instrs) {
				leaders[i+1] = true
			}
		}
	}
	starts := make([]int, 0, len(leaders))
	for s := range leaders {
		if s < len(instrs) {
			starts = append(starts, s)
		}
	}
	sort.Ints(starts)

	g := &CFG{
		Code:    code,
		Entry:   &Block{Index: -1, Start: -1, End: -1},
		Exit:    &Block{Index: -2, Start: -1, End: -1},
		blockOf: make([]*Block, len(instrs)),
	}
	for bi, s := range starts {
		end := len(instrs) - 1
		if bi+1 < len(starts) {
			end = starts[bi+1] - 1
		}
		b := &Block{Index: bi, Start: s, End: end}
		g.Blocks = append(g.Blocks, b)
		for i := s; i <= end; i++ {
			g.blockOf[i] = b
		}
	}

	link := func(from, to *Block) {
		for _, s := range from.Succs {
			if s == to {
				return
			}
		}
		from.Succs = append(from.Succs, to)
		to.Preds = append(to.Preds, from)
	}

	if len(g.Blocks) > 0 {
		link(g.Entry, g.Blocks[0])
	} else {
		link(g.Entry, g.Exit)
	}
	for _, b := range g.Blocks {
		last := instrs[b.End]
		switch {
		case last.Op == bytecode.OpReturn || last.Op == bytecode.OpRaise:
			link(b, g.Exit)
		case last.Op == bytecode.OpJump:
			link(b, g.blockOf[int(last.Arg)])
		case isa.IsCondJump(last.Op):
			link(b, g.blockOf[int(last.Arg)])
			if b.End+1 < len(instrs) {
				link(b, g.blockOf[b.End+1])
			} else {
				link(b, g.Exit)
			}
		default:
			if b.End+1 < len(instrs) {
				link(b, g.blockOf[b.End+1])
			} else {
				link(b, g.Exit)
			}
		}
		// A handler target is reachable from anywhere in its protected
		// region; modeling the edge from the setup block keeps the CDG
		// conservative without per-instruction exceptional edges.
		for i := b.Start; i <= b.End; i++ {
			if instrs[i].Op == bytecode.OpSetupExcept {
				link(b, g.blockOf[int(instrs[i].Arg)])
			}
		}
	}
	return g
}

// allBlocks returns entry + real blocks + exit.
func (g *CFG) allBlocks() []*Block {
	out := make([]*Block, 0, len(g.Blocks)+2)
	out = append(out, g.Entry)
	out = append(out, g.Blocks...)
	out = append(out, g.Exit)
	return out
}

// PostDominators computes the immediate post-dominator of every block
// via the iterative dataflow algorithm on the reversed graph.
func (g *CFG) PostDominators() map[*Block]*Block {
	blocks := g.allBlocks()
	index := make(map[*Block]int, len(blocks))
	for i, b := range blocks {
		index[b] = i
	}
	// Reverse post-order on the reversed CFG, starting from exit.
	order := make([]*Block, 0, len(blocks))
	seen := make(map[*Block]bool, len(blocks))
	var dfs func(b *Block)
	dfs = func(b *Block) {
		seen[b] = true
		for _, p := range b.Preds {
			if !seen[p] {
				dfs(p)
			}
		}
		order = append(order, b)
	}
	dfs(g.Exit)
	// order is post-order of the reverse traversal; reverse it.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	ipdom := make(map[*Block]*Block, len(blocks))
	ipdom[g.Exit] = g.Exit
	intersect := func(a, b *Block) *Block {
		// Walk up the current tree until the fingers meet. Positions in
		// the reverse traversal order serve as the ranking.
		pos := make(map[*Block]int, len(order))
		for i, blk := range order {
			pos[blk] = i
		}
		for a != b {
			for pos[a] > pos[b] {
				a = ipdom[a]
			}
			for pos[b] > pos[a] {
				b = ipdom[b]
			}
		}
		return a
	}
	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == g.Exit {
				continue
			}
			var newIdom *Block
			for _, s := range b.Succs {
				if _, ok := ipdom[s]; !ok {
					continue
				}
				if newIdom == nil {
					newIdom = s
				} else {
					newIdom = intersect(newIdom, s)
				}
			}
			if newIdom == nil {
				continue
			}
			if ipdom[b] != newIdom {
				ipdom[b] = newIdom
				changed = true
			}
		}
	}
	return ipdom
}
