package ga

import (
	"sort"

	"github.com/petrel-dev/petrel/coverage"
)

// RankedPopulation is the outcome of preference sorting: fronts of
// decreasing preference, each internally ordered by subvector distance.
type RankedPopulation struct {
	Fronts [][]*Chromosome
}

// Flatten returns the fronts concatenated in rank order.
func (r *RankedPopulation) Flatten() []*Chromosome {
	var out []*Chromosome
	for _, f := range r.Fronts {
		out = append(out, f...)
	}
	return out
}

// PreferenceSort ranks the population for MOSA/DynaMOSA: front zero
// holds, for each uncovered goal, the individual with the lowest
// fitness on that goal (shortest on ties); the remaining individuals
// are ranked by fast non-dominated sorting over the uncovered-goal
// vector, each front ordered by subvector distance.
func PreferenceSort(pop []*Chromosome, goals []coverage.Goal) *RankedPopulation {
	if len(pop) == 0 {
		return &RankedPopulation{}
	}
	ids := make([]string, len(goals))
	for i, g := range goals {
		ids[i] = g.ID()
	}

	inFrontZero := make(map[*Chromosome]bool)
	var frontZero []*Chromosome
	for _, id := range ids {
		var best *Chromosome
		for _, c := range pop {
			if best == nil {
				best = c
				continue
			}
			bf, cf := best.Fitness(id), c.Fitness(id)
			if cf < bf || (cf == bf && c.Size() < best.Size()) {
				best = c
			}
		}
		if best != nil && !inFrontZero[best] {
			inFrontZero[best] = true
			frontZero = append(frontZero, best)
		}
	}

	var rest []*Chromosome
	for _, c := range pop {
		if !inFrontZero[c] {
			rest = append(rest, c)
		}
	}
	fronts := [][]*Chromosome{}
	if len(frontZero) > 0 {
		sortBySubvectorDistance(frontZero, ids)
		fronts = append(fronts, frontZero)
	}
	for _, front := range fastNonDominatedSort(rest, ids) {
		sortBySubvectorDistance(front, ids)
		fronts = append(fronts, front)
	}
	return &RankedPopulation{Fronts: fronts}
}

// dominates reports Pareto dominance of a over b on the goal vector.
func dominates(a, b *Chromosome, ids []string) bool {
	strict := false
	for _, id := range ids {
		fa, fb := a.Fitness(id), b.Fitness(id)
		if fa > fb {
			return false
		}
		if fa < fb {
			strict = true
		}
	}
	return strict
}

// fastNonDominatedSort is the NSGA-II front construction.
func fastNonDominatedSort(pop []*Chromosome, ids []string) [][]*Chromosome {
	if len(pop) == 0 {
		return nil
	}
	dominated := make(map[*Chromosome][]*Chromosome)
	counts := make(map[*Chromosome]int)
	var first []*Chromosome
	for _, p := range pop {
		for _, q := range pop {
			if p == q {
				continue
			}
			if dominates(p, q, ids) {
				dominated[p] = append(dominated[p], q)
			} else if dominates(q, p, ids) {
				counts[p]++
			}
		}
		if counts[p] == 0 {
			first = append(first, p)
		}
	}
	fronts := [][]*Chromosome{first}
	for {
		var next []*Chromosome
		for _, p := range fronts[len(fronts)-1] {
			for _, q := range dominated[p] {
				counts[q]--
				if counts[q] == 0 {
					next = append(next, q)
				}
			}
		}
		if len(next) == 0 {
			return fronts
		}
		fronts = append(fronts, next)
	}
}

// sortBySubvectorDistance orders a front by decreasing subvector
// score, a fast epsilon-dominance approximation of crowding: an
// individual's score is the largest number of goals on which it
// strictly beats any single peer; shorter tests break ties.
func sortBySubvectorDistance(front []*Chromosome, ids []string) {
	if len(front) < 2 {
		return
	}
	score := make(map[*Chromosome]int, len(front))
	for _, a := range front {
		for _, b := range front {
			if a == b {
				continue
			}
			// Count goals where a strictly beats b.
			wins := 0
			for _, id := range ids {
				if a.Fitness(id) < b.Fitness(id) {
					wins++
				}
			}
			if wins > score[a] {
				score[a] = wins
			}
		}
	}
	sort.SliceStable(front, func(i, j int) bool {
		si, sj := score[front[i]], score[front[j]]
		if si != sj {
			return si > sj
		}
		return front[i].Size() < front[j].Size()
	})
}
