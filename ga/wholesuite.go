package ga

import (
	"sort"
)

// SuiteChromosome is a multiset of test cases evolved as one unit with
// aggregate fitness over all goals.
type SuiteChromosome struct {
	Tests []*Chromosome
}

// Clone deep-copies the suite.
func (s *SuiteChromosome) Clone() *SuiteChromosome {
	out := &SuiteChromosome{Tests: make([]*Chromosome, len(s.Tests))}
	for i, t := range s.Tests {
		out.Tests[i] = t.Clone()
	}
	return out
}

// Length is the total statement count across members.
func (s *SuiteChromosome) Length() int {
	n := 0
	for _, t := range s.Tests {
		n += t.Size()
	}
	return n
}

// Fitness aggregates per-goal minima: for each goal the suite scores
// its best member, and the sum is minimized.
func (s *SuiteChromosome) Fitness(goalIDs []string) float64 {
	total := 0.0
	for _, id := range goalIDs {
		best := 1.0
		for _, t := range s.Tests {
			if f := t.Fitness(id); f < best {
				best = f
			}
		}
		total += best
	}
	return total
}

// WholeSuite evolves suite chromosomes with elitism: offspring replace
// parents only when strictly better, or equal with a smaller total
// length.
type WholeSuite struct {
	*Engine
}

// Name implements Algorithm.
func (a *WholeSuite) Name() string { return "WholeSuite" }

// Run implements Algorithm.
func (a *WholeSuite) Run() *Result {
	a.begin()
	goalIDs := a.goalIDs()

	pop := make([]*SuiteChromosome, 0, a.Cfg.PopulationSize)
	for i := 0; i < a.Cfg.PopulationSize; i++ {
		pop = append(pop, a.randomSuite())
	}
	for _, s := range pop {
		a.evaluateSuite(s)
		a.updateArchiveFromSuite(s)
	}

	stoppedBy := ""
	for {
		if fired, name := a.shouldStop(); fired {
			stoppedBy = name
			break
		}
		a.sortSuites(pop, goalIDs)
		improved := false

		next := make([]*SuiteChromosome, 0, a.Cfg.PopulationSize)
		// Elitism preserves the best k unchanged.
		for i := 0; i < a.Cfg.ElitismCount && i < len(pop); i++ {
			next = append(next, pop[i])
		}
		for len(next) < a.Cfg.PopulationSize {
			p1 := a.selectSuite(pop)
			p2 := a.selectSuite(pop)
			o1, o2 := p1.Clone(), p2.Clone()
			if a.Rand.Chance(a.Cfg.CrossoverProb) {
				a.crossSuites(o1, o2)
			}
			a.mutateSuite(o1)
			a.mutateSuite(o2)
			a.evaluateSuite(o1)
			a.evaluateSuite(o2)
			for _, o := range []*SuiteChromosome{o1, o2} {
				if a.updateArchiveFromSuite(o) {
					improved = true
				}
			}
			// Offspring enter only when strictly better than their own
			// parent, or equally fit and shorter.
			for _, pair := range [][2]*SuiteChromosome{{o1, p1}, {o2, p2}} {
				o, p := pair[0], pair[1]
				of, pf := o.Fitness(goalIDs), p.Fitness(goalIDs)
				if of < pf || (of == pf && o.Length() < p.Length()) {
					next = append(next, o)
				} else {
					next = append(next, p)
				}
				if len(next) >= a.Cfg.PopulationSize {
					break
				}
			}
		}
		pop = next
		a.afterIteration(improved)
	}
	return a.result(stoppedBy)
}

func (a *WholeSuite) goalIDs() []string {
	goals := a.Eval.Goals()
	ids := make([]string, len(goals))
	for i, g := range goals {
		ids[i] = g.ID()
	}
	return ids
}

func (a *WholeSuite) randomSuite() *SuiteChromosome {
	n := 1 + a.Rand.Intn(maxInt(1, a.Cfg.MaxSuiteLength/5))
	s := &SuiteChromosome{}
	for i := 0; i < n; i++ {
		size := 1 + a.Rand.Intn(maxInt(1, a.Cfg.MaxTestLength/4))
		s.Tests = append(s.Tests, NewChromosome(a.Factory.RandomTestCase(size)))
	}
	return s
}

func (a *WholeSuite) evaluateSuite(s *SuiteChromosome) {
	for _, t := range s.Tests {
		if !t.Evaluated() {
			a.Eval.Evaluate(t)
		}
	}
}

func (a *WholeSuite) updateArchiveFromSuite(s *SuiteChromosome) bool {
	improved := false
	for _, t := range s.Tests {
		if a.Archive.Update(t) {
			improved = true
		}
	}
	return improved
}

func (a *WholeSuite) sortSuites(pop []*SuiteChromosome, goalIDs []string) {
	sort.SliceStable(pop, func(i, j int) bool {
		fi, fj := pop[i].Fitness(goalIDs), pop[j].Fitness(goalIDs)
		if fi != fj {
			return fi < fj
		}
		return pop[i].Length() < pop[j].Length()
	})
}

func (a *WholeSuite) selectSuite(pop []*SuiteChromosome) *SuiteChromosome {
	// Tournament over the rank-ordered population.
	best := a.Rand.Intn(len(pop))
	size := a.Cfg.TournamentSize
	if size < 2 {
		size = 2
	}
	for i := 1; i < size; i++ {
		c := a.Rand.Intn(len(pop))
		if c < best {
			best = c
		}
	}
	return pop[best]
}

// crossSuites exchanges member tests at a relative split point.
func (a *WholeSuite) crossSuites(s1, s2 *SuiteChromosome) {
	if len(s1.Tests) == 0 || len(s2.Tests) == 0 {
		return
	}
	r := a.Rand.Float64()
	c1 := int(float64(len(s1.Tests)) * r)
	c2 := int(float64(len(s2.Tests)) * r)
	tail1 := append([]*Chromosome{}, s1.Tests[c1:]...)
	tail2 := append([]*Chromosome{}, s2.Tests[c2:]...)
	s1.Tests = append(s1.Tests[:c1], tail2...)
	s2.Tests = append(s2.Tests[:c2], tail1...)
	a.boundSuite(s1)
	a.boundSuite(s2)
}

func (a *WholeSuite) boundSuite(s *SuiteChromosome) {
	if len(s.Tests) > a.Cfg.MaxSuiteLength {
		s.Tests = s.Tests[:a.Cfg.MaxSuiteLength]
	}
}

// mutateSuite mutates member tests and occasionally adds or drops one.
func (a *WholeSuite) mutateSuite(s *SuiteChromosome) {
	for _, t := range s.Tests {
		if a.Rand.Chance(1.0 / float64(maxInt(1, len(s.Tests)))) {
			if a.Mutator.Mutate(t.Test) {
				t.Invalidate()
			}
		}
	}
	if a.Rand.Chance(0.1) && len(s.Tests) < a.Cfg.MaxSuiteLength {
		size := 1 + a.Rand.Intn(maxInt(1, a.Cfg.MaxTestLength/4))
		s.Tests = append(s.Tests, NewChromosome(a.Factory.RandomTestCase(size)))
	}
	if a.Rand.Chance(0.1) && len(s.Tests) > 1 {
		i := a.Rand.Intn(len(s.Tests))
		s.Tests = append(s.Tests[:i], s.Tests[i+1:]...)
	}
}
