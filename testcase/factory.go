package testcase

import (
	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
)

// ConstantProvider hands out primitive constants harvested by the
// dynamic-seeding adapter or loaded from a seed file.
type ConstantProvider interface {
	// Constant returns a harvested value assignable to the named
	// primitive type, or false when the pool has none.
	Constant(rng *core.Source, typeName string) (any, bool)
}

// Factory synthesizes statements conforming to callable signatures by
// back-chaining: parameters reuse compatible in-scope references or
// recursively synthesize new values.
type Factory struct {
	Cluster *cluster.Cluster
	Rand    *core.Source
	Consts  ConstantProvider
	Pools   core.SeedPools

	MaxLength int
	// maxDepth bounds recursive value synthesis.
	maxDepth int
}

// NewFactory builds a factory with the configured pool ratios.
func NewFactory(cl *cluster.Cluster, rng *core.Source, consts ConstantProvider, pools core.SeedPools, maxLength int) *Factory {
	return &Factory{
		Cluster:   cl,
		Rand:      rng,
		Consts:    consts,
		Pools:     pools,
		MaxLength: maxLength,
		maxDepth:  6,
	}
}

// RandomTestCase builds a fresh case of roughly the requested size.
func (f *Factory) RandomTestCase(targetSize int) *TestCase {
	tc := New()
	if targetSize < 1 {
		targetSize = 1
	}
	for tc.Size() < targetSize {
		before := tc.Size()
		if !f.InsertRandomCall(tc, tc.Size()) {
			break
		}
		if tc.Size() == before {
			break
		}
	}
	tc.Chop(f.MaxLength)
	return tc
}

// InsertRandomCall synthesizes a call to a random callable under test
// and splices it (with any prerequisite statements) at pos. It returns
// false when nothing could be synthesized.
func (f *Factory) InsertRandomCall(tc *TestCase, pos int) bool {
	targets := f.Cluster.UnderTest()
	if len(targets) == 0 {
		return false
	}
	ca := targets[f.Rand.Intn(len(targets))]
	return f.InsertCall(tc, pos, ca)
}

// InsertCall synthesizes a call to the given callable at pos.
func (f *Factory) InsertCall(tc *TestCase, pos int, ca *cluster.Callable) bool {
	if pos < 0 || pos > tc.Size() {
		pos = tc.Size()
	}
	b := &builder{f: f, tc: tc, insertAt: pos}
	if _, ok := b.addCall(ca, 0); !ok {
		return false
	}
	tc.InsertAt(pos, b.added)
	tc.Chop(f.MaxLength)
	return true
}

// builder accumulates the statements of one synthesis step. References
// may point into the existing prefix (positions below insertAt) or at
// other added statements.
type builder struct {
	f        *Factory
	tc       *TestCase
	insertAt int
	added    []*Statement
}

func (b *builder) add(s *Statement) int {
	b.added = append(b.added, s)
	return b.insertAt + len(b.added) - 1
}

// addCall synthesizes the callable and returns the position of its
// produced reference.
func (b *builder) addCall(ca *cluster.Callable, depth int) (int, bool) {
	if depth > b.f.maxDepth {
		return NoRef, false
	}
	var s *Statement
	params := ca.Params
	switch ca.Kind {
	case cluster.KindFunction:
		s = newStatement(StmtFunctionCall)
	case cluster.KindConstructor:
		s = newStatement(StmtConstructor)
	case cluster.KindMethod:
		s = newStatement(StmtMethodCall)
		recv, ok := b.valueOfType(params[0].Type, depth+1)
		if !ok {
			return NoRef, false
		}
		s.Recv = recv
		params = params[1:]
	case cluster.KindFieldRead:
		s = newStatement(StmtFieldRead)
		recv, ok := b.valueOfType(params[0].Type, depth+1)
		if !ok {
			return NoRef, false
		}
		s.Recv = recv
		params = nil
	case cluster.KindFieldWrite:
		s = newStatement(StmtFieldWrite)
		recv, ok := b.valueOfType(params[0].Type, depth+1)
		if !ok {
			return NoRef, false
		}
		src, ok := b.valueOfType(params[1].Type, depth+1)
		if !ok {
			return NoRef, false
		}
		s.Recv = recv
		s.Source = src
		params = nil
	}
	s.Callable = ca
	for _, p := range params {
		ref, ok := b.valueOfType(p.Type, depth+1)
		if !ok {
			return NoRef, false
		}
		s.Args = append(s.Args, ref)
	}
	if ca.Ret != nil {
		s.RetType = ca.Ret
	}
	return b.add(s), true
}

// valueOfType finds or creates a reference of the wanted type: with
// even odds reuse an in-scope compatible reference, otherwise
// synthesize a fresh value.
func (b *builder) valueOfType(want *cluster.Type, depth int) (int, bool) {
	if depth > b.f.maxDepth {
		return NoRef, false
	}
	reusable := b.reusablePositions(want)
	if len(reusable) > 0 && b.f.Rand.Chance(0.5) {
		return reusable[b.f.Rand.Intn(len(reusable))], true
	}
	if pos, ok := b.createValue(want, depth); ok {
		return pos, true
	}
	if len(reusable) > 0 {
		return reusable[b.f.Rand.Intn(len(reusable))], true
	}
	return NoRef, false
}

func (b *builder) reusablePositions(want *cluster.Type) []int {
	out := b.tc.PositionsOfType(want, b.insertAt)
	for i, s := range b.added {
		if s.Kind == StmtFieldWrite {
			continue
		}
		if s.RetType != nil && s.RetType.AssignableTo(want) {
			out = append(out, b.insertAt+i)
		}
	}
	return out
}

func (b *builder) createValue(want *cluster.Type, depth int) (int, bool) {
	switch want.Kind {
	case cluster.KindAny:
		return b.createPrimitive(b.randomPrimitiveType(), depth)
	case cluster.KindNone:
		s := newStatement(StmtPrimitive)
		s.Value = nil
		s.RetType = cluster.NoneType
		return b.add(s), true
	case cluster.KindUnion:
		alt := want.Elems[b.f.Rand.Intn(len(want.Elems))]
		return b.createValue(alt, depth)
	case cluster.KindGeneric:
		return b.createPrimitive(want, depth)
	case cluster.KindClass:
		switch want.Name {
		case "int", "float", "bool", "str", "list", "dict":
			return b.createPrimitive(want, depth)
		}
		// A user class: synthesize through a producing callable,
		// preferring constructors.
		producers := b.f.Cluster.Returning(want)
		if len(producers) == 0 {
			return NoRef, false
		}
		ctors := producers[:0:0]
		for _, p := range producers {
			if p.Kind == cluster.KindConstructor {
				ctors = append(ctors, p)
			}
		}
		pick := producers
		if len(ctors) > 0 {
			pick = ctors
		}
		return b.addCall(pick[b.f.Rand.Intn(len(pick))], depth+1)
	}
	return NoRef, false
}

func (b *builder) randomPrimitiveType() *cluster.Type {
	types := []*cluster.Type{cluster.IntType, cluster.FloatType, cluster.BoolType, cluster.StrType, cluster.ListType}
	return types[b.f.Rand.Intn(len(types))]
}

// createPrimitive draws from the three configured pools: fresh random
// value, dynamic constant, or mutated seed.
func (b *builder) createPrimitive(want *cluster.Type, depth int) (int, bool) {
	name := want.Name
	if want.Kind == cluster.KindGeneric {
		name = want.Name
	}
	switch name {
	case "list":
		return b.createList(want, depth)
	case "dict":
		return b.createDict(depth)
	}
	s := newStatement(StmtPrimitive)
	s.RetType = cluster.ClassType(name)
	roll := b.f.Rand.Float64()
	switch {
	case roll < b.f.Pools.Dynamic:
		if v, ok := b.f.constant(name); ok {
			s.Value = v
			break
		}
		s.Value = b.f.randomPrimitive(name)
	case roll < b.f.Pools.Dynamic+b.f.Pools.Mutated:
		if v, ok := b.f.constant(name); ok {
			s.Value = b.f.MutateValue(v)
			break
		}
		s.Value = b.f.randomPrimitive(name)
	default:
		s.Value = b.f.randomPrimitive(name)
	}
	return b.add(s), true
}

func (f *Factory) constant(typeName string) (any, bool) {
	if f.Consts == nil {
		return nil, false
	}
	return f.Consts.Constant(f.Rand, typeName)
}

func (b *builder) createList(want *cluster.Type, depth int) (int, bool) {
	elemType := cluster.Any
	if want.Kind == cluster.KindGeneric && len(want.Elems) > 0 {
		elemType = want.Elems[0]
	}
	n := b.f.Rand.Intn(4)
	s := newStatement(StmtCollection)
	s.CollKind = "list"
	s.RetType = want
	for i := 0; i < n; i++ {
		ref, ok := b.valueOfType(elemType, depth+1)
		if !ok {
			break
		}
		s.Elems = append(s.Elems, ref)
	}
	return b.add(s), true
}

func (b *builder) createDict(depth int) (int, bool) {
	n := b.f.Rand.Intn(3)
	s := newStatement(StmtCollection)
	s.CollKind = "dict"
	s.RetType = cluster.DictType
	for i := 0; i < n; i++ {
		k, ok := b.valueOfType(cluster.StrType, depth+1)
		if !ok {
			break
		}
		v, ok := b.valueOfType(cluster.Any, depth+1)
		if !ok {
			break
		}
		s.Elems = append(s.Elems, k, v)
	}
	return b.add(s), true
}

const randomStringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (f *Factory) randomPrimitive(typeName string) any {
	switch typeName {
	case "int":
		// Mostly small magnitudes; occasional wide excursions reach
		// boundary predicates.
		if f.Rand.Chance(0.1) {
			return f.Rand.Int63n(2_000_000) - 1_000_000
		}
		return f.Rand.Int63n(201) - 100
	case "float":
		return (f.Rand.Float64() - 0.5) * 200
	case "bool":
		return f.Rand.Chance(0.5)
	case "str":
		n := f.Rand.Intn(10)
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = randomStringAlphabet[f.Rand.Intn(len(randomStringAlphabet))]
		}
		return string(buf)
	case "none":
		return nil
	}
	return nil
}

// MutateValue perturbs a primitive, used both by the mutated-seed pool
// and the change operator.
func (f *Factory) MutateValue(v any) any {
	switch x := v.(type) {
	case int64:
		d := f.Rand.NextGaussianInt(20)
		if d == 0 {
			d = 1
		}
		return x + d
	case float64:
		return x + f.Rand.NormFloat64()*10
	case bool:
		return !x
	case string:
		if len(x) == 0 {
			return string(randomStringAlphabet[f.Rand.Intn(len(randomStringAlphabet))])
		}
		runes := []rune(x)
		switch f.Rand.Intn(3) {
		case 0: // replace
			runes[f.Rand.Intn(len(runes))] = rune(randomStringAlphabet[f.Rand.Intn(len(randomStringAlphabet))])
			return string(runes)
		case 1: // delete
			i := f.Rand.Intn(len(runes))
			return string(append(runes[:i], runes[i+1:]...))
		default: // insert
			i := f.Rand.Intn(len(runes) + 1)
			out := make([]rune, 0, len(runes)+1)
			out = append(out, runes[:i]...)
			out = append(out, rune(randomStringAlphabet[f.Rand.Intn(len(randomStringAlphabet))]))
			out = append(out, runes[i:]...)
			return string(out)
		}
	}
	return v
}
