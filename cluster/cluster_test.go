package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/compile"
	"github.com/petrel-dev/petrel/lang/vm"
)

const clusterSource = `
fn triangle(a: int, b: int, c: int) -> str {
	return "scalene"
}

fn _private_helper(x: int) -> int {
	return x
}

class Queue {
	fn init(self) {
		self.items = []
		self.limit = 10
	}
	fn enqueue(self, value: int) {
		self.items.push(value)
	}
	fn dequeue(self) -> int|none {
		return none
	}
	fn _peek(self) -> int {
		return 0
	}
}
`

func buildCluster(t *testing.T, include, exclude []string) *Cluster {
	t.Helper()
	ast, _, err := lang.Parse("mod", clusterSource)
	require.NoError(t, err)
	code, err := compile.Module(ast)
	require.NoError(t, err)
	module, err := vm.New().ExecModule("mod", code)
	require.NoError(t, err)
	return Build(ast, module, include, exclude)
}

func TestClusterEnumeratesCallables(t *testing.T) {
	cl := buildCluster(t, nil, nil)

	byName := map[string]*Callable{}
	for _, ca := range cl.Callables() {
		byName[ca.Name] = ca
	}

	tri, ok := byName["mod.triangle"]
	require.True(t, ok)
	assert.Equal(t, KindFunction, tri.Kind)
	require.Len(t, tri.Params, 3)
	assert.Equal(t, "int", tri.Params[0].Type.String())
	assert.Equal(t, "str", tri.Ret.String())

	ctor, ok := byName["mod.Queue"]
	require.True(t, ok)
	assert.Equal(t, KindConstructor, ctor.Kind)
	assert.Empty(t, ctor.Params)
	assert.Equal(t, "Queue", ctor.Ret.Name)

	enq, ok := byName["mod.Queue.enqueue"]
	require.True(t, ok)
	assert.Equal(t, KindMethod, enq.Kind)
	require.Len(t, enq.Params, 2, "receiver plus value")
	assert.Equal(t, "Queue", enq.Params[0].Type.Name)

	deq, ok := byName["mod.Queue.dequeue"]
	require.True(t, ok)
	assert.Equal(t, KindUnion, deq.Ret.Kind)

	// Private names are excluded.
	assert.NotContains(t, byName, "mod._private_helper")
	assert.NotContains(t, byName, "mod.Queue._peek")

	// init-assigned fields become accessors.
	fr, ok := byName["mod.Queue.items"]
	require.True(t, ok)
	assert.Equal(t, KindFieldRead, fr.Kind)
	fw, ok := byName["mod.Queue.items="]
	require.True(t, ok)
	assert.Equal(t, KindFieldWrite, fw.Kind)
	assert.Equal(t, "items", fw.Field)
}

func TestClusterFilters(t *testing.T) {
	cl := buildCluster(t, []string{"triangle"}, nil)
	require.Len(t, cl.UnderTest(), 1)
	assert.Equal(t, "mod.triangle", cl.UnderTest()[0].Name)

	cl = buildCluster(t, nil, []string{"Queue"})
	for _, ca := range cl.Callables() {
		assert.NotContains(t, ca.Name, "Queue")
	}
}

func TestClusterResolve(t *testing.T) {
	cl := buildCluster(t, nil, nil)
	for _, ca := range cl.Callables() {
		switch ca.Kind {
		case KindFunction, KindConstructor, KindMethod:
			v, ok := cl.Resolve(ca)
			assert.True(t, ok, "resolve %s", ca.Name)
			assert.NotNil(t, v)
		}
	}
}

func TestSubtyping(t *testing.T) {
	assert.True(t, IntType.AssignableTo(Any))
	assert.True(t, Any.AssignableTo(IntType), "any flows anywhere in a dynamic target")
	assert.True(t, IntType.AssignableTo(FloatType), "numeric widening")
	assert.False(t, FloatType.AssignableTo(IntType))
	assert.False(t, NoneType.AssignableTo(IntType))
	assert.True(t, NoneType.AssignableTo(Union(IntType, NoneType)))
	assert.True(t, IntType.AssignableTo(Union(StrType, IntType)))
	assert.False(t, BoolType.AssignableTo(Union(StrType, IntType)))
	assert.True(t, Generic("list", IntType).AssignableTo(ListType))
	assert.True(t, ListType.AssignableTo(Generic("list")))
	assert.False(t, Generic("dict").AssignableTo(ListType))
}

func TestFromAnnotation(t *testing.T) {
	ty := FromAnnotation(&lang.TypeExpr{Names: []string{"int", "none"}})
	require.Equal(t, KindUnion, ty.Kind)
	assert.Equal(t, "int|none", ty.String())

	ty = FromAnnotation(&lang.TypeExpr{
		Names: []string{"list"},
		Args:  []*lang.TypeExpr{{Names: []string{"int"}}},
	})
	assert.Equal(t, "list[int]", ty.String())

	assert.Same(t, Any, FromAnnotation(nil))
}

func TestRebind(t *testing.T) {
	cl := buildCluster(t, nil, nil)
	ast, _, err := lang.Parse("mod", clusterSource)
	require.NoError(t, err)
	code, err := compile.Module(ast)
	require.NoError(t, err)
	other, err := vm.New().ExecModule("mod", code)
	require.NoError(t, err)

	rebound := cl.Rebind(other)
	assert.Equal(t, len(cl.Callables()), len(rebound.Callables()))
	v1, _ := cl.Resolve(cl.Callables()[0])
	v2, ok := rebound.Resolve(rebound.Callables()[0])
	require.True(t, ok)
	assert.NotSame(t, v1, v2, "resolution targets the new module instance")
}
