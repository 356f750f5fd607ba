package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFunctionWithAnnotations(t *testing.T) {
	mod, _, err := Parse("m", `
fn triangle(a: int, b: int, c: int) -> str {
	if a == b and b == c {
		return "equilateral"
	}
	return "scalene"
}
`)
	require.NoError(t, err)
	require.Len(t, mod.Decls, 1)

	fn, ok := mod.Decls[0].(*FnDecl)
	require.True(t, ok)
	assert.Equal(t, "triangle", fn.Name)
	require.Len(t, fn.Params, 3)
	assert.Equal(t, []string{"int"}, fn.Params[0].Type.Names)
	require.NotNil(t, fn.Ret)
	assert.Equal(t, []string{"str"}, fn.Ret.Names)
	require.Len(t, fn.Body, 2)

	ifst, ok := fn.Body[0].(*IfStmt)
	require.True(t, ok)
	boolop, ok := ifst.Cond.(*BoolOp)
	require.True(t, ok)
	assert.Equal(t, BoolAnd, boolop.Op)
}

func TestParseUnionAndGenericTypes(t *testing.T) {
	mod, _, err := Parse("m", `fn f(x: int|none, xs: list[int]) { return }`)
	require.NoError(t, err)
	fn := mod.Decls[0].(*FnDecl)
	assert.Equal(t, []string{"int", "none"}, fn.Params[0].Type.Names)
	assert.Equal(t, []string{"list"}, fn.Params[1].Type.Names)
	require.Len(t, fn.Params[1].Type.Args, 1)
	assert.Equal(t, []string{"int"}, fn.Params[1].Type.Args[0].Names)
}

func TestParseClass(t *testing.T) {
	mod, _, err := Parse("m", `
class Queue {
	fn init(self) { self.items = [] }
	fn size(self) -> int { return len(self.items) }
}
`)
	require.NoError(t, err)
	cls, ok := mod.Decls[0].(*ClassDecl)
	require.True(t, ok)
	assert.Equal(t, "Queue", cls.Name)
	require.Len(t, cls.Methods, 2)
	assert.Equal(t, "init", cls.Methods[0].Name)

	assign, ok := cls.Methods[0].Body[0].(*AssignStmt)
	require.True(t, ok)
	attr, ok := assign.Target.(*Attr)
	require.True(t, ok)
	assert.Equal(t, "items", attr.Name)
}

func TestParseTryExcept(t *testing.T) {
	mod, _, err := Parse("m", `
fn f(d: dict, k: str) -> int {
	try {
		return d[k]
	} except KeyError as e {
		return -1
	} except {
		return -2
	}
}
`)
	require.NoError(t, err)
	fn := mod.Decls[0].(*FnDecl)
	try, ok := fn.Body[0].(*TryStmt)
	require.True(t, ok)
	require.Len(t, try.Handler, 2)
	assert.Equal(t, "KeyError", try.Handler[0].TypeName)
	assert.Equal(t, "e", try.Handler[0].Bind)
	assert.Equal(t, "", try.Handler[1].TypeName)
}

func TestParseElifChain(t *testing.T) {
	mod, _, err := Parse("m", `
fn f(x: int) -> str {
	if x > 10 { return "big" } elif x > 5 { return "mid" } else { return "small" }
}
`)
	require.NoError(t, err)
	fn := mod.Decls[0].(*FnDecl)
	outer := fn.Body[0].(*IfStmt)
	require.Len(t, outer.Else, 1)
	inner, ok := outer.Else[0].(*IfStmt)
	require.True(t, ok)
	assert.Len(t, inner.Else, 1)
}

func TestParseKeywordArguments(t *testing.T) {
	mod, _, err := Parse("m", `x = f(1, 2, mode="fast")`)
	require.NoError(t, err)
	assign := mod.Decls[0].(*AssignStmt)
	call := assign.Value.(*Call)
	assert.Len(t, call.Args, 2)
	require.Len(t, call.Names, 1)
	assert.Equal(t, "mode", call.Names[0])
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		`fn f( { }`,
		`1 = 2`,
		`try { return 1 }`,
		`fn f() { break }`, // parses; compile rejects, not parse
	}
	for _, src := range cases[:3] {
		_, _, err := Parse("m", src)
		assert.Error(t, err, "source %q", src)
	}
	_, _, err := Parse("m", cases[3])
	assert.NoError(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	mod, _, err := Parse("m", `fn f(x: int) -> int { return x + 1 }`)
	require.NoError(t, err)
	clone := Clone(mod).(*Module)
	// Mutating the clone must not touch the original.
	cfn := clone.Decls[0].(*FnDecl)
	ret := cfn.Body[0].(*ReturnStmt)
	ret.Value.(*BinOp).Op = OpSub

	ofn := mod.Decls[0].(*FnDecl)
	assert.Equal(t, OpAdd, ofn.Body[0].(*ReturnStmt).Value.(*BinOp).Op)
}
