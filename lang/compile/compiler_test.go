package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/bytecode"
)

func compileSource(t *testing.T, src string) *bytecode.Code {
	t.Helper()
	mod, _, err := lang.Parse("m", src)
	require.NoError(t, err)
	code, err := Module(mod)
	require.NoError(t, err)
	return code
}

func TestModuleShape(t *testing.T) {
	code := compileSource(t, `
fn add(a, b) { return a + b }
class Box {
	fn init(self) { self.v = 0 }
}
x = 1
`)
	// Two children: the function and the init method.
	require.Len(t, code.Children, 2)
	assert.Equal(t, "add", code.Children[0].Name)
	assert.Equal(t, "Box.init", code.Children[1].Name)
	// Module code ends with an implicit return.
	last := code.Instrs[len(code.Instrs)-1]
	assert.Equal(t, bytecode.OpReturn, last.Op)
}

func TestFunctionLocals(t *testing.T) {
	code := compileSource(t, `
fn f(a, b) {
	c = a + b
	return c
}
`)
	fn := code.Children[0]
	assert.Equal(t, []string{"a", "b"}, fn.Params)
	assert.Equal(t, []string{"a", "b", "c"}, fn.LocalVars)
	for _, in := range fn.Instrs {
		assert.NotEqual(t, bytecode.OpLoadGlobal, in.Op, "locals must not fall back to globals")
	}
}

func TestJumpTargetsInBounds(t *testing.T) {
	code := compileSource(t, `
fn f(x) {
	total = 0
	for i in range(x) {
		if i % 2 == 0 {
			continue
		}
		if i > 10 {
			break
		}
		total = total + i
	}
	while total > 0 {
		total = total - 1
	}
	try {
		total = total / x
	} except ZeroDivisionError {
		total = 0
	}
	return total
}
`)
	fn := code.Children[0]
	for i, in := range fn.Instrs {
		if bytecode.HasJumpTarget(in.Op) {
			assert.GreaterOrEqual(t, int(in.Arg), 0, "instr %d", i)
			assert.LessOrEqual(t, int(in.Arg), len(fn.Instrs), "instr %d", i)
		}
	}
}

func TestBreakOutsideLoopRejected(t *testing.T) {
	mod, _, err := lang.Parse("m", `fn f() { break }`)
	require.NoError(t, err)
	_, err = Module(mod)
	require.Error(t, err)
	var cerr *CompileError
	assert.ErrorAs(t, err, &cerr)
}

func TestConditionalCompilesToCondJump(t *testing.T) {
	code := compileSource(t, `
fn f(a, b) {
	if a == b {
		return 1
	}
	return 0
}
`)
	fn := code.Children[0]
	var sawCompare, sawCondJump bool
	for i, in := range fn.Instrs {
		if in.Op == bytecode.OpCompare {
			sawCompare = true
			require.Less(t, i+1, len(fn.Instrs))
			assert.Equal(t, bytecode.OpJumpIfFalse, fn.Instrs[i+1].Op,
				"compare feeds the conditional jump directly")
			sawCondJump = true
		}
	}
	assert.True(t, sawCompare)
	assert.True(t, sawCondJump)
}

func TestKwargCallEmitsNameTable(t *testing.T) {
	code := compileSource(t, `x = f(1, mode="fast")`)
	var call *bytecode.Instr
	for i := range code.Instrs {
		if code.Instrs[i].Op == bytecode.OpCall {
			call = &code.Instrs[i]
		}
	}
	require.NotNil(t, call)
	assert.Equal(t, int32(1), call.Arg)
	assert.Equal(t, int32(1), call.Arg2)

	foundNames := false
	for _, c := range code.Consts {
		if names, ok := c.([]string); ok {
			assert.Equal(t, []string{"mode"}, names)
			foundNames = true
		}
	}
	assert.True(t, foundNames)
}
