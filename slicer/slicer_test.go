package slicer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/trace"
)

// The event stream mirrors
//
//	a = 1        (store a)
//	b = 2        (store b)
//	c = a + 1    (load a, store c)
//	return c     (load c, return)
//
// so the slice from the return excludes the b definition.
func sampleEvents() []trace.ExecutedInstr {
	return []trace.ExecutedInstr{
		{CodeID: 0, Offset: 0, Op: bytecode.OpStoreLocal, Name: "a", Line: 1},
		{CodeID: 0, Offset: 1, Op: bytecode.OpStoreLocal, Name: "b", Line: 2},
		{CodeID: 0, Offset: 2, Op: bytecode.OpLoadLocal, Name: "a", Line: 3},
		{CodeID: 0, Offset: 3, Op: bytecode.OpStoreLocal, Name: "c", Line: 3},
		{CodeID: 0, Offset: 4, Op: bytecode.OpLoadLocal, Name: "c", Line: 4},
		{CodeID: 0, Offset: 5, Op: bytecode.OpReturn, Line: 4},
	}
}

func TestBackwardSliceFollowsDataDependences(t *testing.T) {
	events := sampleEvents()
	slice := Slice(events, 5)

	assert.True(t, slice[5], "seed in slice")
	assert.True(t, slice[4] || slice[3], "the c definition chain joins")
	assert.True(t, slice[0] || slice[2], "the a definition chain joins")
	assert.False(t, slice[1], "b does not contribute")
}

func TestSliceTerminatesOnEmptyWorklist(t *testing.T) {
	events := []trace.ExecutedInstr{
		{CodeID: 0, Op: bytecode.OpStoreLocal, Name: "x", Line: 1},
	}
	slice := Slice(events, 0)
	assert.Len(t, slice, 1)
}

func TestSliceOutOfRangeSeed(t *testing.T) {
	assert.Nil(t, Slice(nil, 0))
	assert.Nil(t, Slice(sampleEvents(), 99))
}

func TestCheckedLines(t *testing.T) {
	reg := trace.NewRegistry()
	code := &bytecode.Code{Module: "m", Name: "f"}
	reg.RegisterCodeObject(&trace.CodeObjectMeta{Code: code})

	tr := trace.NewTrace()
	tr.Instructions = sampleEvents()

	lines := CheckedLines(tr, reg)
	require.NotEmpty(t, lines)
	// Line 2 (the b assignment) must not be checked.
	line2 := reg.RegisterLine("m", 2)
	assert.False(t, lines[line2])
}
