package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForVersion(t *testing.T) {
	isa, err := ForVersion(1)
	require.NoError(t, err)
	assert.Equal(t, 1, isa.Version())

	_, err = ForVersion(99)
	assert.Error(t, err)
}

func TestStackEffects(t *testing.T) {
	isa := V1{}
	cases := []struct {
		in   Instr
		want int
	}{
		{Instr{Op: OpConst}, 1},
		{Instr{Op: OpPop}, -1},
		{Instr{Op: OpBinary}, -1},
		{Instr{Op: OpStoreAttr}, -2},
		{Instr{Op: OpStoreIndex}, -3},
		{Instr{Op: OpBuildList, Arg: 3}, -2},
		{Instr{Op: OpBuildMap, Arg: 2}, -3},
		{Instr{Op: OpCall, Arg: 2}, -2},
		{Instr{Op: OpCall, Arg: 1, Arg2: 1}, -3}, // kwname table rides along
		{Instr{Op: OpTraceCmp}, 0},
		{Instr{Op: OpUnwrap, Arg: 4}, 0},
	}
	for _, tc := range cases {
		got, err := isa.StackEffect(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s", tc.in.Op)
	}
}

func TestAdapterSequencesAreStackNeutral(t *testing.T) {
	isa := V1{}
	seqs := [][]Instr{
		isa.EnteredSeq(1, 1),
		isa.CmpPredicateSeq(0, CmpEq, 1),
		isa.BoolPredicateSeq(0, 1),
		isa.IterPredicateSeq(0, 1),
		isa.ExcPredicateSeq(0, 1),
		isa.LineSeq(0, 1),
		isa.AccessSeq(AccessLocal, 0, true, 1),
		isa.SeedSeq(2, 1),
		isa.UnwrapSeq(3, 1),
	}
	for i, seq := range seqs {
		assert.NoError(t, ChainShapeCheck(isa, seq), "sequence %d", i)
	}
}

func TestChainShapeCheckRejectsImbalance(t *testing.T) {
	isa := V1{}
	err := ChainShapeCheck(isa, []Instr{{Op: OpConst}})
	assert.Error(t, err)
}

func TestBranchKindAt(t *testing.T) {
	code := &Code{
		Instrs: []Instr{
			{Op: OpLoadLocal},
			{Op: OpLoadLocal},
			{Op: OpCompare, Arg: int32(CmpLt)},
			{Op: OpJumpIfFalse, Arg: 9},
			{Op: OpGetIter},
			{Op: OpForIter, Arg: 9},
			{Op: OpExcMatch},
			{Op: OpJumpIfFalse, Arg: 9},
			{Op: OpLoadLocal},
			{Op: OpJumpIfTrue, Arg: 0},
		},
	}
	isa := V1{}
	assert.Equal(t, BranchCmp, isa.BranchKindAt(code, 3))
	assert.Equal(t, BranchFor, isa.BranchKindAt(code, 5))
	assert.Equal(t, BranchExc, isa.BranchKindAt(code, 7))
	assert.Equal(t, BranchBool, isa.BranchKindAt(code, 9))
}

func TestNameAndConstInterning(t *testing.T) {
	c := &Code{}
	a := c.NameIndex("x")
	b := c.NameIndex("y")
	assert.Equal(t, a, c.NameIndex("x"))
	assert.NotEqual(t, a, b)

	i := c.ConstIndex(int64(5))
	assert.Equal(t, i, c.ConstIndex(int64(5)))
	assert.NotEqual(t, i, c.ConstIndex(int64(6)))
}
