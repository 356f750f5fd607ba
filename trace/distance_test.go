package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/lang/vm"
)

func TestNormalizeBounds(t *testing.T) {
	cases := []float64{0, 0.5, 1, 10, 1e6, maxDistance}
	for _, d := range cases {
		n := Normalize(d)
		assert.GreaterOrEqual(t, n, 0.0)
		assert.LessOrEqual(t, n, 1.0)
	}
	assert.Equal(t, 0.0, Normalize(0))
	assert.Equal(t, 1.0, Normalize(maxDistance))
	assert.InDelta(t, 0.5, Normalize(1), 1e-9)
}

func TestNumericEqualityDistance(t *testing.T) {
	trueDist, falseDist := CmpDistances(int64(5), int64(5), bytecode.CmpEq)
	assert.Equal(t, 0.0, trueDist)
	assert.Equal(t, 1.0, falseDist)

	trueDist, falseDist = CmpDistances(int64(3), int64(10), bytecode.CmpEq)
	assert.Equal(t, 7.0, trueDist)
	assert.Equal(t, 0.0, falseDist)
}

func TestOrderingDistances(t *testing.T) {
	// 3 < 10 holds.
	trueDist, falseDist := CmpDistances(int64(3), int64(10), bytecode.CmpLt)
	assert.Equal(t, 0.0, trueDist)
	assert.Equal(t, 7.0, falseDist)

	// 10 < 3 fails with a gradient towards flipping.
	trueDist, falseDist = CmpDistances(int64(10), int64(3), bytecode.CmpLt)
	assert.Equal(t, 8.0, trueDist) // 10-3+epsilon
	assert.Equal(t, 0.0, falseDist)

	// Gt mirrors Lt.
	trueDist, _ = CmpDistances(int64(10), int64(3), bytecode.CmpGt)
	assert.Equal(t, 0.0, trueDist)
}

func TestStringDistances(t *testing.T) {
	trueDist, _ := CmpDistances("abc", "abc", bytecode.CmpEq)
	assert.Equal(t, 0.0, trueDist)

	trueDist, _ = CmpDistances("abc", "abd", bytecode.CmpEq)
	assert.Equal(t, 1.0, trueDist)

	trueDist, _ = CmpDistances("ab", "abcd", bytecode.CmpEq)
	assert.Equal(t, 2.0, trueDist, "left-aligned edit distance includes the length gap")
}

func TestHeterogeneousComparisonIsMaximal(t *testing.T) {
	trueDist, _ := CmpDistances("abc", int64(3), bytecode.CmpEq)
	assert.Equal(t, 1.0, Normalize(trueDist))

	trueDist, falseDist := CmpDistances("abc", int64(3), bytecode.CmpLt)
	assert.Equal(t, 1.0, Normalize(trueDist))
	assert.Equal(t, 1.0, Normalize(falseDist))
}

func TestContainmentDistance(t *testing.T) {
	list := &vm.List{Items: []vm.Value{int64(10), int64(20)}}
	trueDist, falseDist := CmpDistances(int64(10), list, bytecode.CmpIn)
	assert.Equal(t, 0.0, trueDist)
	assert.Equal(t, 1.0, falseDist)

	trueDist, _ = CmpDistances(int64(13), list, bytecode.CmpIn)
	assert.Equal(t, 3.0, trueDist, "minimum elementwise distance")
}

func TestIdentityDistance(t *testing.T) {
	l := &vm.List{}
	trueDist, _ := CmpDistances(l, l, bytecode.CmpIs)
	assert.Equal(t, 0.0, trueDist)

	trueDist, _ = CmpDistances(l, &vm.List{}, bytecode.CmpIs)
	assert.Equal(t, 1.0, trueDist)
}

func TestExceptionMatchDistance(t *testing.T) {
	trueDist, _ := ExcMatchDistances("ValueError", vm.ErrorClass)
	assert.Equal(t, 0.0, trueDist, "subtype matches")

	trueDist, _ = ExcMatchDistances("ValueError", vm.KeyErrorClass)
	assert.Equal(t, 1.0, trueDist)
}

func TestBoolAndIterDistances(t *testing.T) {
	trueDist, falseDist := BoolDistances(int64(1))
	assert.Equal(t, 0.0, trueDist)
	assert.Equal(t, 1.0, falseDist)

	trueDist, falseDist = IterDistances(false)
	assert.Equal(t, 1.0, trueDist)
	assert.Equal(t, 0.0, falseDist)
}

func TestAllDistancesNormalizeIntoUnitInterval(t *testing.T) {
	pairs := []struct{ l, r vm.Value }{
		{int64(1), int64(1 << 40)},
		{-1.5, 2.5},
		{"", "longstringvalue"},
		{"a", int64(0)},
		{true, false},
	}
	for _, p := range pairs {
		for cmp := bytecode.CmpEq; cmp <= bytecode.CmpIsNot; cmp++ {
			trueDist, falseDist := CmpDistances(p.l, p.r, cmp)
			assert.GreaterOrEqual(t, Normalize(trueDist), 0.0)
			assert.LessOrEqual(t, Normalize(trueDist), 1.0)
			assert.GreaterOrEqual(t, Normalize(falseDist), 0.0)
			assert.LessOrEqual(t, Normalize(falseDist), 1.0)
		}
	}
}
