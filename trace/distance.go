// Package trace captures execution traces from instrumented Slate code
// and computes branch distances from observed operand values.
package trace

import (
	"math"

	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/lang/vm"
)

// maxDistance is reported when operands admit no sensible distance,
// e.g. heterogeneous comparisons. It normalizes to 1.0.
const maxDistance = math.MaxFloat64

// strictEpsilon separates strict from non-strict ordering distances.
const strictEpsilon = 1.0

// Normalize maps a raw distance into [0,1] via d/(d+1).
func Normalize(d float64) float64 {
	if d < 0 {
		d = 0
	}
	if math.IsInf(d, 1) || d >= maxDistance {
		return 1.0
	}
	return d / (d + 1.0)
}

// CmpDistances computes the (true, false) branch distances for a
// two-operand comparison. A distance of zero on a side means that side
// of the branch was taken.
func CmpDistances(left, right vm.Value, cmp bytecode.CmpKind) (trueDist, falseDist float64) {
	l, r := vm.Unwrap(left), vm.Unwrap(right)
	switch cmp {
	case bytecode.CmpEq:
		d := eqDistance(l, r)
		return d, boolInverse(d)
	case bytecode.CmpNe:
		d := eqDistance(l, r)
		return boolInverse(d), d
	case bytecode.CmpLt:
		return orderDistances(l, r, true, false)
	case bytecode.CmpLe:
		return orderDistances(l, r, false, false)
	case bytecode.CmpGt:
		return orderDistances(r, l, true, false)
	case bytecode.CmpGe:
		return orderDistances(r, l, false, false)
	case bytecode.CmpIn:
		d := containmentDistance(r, l)
		return d, boolInverse(d)
	case bytecode.CmpNotIn:
		d := containmentDistance(r, l)
		return boolInverse(d), d
	case bytecode.CmpIs:
		d := identityDistance(l, r)
		return d, boolInverse(d)
	case bytecode.CmpIsNot:
		d := identityDistance(l, r)
		return boolInverse(d), d
	}
	return maxDistance, maxDistance
}

// BoolDistances reports distances for a truthiness predicate.
func BoolDistances(v vm.Value) (trueDist, falseDist float64) {
	if vm.Truthy(v) {
		return 0, 1
	}
	return 1, 0
}

// IterDistances reports distances for a for-loop continuation check.
func IterDistances(hasNext bool) (trueDist, falseDist float64) {
	if hasNext {
		return 0, 1
	}
	return 1, 0
}

// ExcMatchDistances reports distances for an exception-type match: zero
// when the caught kind is a subtype of the expected class.
func ExcMatchDistances(kind string, cls *vm.ExcClass) (trueDist, falseDist float64) {
	if vm.IsSubKind(kind, cls) {
		return 0, 1
	}
	return 1, 0
}

// boolInverse is the distance of the opposite branch once one side is
// known: 0 stays unreached at 1 and vice versa, scaled to stay in the
// raw domain.
func boolInverse(d float64) float64 {
	if d == 0 {
		return 1
	}
	return 0
}

func eqDistance(l, r vm.Value) float64 {
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if lok && rok {
		return math.Abs(lf - rf)
	}
	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		return float64(leftAlignedEditDistance(ls, rs))
	}
	if lok != rok || lsok != rsok {
		// Heterogeneous operand types: maximal distance by convention.
		return maxDistance
	}
	if vm.Equal(l, r) {
		return 0
	}
	return maxDistance
}

// orderDistances computes distances for l < r (strict) or l <= r.
func orderDistances(l, r vm.Value, strict bool, _ bool) (float64, float64) {
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if lok && rok {
		if strict {
			if lf < rf {
				return 0, rf - lf
			}
			return lf - rf + strictEpsilon, 0
		}
		if lf <= rf {
			return 0, rf - lf + strictEpsilon
		}
		return lf - rf, 0
	}
	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		lev := float64(levenshtein(ls, rs))
		if strict {
			if ls < rs {
				return 0, lev + strictEpsilon
			}
			return lev + strictEpsilon, 0
		}
		if ls <= rs {
			return 0, lev + strictEpsilon
		}
		return lev, 0
	}
	return maxDistance, maxDistance
}

func identityDistance(l, r vm.Value) float64 {
	if l == r {
		return 0
	}
	return 1
}

// containmentDistance is the minimum elementwise equality distance of
// elem against the container's elements.
func containmentDistance(container, elem vm.Value) float64 {
	switch c := container.(type) {
	case *vm.List:
		best := maxDistance
		for _, it := range c.Items {
			if d := eqDistance(vm.Unwrap(it), elem); d < best {
				best = d
			}
		}
		return best
	case *vm.Dict:
		best := maxDistance
		for _, k := range c.Keys() {
			if d := eqDistance(vm.Unwrap(k), elem); d < best {
				best = d
			}
		}
		return best
	case string:
		s, ok := elem.(string)
		if !ok {
			return maxDistance
		}
		if len(s) == 0 {
			return 0
		}
		best := maxDistance
		for i := 0; i+len(s) <= len(c); i++ {
			if d := float64(leftAlignedEditDistance(c[i:i+len(s)], s)); d < best {
				best = d
			}
		}
		return best
	}
	return maxDistance
}

func numeric(v vm.Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// leftAlignedEditDistance counts character differences position by
// position plus the length difference.
func leftAlignedEditDistance(a, b string) int {
	ar, br := []rune(a), []rune(b)
	n := len(ar)
	if len(br) < n {
		n = len(br)
	}
	d := 0
	for i := 0; i < n; i++ {
		if ar[i] != br[i] {
			d++
		}
	}
	return d + abs(len(ar)-len(br))
}

func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}
	prev := make([]int, len(br)+1)
	cur := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		cur[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(br)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
