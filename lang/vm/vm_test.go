package vm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/compile"
)

func loadModule(t *testing.T, src string) (*VM, *Module) {
	t.Helper()
	mod, _, err := lang.Parse("m", src)
	require.NoError(t, err)
	code, err := compile.Module(mod)
	require.NoError(t, err)
	machine := New()
	module, err := machine.ExecModule("m", code)
	require.NoError(t, err)
	return machine, module
}

func call(t *testing.T, machine *VM, module *Module, name string, args ...Value) (Value, error) {
	t.Helper()
	fn, ok := module.Lookup(name)
	require.True(t, ok, "missing %q", name)
	return machine.Call(fn, args, nil, nil)
}

func TestArithmeticAndComparison(t *testing.T) {
	machine, module := loadModule(t, `
fn calc(a: int, b: int) -> int {
	if a > b {
		return a - b
	}
	return b - a
}
fn fdiv(a: int, b: int) -> float {
	return a / b
}
fn imod(a: int, b: int) -> int {
	return a % b
}
`)
	v, err := call(t, machine, module, "calc", int64(7), int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = call(t, machine, module, "calc", int64(2), int64(9))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = call(t, machine, module, "fdiv", int64(7), int64(2))
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	v, err = call(t, machine, module, "imod", int64(-7), int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v, "modulo follows the divisor's sign")
}

func TestTriangleSemantics(t *testing.T) {
	machine, module := loadModule(t, `
fn triangle(a: int, b: int, c: int) -> str {
	if a <= 0 or b <= 0 or c <= 0 {
		return "not a triangle"
	}
	if a + b <= c or a + c <= b or b + c <= a {
		return "not a triangle"
	}
	if a == b and b == c {
		return "equilateral"
	}
	if a == b or b == c or a == c {
		return "isoceles"
	}
	return "scalene"
}
`)
	cases := []struct {
		a, b, c int64
		want    string
	}{
		{1, 1, 1, "equilateral"},
		{2, 2, 3, "isoceles"},
		{3, 4, 5, "scalene"},
		{1, 1, 5, "not a triangle"},
		{0, 1, 1, "not a triangle"},
	}
	for _, tc := range cases {
		v, err := call(t, machine, module, "triangle", tc.a, tc.b, tc.c)
		require.NoError(t, err)
		assert.Equal(t, tc.want, v, "triangle(%d,%d,%d)", tc.a, tc.b, tc.c)
	}
}

func TestClassesAndMethods(t *testing.T) {
	machine, module := loadModule(t, `
class Queue {
	fn init(self) {
		self.items = []
	}
	fn enqueue(self, value: int) {
		self.items.push(value)
	}
	fn dequeue(self) -> int|none {
		if len(self.items) == 0 {
			return none
		}
		return self.items.pop(0)
	}
	fn size(self) -> int {
		return len(self.items)
	}
}
`)
	cls, ok := module.Lookup("Queue")
	require.True(t, ok)
	obj, err := machine.Call(cls, nil, nil, nil)
	require.NoError(t, err)
	q, ok := obj.(*Object)
	require.True(t, ok)

	enq := &BoundMethod{Recv: q, Fn: q.Class.Methods["enqueue"]}
	_, err = machine.Call(enq, []Value{int64(11)}, nil, nil)
	require.NoError(t, err)
	_, err = machine.Call(enq, []Value{int64(22)}, nil, nil)
	require.NoError(t, err)

	size := &BoundMethod{Recv: q, Fn: q.Class.Methods["size"]}
	v, err := machine.Call(size, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	deq := &BoundMethod{Recv: q, Fn: q.Class.Methods["dequeue"]}
	v, err = machine.Call(deq, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), v, "FIFO order")

	v, err = machine.Call(deq, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(22), v)

	v, err = machine.Call(deq, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestExceptionsRaisedAndCaught(t *testing.T) {
	machine, module := loadModule(t, `
fn safe_div(a: int, b: int) -> float {
	if b == 0 {
		raise ZeroDivisionError("division by zero")
	}
	return a / b
}
fn lookup(d: dict, k: str) -> int {
	try {
		return d[k]
	} except KeyError {
		return -1
	}
}
fn auto(a: int, b: int) -> float {
	return a / b
}
`)
	_, err := call(t, machine, module, "safe_div", int64(1), int64(0))
	require.Error(t, err)
	exc, ok := err.(*Exception)
	require.True(t, ok)
	assert.Equal(t, "ZeroDivisionError", exc.Kind)

	v, err := call(t, machine, module, "safe_div", int64(9), int64(2))
	require.NoError(t, err)
	assert.Equal(t, 4.5, v)

	// Division by zero raises without an explicit guard too.
	_, err = call(t, machine, module, "auto", int64(1), int64(0))
	require.Error(t, err)
	assert.Equal(t, "ZeroDivisionError", err.(*Exception).Kind)

	d := NewDict()
	d.Set("a", int64(5))
	v, err = call(t, machine, module, "lookup", d, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = call(t, machine, module, "lookup", d, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)
}

func TestCatchAllAndSubtypeMatch(t *testing.T) {
	machine, module := loadModule(t, `
fn f(kind: int) -> str {
	try {
		if kind == 0 {
			raise ValueError("v")
		}
		raise KeyError("k")
	} except Error as e {
		return e.kind
	}
}
`)
	v, err := call(t, machine, module, "f", int64(0))
	require.NoError(t, err)
	assert.Equal(t, "ValueError", v, "ValueError is a subtype of Error")

	v, err = call(t, machine, module, "f", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "KeyError", v)
}

func TestLoopsBreakContinue(t *testing.T) {
	machine, module := loadModule(t, `
fn sum_until(limit: int) -> int {
	total = 0
	for i in range(100) {
		if i % 2 == 1 {
			continue
		}
		if total > limit {
			break
		}
		total = total + i
	}
	return total
}
fn count_chars(s: str) -> int {
	n = 0
	for ch in s {
		n = n + 1
	}
	return n
}
`)
	v, err := call(t, machine, module, "sum_until", int64(10))
	require.NoError(t, err)
	assert.Equal(t, int64(12), v) // 0+2+4+6, then 12 > 10 breaks

	v, err = call(t, machine, module, "count_chars", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestStringMethodsAndMembership(t *testing.T) {
	machine, module := loadModule(t, `
fn greet(name: str) -> str {
	if name.startswith("dr_") {
		return "doctor"
	}
	if "x" in name {
		return "mystery"
	}
	return "hello " + name
}
`)
	v, err := call(t, machine, module, "greet", "dr_who")
	require.NoError(t, err)
	assert.Equal(t, "doctor", v)

	v, err = call(t, machine, module, "greet", "axel")
	require.NoError(t, err)
	assert.Equal(t, "mystery", v)

	v, err = call(t, machine, module, "greet", "ada")
	require.NoError(t, err)
	assert.Equal(t, "hello ada", v)
}

func TestKeywordArgumentsBinding(t *testing.T) {
	machine, module := loadModule(t, `
fn mix(a: int, b: int, c: int) -> int {
	return a * 100 + b * 10 + c
}
`)
	fn, _ := module.Lookup("mix")
	v, err := machine.Call(fn, []Value{int64(1)}, []string{"c", "b"}, []Value{int64(3), int64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(123), v)

	_, err = machine.Call(fn, []Value{int64(1)}, []string{"a"}, []Value{int64(9)})
	require.Error(t, err, "duplicate binding for a")
}

func TestAbortStopsUnboundedLoop(t *testing.T) {
	mod, _, err := lang.Parse("m", `
fn spin() -> int {
	total = 0
	while true {
		total = total + 1
	}
	return total
}
`)
	require.NoError(t, err)
	code, err := compile.Module(mod)
	require.NoError(t, err)

	machine := New()
	module, err := machine.ExecModule("m", code)
	require.NoError(t, err)

	abort := &atomic.Bool{}
	machine.Abort = abort
	done := make(chan error, 1)
	go func() {
		fn, _ := module.Lookup("spin")
		_, err := machine.Call(fn, nil, nil, nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	abort.Store(true)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("abort flag was not honored")
	}
}

func TestTruthinessAndEquality(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(int64(0)))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(&List{}))
	assert.True(t, Truthy(&List{Items: []Value{int64(1)}}))
	assert.True(t, Truthy("x"))

	assert.True(t, Equal(int64(2), 2.0), "int and float compare numerically")
	assert.True(t, Equal(&List{Items: []Value{int64(1)}}, &List{Items: []Value{int64(1)}}))
	assert.False(t, Equal(&List{Items: []Value{int64(1)}}, &List{Items: []Value{int64(2)}}))
}

func TestProxyTransparencyInOperators(t *testing.T) {
	machine, module := loadModule(t, `
fn double(x: int) -> int {
	return x + x
}
`)
	observed := ""
	p := &Proxy{Wrapped: int64(21), Observe: func(name string) { observed = name }}
	v, err := call(t, machine, module, "double", p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, "int", observed)
}

func TestProxyRejectedByBuiltins(t *testing.T) {
	machine, module := loadModule(t, `
fn measure(xs) -> int {
	return len(xs)
}
`)
	p := &Proxy{Wrapped: &List{Items: []Value{int64(1)}}}
	_, err := call(t, machine, module, "measure", p)
	require.Error(t, err, "builtins do not tolerate proxies")
	assert.Equal(t, "TypeError", err.(*Exception).Kind)
}
