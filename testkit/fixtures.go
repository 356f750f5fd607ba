// Package testkit provides fixture Slate modules used by the
// end-to-end scenarios and the package tests.
package testkit

import "github.com/petrel-dev/petrel/instrument"

// TriangleSource classifies triangles by side lengths.
const TriangleSource = `
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
`

// QueueSource is an integer FIFO queue with size tracking.
const QueueSource = `
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
`

// SafeDivSource raises on a zero divisor.
const SafeDivSource = `
fn safe_div(a: int, b: int) -> float {
	if b == 0 {
		raise ZeroDivisionError("division by zero")
	}
	return a / b
}
`

// SpinSource contains an unbounded loop for timeout scenarios.
const SpinSource = `
fn spin(n: int) -> int {
	total = 0
	while true {
		total = total + n
	}
	return total
}

fn tame(n: int) -> int {
	return n + 1
}
`

// UnitSource is trivially and fully coverable, used by plateau
// scenarios.
const UnitSource = `
fn tame(n: int) -> int {
	return n + 1
}
`

// CalcSource exercises strings, containers and exception handling.
const CalcSource = `
fn classify(score: int) -> str {
	if score >= 90 {
		return "excellent"
	} elif score >= 50 {
		return "pass"
	}
	return "fail"
}

fn lookup(table: dict, key: str) -> int {
	try {
		return table[key]
	} except KeyError {
		return -1
	}
}

fn greeting(name: str) -> str {
	if name.startswith("dr_") {
		return "doctor"
	}
	return "hello " + name
}
`

// Finder serves all fixture modules from memory.
func Finder() instrument.MemFinder {
	return instrument.MemFinder{
		"triangle": TriangleSource,
		"queue":    QueueSource,
		"safediv":  SafeDivSource,
		"spin":     SpinSource,
		"unit":     UnitSource,
		"calc":     CalcSource,
	}
}
