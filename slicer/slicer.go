// Package slicer computes dynamic backward slices over recorded
// instruction traces. Checked coverage counts a statement as covered
// only when it contributes, through the slice, to an observed value.
package slicer

import (
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/trace"
)

// Slice computes the backward slice over the instruction events,
// starting from the event at index seed. The work list carries the
// variables whose definitions are still wanted; a store event joins
// the slice when it defines a wanted variable, and it pulls in the
// run of load events that fed it (the operand stack is not recorded,
// so the contiguous loads before a store approximate its operands).
func Slice(events []trace.ExecutedInstr, seed int) map[int]bool {
	if seed < 0 || seed >= len(events) {
		return nil
	}
	inSlice := map[int]bool{seed: true}
	uses := map[string]bool{}
	control := map[int]bool{events[seed].CodeID: true}

	join := func(i int) {
		inSlice[i] = true
		ev := events[i]
		if name, ok := loadedName(ev); ok {
			uses[name] = true
		}
		control[ev.CodeID] = true
	}
	// Loads feeding the seed join immediately.
	if name, ok := loadedName(events[seed]); ok {
		uses[name] = true
	} else {
		for j := seed - 1; j >= 0 && isLoadEvent(events[j].Op) && events[j].CodeID == events[seed].CodeID; j-- {
			join(j)
		}
	}

	for i := seed - 1; i >= 0; i-- {
		if inSlice[i] {
			continue
		}
		ev := events[i]
		def, defined := definedName(ev)
		if defined && uses[def] && control[ev.CodeID] {
			join(i)
			delete(uses, def)
			// Pull in the contiguous loads that produced the stored
			// value.
			for j := i - 1; j >= 0 && isLoadEvent(events[j].Op) && events[j].CodeID == ev.CodeID; j-- {
				join(j)
			}
			continue
		}
		// Branches controlling a sliced later event join the slice with
		// their operand loads.
		if isBranchEvent(ev.Op) && control[ev.CodeID] && anyLaterSliced(inSlice, events, i, ev.CodeID) {
			join(i)
			for j := i - 1; j >= 0 && isLoadEvent(events[j].Op) && events[j].CodeID == ev.CodeID; j-- {
				join(j)
			}
		}
	}
	return inSlice
}

// anyLaterSliced reports whether an already-sliced event of the same
// code object follows i.
func anyLaterSliced(inSlice map[int]bool, events []trace.ExecutedInstr, i int, codeID int) bool {
	for j := range inSlice {
		if j > i && events[j].CodeID == codeID {
			return true
		}
	}
	return false
}

func isBranchEvent(op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpJumpIfFalse, bytecode.OpJumpIfTrue, bytecode.OpForIter:
		return true
	}
	return false
}

func isLoadEvent(op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpLoadLocal, bytecode.OpLoadGlobal, bytecode.OpLoadAttr,
		bytecode.OpLoadIndex, bytecode.OpTraceLoad, bytecode.OpConst:
		return true
	}
	return false
}

// definedName returns the variable a dynamic event defines.
func definedName(ev trace.ExecutedInstr) (string, bool) {
	switch ev.Op {
	case bytecode.OpStoreLocal, bytecode.OpStoreGlobal, bytecode.OpStoreAttr,
		bytecode.OpStoreIndex, bytecode.OpTraceStore:
		return ev.Name, true
	}
	return "", false
}

// loadedName returns the variable a dynamic event reads.
func loadedName(ev trace.ExecutedInstr) (string, bool) {
	switch ev.Op {
	case bytecode.OpLoadLocal, bytecode.OpLoadGlobal, bytecode.OpLoadAttr,
		bytecode.OpLoadIndex, bytecode.OpTraceLoad:
		return ev.Name, true
	}
	return "", false
}

// CheckedLines computes the set of line ids whose instructions appear
// in the backward slice of any return-producing instruction of the
// trace. These are the statements an assertion on the observed values
// would check.
func CheckedLines(tr *trace.Trace, registry *trace.Registry) map[int]bool {
	events := tr.Instructions
	covered := map[int]bool{}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Op != bytecode.OpReturn {
			continue
		}
		for idx := range Slice(events, i) {
			ev := events[idx]
			if ev.Line <= 0 || ev.CodeID < 0 {
				continue
			}
			meta := registry.CodeObject(ev.CodeID)
			if meta == nil || meta.Skipped {
				continue
			}
			lineID := registry.RegisterLine(meta.Code.Module, int(ev.Line))
			covered[lineID] = true
		}
	}
	return covered
}
