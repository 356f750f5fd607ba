package worker

import (
	"fmt"
	"time"

	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
)

// The master-worker protocol: one BatchRequest per line on the worker's
// stdin, one BatchResponse per line on its stdout. Identifier spaces
// (code objects, predicates, lines) agree between both sides because
// instrumentation is deterministic over identical sources.

// ValueDTO is a serializable primitive.
type ValueDTO struct {
	Type  string  `json:"type"` // int, float, bool, str, none
	Int   int64   `json:"int,omitempty"`
	Float float64 `json:"float,omitempty"`
	Bool  bool    `json:"bool,omitempty"`
	Str   string  `json:"str,omitempty"`
}

// EncodeValue converts a primitive to its DTO.
func EncodeValue(v any) ValueDTO {
	switch x := v.(type) {
	case int64:
		return ValueDTO{Type: "int", Int: x}
	case float64:
		return ValueDTO{Type: "float", Float: x}
	case bool:
		return ValueDTO{Type: "bool", Bool: x}
	case string:
		return ValueDTO{Type: "str", Str: x}
	}
	return ValueDTO{Type: "none"}
}

// Decode converts the DTO back to a runtime primitive.
func (v ValueDTO) Decode() any {
	switch v.Type {
	case "int":
		return v.Int
	case "float":
		return v.Float
	case "bool":
		return v.Bool
	case "str":
		return v.Str
	}
	return nil
}

// StatementDTO mirrors testcase.Statement with the callable flattened
// to its qualified name.
type StatementDTO struct {
	Kind     int      `json:"kind"`
	Value    ValueDTO `json:"value"`
	CollKind string   `json:"coll_kind,omitempty"`
	Elems    []int    `json:"elems,omitempty"`
	Callable string   `json:"callable,omitempty"`
	Recv     int      `json:"recv"`
	Args     []int    `json:"args,omitempty"`
	KwNames  []string `json:"kw_names,omitempty"`
	KwArgs   []int    `json:"kw_args,omitempty"`
	Source   int      `json:"source"`
}

// TestCaseDTO is one serialized test case.
type TestCaseDTO struct {
	Statements []StatementDTO `json:"statements"`
}

// EncodeTestCase serializes a test case.
func EncodeTestCase(tc *testcase.TestCase) TestCaseDTO {
	dto := TestCaseDTO{Statements: make([]StatementDTO, tc.Size())}
	for i, s := range tc.Statements {
		d := StatementDTO{
			Kind:     int(s.Kind),
			Value:    EncodeValue(s.Value),
			CollKind: s.CollKind,
			Elems:    s.Elems,
			Recv:     s.Recv,
			Args:     s.Args,
			KwNames:  s.KwNames,
			KwArgs:   s.KwArgs,
			Source:   s.Source,
		}
		if s.Callable != nil {
			d.Callable = s.Callable.Name
		}
		dto.Statements[i] = d
	}
	return dto
}

// DecodeTestCase rebuilds a test case, resolving callables by name
// against the worker-side cluster.
func DecodeTestCase(dto TestCaseDTO, cl *cluster.Cluster) (*testcase.TestCase, error) {
	byName := make(map[string]*cluster.Callable)
	for _, ca := range cl.Callables() {
		byName[ca.Name] = ca
	}
	tc := testcase.New()
	for _, d := range dto.Statements {
		s := &testcase.Statement{
			Kind:     testcase.StatementKind(d.Kind),
			Value:    d.Value.Decode(),
			CollKind: d.CollKind,
			Elems:    d.Elems,
			Recv:     d.Recv,
			Args:     d.Args,
			KwNames:  d.KwNames,
			KwArgs:   d.KwArgs,
			Source:   d.Source,
		}
		if d.Callable != "" {
			ca, ok := byName[d.Callable]
			if !ok {
				return nil, fmt.Errorf("unknown callable %q", d.Callable)
			}
			s.Callable = ca
		}
		tc.Append(s)
	}
	return tc, nil
}

// InstrDTO is one raw instruction event. Checked coverage requires the
// full stream, not aggregates, so the worker ships it verbatim.
type InstrDTO struct {
	CodeID int    `json:"code_id"`
	Offset int    `json:"offset"`
	Op     uint8  `json:"op"`
	Arg    int32  `json:"arg"`
	Name   string `json:"name,omitempty"`
	Line   int32  `json:"line"`
}

// OutcomeDTO is one per-statement result.
type OutcomeDTO struct {
	Position  int            `json:"position"`
	Value     ValueDTO       `json:"value"`
	HasValue  bool           `json:"has_value"`
	ExcKind   string         `json:"exc_kind,omitempty"`
	ExcMsg    string         `json:"exc_msg,omitempty"`
	TypeName  string         `json:"type_name,omitempty"`
	ElapsedUS int64          `json:"elapsed_us"`
	Timeout   bool           `json:"timeout,omitempty"`
	HasLength bool           `json:"has_length,omitempty"`
	Length    int64          `json:"length,omitempty"`
	Fields    map[string]ValueDTO `json:"fields,omitempty"`
}

// TraceDTO is the serialized trace record.
type TraceDTO struct {
	Executed     []int             `json:"executed"`
	PredCounts   map[int]int64     `json:"pred_counts"`
	TrueDists    map[int]float64   `json:"true_dists"`
	FalseDists   map[int]float64   `json:"false_dists"`
	CoveredLines []int             `json:"covered_lines"`
	Instructions []InstrDTO        `json:"instructions,omitempty"`
	Outcomes     []OutcomeDTO      `json:"outcomes"`
	RuntimeUS    int64             `json:"runtime_us"`
	PeakRSSKB    int64             `json:"peak_rss_kb"`
	TimedOut     bool              `json:"timed_out"`
}

// EncodeTrace serializes a trace.
func EncodeTrace(tr *trace.Trace) TraceDTO {
	dto := TraceDTO{
		PredCounts: tr.PredicateCounts,
		TrueDists:  tr.TrueDistances,
		FalseDists: tr.FalseDistances,
		RuntimeUS:  tr.Runtime.Microseconds(),
		PeakRSSKB:  tr.PeakRSSKB,
		TimedOut:   tr.TimedOut,
	}
	for id := range tr.ExecutedCodeObjects {
		dto.Executed = append(dto.Executed, id)
	}
	for id := range tr.CoveredLines {
		dto.CoveredLines = append(dto.CoveredLines, id)
	}
	for _, in := range tr.Instructions {
		dto.Instructions = append(dto.Instructions, InstrDTO{
			CodeID: in.CodeID, Offset: in.Offset, Op: uint8(in.Op), Arg: in.Arg, Name: in.Name, Line: in.Line,
		})
	}
	for _, o := range tr.Outcomes {
		od := OutcomeDTO{
			Position:  o.Position,
			TypeName:  o.TypeName,
			ElapsedUS: o.Elapsed.Microseconds(),
			Timeout:   o.Timeout,
			HasLength: o.HasLength,
			Length:    o.Length,
		}
		if o.Value != nil {
			od.Value = EncodeValue(o.Value)
			od.HasValue = true
		}
		if o.Exc != nil {
			od.ExcKind = o.Exc.Kind
			od.ExcMsg = o.Exc.Msg
		}
		if o.Fields != nil {
			od.Fields = make(map[string]ValueDTO, len(o.Fields))
			for k, v := range o.Fields {
				od.Fields[k] = EncodeValue(v)
			}
		}
		dto.Outcomes = append(dto.Outcomes, od)
	}
	return dto
}

// DecodeTrace rebuilds a trace record.
func DecodeTrace(dto TraceDTO) *trace.Trace {
	tr := trace.NewTrace()
	for _, id := range dto.Executed {
		tr.ExecutedCodeObjects[id] = true
	}
	for id, n := range dto.PredCounts {
		tr.PredicateCounts[id] = n
	}
	for id, d := range dto.TrueDists {
		tr.TrueDistances[id] = d
	}
	for id, d := range dto.FalseDists {
		tr.FalseDistances[id] = d
	}
	for _, id := range dto.CoveredLines {
		tr.CoveredLines[id] = true
	}
	for _, in := range dto.Instructions {
		tr.Instructions = append(tr.Instructions, trace.ExecutedInstr{
			CodeID: in.CodeID, Offset: in.Offset, Op: bytecode.Opcode(in.Op), Arg: in.Arg, Name: in.Name, Line: in.Line,
		})
	}
	for _, od := range dto.Outcomes {
		o := trace.StatementOutcome{
			Position:  od.Position,
			TypeName:  od.TypeName,
			Elapsed:   time.Duration(od.ElapsedUS) * time.Microsecond,
			Timeout:   od.Timeout,
			HasLength: od.HasLength,
			Length:    od.Length,
		}
		if od.HasValue {
			o.Value = od.Value.Decode()
		}
		if od.ExcKind != "" {
			o.Exc = &trace.ExceptionInfo{Kind: od.ExcKind, Msg: od.ExcMsg}
		}
		if od.Fields != nil {
			o.Fields = make(map[string]any, len(od.Fields))
			for k, v := range od.Fields {
				o.Fields[k] = v.Decode()
			}
		}
		tr.Outcomes = append(tr.Outcomes, o)
	}
	tr.Runtime = time.Duration(dto.RuntimeUS) * time.Microsecond
	tr.PeakRSSKB = dto.PeakRSSKB
	tr.TimedOut = dto.TimedOut
	return tr
}

// BatchRequest ships a test-case batch to the worker.
type BatchRequest struct {
	ProjectRoot   string        `json:"project_root"`
	Module        string        `json:"module"`
	Metrics       []string      `json:"metrics"`
	PerStatementMS int64        `json:"per_statement_ms"`
	PerTestMS     int64         `json:"per_test_ms"`
	Tests         []TestCaseDTO `json:"tests"`
}

// BatchResponse carries one trace per requested test, in order.
type BatchResponse struct {
	Traces []TraceDTO `json:"traces"`
	Error  string     `json:"error,omitempty"`
}
