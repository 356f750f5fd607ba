package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/petrel-dev/petrel/testcase"
)

// JSONEmitter writes the structured test-case objects the external
// unparser consumes, one file per suite.
type JSONEmitter struct{}

type emittedAssertion struct {
	Position int    `json:"position"`
	Kind     string `json:"kind"`
	Field    string `json:"field,omitempty"`
	Expected any    `json:"expected,omitempty"`
	ExcKind  string `json:"exc_kind,omitempty"`
}

type emittedStatement struct {
	Kind     string   `json:"kind"`
	Value    any      `json:"value,omitempty"`
	CollKind string   `json:"coll_kind,omitempty"`
	Elems    []int    `json:"elems,omitempty"`
	Callable string   `json:"callable,omitempty"`
	Recv     *int     `json:"recv,omitempty"`
	Args     []int    `json:"args,omitempty"`
	KwNames  []string `json:"kw_names,omitempty"`
	KwArgs   []int    `json:"kw_args,omitempty"`
	Source   *int     `json:"source,omitempty"`
}

type emittedTest struct {
	Name       string             `json:"name"`
	Statements []emittedStatement `json:"statements"`
	Assertions []emittedAssertion `json:"assertions,omitempty"`
}

var assertionKindNames = map[testcase.AssertionKind]string{
	testcase.AssertEqual:       "equal",
	testcase.AssertFloatApprox: "float-approx",
	testcase.AssertTypeName:    "type-name",
	testcase.AssertLen:         "len",
	testcase.AssertIsInstance:  "isinstance",
	testcase.AssertRaises:      "raises",
}

// Emit implements Emitter.
func (JSONEmitter) Emit(outputDir, module string, suite []*testcase.TestCase) error {
	tests := make([]emittedTest, 0, len(suite))
	for i, tc := range suite {
		et := emittedTest{Name: fmt.Sprintf("test_%s_%d", module, i)}
		for _, s := range tc.Statements {
			es := emittedStatement{
				Kind:     s.Kind.String(),
				Value:    s.Value,
				CollKind: s.CollKind,
				Elems:    s.Elems,
				Args:     s.Args,
				KwNames:  s.KwNames,
				KwArgs:   s.KwArgs,
			}
			if s.Callable != nil {
				es.Callable = s.Callable.Name
			}
			if s.Recv != testcase.NoRef {
				r := s.Recv
				es.Recv = &r
			}
			if s.Source != testcase.NoRef {
				src := s.Source
				es.Source = &src
			}
			et.Statements = append(et.Statements, es)
		}
		for _, a := range tc.Assertions {
			et.Assertions = append(et.Assertions, emittedAssertion{
				Position: a.Position,
				Kind:     assertionKindNames[a.Kind],
				Field:    a.Field,
				Expected: a.Expected,
				ExcKind:  a.ExcKind,
			})
		}
		tests = append(tests, et)
	}
	data, err := json.MarshalIndent(map[string]any{"module": module, "tests": tests}, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(outputDir, fmt.Sprintf("test_%s.json", module))
	return os.WriteFile(path, data, 0o644)
}
