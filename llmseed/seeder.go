// Package llmseed optionally asks a language model for plausible
// invocations of the callables under test and turns them into seed
// test cases for the initial population. The search never depends on
// it: failures degrade to plain random seeding.
package llmseed

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/testcase"
)

// Client is the LLM dependency; the production implementation wraps
// the OpenAI API, tests use the mock.
type Client interface {
	Propose(ctx context.Context, prompt string) (string, error)
}

// Seeder turns model proposals into factory-built test cases.
type Seeder struct {
	Cfg     core.LLMSeedConfig
	Client  Client
	Cluster *cluster.Cluster
	Factory *testcase.Factory
	Log     *zap.Logger
	Limiter *rate.Limiter
}

// NewSeeder builds a seeder with the configured request rate.
func NewSeeder(cfg core.LLMSeedConfig, client Client, cl *cluster.Cluster, f *testcase.Factory, log *zap.Logger) *Seeder {
	rps := cfg.RequestsSec
	if rps <= 0 {
		rps = 0.5
	}
	return &Seeder{
		Cfg:     cfg,
		Client:  client,
		Cluster: cl,
		Factory: f,
		Log:     log,
		Limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Seeds asks for invocation proposals and parses them into test cases.
func (s *Seeder) Seeds(ctx context.Context, max int) []*testcase.TestCase {
	if !s.Cfg.Enabled || s.Client == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return nil
	}
	reply, err := s.Client.Propose(ctx, s.prompt())
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("llm seeding failed, continuing without", zap.Error(err))
		}
		return nil
	}
	var out []*testcase.TestCase
	for _, line := range strings.Split(reply, "\n") {
		if len(out) >= max {
			break
		}
		if tc := s.parseInvocation(strings.TrimSpace(line)); tc != nil {
			out = append(out, tc)
		}
	}
	if s.Log != nil {
		s.Log.Info("llm seeds parsed", zap.Int("count", len(out)))
	}
	return out
}

// prompt describes the callables under test, one signature per line.
func (s *Seeder) prompt() string {
	var sb strings.Builder
	sb.WriteString("Propose one plausible call per line, literal arguments only, for these functions:\n")
	for _, ca := range s.Cluster.UnderTest() {
		if ca.Kind != cluster.KindFunction {
			continue
		}
		sb.WriteString(ca.Name)
		sb.WriteString("(")
		for i, p := range ca.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(p.Name)
			sb.WriteString(": ")
			sb.WriteString(p.Type.String())
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

// parseInvocation accepts `qualified.name(lit, lit, ...)` lines with
// primitive literals and builds the corresponding test case.
func (s *Seeder) parseInvocation(line string) *testcase.TestCase {
	open := strings.IndexByte(line, '(')
	if open <= 0 || !strings.HasSuffix(line, ")") {
		return nil
	}
	name := strings.TrimSpace(line[:open])
	var target *cluster.Callable
	for _, ca := range s.Cluster.UnderTest() {
		if ca.Kind == cluster.KindFunction && (ca.Name == name || strings.HasSuffix(ca.Name, "."+name)) {
			target = ca
			break
		}
	}
	if target == nil {
		return nil
	}
	argsText := strings.TrimSpace(line[open+1 : len(line)-1])
	var literals []any
	if argsText != "" {
		for _, part := range strings.Split(argsText, ",") {
			v, ok := parseLiteral(strings.TrimSpace(part))
			if !ok {
				return nil
			}
			literals = append(literals, v)
		}
	}
	if len(literals) != len(target.Params) {
		return nil
	}
	tc := testcase.New()
	refs := make([]int, len(literals))
	for i, v := range literals {
		refs[i] = tc.Append(testcase.PrimitiveStatement(v))
	}
	tc.Append(testcase.CallStatement(target, refs))
	return tc
}

func parseLiteral(s string) (any, bool) {
	switch {
	case s == "true":
		return true, true
	case s == "false":
		return false, true
	case s == "none":
		return nil, true
	case len(s) >= 2 && (s[0] == '"' || s[0] == '\''):
		if s[len(s)-1] != s[0] {
			return nil, false
		}
		return s[1 : len(s)-1], true
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	return nil, false
}

// Describe summarizes the seeding setup for verbose logs.
func (s *Seeder) Describe() string {
	return fmt.Sprintf("llm seeding model=%s enabled=%t", s.Cfg.Model, s.Cfg.Enabled)
}
