package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
)

// WorkerEnvFlag marks a process as a batch worker when re-executing the
// own binary.
const WorkerEnvFlag = "PETREL_WORKER"

// SubprocessService runs batches in a worker subprocess for crash
// resistance: the master keeps archive and GA state, the worker holds
// the instrumented module, and a worker death invalidates only the
// batch in flight.
type SubprocessService struct {
	Cfg     *core.Config
	Log     *zap.Logger
	Restart *RestartPolicy

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Scanner

	tests      int64
	statements int64
	timeouts   int64
}

// NewSubprocessService builds the subprocess-backed execution service.
func NewSubprocessService(cfg *core.Config, log *zap.Logger) *SubprocessService {
	return &SubprocessService{Cfg: cfg, Log: log, Restart: NewRestartPolicy()}
}

// Counts implements Counter.
func (s *SubprocessService) Counts() (int64, int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tests, s.statements, s.timeouts
}

// Execute implements Service by shipping a single-test batch.
func (s *SubprocessService) Execute(tc *testcase.TestCase) *trace.Trace {
	traces := s.ExecuteBatch([]*testcase.TestCase{tc})
	return traces[0]
}

// ExecuteBatch runs the tests in the worker, restarting it under the
// policy on failure. Tests of a failed batch come back timed-out so the
// search can continue with reduced budget.
func (s *SubprocessService) ExecuteBatch(tests []*testcase.TestCase) []*trace.Trace {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := BatchRequest{
		ProjectRoot:    s.Cfg.ProjectRoot,
		Module:         s.Cfg.ModuleName,
		PerStatementMS: s.Cfg.Timeouts.PerStatement.Milliseconds(),
		PerTestMS:      s.Cfg.Timeouts.PerTest.Milliseconds(),
	}
	for _, m := range s.Cfg.CoverageMetrics {
		req.Metrics = append(req.Metrics, string(m))
	}
	for _, tc := range tests {
		req.Tests = append(req.Tests, EncodeTestCase(tc))
	}

	var resp BatchResponse
	err := s.Restart.Run(func() error {
		if err := s.ensureWorker(); err != nil {
			return err
		}
		if err := s.roundTrip(req, &resp); err != nil {
			s.kill()
			return err
		}
		if resp.Error != "" {
			s.kill()
			return fmt.Errorf("worker: %s", resp.Error)
		}
		return nil
	})

	out := make([]*trace.Trace, len(tests))
	if err != nil || len(resp.Traces) != len(tests) {
		if s.Log != nil {
			s.Log.Warn("batch invalidated", zap.Error(err), zap.Int("tests", len(tests)))
		}
		for i := range out {
			tr := trace.NewTrace()
			tr.TimedOut = true
			out[i] = tr
			s.timeouts++
		}
		s.tests += int64(len(tests))
		return out
	}
	for i, dto := range resp.Traces {
		out[i] = DecodeTrace(dto)
		s.tests++
		s.statements += int64(len(out[i].Outcomes))
		if out[i].TimedOut {
			s.timeouts++
		}
	}
	return out
}

func (s *SubprocessService) ensureWorker() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), WorkerEnvFlag+"=1")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.stdin = stdin
	s.out = bufio.NewScanner(stdout)
	s.out.Buffer(make([]byte, 0, 1<<20), 64<<20)
	if s.Log != nil {
		s.Log.Debug("worker started", zap.Int("pid", cmd.Process.Pid))
	}
	return nil
}

func (s *SubprocessService) roundTrip(req BatchRequest, resp *BatchResponse) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return err
	}
	if !s.out.Scan() {
		if err := s.out.Err(); err != nil {
			return err
		}
		return io.ErrUnexpectedEOF
	}
	return json.Unmarshal(s.out.Bytes(), resp)
}

func (s *SubprocessService) kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
	}
	s.cmd = nil
	s.stdin = nil
	s.out = nil
}

// Close shuts the worker down.
func (s *SubprocessService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kill()
}

// WorkerLoader prepares the worker-side execution state for a module.
type WorkerLoader func(req BatchRequest) (*Executor, func(TestCaseDTO) (*testcase.TestCase, error), error)

// Serve runs the worker side of the protocol until stdin closes. The
// loader is invoked once per distinct module.
func Serve(in io.Reader, outw io.Writer, loader WorkerLoader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	enc := json.NewEncoder(outw)

	var exec *Executor
	var decode func(TestCaseDTO) (*testcase.TestCase, error)
	loadedModule := ""

	for scanner.Scan() {
		var req BatchRequest
		resp := BatchResponse{}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp.Error = err.Error()
			if err := enc.Encode(resp); err != nil {
				return err
			}
			continue
		}
		if exec == nil || loadedModule != req.Module {
			var err error
			exec, decode, err = loader(req)
			if err != nil {
				resp.Error = err.Error()
				if err := enc.Encode(resp); err != nil {
					return err
				}
				continue
			}
			loadedModule = req.Module
		}
		exec.Budget.PerStatement = time.Duration(req.PerStatementMS) * time.Millisecond
		exec.Budget.PerTest = time.Duration(req.PerTestMS) * time.Millisecond
		for _, dto := range req.Tests {
			tc, err := decode(dto)
			if err != nil {
				resp.Error = err.Error()
				break
			}
			tr := exec.Execute(tc)
			resp.Traces = append(resp.Traces, EncodeTrace(tr))
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
