// Package procrunner executes package-manager subprocesses with bounded
// timeouts, captured stdout/stderr, and cooperative cancellation. Every
// adapter invocation crosses this package; it is the only place in Helm
// that calls exec.CommandContext.
package procrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/pkg/logger"
	"github.com/jasoncavinder/helm/internal/pkg/metrics"
)

// GracePeriod is how long a process is given to exit after SIGTERM before
// the runner escalates to SIGKILL.
const GracePeriod = 2 * time.Second

// OutputCap bounds captured stdout/stderr per stream. A `brew upgrade`
// compiling from source can emit tens of megabytes; everything past the cap
// is dropped and the result marked truncated.
const OutputCap = 1 << 20

// inheritedEnv is the allowlist of parent environment variables a child
// process receives. Package manager CLIs need PATH and HOME to find their
// own state; nothing else from the daemon's environment leaks through.
var inheritedEnv = []string{"PATH", "HOME", "USER", "SHELL", "LANG", "LC_ALL", "TMPDIR"}

// Spec describes one subprocess invocation.
type Spec struct {
	ManagerID string
	TaskType  models.TaskType
	Operation string
	Binary    string
	Args      []string
	Env       map[string]string // overrides merged over the sanitized inherited set
	Stdin     []byte
	Timeout   time.Duration
}

// Result is the outcome of one subprocess invocation.
type Result struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// OutputSink receives every invocation's captured output, attributed to the
// task id carried in the call's context. Wired to the persistence store at
// startup so get_task_output works for any task that spawned a child.
type OutputSink func(taskID uint64, out models.TaskOutput)

// Runner resolves manager executables and runs them.
type Runner struct {
	resolve func(binary string) (string, error)
	sink    OutputSink
}

func New() *Runner {
	return &Runner{resolve: exec.LookPath}
}

// SetOutputSink registers the sink invoked after every run whose context
// carries a task id. Call once during startup, before any task runs.
func (r *Runner) SetOutputSink(sink OutputSink) {
	r.sink = sink
}

// Resolve reports whether binary is on PATH, returning its absolute path.
// Used by adapter Detect implementations, where a missing binary is
// NotInstalled rather than an execution failure.
func (r *Runner) Resolve(binary string) (string, error) {
	return r.resolve(binary)
}

// Run invokes binary with args under a bounded timeout, attributing any
// failure to managerID/taskType/operation.
func (r *Runner) Run(ctx context.Context, managerID string, taskType models.TaskType, operation, binary string, args []string, timeout time.Duration) (*Result, error) {
	return r.RunSpec(ctx, Spec{
		ManagerID: managerID,
		TaskType:  taskType,
		Operation: operation,
		Binary:    binary,
		Args:      args,
		Timeout:   timeout,
	})
}

// cappedBuffer collects writes up to OutputCap bytes and drops the rest,
// remembering that it did.
type cappedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := OutputCap - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.truncated = true
		c.buf.Write(p[:room])
		return len(p), nil
	}
	return c.buf.Write(p)
}

// RunSpec is the full-surface variant of Run: environment overrides merged
// over a sanitized inherited set, optional stdin bytes, capped capture.
func (r *Runner) RunSpec(ctx context.Context, spec Spec) (*Result, error) {
	path, err := r.resolve(spec.Binary)
	if err != nil {
		metrics.ProcessExecTotal.WithLabelValues(spec.ManagerID, "not_found").Inc()
		return nil, errs.Wrap(models.ErrNotInstalled, spec.ManagerID, spec.TaskType, spec.Operation, fmt.Errorf("%s binary not found: %w", spec.Binary, err))
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, spec.Args...)
	cmd.Env = buildEnv(spec.Env)
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	// Cooperative shutdown: SIGTERM on cancellation or timeout, SIGKILL if
	// the process is still alive after GracePeriod.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = GracePeriod
	var stdout, stderr cappedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:    stdout.buf.Bytes(),
		Stderr:    stderr.buf.Bytes(),
		Duration:  duration,
		Truncated: stdout.truncated || stderr.truncated,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	r.emitOutput(ctx, result)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			metrics.ProcessExecTotal.WithLabelValues(spec.ManagerID, "cancelled").Inc()
			return result, errs.New(models.ErrCancelled, spec.ManagerID, spec.TaskType, spec.Operation, "task cancelled")
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			metrics.ProcessExecTotal.WithLabelValues(spec.ManagerID, "timeout").Inc()
			return result, errs.New(models.ErrTimeout, spec.ManagerID, spec.TaskType, spec.Operation, fmt.Sprintf("exceeded %s", spec.Timeout))
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			metrics.ProcessExecTotal.WithLabelValues(spec.ManagerID, "nonzero_exit").Inc()
			e := errs.New(models.ErrProcessFailure, spec.ManagerID, spec.TaskType, spec.Operation,
				fmt.Sprintf("exit %d", result.ExitCode))
			e.Detail = firstLine(stderr.buf.String())
			return result, e
		}
		metrics.ProcessExecTotal.WithLabelValues(spec.ManagerID, "spawn_error").Inc()
		return result, errs.Wrap(models.ErrProcessFailure, spec.ManagerID, spec.TaskType, spec.Operation, runErr)
	}

	metrics.ProcessExecTotal.WithLabelValues(spec.ManagerID, "success").Inc()
	return result, nil
}

// emitOutput forwards captured output to the sink when the context carries
// a task id from the coordinator.
func (r *Runner) emitOutput(ctx context.Context, res *Result) {
	if r.sink == nil {
		return
	}
	taskID := logger.TaskIDFromContext(ctx)
	if taskID == 0 {
		return
	}
	r.sink(taskID, models.TaskOutput{
		TaskID:   taskID,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	})
}

// buildEnv assembles the child environment: the inherited allowlist plus
// explicit overrides, overrides winning.
func buildEnv(overrides map[string]string) []string {
	env := make([]string, 0, len(inheritedEnv)+len(overrides))
	for _, key := range inheritedEnv {
		if _, overridden := overrides[key]; overridden {
			continue
		}
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
