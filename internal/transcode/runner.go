// Package transcode drives the external media tool: segmenting sources,
// packaging chunk sets into HLS, and compositing watermark overlays.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fjmerc/streamforge/internal/storage"
)

// ErrExternalTool is matched by every *ExternalToolError.
var ErrExternalTool = errors.New("external command failed")

// Command describes one invocation of an external tool.
type Command struct {
	Op   string // logical operation, e.g. "split", "hls", "overlay"
	Name string // executable
	Args []string
	Dir  string // optional working directory
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Output   []byte // combined stdout/stderr, tail-truncated
	Duration time.Duration
}

// Runner executes external commands and maps their exit status to an error.
//
// A non-zero exit or termination by signal yields *ExternalToolError. A process
// that could not be started yields *storage.StorageError. Cancellation of ctx
// yields ctx.Err().
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (*Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// ExternalToolError reports a tool that exited unsuccessfully.
type ExternalToolError struct {
	Op       string
	Tool     string
	ExitCode int // -1 when killed by a signal
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with code %d", e.Op, e.Tool, e.ExitCode)
	if last := lastLine(e.Output); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrExternalTool) match any ExternalToolError.
func (e *ExternalToolError) Is(target error) bool {
	return target == ErrExternalTool
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// defaultOutputLimit bounds how much tool output is retained for diagnostics.
const defaultOutputLimit = 64 * 1024

// ExecRunner runs commands as local processes.
type ExecRunner struct {
	OutputLimit int
}

// Ensure ExecRunner implements Runner
var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates an ExecRunner with the default output limit.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{OutputLimit: defaultOutputLimit}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	limit := r.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	out := &tailBuffer{limit: limit}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	res := &Result{
		Output:   out.Bytes(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExternalToolError{
			Op:       c.Op,
			Tool:     c.Name,
			ExitCode: res.ExitCode,
			Output:   string(res.Output),
			Err:      err,
		}
	}

	return res, storage.NewStorageErrorWithMessage("exec", c.Name, err, "failed to start "+c.Op)
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.limit {
		t.buf.Reset()
		t.buf.Write(p[n-t.limit:])
		return n, nil
	}
	if over := t.buf.Len() + n - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) Bytes() []byte {
	return append([]byte(nil), t.buf.Bytes()...)
}
