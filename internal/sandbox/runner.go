// Package sandbox runs project commands (tests, UAT scenarios) as
// subprocesses and checks that the required developer tools are installed.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// ErrEmptyCommand is returned when Run is called without a program.
var ErrEmptyCommand = errors.New("empty command")

// DefaultMaxOutput caps the captured output of a single run.
const DefaultMaxOutput = 4 << 20

// Result is the outcome of a finished command. A non-zero ExitCode is a
// normal result, not an error.
type Result struct {
	Command  []string
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// Passed reports whether the command exited with status 0.
func (r Result) Passed() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Runner executes commands inside the project directory.
type Runner struct {
	dir       string
	env       []string
	timeout   time.Duration
	maxOutput int
	logger    *logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds every run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *Runner) { r.env = append(r.env, env...) }
}

// WithMaxOutput caps captured output in bytes.
func WithMaxOutput(n int) Option {
	return func(r *Runner) { r.maxOutput = n }
}

// NewRunner creates a Runner rooted at dir.
func NewRunner(dir string, logger *logging.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		dir:       dir,
		maxOutput: DefaultMaxOutput,
		logger:    logger.Named("sandbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes command and captures interleaved stdout and stderr.
// The error is non-nil only when the process could not be started or the
// context was cancelled by the caller.
func (r *Runner) Run(ctx context.Context, command []string) (Result, error) {
	if len(command) == 0 || command[0] == "" {
		return Result{}, ErrEmptyCommand
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	out := &cappedBuffer{limit: r.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Debug(ctx, "running command", zap.Strings("command", command), zap.String("dir", r.dir))

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:  command,
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return res, ctx.Err()
		case runCtx.Err() == context.DeadlineExceeded:
			res.TimedOut = true
			res.ExitCode = -1
			r.logger.Warn(ctx, "command timed out",
				zap.Strings("command", command), zap.Duration("timeout", r.timeout))
			return res, nil
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			return res, fmt.Errorf("running %s: %w", strings.Join(command, " "), err)
		}
	}

	r.logger.Info(ctx, "command finished",
		zap.Strings("command", command),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// cappedBuffer keeps the first limit bytes and counts the rest.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	dropped int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if b.limit <= 0 || room >= len(p) {
		b.buf.Write(p)
		return len(p), nil
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.dropped += len(p) - max(room, 0)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped == 0 {
		return b.buf.String()
	}
	return fmt.Sprintf("%s\n...(%d bytes dropped)...\n", b.buf.String(), b.dropped)
}
