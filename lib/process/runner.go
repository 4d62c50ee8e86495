// Package process runs the kim executable, collects its output and turns its
// exit status into a Result or a typed error.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/onkernel/kimd/lib/otel"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sys/unix"
)

// Outcome labels used on command metrics.
const (
	OutcomeSuccess    = "success"
	OutcomeExitError  = "exit_error"
	OutcomeSignal     = "signal"
	OutcomeTimeout    = "timeout"
	OutcomeSpawnError = "spawn_error"
)

// Result is the accumulated output and exit status of one kim invocation.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Signal   string `json:"signal,omitempty"`
}

// OutputFunc receives output chunks as they arrive. It is called from the
// goroutine that copies the stream and must not block.
type OutputFunc func(chunk string, isStderr bool)

type runOptions struct {
	output   OutputFunc
	watchdog time.Duration
}

// RunOption configures a single Run call.
type RunOption func(*runOptions)

// WithOutput delivers every stdout and stderr chunk to fn as it arrives.
func WithOutput(fn OutputFunc) RunOption {
	return func(o *runOptions) {
		o.output = fn
	}
}

// WithWatchdog kills the child if it is still running after d.
func WithWatchdog(d time.Duration) RunOption {
	return func(o *runOptions) {
		o.watchdog = d
	}
}

// Config holds configuration for the runner
type Config struct {
	// Executable is the path or name of the kim binary
	Executable string

	// WaitDelay bounds how long output pipes are drained after the child
	// exits or is killed. Zero waits until every pipe is closed.
	WaitDelay time.Duration
}

// Runner spawns kim invocations. It is safe for concurrent use.
type Runner struct {
	config  Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otel.CommandMetrics
}

// NewRunner creates a runner. logger, meter and tracer may be nil.
func NewRunner(config Config, logger *slog.Logger, meter metric.Meter, tracer trace.Tracer) (*Runner, error) {
	if config.Executable == "" {
		return nil, fmt.Errorf("kim executable not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	r := &Runner{
		config: config,
		logger: logger,
		tracer: tracer,
	}

	if meter != nil {
		metrics, err := otel.NewCommandMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		r.metrics = metrics
	}

	return r, nil
}

// Executable returns the kim binary this runner spawns.
func (r *Runner) Executable() string {
	return r.config.Executable
}

// Run executes kim with args and waits for it to exit.
//
// Exit code 0 returns the Result. Any other exit returns an *ExitError that
// carries the Result; a child that could not be started returns a
// *SpawnError. Cancelling ctx kills the child.
func (r *Runner) Run(ctx context.Context, args []string, opts ...RunOption) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub := lo.FirstOrEmpty(args)
	log := r.logger.With("invocation", cuid2.Generate(), "subcommand", sub)

	ctx, span := r.tracer.Start(ctx, "kim "+sub, trace.WithAttributes(
		attribute.StringSlice("kim.args", args),
	))
	defer span.End()

	stdout := &streamBuffer{notify: o.output}
	stderr := &streamBuffer{notify: o.output, isStderr: true}

	cmd := exec.CommandContext(ctx, r.config.Executable, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.config.WaitDelay

	start := time.Now()
	log.DebugContext(ctx, "running kim", "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		r.record(ctx, sub, OutcomeSpawnError, time.Since(start))
		log.ErrorContext(ctx, "failed to start kim", "executable", r.config.Executable, "error", err)
		return nil, &SpawnError{Executable: r.config.Executable, Err: err}
	}

	wd := newWatchdog(o.watchdog, func() {
		err := cmd.Process.Kill()
		log.WarnContext(ctx, "kim exceeded its maximum runtime, killing it", "timeout", o.watchdog, "kill_error", err)
	})

	waitErr := cmd.Wait()
	timedOut := wd.disarm()
	duration := time.Since(start)

	if cmd.ProcessState == nil {
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, "wait failed")
		r.record(ctx, sub, OutcomeExitError, duration)
		return nil, fmt.Errorf("wait for kim %s: %w", sub, waitErr)
	}
	if waitErr != nil {
		log.DebugContext(ctx, "kim wait returned an error", "error", waitErr)
	}

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	res.ExitCode, res.Signal = exitStatus(cmd.ProcessState)

	outcome := OutcomeSuccess
	switch {
	case timedOut:
		outcome = OutcomeTimeout
	case res.Signal != "":
		outcome = OutcomeSignal
	case res.ExitCode != 0:
		outcome = OutcomeExitError
	}
	r.record(ctx, sub, outcome, duration)

	span.SetAttributes(attribute.Int("kim.exit_code", res.ExitCode))
	log.DebugContext(ctx, "kim exited",
		"exit_code", res.ExitCode,
		"signal", res.Signal,
		"duration", duration,
		"stderr_bytes", len(res.Stderr),
	)

	if outcome == OutcomeSuccess {
		return &res, nil
	}

	span.SetStatus(codes.Error, outcome)
	return nil, &ExitError{Result: res, Args: args, TimedOut: timedOut}
}

func (r *Runner) record(ctx context.Context, subcommand, outcome string, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("subcommand", subcommand),
		attribute.String("outcome", outcome),
	)
	r.metrics.CommandsTotal.Add(ctx, 1, attrs)
	r.metrics.CommandDuration.Record(ctx, duration.Seconds(), attrs)
	if outcome == OutcomeTimeout {
		r.metrics.WatchdogKillsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("subcommand", subcommand)))
	}
}

// exitStatus maps a finished process to the exit code and signal name
// reported to callers. Signal deaths report -1.
func exitStatus(state *os.ProcessState) (int, string) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		name := unix.SignalName(ws.Signal())
		if name == "" {
			name = ws.Signal().String()
		}
		return -1, name
	}
	return state.ExitCode(), ""
}

// streamBuffer accumulates one output stream. exec copies each stream from
// a single goroutine and finishes before Wait returns.
type streamBuffer struct {
	buf      strings.Builder
	notify   OutputFunc
	isStderr bool
}

func (s *streamBuffer) Write(p []byte) (int, error) {
	s.buf.Write(p)
	if s.notify != nil {
		s.notify(string(p), s.isStderr)
	}
	return len(p), nil
}

func (s *streamBuffer) String() string {
	return s.buf.String()
}

// watchdog kills a child that outlives its deadline. disarm must be called
// exactly once after the child has been waited for.
type watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	exited   bool
	timedOut bool
}

func newWatchdog(d time.Duration, kill func()) *watchdog {
	w := &watchdog{}
	if d <= 0 {
		return w
	}
	w.timer = time.AfterFunc(d, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.exited {
			return
		}
		w.timedOut = true
		kill()
	})
	return w
}

// disarm stops the timer and reports whether it fired before the exit.
func (w *watchdog) disarm() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exited = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return w.timedOut
}

// pending reports whether the watchdog timer is still outstanding.
func (w *watchdog) pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}
