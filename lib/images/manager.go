package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onkernel/kimd/lib/dedup"
	"github.com/onkernel/kimd/lib/otel"
	"github.com/onkernel/kimd/lib/process"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Manager supervises kim: it keeps a cached image listing fresh, tracks
// whether kim is ready and runs image commands.
type Manager interface {
	// Start begins polling: refresh now, then again after every refresh.
	Start()
	// Stop stops polling. A refresh that is already running completes.
	Stop()
	// Refresh requests a listing refresh without waiting for it.
	Refresh()

	ListImages() []Image
	IsReady() bool
	Status() Status

	BuildImage(ctx context.Context, contextDir, dockerfile, taggedName string) (*process.Result, error)
	DeleteImage(ctx context.Context, id string) (*process.Result, error)
	PullImage(ctx context.Context, taggedName string) (*process.Result, error)
	PushImage(ctx context.Context, taggedName string) (*process.Result, error)

	Subscribe(ctx context.Context) (<-chan Event, error)
	Unsubscribe(ch <-chan Event)

	// Close stops polling, kills a running listing and closes all
	// subscriptions.
	Close()
}

// CommandRunner runs kim. *process.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, args []string, opts ...process.RunOption) (*process.Result, error)
}

// Config holds configuration for the image manager
type Config struct {
	// Backoff computes the delay between listing refreshes
	Backoff Backoff

	// Watchdog is the maximum runtime of a listing invocation
	Watchdog time.Duration

	// ResetBackoffOnSuccess forgets the repeated error count after a
	// successful refresh
	ResetBackoffOnSuccess bool

	// SubscriberBuffer is the channel capacity of each subscriber
	SubscriberBuffer int
}

// DefaultConfig returns the default image manager configuration
func DefaultConfig() Config {
	return Config{
		Backoff:          DefaultBackoff(),
		Watchdog:         10 * time.Second,
		SubscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Status is a point-in-time summary of the manager.
type Status struct {
	Ready          bool   `json:"ready"`
	Images         int    `json:"images"`
	Scheduler      string `json:"scheduler"`
	Polling        bool   `json:"polling"`
	RepeatedErrors int    `json:"repeated_errors"`
	NextDelay      string `json:"next_delay"`
	LastError      string `json:"last_error,omitempty"`
}

// Refresh outcome labels
const (
	refreshSuccess    = "success"
	refreshStderr     = "stderr"
	refreshExitError  = "exit_error"
	refreshTimeout    = "timeout"
	refreshSpawnError = "spawn_error"
	refreshParseError = "parse_error"
	refreshError      = "error"
)

var (
	listArgs = []string{"images", "--all"}

	errListingStderr = errors.New("kim images wrote to stderr")
)

type manager struct {
	config    Config
	runner    CommandRunner
	logger    *slog.Logger
	metrics   *otel.ImageMetrics
	events    *Broadcaster
	scheduler *Scheduler

	// ctx bounds background listings and is cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards the cache, readiness, error and refresh state
	mu             sync.Mutex
	images         []Image
	ready          bool
	repeats        *dedup.Deduplicator
	lastError      string
	lastLogged     string
	refreshing     bool
	refreshPending bool
	closed         bool
}

// NewManager creates an image manager. It does not poll until Start is
// called. logger and meter may be nil.
func NewManager(runner CommandRunner, config Config, logger *slog.Logger, meter metric.Meter) (Manager, error) {
	if runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &manager{
		config:  config,
		runner:  runner,
		logger:  logger,
		events:  NewBroadcaster(config.SubscriberBuffer),
		ctx:     ctx,
		cancel:  cancel,
		images:  []Image{},
		repeats: dedup.New(),
	}
	m.scheduler = NewScheduler(m.Refresh)

	if meter != nil {
		metrics, err := otel.NewImageMetrics(meter)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		if _, err := meter.RegisterCallback(m.observe, metrics.ImagesTotal, metrics.ImagesBytes, metrics.Ready); err != nil {
			cancel()
			return nil, fmt.Errorf("register metrics callback: %w", err)
		}
		m.metrics = metrics
	}

	return m, nil
}

func (m *manager) Start() {
	m.logger.Info("starting image refresh loop")
	m.scheduler.Start()
}

func (m *manager) Stop() {
	m.logger.Info("stopping image refresh loop")
	m.scheduler.Stop()
}

// Refresh starts a listing unless one is running, in which case exactly one
// more listing runs as soon as it finishes.
func (m *manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.refreshing {
		m.refreshPending = true
		return
	}

	m.refreshing = true
	m.wg.Add(1)
	go m.refreshLoop()
}

func (m *manager) refreshLoop() {
	defer m.wg.Done()

	for {
		m.refreshOnce()

		m.mu.Lock()
		if m.refreshPending && !m.closed {
			m.refreshPending = false
			m.mu.Unlock()
			continue
		}
		m.refreshPending = false
		m.refreshing = false
		delay := m.config.Backoff.Delay(m.repeats.Count())
		m.mu.Unlock()

		if m.scheduler.Complete(delay) {
			m.logger.Debug("scheduled next image refresh", "delay", delay)
		}
		return
	}
}

func (m *manager) refreshOnce() {
	start := time.Now()
	res, err := m.runner.Run(m.ctx, listArgs, process.WithWatchdog(m.config.Watchdog))
	outcome := m.applyListingResult(m.ctx, res, err)

	if m.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		m.metrics.RefreshesTotal.Add(m.ctx, 1, attrs)
		m.metrics.RefreshDuration.Record(m.ctx, time.Since(start).Seconds(), attrs)
	}
}

// applyListingResult updates the cache and readiness from one listing. The
// cache is only replaced by a clean exit with no stderr and parseable output.
func (m *manager) applyListingResult(ctx context.Context, res *process.Result, runErr error) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stderr string
	var exitErr *process.ExitError
	switch {
	case runErr == nil:
		stderr = res.Stderr
	case errors.As(runErr, &exitErr):
		stderr = exitErr.Stderr
	}

	if stderr != "" {
		out := m.repeats.Record(stderr)
		if out.IsRepeat {
			m.logger.InfoContext(ctx, "kim images: "+out.Message, "count", out.Count)
		} else {
			m.logger.WarnContext(ctx, "kim images wrote to stderr", "stderr", strings.TrimRight(out.Message, "\r\n"))
		}
	}

	failure := runErr
	if failure == nil && stderr != "" {
		failure = errListingStderr
	}

	var images []Image
	if failure == nil {
		images, failure = ParseImages(res.Stdout)
	}

	if failure != nil {
		m.markFailedLocked(ctx, failure, stderr)
		return refreshOutcome(failure)
	}

	m.lastError = ""
	m.lastLogged = ""
	if m.config.ResetBackoffOnSuccess {
		m.repeats.Reset()
	}

	m.images = images
	m.events.Publish(Event{Type: EventImagesChanged, Images: slices.Clone(images)})

	if !m.ready {
		m.ready = true
		m.events.Publish(Event{Type: EventReadinessChanged, Ready: true})
		m.logger.InfoContext(ctx, "kim is ready", "images", len(images))
	}

	return refreshSuccess
}

func (m *manager) markFailedLocked(ctx context.Context, failure error, stderr string) {
	if stderr != "" {
		m.lastError = firstLine(stderr)
	} else {
		m.lastError = failure.Error()
		// stderr failures are logged by the deduplicator
		if m.lastError != m.lastLogged {
			m.lastLogged = m.lastError
			if m.ctx.Err() != nil {
				m.logger.DebugContext(ctx, "image refresh interrupted by shutdown", "error", failure)
			} else {
				m.logger.ErrorContext(ctx, "refreshing images failed", "error", failure)
			}
		}
	}

	if m.ready {
		m.ready = false
		m.events.Publish(Event{Type: EventReadinessChanged, Ready: false})
		m.logger.WarnContext(ctx, "kim is no longer ready", "error", m.lastError)
	}
}

func refreshOutcome(err error) string {
	var exitErr *process.ExitError
	var spawnErr *process.SpawnError
	switch {
	case errors.Is(err, errListingStderr):
		return refreshStderr
	case errors.Is(err, ErrParse):
		return refreshParseError
	case errors.As(err, &spawnErr):
		return refreshSpawnError
	case errors.As(err, &exitErr):
		if exitErr.TimedOut {
			return refreshTimeout
		}
		return refreshExitError
	default:
		return refreshError
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ListImages returns a copy of the cached listing.
func (m *manager) ListImages() []Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.images)
}

func (m *manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *manager) Status() Status {
	m.mu.Lock()
	st := Status{
		Ready:          m.ready,
		Images:         len(m.images),
		RepeatedErrors: m.repeats.Count(),
		NextDelay:      m.config.Backoff.Delay(m.repeats.Count()).String(),
		LastError:      m.lastError,
	}
	m.mu.Unlock()

	st.Scheduler = m.scheduler.State().String()
	st.Polling = !m.scheduler.StopRequested()
	return st
}

func (m *manager) Subscribe(ctx context.Context) (<-chan Event, error) {
	return m.events.Subscribe(ctx)
}

func (m *manager) Unsubscribe(ch <-chan Event) {
	m.events.Unsubscribe(ch)
}

func (m *manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.scheduler.Stop()
	m.cancel()
	m.wg.Wait()
	m.events.Close()
}

func (m *manager) observe(_ context.Context, o metric.Observer) error {
	m.mu.Lock()
	images := m.images
	ready := m.ready
	m.mu.Unlock()

	o.ObserveInt64(m.metrics.ImagesTotal, int64(len(images)))
	o.ObserveInt64(m.metrics.ImagesBytes, totalBytes(images))
	o.ObserveInt64(m.metrics.Ready, lo.Ternary[int64](ready, 1, 0))
	return nil
}

// totalBytes sums the sizes that parse; kim prints fractional sizes that
// datasize rejects, those count as zero.
func totalBytes(images []Image) int64 {
	return lo.SumBy(images, func(img Image) int64 {
		size, err := img.SizeBytes()
		if err != nil {
			return 0
		}
		return int64(size.Bytes())
	})
}
