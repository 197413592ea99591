// Package controller ties the kittymode pipeline together.
//
// Key events flow from the listener through the suppression gate into the
// capture machine. Each flush gets the next sequence number and is matched
// against the noise index by a small worker pool; the result is handed to
// the emitter, which replays it in sequence order. Disabling cancels the
// open session, discards every queued flush and releases the gate once the
// running dispatch ends.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kittymode/internal/capture"
	"github.com/MrWong99/kittymode/internal/emit"
	"github.com/MrWong99/kittymode/internal/match"
	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/internal/suppress"
	"github.com/MrWong99/kittymode/pkg/keyboard"
	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

var (
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("controller: closed")

	// ErrNoIndex is returned by Enable when no noise index is loaded.
	ErrNoIndex = errors.New("controller: no noise index loaded")

	// ErrInvalidSettings wraps every [Settings.Validate] failure.
	ErrInvalidSettings = errors.New("controller: invalid settings")
)

// Error kinds passed to [Reporter.Error] and recorded as metrics.
const (
	KindMatch    = "match"
	KindDispatch = "dispatch"
	KindOverflow = "overflow"
	KindListener = "listener"
)

// queueSize bounds flushes waiting for a match worker.
const queueSize = 32

// Reporter receives user-visible events.
type Reporter interface {
	// Enabled is called after every effective enable or disable.
	Enabled(on bool)
	// Error is called for every per-flush failure.
	Error(kind string, err error)
}

type nopReporter struct{}

func (nopReporter) Enabled(bool)         {}
func (nopReporter) Error(string, error) {}

// Settings is the runtime-tunable part of the controller.
type Settings struct {
	Capture     capture.Timing
	Output      emit.Options
	Suppression suppress.Config
	// Workers is the number of match workers. It takes effect on the next
	// Run.
	Workers      int
	CustomNoises []string
}

// DefaultSettings returns the stock settings.
func DefaultSettings() Settings {
	out := emit.DefaultOptions()
	sup := suppress.DefaultConfig()
	out.MinSettle = sup.MinSettle
	return Settings{
		Capture:     capture.DefaultTiming(),
		Output:      out,
		Suppression: sup,
		Workers:     2,
	}
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if err := s.Capture.Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.Workers < 1 {
		errs = append(errs, fmt.Errorf("controller: workers must be at least 1, got %d", s.Workers))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"output.typing_delay", s.Output.TypingDelay},
		{"output.delete_delay", s.Output.DeleteDelay},
		{"output.phase_pause", s.Output.PhasePause},
		{"output.enter_pause", s.Output.EnterPause},
		{"output.min_settle", s.Output.MinSettle},
		{"suppression.min_settle", s.Suppression.MinSettle},
		{"suppression.min_interval", s.Suppression.MinInterval},
		{"suppression.failsafe", s.Suppression.Failsafe},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("controller: %s must not be negative, got %s", d.name, d.v))
		}
	}
	for i, n := range s.CustomNoises {
		if n == "" {
			errs = append(errs, fmt.Errorf("controller: custom noise %d is empty", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

func (s Settings) clone() Settings {
	s.CustomNoises = slices.Clone(s.CustomNoises)
	return s
}

// Status is a point-in-time view for the tray and the control API.
type Status struct {
	Enabled      bool   `json:"enabled"`
	Listening    bool   `json:"listening"`
	GateActive   bool   `json:"gate_active"`
	CaptureState string `json:"capture_state"`
	IndexSize    int    `json:"index_size"`
	PendingJobs  int    `json:"pending_jobs"`
	EmitterBusy  bool   `json:"emitter_busy"`
}

// Deps are the collaborators a controller needs.
type Deps struct {
	Listener keyboard.Listener
	Injector keyboard.Injector
	Provider embeddings.Provider
	Index    *noise.Index
}

// Option configures a Controller.
type Option func(*Controller)

// WithReporter sends user-visible events to r.
func WithReporter(r Reporter) Option {
	return func(c *Controller) { c.reporter = r }
}

// WithClock drives capture, suppression and pacing from clk, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

type flushJob struct {
	seq   uint64
	epoch uint64
	flush capture.Flush
}

// Controller owns the gate, the capture machine and the emitter.
type Controller struct {
	listener keyboard.Listener
	provider embeddings.Provider
	reporter Reporter
	clock    clock.Clock
	metrics  *observe.Metrics

	gate    *suppress.Gate
	capture *capture.Machine
	emitter *emit.Emitter
	matcher *match.Matcher
	index   atomic.Pointer[noise.Index]

	enabled   atomic.Bool
	listening atomic.Bool
	epoch     atomic.Uint64
	flushes   chan flushJob

	// reconfigMu serializes Reconfigure so the index and settings.CustomNoises
	// always come from the same call.
	reconfigMu sync.Mutex

	mu       sync.Mutex
	settings Settings
	seq      uint64
	closed   bool

	closeOnce sync.Once
}

// New builds a disabled controller. Call Run to start listening and Enable
// to start replacing text.
func New(deps Deps, s Settings, opts ...Option) (*Controller, error) {
	if deps.Listener == nil || deps.Injector == nil || deps.Provider == nil {
		return nil, errors.New("controller: listener, injector and provider are required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		listener: deps.Listener,
		provider: deps.Provider,
		settings: s.clone(),
		flushes:  make(chan flushJob, queueSize),
	}
	for _, o := range opts {
		o(c)
	}
	if c.reporter == nil {
		c.reporter = nopReporter{}
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.index.Store(deps.Index)

	c.gate = suppress.New(s.Suppression,
		suppress.WithClock(c.clock),
		suppress.WithDropHandler(func(ev keyboard.KeyEvent) {
			c.metrics.RecordDropped(context.Background(), ev.Source.String())
		}),
	)
	c.capture = capture.New(s.Capture, c.onFlush, capture.WithClock(c.clock))
	c.emitter = emit.New(deps.Injector, c.gate, c.onResult,
		emit.WithClock(c.clock),
		emit.WithMetrics(c.metrics),
	)
	c.matcher = match.New(deps.Provider, match.WithMetrics(c.metrics))
	return c, nil
}

// Run starts the listener and the match workers and blocks until ctx is
// done. A listener that cannot start is returned as an error wrapping
// [keyboard.ErrUnavailable] or [keyboard.ErrPermissionDenied].
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	workers := c.settings.Workers
	c.mu.Unlock()

	if err := c.listener.Start(ctx, c.handleKey); err != nil {
		c.metrics.RecordError(ctx, KindListener)
		return fmt.Errorf("controller: start listener: %w", err)
	}
	c.listening.Store(true)
	defer func() {
		c.listening.Store(false)
		if err := c.listener.Stop(); err != nil {
			slog.Warn("controller: stop listener", "err", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			c.worker(gctx)
			return nil
		})
	}
	slog.Info("controller running", "workers", workers, "index_size", c.indexSize())
	_ = g.Wait()
	return ctx.Err()
}

// Enable starts replacing captured text. Enabling twice is a no-op.
func (c *Controller) Enable() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.indexSize() == 0 {
		c.mu.Unlock()
		return ErrNoIndex
	}
	was := c.enabled.Swap(true)
	c.mu.Unlock()
	if was {
		return nil
	}

	c.metrics.SetEnabled(context.Background(), true)
	slog.Info("kittymode enabled")
	c.reporter.Enabled(true)
	return nil
}

// Disable stops replacing text. The open capture session and every queued
// flush are discarded; a dispatch in progress completes and the gate is
// released right after it.
func (c *Controller) Disable() {
	c.mu.Lock()
	if !c.enabled.Swap(false) {
		c.mu.Unlock()
		return
	}
	c.disableLocked()
	c.mu.Unlock()

	c.metrics.SetEnabled(context.Background(), false)
	slog.Info("kittymode disabled")
	c.reporter.Enabled(false)
}

// disableLocked must be called with c.mu held.
func (c *Controller) disableLocked() {
	c.capture.Cancel()
	c.epoch.Add(1)
	c.emitter.Reset(c.seq + 1)
	c.emitter.ReleaseAfterCurrent()
}

// Toggle flips the enabled state and returns the new state.
func (c *Controller) Toggle() (bool, error) {
	if c.IsEnabled() {
		c.Disable()
		return false, nil
	}
	if err := c.Enable(); err != nil {
		return false, err
	}
	return true, nil
}

// IsEnabled reports whether text is being replaced.
func (c *Controller) IsEnabled() bool {
	return c.enabled.Load()
}

// Listening reports whether Run has a live listener.
func (c *Controller) Listening() bool {
	return c.listening.Load()
}

// Reconfigure validates s and applies it. Capture timing takes effect from
// the next session and output pacing from the next job. A changed custom
// noise list rebuilds the index before anything is applied.
func (c *Controller) Reconfigure(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	c.reconfigMu.Lock()
	defer c.reconfigMu.Unlock()

	c.mu.Lock()
	customChanged := !slices.Equal(c.settings.CustomNoises, s.CustomNoises)
	c.mu.Unlock()

	if customChanged {
		cur := c.index.Load()
		if cur == nil {
			return ErrNoIndex
		}
		idx, err := cur.WithCustom(ctx, c.provider, s.CustomNoises, noise.BuildOptions{})
		if err != nil {
			return fmt.Errorf("controller: rebuild index: %w", err)
		}
		c.index.Store(idx)
		slog.Info("noise index rebuilt", "size", idx.Len(), "custom", len(idx.Custom()))
	}

	c.mu.Lock()
	c.settings = s.clone()
	c.capture.SetTiming(s.Capture)
	c.gate.SetConfig(s.Suppression)
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current settings.
func (c *Controller) Snapshot() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.clone()
}

// Index returns the noise index in use.
func (c *Controller) Index() *noise.Index {
	return c.index.Load()
}

// Preview returns the k closest noises for text without emitting anything.
func (c *Controller) Preview(ctx context.Context, text string, k int, f PreviewFilter) ([]match.Result, error) {
	idx, err := f.apply(c.index.Load())
	if err != nil {
		return nil, err
	}
	return c.matcher.TopK(ctx, text, idx, k)
}

// PreviewFilter narrows a preview to part of the index. The zero value keeps
// every entry. Result indexes then refer to positions in the filtered set.
type PreviewFilter struct {
	Category string
	MaxRunes int
}

func (f PreviewFilter) apply(idx *noise.Index) (*noise.Index, error) {
	if idx == nil {
		return nil, nil
	}
	var err error
	if f.Category != "" {
		if idx, err = subIndex(idx, idx.ByCategory(f.Category)); idx == nil || err != nil {
			return idx, err
		}
	}
	if f.MaxRunes > 0 {
		idx, err = subIndex(idx, idx.Short(f.MaxRunes))
	}
	return idx, err
}

// subIndex returns nil for an empty selection, which the matcher reports as
// [match.ErrEmptyIndex].
func subIndex(idx *noise.Index, entries []noise.Entry) (*noise.Index, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	sub, err := noise.NewIndex(entries, idx.Dimensions(), idx.Model())
	if err != nil {
		return nil, fmt.Errorf("controller: filter index: %w", err)
	}
	return sub, nil
}

// Status returns a point-in-time view of the pipeline.
func (c *Controller) Status() Status {
	return Status{
		Enabled:      c.enabled.Load(),
		Listening:    c.listening.Load(),
		GateActive:   c.gate.Active(),
		CaptureState: c.capture.State().String(),
		IndexSize:    c.indexSize(),
		PendingJobs:  c.emitter.Pending(),
		EmitterBusy:  c.emitter.Busy(),
	}
}

// Close disables the controller and stops the emitter. It does not stop a
// running Run; cancel its context for that. Close is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.enabled.Swap(false) {
			c.disableLocked()
		}
		c.mu.Unlock()
		_ = c.emitter.Close()
		c.gate.ForceDeactivate()
	})
	return nil
}

func (c *Controller) indexSize() int {
	if idx := c.index.Load(); idx != nil {
		return idx.Len()
	}
	return 0
}

// handleKey runs on the listener goroutine and must not block.
func (c *Controller) handleKey(ev keyboard.KeyEvent) {
	if !c.enabled.Load() {
		return
	}
	if !c.gate.Admit(ev) {
		return
	}
	c.capture.HandleKey(ev)
}

func (c *Controller) onFlush(f capture.Flush) {
	ctx := context.Background()
	c.metrics.RecordFlush(ctx, f.Reason, f.Count)

	c.mu.Lock()
	if !c.enabled.Load() {
		c.mu.Unlock()
		return
	}
	c.seq++
	job := flushJob{seq: c.seq, epoch: c.epoch.Load(), flush: f}
	c.mu.Unlock()

	select {
	case c.flushes <- job:
		slog.Debug("flush queued", "seq", job.seq, "generation", f.Generation, "runes", f.Count, "reason", f.Reason)
	default:
		c.emitter.Skip(job.seq)
		err := fmt.Errorf("controller: match queue full, flush %d dropped", job.seq)
		c.metrics.RecordError(ctx, KindOverflow)
		slog.Warn("flush dropped", "seq", job.seq, "err", err)
		c.reporter.Error(KindOverflow, err)
	}
}

func (c *Controller) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.flushes:
			c.process(ctx, job)
		}
	}
}

func (c *Controller) process(ctx context.Context, job flushJob) {
	if job.epoch != c.epoch.Load() {
		return
	}
	ctx, span := observe.StartSpan(ctx, "flush",
		trace.WithAttributes(
			attribute.Int64("flush.seq", int64(job.seq)),
			attribute.Int64("flush.generation", int64(job.flush.Generation)),
			attribute.Int("flush.runes", job.flush.Count),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	res, err := c.matcher.Match(ctx, job.flush.Text, c.index.Load())
	if err != nil {
		observe.RecordError(span, err)
		c.emitter.Skip(job.seq)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError(ctx, KindMatch)
		log.Warn("match failed", "seq", job.seq, "err", err)
		c.reporter.Error(KindMatch, err)
		return
	}
	log.Debug("matched", "seq", job.seq, "text", job.flush.Text, "phrase", res.Phrase, "score", res.Score)

	if job.epoch != c.epoch.Load() {
		return
	}
	c.mu.Lock()
	opts := c.settings.Output
	c.mu.Unlock()

	err = c.emitter.Submit(emit.Job{
		Seq:         job.seq,
		Deletes:     job.flush.Count,
		Replacement: res.Phrase,
		Options:     opts,
		Generation:  job.flush.Generation,
	})
	if err != nil {
		log.Debug("submit rejected", "seq", job.seq, "err", err)
	}
}

func (c *Controller) onResult(r emit.Result) {
	if r.Err == nil {
		return
	}
	if errors.Is(r.Err, context.Canceled) {
		return
	}
	c.metrics.RecordError(context.Background(), KindDispatch)
	c.reporter.Error(KindDispatch, r.Err)
}
