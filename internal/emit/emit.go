// Package emit replays substitute phrases as synthetic keystrokes.
//
// An [Emitter] owns the only goroutine that talks to the injector. Jobs are
// submitted with a sequence number and run strictly in sequence order; a
// job whose predecessors are still being matched waits in a min-heap until
// they are submitted or skipped. Each job raises the suppression gate,
// deletes the captured text, types the replacement and schedules the gate to
// drop once the output has settled.
package emit

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/internal/resilience"
	"github.com/MrWong99/kittymode/internal/suppress"
	"github.com/MrWong99/kittymode/pkg/keyboard"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("emit: emitter closed")

	// ErrStale is returned by Submit for a sequence the emitter has already
	// passed, typically because of a Reset.
	ErrStale = errors.New("emit: stale sequence")
)

// Options controls keystroke pacing for one job.
type Options struct {
	TypingDelay time.Duration
	DeleteDelay time.Duration
	// PhasePause separates the deletes from the typing.
	PhasePause      time.Duration
	PressEnterAfter bool
	// EnterPause is waited before Enter.
	EnterPause time.Duration
	// MinSettle is how long the gate stays up after the last keystroke.
	MinSettle time.Duration
}

// DefaultOptions returns the stock pacing.
func DefaultOptions() Options {
	return Options{
		DeleteDelay:     10 * time.Millisecond,
		PhasePause:      50 * time.Millisecond,
		PressEnterAfter: true,
		MinSettle:       150 * time.Millisecond,
	}
}

// Job is one replacement: Deletes backspaces followed by Replacement.
type Job struct {
	Seq         uint64
	Deletes     int
	Replacement string
	Options     Options
	// Generation is the capture generation the job replaces. Informational.
	Generation uint64
}

// Result reports the outcome of a job.
type Result struct {
	Job      Job
	Deleted  int
	Typed    int
	Duration time.Duration
	// Err wraps [keyboard.ErrDispatch] when a keystroke could not be
	// delivered.
	Err error
}

// Gate is the part of [suppress.Gate] the emitter drives.
type Gate interface {
	Activate() error
	Touch()
	ScheduleDeactivate(after time.Duration)
	ForceDeactivate()
	ReadyIn() time.Duration
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithClock replaces the wall clock used for pacing, for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Emitter) { e.clock = c }
}

// WithMetrics records emit latency on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Emitter) { e.metrics = m }
}

// WithBreaker guards the injector with cb instead of the default breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Emitter) { e.breaker = cb }
}

// Emitter serializes synthetic output. All exported methods are safe for
// concurrent use.
type Emitter struct {
	injector keyboard.Injector
	gate     Gate
	onResult func(Result)
	clock    clock.Clock
	metrics  *observe.Metrics
	breaker  *resilience.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	queue        jobHeap
	next         uint64
	skipped      map[uint64]struct{}
	running      bool
	releaseAfter bool
	closed       bool

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// New starts an Emitter that expects sequence 1 first. onResult, if not nil,
// is called from the dispatch goroutine after every job and must not block
// for long.
func New(injector keyboard.Injector, gate Gate, onResult func(Result), opts ...Option) *Emitter {
	e := &Emitter{
		injector: injector,
		gate:     gate,
		onResult: onResult,
		queue:    make(jobHeap, 0, 8),
		next:     1,
		skipped:  make(map[uint64]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.breaker == nil {
		e.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "injector",
			MaxFailures:  3,
			ResetTimeout: 10 * time.Second,
			HalfOpenMax:  1,
			Clock:        e.clock,
		})
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	heap.Init(&e.queue)
	go e.dispatch()
	return e
}

// Submit queues job. It runs once every lower sequence has run or been
// skipped.
func (e *Emitter) Submit(job Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if job.Seq < e.next {
		return fmt.Errorf("%w: %d (next %d)", ErrStale, job.Seq, e.next)
	}
	heap.Push(&e.queue, job)
	e.wakeLocked()
	return nil
}

// Skip lets ordering advance past seq, whose job will never be submitted.
func (e *Emitter) Skip(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || seq < e.next {
		return
	}
	e.skipped[seq] = struct{}{}
	e.wakeLocked()
}

// Reset drops every queued job and skip mark and expects nextSeq next. A job
// that is already running finishes.
func (e *Emitter) Reset(nextSeq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := e.queue.Len()
	e.queue = e.queue[:0]
	clear(e.skipped)
	e.next = nextSeq
	if dropped > 0 {
		slog.Debug("emit: dropped queued jobs", "count", dropped, "next_seq", nextSeq)
	}
}

// ReleaseAfterCurrent force-clears the gate as soon as the running job ends,
// or right away when nothing is running.
func (e *Emitter) ReleaseAfterCurrent() {
	e.mu.Lock()
	if e.running {
		e.releaseAfter = true
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.gate.ForceDeactivate()
}

// Pending returns the number of queued jobs.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Busy reports whether a job is running.
func (e *Emitter) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// NextSeq returns the sequence the emitter waits for.
func (e *Emitter) NextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// Close aborts the running job, drops the queue and waits for the dispatch
// goroutine to exit. Close is idempotent.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.exited
		return nil
	}
	e.closed = true
	e.queue = e.queue[:0]
	e.mu.Unlock()

	e.cancel()
	close(e.done)
	<-e.exited
	return nil
}

func (e *Emitter) wakeLocked() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Emitter) dispatch() {
	defer close(e.exited)
	for {
		select {
		case <-e.done:
			return
		case <-e.notify:
		}

		for {
			job, ok := e.dequeue()
			if !ok {
				break
			}
			e.run(job)

			e.mu.Lock()
			e.running = false
			release := e.releaseAfter
			e.releaseAfter = false
			e.mu.Unlock()
			if release {
				e.gate.ForceDeactivate()
			}
		}
	}
}

// dequeue pops the job carrying the next expected sequence, advancing past
// skipped sequences and discarding stale ones.
func (e *Emitter) dequeue() (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Job{}, false
	}
	for {
		if _, ok := e.skipped[e.next]; ok {
			delete(e.skipped, e.next)
			e.next++
			continue
		}
		if e.queue.Len() > 0 && e.queue.peek().Seq < e.next {
			heap.Pop(&e.queue)
			continue
		}
		break
	}
	if e.queue.Len() == 0 || e.queue.peek().Seq != e.next {
		return Job{}, false
	}
	job := heap.Pop(&e.queue).(Job)
	e.next++
	e.running = true
	return job, true
}

func (e *Emitter) run(job Job) {
	start := e.clock.Now()
	ctx, span := observe.StartSpan(e.ctx, "emit",
		trace.WithAttributes(
			attribute.Int64("emit.seq", int64(job.Seq)),
			attribute.Int("emit.deletes", job.Deletes),
			attribute.Int("emit.runes", len([]rune(job.Replacement))),
		),
	)

	res := e.execute(ctx, job)
	e.gate.ScheduleDeactivate(job.Options.MinSettle)

	res.Duration = e.clock.Since(start)
	observe.RecordError(span, res.Err)
	span.End()
	e.metrics.RecordEmit(ctx, res.Duration, res.Err)

	if res.Err != nil {
		observe.Logger(ctx).Warn("emit: job failed", "seq", job.Seq, "deleted", res.Deleted, "typed", res.Typed, "err", res.Err)
	} else {
		observe.Logger(ctx).Debug("emit: job done", "seq", job.Seq, "deleted", res.Deleted, "typed", res.Typed, "duration", res.Duration)
	}
	if e.onResult != nil {
		e.onResult(res)
	}
}

func (e *Emitter) execute(ctx context.Context, job Job) Result {
	res := Result{Job: job}
	opts := job.Options

	if err := e.activate(ctx); err != nil {
		res.Err = fmt.Errorf("emit: job %d: activate gate: %w", job.Seq, err)
		return res
	}

	for i := range job.Deletes {
		if i > 0 {
			if err := e.sleep(ctx, opts.DeleteDelay); err != nil {
				res.Err = fmt.Errorf("emit: job %d: %w", job.Seq, err)
				return res
			}
		}
		if err := e.key(e.injector.Backspace); err != nil {
			res.Err = fmt.Errorf("emit: job %d: delete %d of %d: %w", job.Seq, i+1, job.Deletes, err)
			return res
		}
		res.Deleted++
	}

	if job.Deletes > 0 && job.Replacement != "" {
		if err := e.sleep(ctx, opts.PhasePause); err != nil {
			res.Err = fmt.Errorf("emit: job %d: %w", job.Seq, err)
			return res
		}
	}

	for i, r := range []rune(job.Replacement) {
		if i > 0 {
			if err := e.sleep(ctx, opts.TypingDelay); err != nil {
				res.Err = fmt.Errorf("emit: job %d: %w", job.Seq, err)
				return res
			}
		}
		if err := e.key(func() error { return e.injector.TypeRune(r) }); err != nil {
			res.Err = fmt.Errorf("emit: job %d: type rune %d: %w", job.Seq, i+1, err)
			return res
		}
		res.Typed++
	}

	if opts.PressEnterAfter {
		if err := e.sleep(ctx, opts.EnterPause); err != nil {
			res.Err = fmt.Errorf("emit: job %d: %w", job.Seq, err)
			return res
		}
		if err := e.key(e.injector.Enter); err != nil {
			res.Err = fmt.Errorf("emit: job %d: enter: %w", job.Seq, err)
			return res
		}
	}
	return res
}

// activate raises the gate, waiting out the minimum interval since the
// previous deactivation.
func (e *Emitter) activate(ctx context.Context) error {
	for {
		err := e.gate.Activate()
		if err == nil {
			return nil
		}
		if !errors.Is(err, suppress.ErrTooSoon) {
			return err
		}
		if err := e.sleep(ctx, max(e.gate.ReadyIn(), time.Millisecond)); err != nil {
			return err
		}
	}
}

// key dispatches one keystroke through the breaker and records synthetic
// activity on the gate.
func (e *Emitter) key(fn func() error) error {
	err := e.breaker.Execute(fn)
	e.gate.Touch()
	if err == nil || errors.Is(err, keyboard.ErrDispatch) {
		return err
	}
	return fmt.Errorf("%w: %w", keyboard.ErrDispatch, err)
}

func (e *Emitter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := e.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
