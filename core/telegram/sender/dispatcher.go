package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/exchangebot/core/logger"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize int
	Workers   int
	Retry     Policy
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
	// OnFailure receives the Classify kind of every job that finally failed.
	OnFailure func(kind string)
}

// DefaultRetry is used when Options.Retry is left zero.
var DefaultRetry = Policy{Attempts: 3, Backoff: 2 * time.Second, MaxFloodWait: 10 * time.Second}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher runs one-off replies (help texts, notices) off the update goroutine. Flow
// messages that must stay ordered go through a synchronous sender instead.
type Dispatcher struct {
	opts Options
	jobs chan job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewDispatcher starts the workers, filling zero options with defaults.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry == (Policy{}) {
		opts.Retry = DefaultRetry
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
		stop: make(chan struct{}),
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules run. run may be called more than once when retries kick in.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits until the queued ones are done.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.jobs)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handle(j)
	}
}

func (d *Dispatcher) handle(j job) {
	// Replies outlive the update handler that queued them, so only the deadline is derived.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts, err := d.opts.Retry.Do(ctx, j.run)
	attrs := jobAttrs(j, attempts, time.Since(start))
	if err == nil {
		level := slog.LevelDebug
		if attempts > 1 {
			level = slog.LevelInfo
		}
		logger.Event(j.ctx, "tg.sender", level, "send.success", attrs...)
		return
	}

	kind := Classify(err)
	attrs = append(attrs,
		slog.String("error", Redact(err)),
		slog.String("error_kind", kind),
	)
	logger.Error(j.ctx, "tg.sender", "send.fail", attrs...)
	if d.opts.OnFailure != nil {
		d.opts.OnFailure(kind)
	}
}

// jobAttrs describes the job; update, handler and flow come from the job context.
func jobAttrs(j job, attempts int, elapsed time.Duration) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", j.action),
		slog.Int("attempts", attempts),
		slog.Int64("elapsed_ms", logger.RoundMS(elapsed).Milliseconds()),
	}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return attrs
}
