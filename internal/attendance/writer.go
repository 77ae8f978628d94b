package attendance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// spoolTimeout bounds a spool write made outside the consumer's context.
const spoolTimeout = 5 * time.Second

// WriterConfig configures the attendance writer.
type WriterConfig struct {
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DrainInterval is how often the spool is retried against the sink.
	DrainInterval time.Duration
}

// DefaultWriterConfig returns the default writer configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:      256,
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		DrainInterval:  30 * time.Second,
	}
}

// Writer decouples recorded events from persistence latency: Enqueue never
// blocks, and a single consumer goroutine appends to the sink with bounded
// retries. Events that cannot be written are spooled, never dropped.
type Writer struct {
	cfg   WriterConfig
	sink  Sink
	spool Spool
	log   zerolog.Logger
	m     *metrics.Metrics
	diag  diagnostics.Publisher

	queue    chan Event
	wake     chan struct{}
	degraded atomic.Bool
	running  sync.Mutex

	closeMu sync.RWMutex // held for reading while sending to queue
	closed  bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterLogger sets the writer logger.
func WithWriterLogger(l zerolog.Logger) WriterOption {
	return func(w *Writer) { w.log = l }
}

// WithWriterMetrics sets the metrics the writer reports to.
func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) { w.m = m }
}

// WithWriterDiagnostics sets where degraded signals are published.
func WithWriterDiagnostics(p diagnostics.Publisher) WriterOption {
	return func(w *Writer) { w.diag = p }
}

// NewWriter creates a writer. spool may be nil, in which case undeliverable
// events are logged as lost.
func NewWriter(sink Sink, spool Spool, cfg WriterConfig, opts ...WriterOption) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultWriterConfig().QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	w := &Writer{
		cfg:   cfg,
		sink:  sink,
		spool: spool,
		log:   zerolog.Nop(),
		queue: make(chan Event, cfg.QueueSize),
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Degraded reports whether the sink is currently failing.
func (w *Writer) Degraded() bool {
	return w.degraded.Load()
}

// QueueLen returns the number of events waiting for the consumer.
func (w *Writer) QueueLen() int {
	return len(w.queue)
}

// Enqueue hands an event to the consumer. When the queue is full, or the
// writer has stopped, the event goes straight to the spool.
func (w *Writer) Enqueue(ev Event) {
	if w.tryQueue(ev) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), spoolTimeout)
	defer cancel()
	w.toSpool(ctx, ev)
}

func (w *Writer) tryQueue(ev Event) bool {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- ev:
		return true
	default:
		w.log.Warn().Str("event_id", ev.EventID.String()).Msg("attendance queue full, spooling event")
		return false
	}
}

// Run consumes the queue until ctx is done. Remaining queued events are then
// given one delivery attempt each and spooled if that fails.
func (w *Writer) Run(ctx context.Context) error {
	if !w.running.TryLock() {
		return errors.New("attendance writer already running")
	}
	defer w.running.Unlock()

	var tick <-chan time.Time
	if w.spool != nil && w.cfg.DrainInterval > 0 {
		ticker := time.NewTicker(w.cfg.DrainInterval)
		defer ticker.Stop()
		tick = ticker.C
		w.drain(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case ev := <-w.queue:
			w.deliver(ctx, ev)
		case <-tick:
			w.drain(ctx)
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// DrainSpool pushes spooled events into the sink. It is safe to call while
// Run is not running, e.g. from a maintenance command.
func (w *Writer) DrainSpool(ctx context.Context) (int, error) {
	if w.spool == nil {
		return 0, nil
	}
	n, err := w.spool.Drain(ctx, func(ev Event) error {
		return w.sink.Append(ctx, ev)
	})
	w.updateSpoolDepth(ctx)
	return n, err
}

func (w *Writer) shutdown() {
	w.closeMu.Lock()
	w.closed = true
	w.closeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), spoolTimeout)
	defer cancel()
	for {
		select {
		case ev := <-w.queue:
			if err := w.sink.Append(ctx, ev); err != nil {
				w.toSpool(ctx, ev)
			}
		default:
			return
		}
	}
}

// deliver appends ev with exponential backoff; on exhaustion it is spooled
// and the writer marked degraded.
func (w *Writer) deliver(ctx context.Context, ev Event) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	if w.cfg.MaxBackoff > 0 {
		b.MaxInterval = w.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0

	op := func() error {
		return w.sink.Append(ctx, ev)
	}
	notify := func(err error, next time.Duration) {
		w.m.IncWriterRetries()
		w.log.Warn().Err(err).Str("event_id", ev.EventID.String()).Dur("retry_in", next).Msg("attendance write failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() == nil {
			w.setDegraded(true, err)
		}
		spoolCtx, cancel := context.WithTimeout(context.Background(), spoolTimeout)
		defer cancel()
		w.toSpool(spoolCtx, ev)
		return
	}

	if w.degraded.Load() {
		w.setDegraded(false, nil)
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (w *Writer) drain(ctx context.Context) {
	n, err := w.DrainSpool(ctx)
	if n > 0 {
		w.log.Info().Int("events", n).Msg("drained spooled attendance events")
	}
	if err != nil {
		if ctx.Err() == nil {
			w.setDegraded(true, err)
		}
		return
	}
	if n > 0 && w.degraded.Load() {
		w.setDegraded(false, nil)
	}
}

func (w *Writer) toSpool(ctx context.Context, ev Event) {
	if w.spool == nil {
		w.log.Error().Str("event_id", ev.EventID.String()).Str("identity_id", ev.IdentityID).
			Msg("attendance event lost: no spool configured")
		return
	}
	if err := w.spool.Push(ctx, ev); err != nil {
		w.log.Error().Err(err).Str("event_id", ev.EventID.String()).Str("identity_id", ev.IdentityID).
			Msg("attendance event lost: spool write failed")
		if w.diag != nil {
			w.diag.Publish(diagnostics.Event{
				Type:       diagnostics.EventWriterStatus,
				Level:      diagnostics.LevelError,
				IdentityID: ev.IdentityID,
				Message:    "attendance event lost: spool write failed: " + err.Error(),
			})
		}
		return
	}
	w.m.IncWriterSpooled()
	w.updateSpoolDepth(ctx)
}

func (w *Writer) updateSpoolDepth(ctx context.Context) {
	if w.m == nil || w.spool == nil {
		return
	}
	if n, err := w.spool.Len(ctx); err == nil {
		w.m.SetSpoolDepth(n)
	}
}

func (w *Writer) setDegraded(degraded bool, cause error) {
	if w.degraded.Swap(degraded) == degraded {
		return
	}
	w.m.SetWriterDegraded(degraded)

	ev := diagnostics.Event{Type: diagnostics.EventWriterStatus}
	if degraded {
		w.log.Error().Err(cause).Msg("attendance sink unavailable, spooling events")
		ev.Level = diagnostics.LevelError
		ev.Reason = "degraded"
		ev.Message = cause.Error()
	} else {
		w.log.Info().Msg("attendance sink recovered")
		ev.Reason = "recovered"
	}
	if w.diag != nil {
		w.diag.Publish(ev)
	}
}
