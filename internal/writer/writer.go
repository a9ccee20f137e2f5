// Package writer drains the alert queue and persists alerts to every view in
// bounded atomic batches, retrying transient store failures.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/metrics"
	"github.com/gyaneshwarpardhi/alertflow/internal/queue"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
)

// Config tunes the writer loop.
type Config struct {
	// BatchLimit caps the alerts per batch. Each alert contributes one row to
	// each view.
	BatchLimit int
	// MaxAttempts is the total number of tries for one batch.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between tries.
	RetryBackoff time.Duration
	// PollInterval bounds how long the loop parks when the queue is empty.
	PollInterval time.Duration
	Consistency  store.Consistency
}

// DefaultConfig matches the documented production settings.
func DefaultConfig() Config {
	return Config{
		BatchLimit:   20,
		MaxAttempts:  3,
		RetryBackoff: 200 * time.Millisecond,
		PollInterval: time.Second,
		Consistency:  store.ConsistencyOne,
	}
}

// ConfigFrom converts the YAML section. Zero values keep the defaults.
func ConfigFrom(c config.WriterConf) (Config, error) {
	out := DefaultConfig()
	if c.BatchLimit > 0 {
		out.BatchLimit = c.BatchLimit
	}
	if c.MaxAttempts > 0 {
		out.MaxAttempts = c.MaxAttempts
	}
	if c.RetryBackoffMs > 0 {
		out.RetryBackoff = time.Duration(c.RetryBackoffMs) * time.Millisecond
	}
	if c.PollIntervalMs > 0 {
		out.PollInterval = time.Duration(c.PollIntervalMs) * time.Millisecond
	}
	cons, err := store.ParseConsistency(c.Consistency)
	if err != nil {
		return Config{}, fmt.Errorf("writer: %w", err)
	}
	out.Consistency = cons
	return out, nil
}

// Stats are cumulative counters since the writer was created.
type Stats struct {
	Batches   int64 `json:"batches"`
	Persisted int64 `json:"persisted"`
	Dropped   int64 `json:"dropped"`
	Retries   int64 `json:"retries"`
}

// Option configures a Writer.
type Option func(*Writer)

func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.logger = l } }

// WithClassifier overrides the store's own failure classifier.
func WithClassifier(c store.Classifier) Option { return func(w *Writer) { w.classifier = c } }

// WithOnPersist registers a hook called with every batch that was written.
func WithOnPersist(fn func(context.Context, []alert.Alert)) Option {
	return func(w *Writer) { w.onPersist = fn }
}

// Writer is the single consumer of the alert queue.
type Writer struct {
	q          *queue.Queue[alert.Pending]
	st         store.Store
	conf       Config
	classifier store.Classifier
	onPersist  func(context.Context, []alert.Alert)
	logger     *slog.Logger
	sleep      func(time.Duration)

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	batches, persisted, dropped, retries atomic.Int64
}

func New(q *queue.Queue[alert.Pending], st store.Store, conf Config, opts ...Option) *Writer {
	def := DefaultConfig()
	if conf.BatchLimit <= 0 {
		conf.BatchLimit = def.BatchLimit
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = def.MaxAttempts
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = def.PollInterval
	}
	if conf.Consistency == 0 {
		conf.Consistency = def.Consistency
	}
	w := &Writer{
		q:          q,
		st:         st,
		conf:       conf,
		classifier: store.ClassifierFor(st),
		logger:     slog.Default(),
		sleep:      time.Sleep,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start launches the writer loop. It returns immediately; later calls are
// ignored.
func (w *Writer) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.run(ctx)
	})
}

// Stop ends the loop and waits for it. The in-flight batch completes and
// whatever is still queued is flushed before Stop returns. Callers that need
// a clean cut close the queue first.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		started := true
		w.startOnce.Do(func() { started = false })
		if !started {
			close(w.done)
			return
		}
		w.cancel()
	})
	<-w.done
}

func (w *Writer) Stats() Stats {
	return Stats{
		Batches:   w.batches.Load(),
		Persisted: w.persisted.Load(),
		Dropped:   w.dropped.Load(),
		Retries:   w.retries.Load(),
	}
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("alert writer started",
		"batch_limit", w.conf.BatchLimit,
		"max_attempts", w.conf.MaxAttempts,
		"consistency", w.conf.Consistency.String())

	timer := time.NewTimer(w.conf.PollInterval)
	defer timer.Stop()

	for {
		w.drain(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.conf.PollInterval)

		select {
		case <-ctx.Done():
			w.drain(ctx)
			w.logger.Info("alert writer stopped", "stats", w.Stats())
			return
		case _, ok := <-w.q.Wait():
			if !ok {
				w.drain(ctx)
				w.logger.Info("alert queue closed, writer stopped", "stats", w.Stats())
				return
			}
		case <-timer.C:
		}
	}
}

// drain writes batches until the queue is empty. Each batch starts from one
// dequeued item and greedily takes what is already queued behind it.
func (w *Writer) drain(ctx context.Context) {
	for {
		first, ok := w.q.TryDequeue()
		if !ok {
			metrics.QueueDepth.Set(0)
			return
		}
		items := append([]alert.Pending{first}, w.q.DrainN(w.conf.BatchLimit-1)...)
		metrics.QueueDepth.Set(float64(w.q.Len()))
		w.writeBatch(ctx, items)
	}
}

func (w *Writer) writeBatch(ctx context.Context, items []alert.Pending) {
	alerts := make([]alert.Alert, 0, len(items))
	b := store.NewBatch(w.conf.Consistency)
	for _, p := range items {
		if err := p.Draft.Validate(); err != nil {
			w.logger.Warn("dropping invalid alert draft", "err", err)
			metrics.DraftsDropped.WithLabelValues("invalid").Inc()
			w.dropped.Add(1)
			continue
		}
		a := alert.FromDraft(p)
		alerts = append(alerts, a)
		b.Add(store.PutAlert{Alert: a}, store.PutStatusRow{Alert: a})
	}
	if len(alerts) == 0 {
		return
	}

	// Shutdown must not abort a batch that has already been taken off the
	// queue.
	ctx = context.WithoutCancel(ctx)
	metrics.BatchSize.Observe(float64(len(alerts)))
	w.batches.Add(1)

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := w.st.ExecBatch(ctx, b)
		metrics.BatchWriteDuration.Observe(float64(time.Since(start).Milliseconds()))
		if err == nil {
			metrics.BatchesWritten.WithLabelValues("success").Inc()
			metrics.AlertsPersisted.Add(float64(len(alerts)))
			w.persisted.Add(int64(len(alerts)))
			w.logger.Debug("alert batch written", "batch", len(alerts), "attempt", attempt)
			if w.onPersist != nil {
				w.onPersist(ctx, alerts)
			}
			return
		}

		class := w.classifier.Classify(err)
		if class == store.Permanent {
			w.logger.Error("alert batch failed permanently, dropping",
				"batch", len(alerts), "attempt", attempt, "err", err)
			w.drop("permanent", len(alerts))
			return
		}
		if attempt >= w.conf.MaxAttempts {
			w.logger.Error("alert batch retries exhausted, dropping",
				"batch", len(alerts), "attempts", attempt, "err", err)
			w.drop("exhausted", len(alerts))
			return
		}

		backoff := time.Duration(attempt) * w.conf.RetryBackoff
		w.logger.Warn("alert batch write failed, retrying",
			"batch", len(alerts), "attempt", attempt, "backoff", backoff, "err", err)
		metrics.BatchRetries.Inc()
		w.retries.Add(1)
		w.sleep(backoff)
	}
}

func (w *Writer) drop(reason string, n int) {
	metrics.BatchesWritten.WithLabelValues("dropped_" + reason).Inc()
	metrics.DraftsDropped.WithLabelValues(reason).Add(float64(n))
	w.dropped.Add(int64(n))
}
