// Package engine is the facade the transports call: it stores incoming
// transactions, scores them, feeds alert drafts to the background writer and
// answers alert queries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/metrics"
	"github.com/gyaneshwarpardhi/alertflow/internal/queue"
	"github.com/gyaneshwarpardhi/alertflow/internal/rules"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/transition"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
	"github.com/gyaneshwarpardhi/alertflow/internal/writer"
)

// ErrStopped is returned by Ingest once the engine is shutting down.
var ErrStopped = errors.New("engine stopped")

// ErrRangeTooLarge rejects list queries spanning more than MaxListDays.
var ErrRangeTooLarge = errors.New("date range too large")

const (
	MaxListDays     = 31
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// Notifier receives every batch the writer persisted.
type Notifier interface {
	Dispatch(ctx context.Context, alerts []alert.Alert)
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides the event time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithNotifier fans persisted alerts out through n on a small worker pool.
// Batches are dropped when the pool is saturated.
func WithNotifier(n Notifier, workers, depth int) Option {
	return func(e *Engine) {
		e.notifier = n
		e.notifyWorkers = workers
		e.notifyDepth = depth
	}
}

func WithWriterOptions(opts ...writer.Option) Option {
	return func(e *Engine) { e.writerOpts = append(e.writerOpts, opts...) }
}

func WithTransitionOptions(opts ...transition.Option) Option {
	return func(e *Engine) { e.transitionOpts = append(e.transitionOpts, opts...) }
}

// Engine wires the rule engine, the alert queue, the batch writer and the
// status coordinator around one store.
type Engine struct {
	st     store.Store
	rules  *rules.Engine
	queue  *queue.Queue[alert.Pending]
	writer *writer.Writer
	coord  *transition.Coordinator
	wconf  writer.Config
	logger *slog.Logger
	now    func() time.Time

	notifier      Notifier
	notifyWorkers int
	notifyDepth   int
	notifyPool    *workerPool[[]alert.Alert]

	writerOpts     []writer.Option
	transitionOpts []transition.Option

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
}

// New creates an Engine. Call Start before ingesting.
func New(st store.Store, re *rules.Engine, wconf writer.Config, opts ...Option) *Engine {
	e := &Engine{
		st:            st,
		rules:         re,
		queue:         queue.New[alert.Pending](),
		wconf:         wconf,
		logger:        slog.Default(),
		now:           time.Now,
		notifyWorkers: 2,
		notifyDepth:   256,
	}
	for _, o := range opts {
		o(e)
	}
	if e.rules == nil {
		e.rules = rules.NewEngine(nil)
	}
	wopts := append([]writer.Option{writer.WithLogger(e.logger)}, e.writerOpts...)
	if e.notifier != nil {
		wopts = append(wopts, writer.WithOnPersist(e.notify))
	}
	e.writer = writer.New(e.queue, st, wconf, wopts...)
	topts := append([]transition.Option{transition.WithLogger(e.logger)}, e.transitionOpts...)
	e.coord = transition.New(st, topts...)
	return e
}

// Start launches the background writer and the notification workers.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	if e.notifier != nil {
		e.notifyPool = newWorkerPool(ctx, e.notifyWorkers, e.notifyDepth, func(ctx context.Context, batch []alert.Alert) {
			e.notifier.Dispatch(ctx, batch)
		})
	}
	e.writer.Start(ctx)
	e.logger.Info("engine started", "batch_limit", e.wconf.BatchLimit, "consistency", e.wconf.Consistency)
}

// Stop rejects further ingestion, flushes queued drafts to the store and
// waits for pending notifications.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.queue.Close()
	e.writer.Stop()
	if e.notifyPool != nil {
		e.notifyPool.Drain()
	}
	if e.cancel != nil {
		e.cancel()
	}
	st := e.writer.Stats()
	e.logger.Info("engine stopped",
		"batches", st.Batches, "persisted", st.Persisted, "dropped", st.Dropped, "retries", st.Retries)
}

func (e *Engine) notify(_ context.Context, persisted []alert.Alert) {
	if e.notifyPool == nil {
		return
	}
	if !e.notifyPool.Submit(persisted) {
		metrics.Notifications.WithLabelValues("all", "dropped").Inc()
		e.logger.Warn("notification backlog full, batch skipped", "batch", len(persisted))
	}
}

// ItemError reports one transaction of a request that was not processed.
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// IngestResult summarizes one Ingest call. Alerts lists the drafts handed to
// the writer; they become visible once the writer persists them.
type IngestResult struct {
	Accepted int         `json:"accepted"`
	Rejected []ItemError `json:"rejected,omitempty"`
	Alerts   []uuid.UUID `json:"alerts"`
}

// Ingest stores txs as one atomic batch, then scores each one and enqueues an
// alert draft for those that qualify. Invalid transactions are skipped and
// reported; a rule that fails on one transaction does not affect the rest.
func (e *Engine) Ingest(ctx context.Context, txs []*txn.Transaction) (*IngestResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return nil, ErrStopped
	}

	res := &IngestResult{Alerts: []uuid.UUID{}}
	valid := make([]*txn.Transaction, 0, len(txs))
	b := store.NewBatch(e.wconf.Consistency)
	for i, tx := range txs {
		if tx == nil {
			res.Rejected = append(res.Rejected, ItemError{Index: i, Error: "empty transaction"})
			continue
		}
		if err := tx.Validate(); err != nil {
			res.Rejected = append(res.Rejected, ItemError{Index: i, Error: err.Error()})
			continue
		}
		valid = append(valid, tx)
		b.Add(store.PutTransaction{Tx: tx})
	}
	if b.Len() > 0 {
		if err := e.st.ExecBatch(ctx, b); err != nil {
			return nil, fmt.Errorf("store transactions: %w", err)
		}
	}
	res.Accepted = len(valid)
	metrics.TransactionsIngested.Add(float64(len(valid)))

	eventTime := e.now()
	for _, tx := range valid {
		d, err := e.rules.Evaluate(tx, eventTime)
		if err != nil {
			metrics.EvaluationErrors.Inc()
			e.logger.Warn("rule evaluation failed", "transaction", tx.TransactionKey, "err", err)
			continue
		}
		if d == nil {
			continue
		}
		metrics.AlertsDrafted.WithLabelValues(string(d.Type)).Inc()
		if !e.queue.Enqueue(alert.Pending{Draft: *d, EventTime: eventTime}) {
			return res, ErrStopped
		}
		metrics.AlertsEnqueued.Inc()
		res.Alerts = append(res.Alerts, d.ID)
	}
	metrics.QueueDepth.Set(float64(e.queue.Len()))
	return res, nil
}

// Score runs the rules against tx without storing anything.
func (e *Engine) Score(tx *txn.Transaction) (rules.Outcome, error) {
	return e.rules.Score(tx)
}

// ReloadRules builds a rule set from conf and swaps it in.
func (e *Engine) ReloadRules(conf config.RulesConf) error {
	rs, err := rules.Build(conf)
	if err != nil {
		return err
	}
	e.rules.Swap(rs)
	e.logger.Info("rules reloaded", "amount_steps", len(rs.Steps()), "indicators", len(rs.Indicators()))
	return nil
}

// FollowConfig reloads the rules whenever l reloads. Rules that fail to build
// reject the reload.
func (e *Engine) FollowConfig(l *config.Loader) {
	l.OnChange(func(cfg *config.AppConfig) error { return e.ReloadRules(cfg.Rules) })
}

func (e *Engine) Rules() *rules.RuleSet { return e.rules.Rules() }

func (e *Engine) QueueDepth() int { return e.queue.Len() }

func (e *Engine) WriterStats() writer.Stats { return e.writer.Stats() }

func (e *Engine) Ping(ctx context.Context) error { return e.st.Ping(ctx) }

// Transition moves an alert to status through the coordinator.
func (e *Engine) Transition(ctx context.Context, id uuid.UUID, status alert.Status) (transition.Result, error) {
	return e.coord.Transition(ctx, id, status)
}

func (e *Engine) MarkReviewed(ctx context.Context, id uuid.UUID) (transition.Result, error) {
	return e.coord.MarkReviewed(ctx, id)
}

// ListQuery selects alerts by status over an inclusive date range.
type ListQuery struct {
	Statuses []alert.Status
	From, To time.Time
	Page     int
	Limit    int
}

// ListResult is one page of alerts, newest first.
type ListResult struct {
	Alerts []alert.Alert `json:"alerts"`
	Total  int           `json:"total"`
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
}

func (q *ListQuery) normalize(today time.Time) error {
	if len(q.Statuses) == 0 {
		q.Statuses = []alert.Status{alert.StatusNew}
	}
	return normalizeWindow(&q.From, &q.To, &q.Page, &q.Limit, today)
}

// normalizeWindow defaults an inclusive day range to today and clamps paging.
func normalizeWindow(from, to *time.Time, page, limit *int, today time.Time) error {
	if to.IsZero() {
		*to = today
	}
	if from.IsZero() {
		*from = *to
	}
	*from, *to = txn.DateOf(*from), txn.DateOf(*to)
	if from.After(*to) {
		*from, *to = *to, *from
	}
	if days := int(to.Sub(*from).Hours()/24) + 1; days > MaxListDays {
		return fmt.Errorf("%w: %d days, max %d", ErrRangeTooLarge, days, MaxListDays)
	}
	if *page < 1 {
		*page = 1
	}
	switch {
	case *limit <= 0:
		*limit = DefaultPageSize
	case *limit > MaxPageSize:
		*limit = MaxPageSize
	}
	return nil
}

func pageOf[T any](all []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(all) {
		return []T{}
	}
	return all[start:min(start+limit, len(all))]
}

// ListAlerts scans the by-status view for every (status, day) pair in q.
func (e *Engine) ListAlerts(ctx context.Context, q ListQuery) (*ListResult, error) {
	if err := q.normalize(e.now()); err != nil {
		return nil, err
	}
	var all []alert.Alert
	for _, s := range q.Statuses {
		for d := q.To; !d.Before(q.From); d = d.AddDate(0, 0, -1) {
			rows, err := e.st.AlertsByStatus(ctx, s, d, 0)
			if err != nil {
				return nil, fmt.Errorf("list %s alerts on %s: %w", s, d.Format(txn.DateLayout), err)
			}
			all = append(all, rows...)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return &ListResult{Alerts: pageOf(all, q.Page, q.Limit), Total: len(all), Page: q.Page, Limit: q.Limit}, nil
}

// TxQuery selects transactions over an inclusive insert-date range. When
// From is zero and Days is positive, the range covers Days days ending at To.
type TxQuery struct {
	From, To time.Time
	Days     int
	Page     int
	Limit    int
}

// TxResult is one page of transactions, newest first.
type TxResult struct {
	Transactions []txn.Transaction `json:"transactions"`
	Page         int               `json:"page"`
	Limit        int               `json:"limit"`
}

// ListTransactions scans the transactions table day by day, newest day
// first, reading no more rows than the requested page needs.
func (e *Engine) ListTransactions(ctx context.Context, q TxQuery) (*TxResult, error) {
	if q.From.IsZero() && q.Days > 0 {
		if q.To.IsZero() {
			q.To = e.now()
		}
		q.From = q.To.AddDate(0, 0, -(q.Days - 1))
	}
	if err := normalizeWindow(&q.From, &q.To, &q.Page, &q.Limit, e.now()); err != nil {
		return nil, err
	}
	need := q.Page * q.Limit
	var all []txn.Transaction
	for d := q.To; !d.Before(q.From) && len(all) < need; d = d.AddDate(0, 0, -1) {
		rows, err := e.st.TransactionsByDate(ctx, d, need-len(all))
		if err != nil {
			return nil, fmt.Errorf("list transactions on %s: %w", d.Format(txn.DateLayout), err)
		}
		all = append(all, rows...)
	}
	return &TxResult{Transactions: pageOf(all, q.Page, q.Limit), Page: q.Page, Limit: q.Limit}, nil
}

// Detail is an alert together with the transaction that raised it.
type Detail struct {
	Alert       *alert.Alert     `json:"alert"`
	Transaction *txn.Transaction `json:"transaction,omitempty"`
}

// AlertDetail reads an alert by id. A missing alert returns an error matching
// store.ErrNotFound; a missing transaction leaves Transaction nil.
func (e *Engine) AlertDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	a, err := e.st.AlertByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &transition.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("read alert %s: %w", id, err)
	}
	key := txn.Key{Date: a.TransactionDate, Time: a.TransactionTime, ID: a.TransactionKey}
	tx, err := e.st.Transaction(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		tx = nil
	case err != nil:
		return nil, fmt.Errorf("read transaction %s: %w", key, err)
	}
	return &Detail{Alert: a, Transaction: tx}, nil
}
