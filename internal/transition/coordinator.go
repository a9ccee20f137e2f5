// Package transition moves alerts between review statuses while keeping the
// by-id and by-status views in agreement.
package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/metrics"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
)

// ErrInvalidStatus is returned for an empty target status.
var ErrInvalidStatus = errors.New("invalid status")

// NotFoundError reports an unknown alert ID.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("alert %s not found", e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == store.ErrNotFound }

// Result describes the outcome of one transition request.
type Result struct {
	Alert   alert.Alert  `json:"alert"`
	From    alert.Status `json:"from"`
	Changed bool         `json:"changed"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker serializes transitions per alert ID through l.
func WithLocker(l Locker) Option { return func(c *Coordinator) { c.locker = l } }

func WithConsistency(cl store.Consistency) Option {
	return func(c *Coordinator) { c.consistency = cl }
}

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// Coordinator performs read-then-write status changes. Without a Locker two
// concurrent transitions of the same alert may both read the old status and
// leave a stale by-status row behind.
type Coordinator struct {
	st          store.Store
	consistency store.Consistency
	locker      Locker
	logger      *slog.Logger
}

func New(st store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		st:          st,
		consistency: store.ConsistencyOne,
		locker:      noLocker{},
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Transition moves alert id to status. Moving to the current status is a
// successful no-op. Store failures are returned as is; nothing is retried.
func (c *Coordinator) Transition(ctx context.Context, id uuid.UUID, status alert.Status) (Result, error) {
	if status == "" {
		return Result{}, ErrInvalidStatus
	}
	unlock := c.locker.Lock(id)
	defer unlock()

	cur, err := c.read(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if cur.Status == status {
		metrics.Transitions.WithLabelValues("noop").Inc()
		return Result{Alert: *cur, From: cur.Status}, nil
	}

	// Leaving new counts as a review.
	reviewed := cur.Reviewed || cur.Status == alert.StatusNew
	return c.apply(ctx, cur, status, reviewed)
}

// MarkReviewed opens the alert and flags it reviewed.
func (c *Coordinator) MarkReviewed(ctx context.Context, id uuid.UUID) (Result, error) {
	unlock := c.locker.Lock(id)
	defer unlock()

	cur, err := c.read(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if cur.Status == alert.StatusOpen && cur.Reviewed {
		metrics.Transitions.WithLabelValues("noop").Inc()
		return Result{Alert: *cur, From: cur.Status}, nil
	}
	return c.apply(ctx, cur, alert.StatusOpen, true)
}

func (c *Coordinator) read(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	cur, err := c.st.AlertByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		metrics.Transitions.WithLabelValues("not_found").Inc()
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		metrics.Transitions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read alert %s: %w", id, err)
	}
	return cur, nil
}

// apply issues the delete, insert and update as one atomic batch. When only
// the reviewed flag changes the by-status key is unchanged, so the row is
// overwritten in place instead of deleted.
func (c *Coordinator) apply(ctx context.Context, cur *alert.Alert, status alert.Status, reviewed bool) (Result, error) {
	next := cur.WithStatus(status)
	next.Reviewed = reviewed

	b := store.NewBatch(c.consistency)
	if cur.Status != status {
		b.Add(store.DeleteStatusRow{Key: cur.StatusKey()})
	}
	b.Add(
		store.PutStatusRow{Alert: next},
		store.SetAlertStatus{ID: cur.ID, Status: status, Reviewed: reviewed},
	)
	if err := c.st.ExecBatch(ctx, b); err != nil {
		metrics.Transitions.WithLabelValues("error").Inc()
		c.logger.Error("status transition failed",
			"alert_id", cur.ID, "from", cur.Status, "to", status, "err", err)
		return Result{}, fmt.Errorf("transition alert %s: %w", cur.ID, err)
	}

	metrics.Transitions.WithLabelValues("changed").Inc()
	c.logger.Info("alert status changed", "alert_id", cur.ID, "from", cur.Status, "to", status)
	return Result{Alert: next, From: cur.Status, Changed: true}, nil
}
