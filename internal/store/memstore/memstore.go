// Package memstore is an in-memory Store used for local runs and tests. It
// supports failure injection so retry behaviour can be exercised without a
// real cluster.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

type statusKey struct {
	status  alert.Status
	date    int64
	created int64
	id      uuid.UUID
}

func keyOf(k alert.StatusKey) statusKey {
	return statusKey{
		status:  k.Status,
		date:    txn.DateOf(k.Date).Unix(),
		created: k.CreatedAt.UnixNano(),
		id:      k.ID,
	}
}

type txKey struct {
	date int64
	time int64
	id   uuid.UUID
}

func txKeyOf(k txn.Key) txKey {
	return txKey{date: txn.DateOf(k.Date).Unix(), time: k.Time.UnixNano(), id: k.ID}
}

// BatchRecord describes one batch that was applied.
type BatchRecord struct {
	Size        int
	Consistency store.Consistency
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]alert.Alert
	byStatus map[statusKey]alert.Alert
	txs      map[txKey]*txn.Transaction
	counts   map[string]map[string]int64

	failures []error
	failFn   func(*store.Batch) error
	applied  []BatchRecord
	attempts int
}

func New() *Store {
	return &Store{
		byID:     make(map[uuid.UUID]alert.Alert),
		byStatus: make(map[statusKey]alert.Alert),
		txs:      make(map[txKey]*txn.Transaction),
		counts:   make(map[string]map[string]int64),
	}
}

// FailNext makes the next len(errs) ExecBatch calls fail with errs in order.
// A failed call applies nothing.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// SetFailFunc installs a hook consulted on every ExecBatch after queued
// failures; a non-nil result fails the batch.
func (s *Store) SetFailFunc(fn func(*store.Batch) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

func (s *Store) ExecBatch(ctx context.Context, b *store.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}
	if s.failFn != nil {
		if err := s.failFn(b); err != nil {
			return err
		}
	}

	for _, m := range b.Mutations {
		switch m := m.(type) {
		case store.PutAlert, store.PutStatusRow, store.DeleteStatusRow, store.SetAlertStatus, store.PutTransaction:
		default:
			return fmt.Errorf("memstore: unsupported mutation %T", m)
		}
	}
	for _, m := range b.Mutations {
		s.apply(m)
	}
	s.applied = append(s.applied, BatchRecord{Size: b.Len(), Consistency: b.Consistency})
	return nil
}

func (s *Store) apply(m store.Mutation) {
	switch m := m.(type) {
	case store.PutAlert:
		s.byID[m.Alert.ID] = m.Alert
	case store.PutStatusRow:
		s.byStatus[keyOf(m.Alert.StatusKey())] = m.Alert
	case store.DeleteStatusRow:
		delete(s.byStatus, keyOf(m.Key))
	case store.SetAlertStatus:
		// Like a CQL UPDATE this is an upsert of the two columns only.
		a := s.byID[m.ID]
		a.ID = m.ID
		a.Status = m.Status
		a.Reviewed = m.Reviewed
		s.byID[m.ID] = a
	case store.PutTransaction:
		s.txs[txKeyOf(m.Tx.Key())] = m.Tx
	}
}

func (s *Store) AlertByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) AlertsByStatus(ctx context.Context, status alert.Status, date time.Time, limit int) ([]alert.Alert, error) {
	s.mu.RLock()
	day := txn.DateOf(date).Unix()
	var out []alert.Alert
	for k, a := range s.byStatus {
		if k.status == status && k.date == day {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ScanStatusRows(ctx context.Context, fn func(alert.Alert) error) error {
	s.mu.RLock()
	rows := make([]alert.Alert, 0, len(s.byStatus))
	for _, a := range s.byStatus {
		rows = append(rows, a)
	}
	s.mu.RUnlock()

	for _, a := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Transaction(ctx context.Context, key txn.Key) (*txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[txKeyOf(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) TransactionsByDate(ctx context.Context, date time.Time, limit int) ([]txn.Transaction, error) {
	s.mu.RLock()
	day := txn.DateOf(date).Unix()
	var out []txn.Transaction
	for k, t := range s.txs {
		if k.date == day {
			out = append(out, *t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].InsertTime.Equal(out[j].InsertTime) {
			return out[i].InsertTime.After(out[j].InsertTime)
		}
		return out[i].TransactionKey.String() < out[j].TransactionKey.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ReplaceCounts(ctx context.Context, view string, counts map[string]int64) error {
	cp := make(map[string]int64, len(counts))
	for k, v := range counts {
		cp[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[view] = cp
	return nil
}

func (s *Store) Counts(ctx context.Context, view string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.counts[view]))
	for k, v := range s.counts[view] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// Classify uses the package default: only write timeouts are transient.
func (s *Store) Classify(err error) store.Class {
	return store.DefaultClassifier.Classify(err)
}

// Applied returns the batches applied so far.
func (s *Store) Applied() []BatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]BatchRecord(nil), s.applied...)
}

// Attempts counts every ExecBatch call, failed or not.
func (s *Store) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// StatusRows returns every by-status row of one alert.
func (s *Store) StatusRows(id uuid.UUID) []alert.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alert.Alert
	for k, a := range s.byStatus {
		if k.id == id {
			out = append(out, a)
		}
	}
	return out
}

// AlertCount returns the number of by-id rows.
func (s *Store) AlertCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
