// Package store defines the storage contract the alert pipeline depends on:
// an atomic unordered batch over several tables, a per-batch consistency
// level, and a failure classifier separating transient from permanent errors.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

// Table names shared by every backend.
const (
	TableAlertsByID     = "alerts_by_id"
	TableAlertsByStatus = "alerts_by_status"
	TableTransactions   = "transactions"
	TableDashCounts     = "dash_counts"
)

// Consistency is the replica acknowledgement level requested for a write.
// Backends without replication accept and ignore it.
type Consistency uint8

const (
	ConsistencyOne Consistency = iota + 1
	ConsistencyLocalOne
	ConsistencyQuorum
	ConsistencyLocalQuorum
	ConsistencyAll
)

var consistencyNames = map[Consistency]string{
	ConsistencyOne:         "ONE",
	ConsistencyLocalOne:    "LOCAL_ONE",
	ConsistencyQuorum:      "QUORUM",
	ConsistencyLocalQuorum: "LOCAL_QUORUM",
	ConsistencyAll:         "ALL",
}

func (c Consistency) String() string {
	if n, ok := consistencyNames[c]; ok {
		return n
	}
	return "ONE"
}

// ParseConsistency accepts the level names case-insensitively. The empty
// string means ONE.
func ParseConsistency(s string) (Consistency, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ConsistencyOne, nil
	}
	for c, n := range consistencyNames {
		if n == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown consistency level %q", s)
}

// Mutation is one statement inside a batch.
type Mutation interface {
	Table() string
}

// PutAlert upserts the by-id row.
type PutAlert struct{ Alert alert.Alert }

// PutStatusRow upserts the by-status row keyed on the alert's status key.
type PutStatusRow struct{ Alert alert.Alert }

// DeleteStatusRow removes one by-status row.
type DeleteStatusRow struct{ Key alert.StatusKey }

// SetAlertStatus updates status and reviewed on the by-id row.
type SetAlertStatus struct {
	ID       uuid.UUID
	Status   alert.Status
	Reviewed bool
}

// PutTransaction inserts a transaction row.
type PutTransaction struct{ Tx *txn.Transaction }

func (PutAlert) Table() string { return TableAlertsByID }
func (PutStatusRow) Table() string { return TableAlertsByStatus }
func (DeleteStatusRow) Table() string { return TableAlertsByStatus }
func (SetAlertStatus) Table() string { return TableAlertsByID }
func (PutTransaction) Table() string { return TableTransactions }

// Batch is an unlogged batch: either every mutation applies or none does,
// with no ordering guarantee between them.
type Batch struct {
	Consistency Consistency
	Mutations   []Mutation
}

func NewBatch(c Consistency) *Batch {
	return &Batch{Consistency: c}
}

func (b *Batch) Add(m ...Mutation) { b.Mutations = append(b.Mutations, m...) }

func (b *Batch) Len() int { return len(b.Mutations) }

// Store is implemented by every backend.
type Store interface {
	// ExecBatch applies b atomically.
	ExecBatch(ctx context.Context, b *Batch) error
	// AlertByID reads the by-id row. Missing rows return ErrNotFound.
	AlertByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error)
	// AlertsByStatus scans one (status, date) partition, newest first.
	// limit <= 0 means no limit.
	AlertsByStatus(ctx context.Context, status alert.Status, date time.Time, limit int) ([]alert.Alert, error)
	// ScanStatusRows visits every by-status row.
	ScanStatusRows(ctx context.Context, fn func(alert.Alert) error) error
	// Transaction reads a transaction by its full key.
	Transaction(ctx context.Context, key txn.Key) (*txn.Transaction, error)
	// TransactionsByDate scans one insert_date partition, newest first.
	// limit <= 0 means no limit.
	TransactionsByDate(ctx context.Context, date time.Time, limit int) ([]txn.Transaction, error)
	// ReplaceCounts overwrites the dashboard counts of one view.
	ReplaceCounts(ctx context.Context, view string, counts map[string]int64) error
	// Counts reads the dashboard counts of one view.
	Counts(ctx context.Context, view string) (map[string]int64, error)
	Ping(ctx context.Context) error
	Close() error
}
