// Package cassandra implements store.Store on a Cassandra cluster through
// gocql. Alert writes go out as unlogged batches at the requested
// consistency level.
package cassandra

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

//go:embed schema.cql
var schemaCQL string

var alertColumns = []string{
	"alert_id", "region", "tenant", "score", "severity", "alert_type",
	"account_number", "first_name", "last_name", "amount", "alert_date",
	"alert_description", "transaction_key", "transaction_timestamp",
	"transaction_date", "status", "reviewed", "create_timestamp",
}

var (
	selectAlert    = "SELECT " + strings.Join(alertColumns, ", ")
	insertByID     = insertStmt(store.TableAlertsByID, alertColumns)
	insertByStatus = insertStmt(store.TableAlertsByStatus, alertColumns)
	insertTx       = insertStmt(store.TableTransactions, txColumns())
)

func txColumns() []string {
	cols := []string{
		"insert_date", "insert_time", "transaction_key", "session_id",
		"first_name", "last_name", "account_number", "amount", "tenant",
	}
	for n := 1; n <= txn.NumFields; n++ {
		cols = append(cols, txn.FieldName(n))
	}
	return cols
}

func insertStmt(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
}

// Config holds the cluster connection settings.
type Config struct {
	Hosts    []string
	Keyspace string
	LocalDC  string
	Timeout  time.Duration
	// Consistency is the session default for reads.
	Consistency store.Consistency
	// CreateSchema applies schema.cql on open.
	CreateSchema bool
}

// Store is a Cassandra-backed store.Store.
type Store struct {
	session *gocql.Session
}

// Open connects to the cluster.
func Open(cfg Config) (*Store, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("cassandra: at least one host is required")
	}
	if cfg.Keyspace == "" {
		return nil, errors.New("cassandra: keyspace is required")
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = toGocql(cfg.Consistency)
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.LocalDC))
	} else {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: create session: %w", err)
	}
	s := &Store{session: session}
	if cfg.CreateSchema {
		if err := s.createSchema(); err != nil {
			session.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) createSchema() error {
	for _, stmt := range strings.Split(schemaCQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := s.session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("cassandra: apply schema: %w", err)
		}
	}
	return nil
}

func toGocql(c store.Consistency) gocql.Consistency {
	switch c {
	case store.ConsistencyLocalOne:
		return gocql.LocalOne
	case store.ConsistencyQuorum:
		return gocql.Quorum
	case store.ConsistencyLocalQuorum:
		return gocql.LocalQuorum
	case store.ConsistencyAll:
		return gocql.All
	}
	return gocql.One
}

func (s *Store) Classify(err error) store.Class { return classify(err) }

// Write timeouts, unavailable replicas and client-side timeouts may succeed
// on a later attempt. Everything else, including read timeouts during a
// write, is treated as permanent.
func classify(err error) store.Class {
	var wt *gocql.RequestErrWriteTimeout
	var un *gocql.RequestErrUnavailable
	switch {
	case errors.As(err, &wt), errors.As(err, &un):
		return store.Transient
	case errors.Is(err, gocql.ErrTimeoutNoResponse), errors.Is(err, gocql.ErrNoConnections):
		return store.Transient
	}
	return store.DefaultClassifier.Classify(err)
}

func (s *Store) ExecBatch(ctx context.Context, b *store.Batch) error {
	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	batch.SetConsistency(toGocql(b.Consistency))

	for _, m := range b.Mutations {
		switch m := m.(type) {
		case store.PutAlert:
			batch.Query(insertByID, alertArgs(&m.Alert)...)
		case store.PutStatusRow:
			batch.Query(insertByStatus, alertArgs(&m.Alert)...)
		case store.DeleteStatusRow:
			batch.Query(`DELETE FROM alerts_by_status
				WHERE status = ? AND alert_date = ? AND create_timestamp = ? AND alert_id = ?`,
				string(m.Key.Status), txn.DateOf(m.Key.Date), m.Key.CreatedAt, gocql.UUID(m.Key.ID))
		case store.SetAlertStatus:
			batch.Query(`UPDATE alerts_by_id SET status = ?, reviewed = ? WHERE alert_id = ?`,
				string(m.Status), m.Reviewed, gocql.UUID(m.ID))
		case store.PutTransaction:
			batch.Query(insertTx, txArgs(m.Tx)...)
		default:
			return fmt.Errorf("cassandra: unsupported mutation %T", m)
		}
	}
	return s.session.ExecuteBatch(batch)
}

func (s *Store) AlertByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	var r alertRow
	err := s.session.Query(selectAlert+" FROM alerts_by_id WHERE alert_id = ?", gocql.UUID(id)).
		WithContext(ctx).Scan(r.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.alert()
}

func (s *Store) AlertsByStatus(ctx context.Context, status alert.Status, date time.Time, limit int) ([]alert.Alert, error) {
	stmt := selectAlert + " FROM alerts_by_status WHERE status = ? AND alert_date = ?"
	args := []any{string(status), txn.DateOf(date)}
	if limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, limit)
	}
	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()

	var out []alert.Alert
	var r alertRow
	for iter.Scan(r.dest()...) {
		a, err := r.alert()
		if err != nil {
			iter.Close()
			return nil, err
		}
		out = append(out, *a)
		r = alertRow{}
	}
	return out, iter.Close()
}

func (s *Store) ScanStatusRows(ctx context.Context, fn func(alert.Alert) error) error {
	iter := s.session.Query(selectAlert + " FROM alerts_by_status").WithContext(ctx).Iter()
	var r alertRow
	for iter.Scan(r.dest()...) {
		a, err := r.alert()
		if err == nil {
			err = fn(*a)
		}
		if err != nil {
			iter.Close()
			return err
		}
		r = alertRow{}
	}
	return iter.Close()
}

func (s *Store) Transaction(ctx context.Context, key txn.Key) (*txn.Transaction, error) {
	var r txRow
	err := s.session.Query("SELECT "+strings.Join(txColumns(), ", ")+
		" FROM transactions WHERE insert_date = ? AND insert_time = ? AND transaction_key = ?",
		txn.DateOf(key.Date), key.Time, gocql.UUID(key.ID)).
		WithContext(ctx).Scan(r.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.transaction()
}

func (s *Store) TransactionsByDate(ctx context.Context, date time.Time, limit int) ([]txn.Transaction, error) {
	stmt := "SELECT " + strings.Join(txColumns(), ", ") + " FROM transactions WHERE insert_date = ?"
	args := []any{txn.DateOf(date)}
	if limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, limit)
	}
	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()

	var out []txn.Transaction
	var r txRow
	for iter.Scan(r.dest()...) {
		t, err := r.transaction()
		if err != nil {
			iter.Close()
			return nil, err
		}
		out = append(out, *t)
		r = txRow{}
	}
	return out, iter.Close()
}

// ReplaceCounts drops the view partition and rewrites it in one logged
// batch. The delete is stamped one microsecond earlier than the inserts; at
// equal timestamps the tombstone would win.
func (s *Store) ReplaceCounts(ctx context.Context, view string, counts map[string]int64) error {
	ts := time.Now().UnixMicro()
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query("DELETE FROM dash_counts USING TIMESTAMP ? WHERE dash_view = ?", ts-1, view)
	for bucket, n := range counts {
		batch.Query("INSERT INTO dash_counts (dash_view, bucket, total) VALUES (?, ?, ?) USING TIMESTAMP ?",
			view, bucket, n, ts)
	}
	return s.session.ExecuteBatch(batch)
}

func (s *Store) Counts(ctx context.Context, view string) (map[string]int64, error) {
	iter := s.session.Query("SELECT bucket, total FROM dash_counts WHERE dash_view = ?", view).
		WithContext(ctx).Iter()
	out := make(map[string]int64)
	var bucket string
	var n int64
	for iter.Scan(&bucket, &n) {
		out[bucket] = n
	}
	return out, iter.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.session.Query("SELECT release_version FROM system.local").WithContext(ctx).Exec()
}

func (s *Store) Close() error {
	s.session.Close()
	return nil
}
