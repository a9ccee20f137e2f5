// Package sqlstore implements store.Store over database/sql for SQLite and
// PostgreSQL. A batch becomes one SQL transaction, which gives the same
// all-or-nothing guarantee as an unlogged Cassandra batch on a single node.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

//go:embed schema.sql
var schemaSQL string

var alertColumns = []string{
	"alert_id", "region", "tenant", "score", "severity", "alert_type",
	"account_number", "first_name", "last_name", "amount", "alert_date",
	"alert_description", "transaction_key", "transaction_timestamp",
	"transaction_date", "status", "reviewed", "create_timestamp",
}

var txColumns = func() []string {
	cols := []string{
		"insert_date", "insert_time", "transaction_key", "session_id",
		"first_name", "last_name", "account_number", "amount", "tenant",
	}
	for n := 1; n <= txn.NumFields; n++ {
		cols = append(cols, txn.FieldName(n))
	}
	return cols
}()

// Store is a SQL-backed store.Store.
type Store struct {
	db *sql.DB
	d  *dialect

	putByID     string
	putByStatus string
	putTx       string
}

// Open connects using driver ("sqlite" or "postgres") and dsn, applies the
// schema and returns a ready store. For sqlite the dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := d.setup(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, d: d}
	s.putByID = d.rebind(upsert(store.TableAlertsByID, alertColumns, []string{"alert_id"}))
	s.putByStatus = d.rebind(upsert(store.TableAlertsByStatus, alertColumns,
		[]string{"status", "alert_date", "create_timestamp", "alert_id"}))
	s.putTx = d.rebind(upsert(store.TableTransactions, txColumns,
		[]string{"insert_date", "insert_time", "transaction_key"}))
	return s, nil
}

// upsert builds an INSERT that overwrites every non-key column on conflict,
// matching the last-write-wins semantics of a CQL INSERT.
func upsert(table string, cols, key []string) string {
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(key, ", "),
		strings.Join(sets, ", "))
}

// Driver reports the dialect name.
func (s *Store) Driver() string { return s.d.name }

func (s *Store) Classify(err error) store.Class { return s.d.classify(err) }

func (s *Store) ExecBatch(ctx context.Context, b *store.Batch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, m := range b.Mutations {
		if err = s.exec(ctx, tx, m); err != nil {
			return fmt.Errorf("%s: %w", m.Table(), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, m store.Mutation) error {
	var err error
	switch m := m.(type) {
	case store.PutAlert:
		_, err = tx.ExecContext(ctx, s.putByID, alertArgs(&m.Alert)...)
	case store.PutStatusRow:
		_, err = tx.ExecContext(ctx, s.putByStatus, alertArgs(&m.Alert)...)
	case store.DeleteStatusRow:
		_, err = tx.ExecContext(ctx, s.d.rebind(
			`DELETE FROM alerts_by_status
			 WHERE status = ? AND alert_date = ? AND create_timestamp = ? AND alert_id = ?`),
			string(m.Key.Status), formatDate(m.Key.Date), micros(m.Key.CreatedAt), m.Key.ID.String())
	case store.SetAlertStatus:
		_, err = tx.ExecContext(ctx, s.d.rebind(
			`UPDATE alerts_by_id SET status = ?, reviewed = ? WHERE alert_id = ?`),
			string(m.Status), m.Reviewed, m.ID.String())
	case store.PutTransaction:
		_, err = tx.ExecContext(ctx, s.putTx, txArgs(m.Tx)...)
	default:
		err = fmt.Errorf("unsupported mutation %T", m)
	}
	return err
}

func (s *Store) AlertByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	q := s.d.rebind("SELECT " + strings.Join(alertColumns, ", ") + " FROM alerts_by_id WHERE alert_id = ?")
	a, err := scanAlert(s.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) AlertsByStatus(ctx context.Context, status alert.Status, date time.Time, limit int) ([]alert.Alert, error) {
	q := "SELECT " + strings.Join(alertColumns, ", ") +
		" FROM alerts_by_status WHERE status = ? AND alert_date = ?" +
		" ORDER BY create_timestamp DESC, alert_id"
	args := []any{string(status), formatDate(date)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ScanStatusRows(ctx context.Context, fn func(alert.Alert) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+strings.Join(alertColumns, ", ")+" FROM alerts_by_status")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return err
		}
		if err := fn(*a); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Transaction(ctx context.Context, key txn.Key) (*txn.Transaction, error) {
	q := s.d.rebind("SELECT " + strings.Join(txColumns, ", ") +
		" FROM transactions WHERE insert_date = ? AND insert_time = ? AND transaction_key = ?")
	t, err := scanTransaction(s.db.QueryRowContext(ctx, q,
		formatDate(key.Date), micros(key.Time), key.ID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (s *Store) TransactionsByDate(ctx context.Context, date time.Time, limit int) ([]txn.Transaction, error) {
	q := "SELECT " + strings.Join(txColumns, ", ") +
		" FROM transactions WHERE insert_date = ? ORDER BY insert_time DESC, transaction_key"
	args := []any{formatDate(date)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []txn.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceCounts(ctx context.Context, view string, counts map[string]int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.d.rebind("DELETE FROM dash_counts WHERE dash_view = ?"), view); err != nil {
		return err
	}
	ins := s.d.rebind("INSERT INTO dash_counts (dash_view, bucket, total) VALUES (?, ?, ?)")
	for bucket, n := range counts {
		if _, err = tx.ExecContext(ctx, ins, view, bucket, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Counts(ctx context.Context, view string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind("SELECT bucket, total FROM dash_counts WHERE dash_view = ?"), view)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var bucket string
		var n int64
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		out[bucket] = n
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ── Row mapping ─────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func alertArgs(a *alert.Alert) []any {
	return []any{
		a.ID.String(), a.Region, a.Tenant, a.Score, string(a.Severity), string(a.Type),
		a.AccountNumber, a.FirstName, a.LastName, a.Amount.String(), formatDate(a.Date),
		a.Description, a.TransactionKey.String(), micros(a.TransactionTime),
		formatDate(a.TransactionDate), string(a.Status), a.Reviewed, micros(a.CreatedAt),
	}
}

func scanAlert(r scanner) (*alert.Alert, error) {
	var (
		a                     alert.Alert
		id, txKey, amount     string
		severity, typ, status string
		date, txDate          string
		txTime, created       int64
	)
	err := r.Scan(&id, &a.Region, &a.Tenant, &a.Score, &severity, &typ,
		&a.AccountNumber, &a.FirstName, &a.LastName, &amount, &date,
		&a.Description, &txKey, &txTime, &txDate, &status, &a.Reviewed, &created)
	if err != nil {
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("alert_id: %w", err)
	}
	if a.TransactionKey, err = uuid.Parse(txKey); err != nil {
		return nil, fmt.Errorf("transaction_key: %w", err)
	}
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if a.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if a.TransactionDate, err = parseDate(txDate); err != nil {
		return nil, err
	}
	a.Severity = alert.Severity(severity)
	a.Type = alert.Type(typ)
	a.Status = alert.Status(status)
	a.TransactionTime = fromMicros(txTime)
	a.CreatedAt = fromMicros(created)
	return &a, nil
}

func txArgs(t *txn.Transaction) []any {
	var tenant any
	if t.Tenant != nil {
		tenant = *t.Tenant
	}
	args := []any{
		formatDate(t.InsertDate), micros(t.InsertTime), t.TransactionKey.String(),
		t.SessionID.String(), t.FirstName, t.LastName, t.AccountNumber,
		t.Amount.String(), tenant,
	}
	for n := 1; n <= txn.NumFields; n++ {
		v := t.Field(n)
		if v.IsNull() {
			args = append(args, nil)
			continue
		}
		args = append(args, v.String())
	}
	return args
}

func scanTransaction(r scanner) (*txn.Transaction, error) {
	var (
		t                          txn.Transaction
		date, key, session, amount string
		insertTime                 int64
		tenant                     sql.NullInt64
		fields                     [txn.NumFields]sql.NullString
	)
	dest := []any{&date, &insertTime, &key, &session, &t.FirstName, &t.LastName,
		&t.AccountNumber, &amount, &tenant}
	for i := range fields {
		dest = append(dest, &fields[i])
	}
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if t.InsertDate, err = parseDate(date); err != nil {
		return nil, err
	}
	t.InsertTime = fromMicros(insertTime)
	if t.TransactionKey, err = uuid.Parse(key); err != nil {
		return nil, fmt.Errorf("transaction_key: %w", err)
	}
	if t.SessionID, err = uuid.Parse(session); err != nil {
		return nil, fmt.Errorf("session_id: %w", err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if tenant.Valid {
		n := tenant.Int64
		t.Tenant = &n
	}
	for i, f := range fields {
		if !f.Valid {
			t.Fields[i] = txn.NullValue(txn.Layout[i])
			continue
		}
		if t.Fields[i], err = txn.ParseValue(txn.Layout[i], f.String); err != nil {
			return nil, fmt.Errorf("%s: %w", txn.FieldName(i+1), err)
		}
	}
	return &t, nil
}

func formatDate(t time.Time) string { return txn.DateOf(t).Format(txn.DateLayout) }

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(txn.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return d, nil
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
