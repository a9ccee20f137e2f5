package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

func alertArgs(a *alert.Alert) []any {
	return []any{
		gocql.UUID(a.ID), a.Region, a.Tenant, a.Score, string(a.Severity), string(a.Type),
		a.AccountNumber, a.FirstName, a.LastName, a.Amount.String(), txn.DateOf(a.Date),
		a.Description, gocql.UUID(a.TransactionKey), a.TransactionTime,
		txn.DateOf(a.TransactionDate), string(a.Status), a.Reviewed, a.CreatedAt,
	}
}

// alertRow is the scan target for one alert row in alertColumns order.
type alertRow struct {
	id, txKey             gocql.UUID
	region                string
	tenant                int64
	score                 int
	severity, typ, status string
	account, first, last  string
	amount, description   string
	date, txDate          time.Time
	txTime, created       time.Time
	reviewed              bool
}

func (r *alertRow) dest() []any {
	return []any{
		&r.id, &r.region, &r.tenant, &r.score, &r.severity, &r.typ,
		&r.account, &r.first, &r.last, &r.amount, &r.date,
		&r.description, &r.txKey, &r.txTime, &r.txDate, &r.status, &r.reviewed, &r.created,
	}
}

func (r *alertRow) alert() (*alert.Alert, error) {
	amount, err := decimal.NewFromString(r.amount)
	if err != nil {
		return nil, fmt.Errorf("alert %s: amount: %w", r.id, err)
	}
	a := &alert.Alert{
		Draft: alert.Draft{
			ID:              uuid.UUID(r.id),
			Region:          r.region,
			Tenant:          r.tenant,
			Score:           r.score,
			Severity:        alert.Severity(r.severity),
			Type:            alert.Type(r.typ),
			AccountNumber:   r.account,
			FirstName:       r.first,
			LastName:        r.last,
			Amount:          amount,
			Date:            txn.DateOf(r.date),
			Description:     r.description,
			TransactionKey:  uuid.UUID(r.txKey),
			TransactionTime: r.txTime.UTC(),
			TransactionDate: txn.DateOf(r.txDate),
		},
		Status:    alert.Status(r.status),
		Reviewed:  r.reviewed,
		CreatedAt: r.created.UTC(),
	}
	return a, nil
}

func txArgs(t *txn.Transaction) []any {
	var tenant any
	if t.Tenant != nil {
		tenant = *t.Tenant
	}
	args := []any{
		txn.DateOf(t.InsertDate), t.InsertTime, gocql.UUID(t.TransactionKey),
		gocql.UUID(t.SessionID), t.FirstName, t.LastName, t.AccountNumber,
		t.Amount.String(), tenant,
	}
	for n := 1; n <= txn.NumFields; n++ {
		args = append(args, bindValue(t.Field(n)))
	}
	return args
}

func bindValue(v txn.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case txn.KindInt:
		return int32(v.Int64())
	case txn.KindBigInt:
		return v.Int64()
	case txn.KindUUID:
		return gocql.UUID(v.UUID())
	case txn.KindDate, txn.KindTimestamp:
		return v.Time()
	}
	return v.Str()
}

// txRow scans generic fields through pointer-to-pointer targets so that
// nulls come back as nil.
type txRow struct {
	insertDate, insertTime time.Time
	key, session           gocql.UUID
	first, last, account   string
	amount                 string
	tenant                 *int64

	texts [txn.NumFields]*string
	ints  [txn.NumFields]*int64
	uuids [txn.NumFields]*gocql.UUID
	times [txn.NumFields]*time.Time
}

func (r *txRow) dest() []any {
	d := []any{
		&r.insertDate, &r.insertTime, &r.key, &r.session,
		&r.first, &r.last, &r.account, &r.amount, &r.tenant,
	}
	for i, kind := range txn.Layout {
		switch kind {
		case txn.KindText:
			d = append(d, &r.texts[i])
		case txn.KindInt, txn.KindBigInt:
			d = append(d, &r.ints[i])
		case txn.KindUUID:
			d = append(d, &r.uuids[i])
		default:
			d = append(d, &r.times[i])
		}
	}
	return d
}

func (r *txRow) transaction() (*txn.Transaction, error) {
	amount, err := decimal.NewFromString(r.amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: amount: %w", r.key, err)
	}
	t := &txn.Transaction{
		InsertDate:     txn.DateOf(r.insertDate),
		InsertTime:     r.insertTime.UTC(),
		TransactionKey: uuid.UUID(r.key),
		SessionID:      uuid.UUID(r.session),
		FirstName:      r.first,
		LastName:       r.last,
		AccountNumber:  r.account,
		Amount:         amount,
		Tenant:         r.tenant,
	}
	for i, kind := range txn.Layout {
		v := txn.NullValue(kind)
		switch kind {
		case txn.KindText:
			if p := r.texts[i]; p != nil {
				v = txn.TextValue(*p)
			}
		case txn.KindInt:
			if p := r.ints[i]; p != nil {
				v = txn.IntValue(int32(*p))
			}
		case txn.KindBigInt:
			if p := r.ints[i]; p != nil {
				v = txn.BigIntValue(*p)
			}
		case txn.KindUUID:
			if p := r.uuids[i]; p != nil {
				v = txn.UUIDValue(uuid.UUID(*p))
			}
		case txn.KindDate:
			if p := r.times[i]; p != nil {
				v = txn.DateValue(*p)
			}
		case txn.KindTimestamp:
			if p := r.times[i]; p != nil {
				v = txn.TimestampValue(*p)
			}
		}
		t.Fields[i] = v
	}
	return t, nil
}
