package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NumFields is the number of generic fields carried by every transaction.
const NumFields = 20

// Layout is the declared kind of field_1..field_20.
var Layout = [NumFields]Kind{
	KindTimestamp, KindText, KindText, KindInt, KindBigInt, KindUUID, KindDate,
	KindTimestamp, KindText, KindText, KindInt, KindBigInt, KindUUID, KindDate,
	KindTimestamp, KindText, KindText, KindInt, KindBigInt, KindUUID,
}

const (
	regionField = 3
	tenantField = 5
)

const defaultTenant int64 = 1

// ErrInvalid marks a transaction that lacks required attributes.
var ErrInvalid = errors.New("invalid transaction")

// FieldName returns the wire name of the n-th (1-based) generic field.
func FieldName(n int) string { return "field_" + strconv.Itoa(n) }

// Key is the full identity of a transaction.
type Key struct {
	Date time.Time // insert_date
	Time time.Time // insert_time
	ID   uuid.UUID // transaction_key
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Date.Format(DateLayout), k.Time.Format(TimestampLayout), k.ID)
}

// Transaction is an immutable financial event as accepted at ingestion.
type Transaction struct {
	InsertDate     time.Time
	InsertTime     time.Time
	TransactionKey uuid.UUID
	SessionID      uuid.UUID
	FirstName      string
	LastName       string
	AccountNumber  string
	Amount         decimal.Decimal
	// Tenant is the explicit tenant when the producer supplied one.
	Tenant *int64
	Fields [NumFields]Value
}

func (t *Transaction) Key() Key {
	return Key{Date: t.InsertDate, Time: t.InsertTime, ID: t.TransactionKey}
}

// Field returns the n-th (1-based) generic field. Unset fields read as a null
// of their declared kind.
func (t *Transaction) Field(n int) Value {
	if n < 1 || n > NumFields {
		return Value{}
	}
	v := t.Fields[n-1]
	if v.kind == 0 {
		return NullValue(Layout[n-1])
	}
	return v
}

// TenantID resolves the tenant: explicit tenant, else field_5, else 1.
func (t *Transaction) TenantID() int64 {
	if t.Tenant != nil {
		return *t.Tenant
	}
	if v := t.Field(tenantField); !v.IsNull() {
		return v.Int64()
	}
	return defaultTenant
}

// Region is field_3, or empty when unset.
func (t *Transaction) Region() string {
	return t.Field(regionField).Str()
}

// Validate reports whether t carries the attributes rule evaluation needs.
func (t *Transaction) Validate() error {
	var missing []string
	if t.TransactionKey == uuid.Nil {
		missing = append(missing, "transaction_key")
	}
	if t.AccountNumber == "" {
		missing = append(missing, "account_number")
	}
	if t.InsertTime.IsZero() {
		missing = append(missing, "insert_time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Get resolves a named attribute for expression evaluation. It satisfies
// govaluate.Parameters.
func (t *Transaction) Get(name string) (interface{}, error) {
	switch name {
	case "amount":
		return t.Amount.InexactFloat64(), nil
	case "account_number":
		return t.AccountNumber, nil
	case "first_name":
		return t.FirstName, nil
	case "last_name":
		return t.LastName, nil
	case "tenant":
		return float64(t.TenantID()), nil
	case "region":
		return t.Region(), nil
	case "transaction_key":
		return t.TransactionKey.String(), nil
	case "session_id":
		return t.SessionID.String(), nil
	}
	if n, ok := fieldIndex(name); ok {
		v := t.Field(n)
		switch v.Kind() {
		case KindUUID:
			if v.IsNull() {
				return nil, nil
			}
			return v.UUID().String(), nil
		default:
			return v.Interface(), nil
		}
	}
	return nil, fmt.Errorf("unknown transaction attribute %q", name)
}

// MarshalJSON renders the transaction in its ingestion wire shape.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"insert_date":     t.InsertDate.Format(DateLayout),
		"insert_time":     t.InsertTime.Format(TimestampLayout),
		"transaction_key": t.TransactionKey.String(),
		"session_id":      t.SessionID.String(),
		"first_name":      t.FirstName,
		"last_name":       t.LastName,
		"account_number":  t.AccountNumber,
		"amount":          t.Amount.String(),
		"tenant":          t.TenantID(),
	}
	for n := 1; n <= NumFields; n++ {
		v := t.Field(n)
		if v.IsNull() {
			m[FieldName(n)] = nil
			continue
		}
		m[FieldName(n)] = v.String()
	}
	return json.Marshal(m)
}

func fieldIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "field_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > NumFields {
		return 0, false
	}
	return n, true
}
