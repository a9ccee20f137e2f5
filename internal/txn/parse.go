package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04:05.999999"
)

// Input timestamp layouts, tried in order. Fractional seconds are accepted
// by the first two even though they are not spelled out.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

var errMissing = errors.New("required")

// FieldError describes a single attribute that could not be converted.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, errMissing) {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("invalid value for %s: %v (%v)", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Parse converts one decoded JSON object into a typed Transaction. Every
// generic field is resolved to its declared kind here so nothing downstream
// handles untyped values.
func Parse(raw map[string]any) (*Transaction, error) {
	t := &Transaction{}
	var err error

	if t.InsertDate, err = requireDate(raw, "insert_date"); err != nil {
		return nil, err
	}
	if t.InsertTime, err = requireTimestamp(raw, "insert_time"); err != nil {
		return nil, err
	}
	if t.TransactionKey, err = requireUUID(raw, "transaction_key"); err != nil {
		return nil, err
	}
	if t.SessionID, err = requireUUID(raw, "session_id"); err != nil {
		return nil, err
	}
	if t.AccountNumber, err = requireText(raw, "account_number"); err != nil {
		return nil, err
	}
	if t.FirstName, err = requireText(raw, "first_name"); err != nil {
		return nil, err
	}
	if t.LastName, err = requireText(raw, "last_name"); err != nil {
		return nil, err
	}

	amt, ok := raw["amount"]
	if !ok || amt == nil {
		return nil, &FieldError{Field: "amount", Err: errMissing}
	}
	if t.Amount, err = toDecimal(amt); err != nil {
		return nil, &FieldError{Field: "amount", Value: amt, Err: err}
	}

	if tv, ok := raw["tenant"]; ok && tv != nil {
		n, err := toInt64(tv)
		if err != nil {
			return nil, &FieldError{Field: "tenant", Value: tv, Err: err}
		}
		t.Tenant = &n
	}

	for i, kind := range Layout {
		name := FieldName(i + 1)
		rv, ok := raw[name]
		if !ok || rv == nil {
			t.Fields[i] = NullValue(kind)
			continue
		}
		v, err := ParseValue(kind, rv)
		if err != nil {
			return nil, &FieldError{Field: name, Value: rv, Err: err}
		}
		t.Fields[i] = v
	}
	return t, nil
}

// ParseValue converts a decoded JSON value into a Value of the given kind.
func ParseValue(kind Kind, raw any) (Value, error) {
	if raw == nil {
		return NullValue(kind), nil
	}
	switch kind {
	case KindText:
		return TextValue(toText(raw)), nil
	case KindInt:
		n, err := toInt64(raw)
		if err != nil {
			return Value{}, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, fmt.Errorf("%d overflows int", n)
		}
		return IntValue(int32(n)), nil
	case KindBigInt:
		n, err := toInt64(raw)
		if err != nil {
			return Value{}, err
		}
		return BigIntValue(n), nil
	case KindUUID:
		u, err := toUUID(raw)
		if err != nil {
			return Value{}, err
		}
		return UUIDValue(u), nil
	case KindDate:
		d, err := toDate(raw)
		if err != nil {
			return Value{}, err
		}
		return DateValue(d), nil
	case KindTimestamp:
		ts, err := toTimestamp(raw)
		if err != nil {
			return Value{}, err
		}
		return TimestampValue(ts), nil
	}
	return Value{}, fmt.Errorf("unsupported kind %s", kind)
}

func requireText(raw map[string]any, name string) (string, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return "", &FieldError{Field: name, Err: errMissing}
	}
	return toText(v), nil
}

func requireUUID(raw map[string]any, name string) (uuid.UUID, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return uuid.Nil, &FieldError{Field: name, Err: errMissing}
	}
	u, err := toUUID(v)
	if err != nil {
		return uuid.Nil, &FieldError{Field: name, Value: v, Err: err}
	}
	return u, nil
}

func requireDate(raw map[string]any, name string) (time.Time, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return time.Time{}, &FieldError{Field: name, Err: errMissing}
	}
	d, err := toDate(v)
	if err != nil {
		return time.Time{}, &FieldError{Field: name, Value: v, Err: err}
	}
	return DateOf(d), nil
}

func requireTimestamp(raw map[string]any, name string) (time.Time, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return time.Time{}, &FieldError{Field: name, Err: errMissing}
	}
	ts, err := toTimestamp(v)
	if err != nil {
		return time.Time{}, &FieldError{Field: name, Value: v, Err: err}
	}
	return NormalizeTime(ts), nil
}

func toText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	}
	return decimal.Decimal{}, fmt.Errorf("cannot convert %T to decimal", v)
}

func toUUID(v any) (uuid.UUID, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u, nil
	case string:
		return uuid.Parse(u)
	}
	return uuid.Nil, fmt.Errorf("cannot convert %T to uuid", v)
}

func toDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		return time.Parse(DateLayout, d)
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to date", v)
}

func toTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts, nil
	case string:
		var firstErr error
		for _, layout := range timestampLayouts {
			t, err := time.Parse(layout, ts)
			if err == nil {
				return t, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return time.Time{}, firstErr
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
}
