package txn

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind is the declared type of a generic transaction field.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindInt
	KindBigInt
	KindUUID
	KindDate
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindBigInt:
		return "bigint"
	case KindUUID:
		return "uuid"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a tagged variant holding one generic field. The zero Value is a
// null of unknown kind.
type Value struct {
	kind  Kind
	valid bool
	s     string
	i     int64
	u     uuid.UUID
	t     time.Time
}

func NullValue(k Kind) Value { return Value{kind: k} }

func TextValue(s string) Value { return Value{kind: KindText, valid: true, s: s} }

func IntValue(i int32) Value { return Value{kind: KindInt, valid: true, i: int64(i)} }

func BigIntValue(i int64) Value { return Value{kind: KindBigInt, valid: true, i: i} }

func UUIDValue(u uuid.UUID) Value { return Value{kind: KindUUID, valid: true, u: u} }

// DateValue keeps only the calendar day of t, in UTC.
func DateValue(t time.Time) Value { return Value{kind: KindDate, valid: true, t: DateOf(t)} }

func TimestampValue(t time.Time) Value {
	return Value{kind: KindTimestamp, valid: true, t: NormalizeTime(t)}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return !v.valid }
func (v Value) Str() string { return v.s }
func (v Value) Int64() int64 { return v.i }
func (v Value) UUID() uuid.UUID { return v.u }
func (v Value) Time() time.Time { return v.t }

// Interface returns the Go value carried by v: string, int64, uuid.UUID,
// time.Time, or nil for null.
func (v Value) Interface() any {
	if !v.valid {
		return nil
	}
	switch v.kind {
	case KindText:
		return v.s
	case KindInt, KindBigInt:
		return v.i
	case KindUUID:
		return v.u
	case KindDate, KindTimestamp:
		return v.t
	}
	return nil
}

// Value implements driver.Valuer. UUIDs are bound as their canonical string.
func (v Value) Value() (driver.Value, error) {
	if !v.valid {
		return nil, nil
	}
	switch v.kind {
	case KindText:
		return v.s, nil
	case KindInt, KindBigInt:
		return v.i, nil
	case KindUUID:
		return v.u.String(), nil
	case KindDate, KindTimestamp:
		return v.t, nil
	}
	return nil, fmt.Errorf("txn: cannot bind value of %s", v.kind)
}

func (v Value) String() string {
	if !v.valid {
		return "null"
	}
	switch v.kind {
	case KindText:
		return v.s
	case KindInt, KindBigInt:
		return strconv.FormatInt(v.i, 10)
	case KindUUID:
		return v.u.String()
	case KindDate:
		return v.t.Format(DateLayout)
	case KindTimestamp:
		return v.t.Format(TimestampLayout)
	}
	return ""
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeTime converts t to UTC at microsecond precision so that values
// round-trip through every store backend unchanged.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
