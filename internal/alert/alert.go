// Package alert defines the alert entity shared by the rule engine, the
// batch writer, the status transition coordinator and the store backends.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

// Severity is derived from the alert score.
type Severity string

const (
	SeverityModerate Severity = "MODERATE"
	SeverityElevated Severity = "ELEVATED"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Type classifies which rules produced the alert.
type Type string

const (
	TypeHighScore   Type = "HIGH_SCORE"
	TypeMediumScore Type = "MEDIUM_SCORE"
	TypeFraud       Type = "FRAUD"
	TypeMultiple    Type = "MULTIPLE"
)

// Status is the review state of an alert. Any non-empty label is accepted;
// the constants are the ones the system itself produces.
type Status string

const (
	StatusNew    Status = "new"
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// KnownStatuses lists the statuses scanned when a caller asks for "all".
var KnownStatuses = []Status{StatusNew, StatusOpen, StatusClosed}

// ParseStatus normalizes a caller-supplied status label.
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", errors.New("status must not be empty")
	}
	return Status(s), nil
}

// Draft is the rule engine output before persistence.
type Draft struct {
	ID              uuid.UUID       `json:"alert_id"`
	Region          string          `json:"region"`
	Tenant          int64           `json:"tenant"`
	Score           int             `json:"score"`
	Severity        Severity        `json:"severity"`
	Type            Type            `json:"alert_type"`
	AccountNumber   string          `json:"account_number"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"alert_date"`
	Description     string          `json:"alert_description"`
	TransactionKey  uuid.UUID       `json:"transaction_key"`
	TransactionTime time.Time       `json:"transaction_timestamp"`
	TransactionDate time.Time       `json:"transaction_date"`
}

// Validate rejects drafts that cannot be written to every view.
func (d *Draft) Validate() error {
	switch {
	case d.ID == uuid.Nil:
		return errors.New("draft: alert_id is required")
	case d.TransactionKey == uuid.Nil:
		return fmt.Errorf("draft %s: transaction_key is required", d.ID)
	case d.Date.IsZero():
		return fmt.Errorf("draft %s: alert_date is required", d.ID)
	case d.Severity == "" || d.Type == "":
		return fmt.Errorf("draft %s: severity and type are required", d.ID)
	}
	return nil
}

// Pending is a draft waiting in the alert queue together with the event time
// that becomes its create timestamp.
type Pending struct {
	Draft     Draft
	EventTime time.Time
}

// Alert is the persisted, denormalized alert row.
type Alert struct {
	Draft
	Status    Status    `json:"status"`
	Reviewed  bool      `json:"reviewed"`
	CreatedAt time.Time `json:"create_timestamp"`
}

// FromDraft materializes a new alert from a pending draft.
func FromDraft(p Pending) Alert {
	a := Alert{
		Draft:     p.Draft,
		Status:    StatusNew,
		CreatedAt: txn.NormalizeTime(p.EventTime),
	}
	a.Date = txn.DateOf(a.Date)
	return a
}

// StatusKey is the primary key of a by-status row.
type StatusKey struct {
	Status    Status
	Date      time.Time
	CreatedAt time.Time
	ID        uuid.UUID
}

func (a *Alert) StatusKey() StatusKey {
	return StatusKey{Status: a.Status, Date: a.Date, CreatedAt: a.CreatedAt, ID: a.ID}
}

// WithStatus returns a copy of a moved to status s.
func (a Alert) WithStatus(s Status) Alert {
	a.Status = s
	return a
}
