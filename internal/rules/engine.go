// Package rules scores transactions and turns alert-worthy ones into drafts.
package rules

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

// Outcome is the full scoring result for one transaction.
type Outcome struct {
	AmountHit    bool           `json:"amount_hit"`
	AmountScore  int            `json:"amount_score"`
	IndicatorHit bool           `json:"indicator_hit"`
	Indicators   []string       `json:"indicators,omitempty"`
	Score        int            `json:"score"`
	Severity     alert.Severity `json:"severity,omitempty"`
	Type         alert.Type     `json:"alert_type,omitempty"`
	Alert        bool           `json:"alert"`
	Description  string         `json:"description,omitempty"`
}

// Engine evaluates transactions against the current rule set.
type Engine struct {
	rules atomic.Pointer[RuleSet]
	newID func() uuid.UUID
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an Engine; a nil rs means the default rule set.
func NewEngine(rs *RuleSet, opts ...Option) *Engine {
	if rs == nil {
		rs = Default()
	}
	e := &Engine{newID: uuid.New}
	for _, o := range opts {
		o(e)
	}
	e.rules.Store(rs)
	return e
}

// Swap atomically replaces the rule set (used on hot-reload).
func (e *Engine) Swap(rs *RuleSet) { e.rules.Store(rs) }

func (e *Engine) Rules() *RuleSet { return e.rules.Load() }

// Score runs every rule against tx without producing a draft.
func (e *Engine) Score(tx *txn.Transaction) (Outcome, error) {
	if err := tx.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("rules: %w", err)
	}
	rs := e.rules.Load()

	var out Outcome
	var clauses []string

	if step, ok := rs.AmountScore(tx.Amount); ok {
		out.AmountHit = true
		out.AmountScore = step.Score
		out.Score += step.Score
		clauses = append(clauses, fmt.Sprintf("amount threshold exceeded: %s > %s", tx.Amount, step.Above))
	}

	for _, ind := range rs.indicators {
		hit, err := ind.Expr.Evaluate(tx)
		if err != nil {
			return Outcome{}, fmt.Errorf("rules: indicator %s: %w", ind.ID, err)
		}
		if !hit {
			continue
		}
		out.IndicatorHit = true
		out.Indicators = append(out.Indicators, ind.ID)
		out.Score += ind.Points
		clauses = append(clauses, ind.Description)
	}

	if !out.AmountHit && !out.IndicatorHit {
		return out, nil
	}
	sev, ok := SeverityFor(out.Score)
	if !ok {
		return out, nil
	}
	out.Severity = sev
	out.Type = Classify(out.AmountHit, out.IndicatorHit, sev)
	out.Alert = true
	out.Description = strings.Join(clauses, ", ")
	return out, nil
}

// Evaluate returns a draft when tx should raise an alert, or nil when it
// should not. eventTime determines the alert date.
func (e *Engine) Evaluate(tx *txn.Transaction, eventTime time.Time) (*alert.Draft, error) {
	out, err := e.Score(tx)
	if err != nil {
		return nil, err
	}
	if !out.Alert {
		return nil, nil
	}
	return &alert.Draft{
		ID:              e.newID(),
		Region:          tx.Region(),
		Tenant:          tx.TenantID(),
		Score:           out.Score,
		Severity:        out.Severity,
		Type:            out.Type,
		AccountNumber:   tx.AccountNumber,
		FirstName:       tx.FirstName,
		LastName:        tx.LastName,
		Amount:          tx.Amount,
		Date:            txn.DateOf(eventTime),
		Description:     out.Description,
		TransactionKey:  tx.TransactionKey,
		TransactionTime: tx.InsertTime,
		TransactionDate: tx.InsertDate,
	}, nil
}
