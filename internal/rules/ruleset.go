package rules

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/alertflow/internal/condition"
	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

// Step is one rung of the amount ladder.
type Step struct {
	Above decimal.Decimal
	Score int
}

// Indicator is a flag rule compiled from configuration.
type Indicator struct {
	ID          string
	Expr        *condition.Expr
	Points      int
	Description string
}

// RuleSet is an immutable, compiled set of rules.
type RuleSet struct {
	steps      []Step // highest threshold first
	indicators []Indicator
}

var defaultSteps = []config.AmountStep{
	{Above: 49950, Score: 101},
	{Above: 49800, Score: 91},
	{Above: 49500, Score: 81},
	{Above: 49000, Score: 71},
	{Above: 47500, Score: 61},
	{Above: 45000, Score: 51},
}

var defaultIndicators = []config.IndicatorConf{
	{
		ID:          "flagged_field_2",
		Expression:  `field_2 == "fraud"`,
		Points:      90,
		Description: `flagged indicator: field_2 = "fraud"`,
	},
}

// DefaultConf returns the built-in rule configuration.
func DefaultConf() config.RulesConf {
	return config.RulesConf{
		AmountSteps: append([]config.AmountStep(nil), defaultSteps...),
		Indicators:  append([]config.IndicatorConf(nil), defaultIndicators...),
	}
}

// Default returns the compiled built-in rule set.
func Default() *RuleSet {
	rs, err := Build(config.RulesConf{})
	if err != nil {
		panic(fmt.Sprintf("rules: default rule set does not compile: %v", err))
	}
	return rs
}

// Build compiles conf. All expressions are parsed here; nothing is parsed at
// evaluation time.
func Build(conf config.RulesConf) (*RuleSet, error) {
	stepConf := conf.AmountSteps
	if len(stepConf) == 0 {
		stepConf = defaultSteps
	}
	indConf := conf.Indicators
	if len(indConf) == 0 {
		indConf = defaultIndicators
	}

	rs := &RuleSet{}
	for i, s := range stepConf {
		if s.Score <= 0 {
			return nil, fmt.Errorf("amount_steps[%d]: score must be positive", i)
		}
		rs.steps = append(rs.steps, Step{Above: decimal.NewFromFloat(s.Above), Score: s.Score})
	}
	sort.SliceStable(rs.steps, func(i, j int) bool {
		return rs.steps[i].Above.GreaterThan(rs.steps[j].Above)
	})

	blank := &txn.Transaction{}
	for _, ic := range indConf {
		expr, err := condition.Compile(ic.Expression)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", ic.ID, err)
		}
		for _, v := range expr.Vars() {
			if _, err := blank.Get(v); err != nil {
				return nil, fmt.Errorf("indicator %s: %w", ic.ID, err)
			}
		}
		desc := ic.Description
		if desc == "" {
			desc = fmt.Sprintf("indicator %s matched (%s)", ic.ID, ic.Expression)
		}
		rs.indicators = append(rs.indicators, Indicator{
			ID:          ic.ID,
			Expr:        expr,
			Points:      ic.Points,
			Description: desc,
		})
	}
	return rs, nil
}

// AmountScore returns the ladder score for amount and whether the amount
// rule triggered.
func (rs *RuleSet) AmountScore(amount decimal.Decimal) (Step, bool) {
	for _, s := range rs.steps {
		if amount.GreaterThan(s.Above) {
			return s, true
		}
	}
	return Step{}, false
}

func (rs *RuleSet) Steps() []Step { return append([]Step(nil), rs.steps...) }

func (rs *RuleSet) Indicators() []Indicator { return append([]Indicator(nil), rs.indicators...) }
