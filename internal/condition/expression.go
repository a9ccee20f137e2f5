// Package condition compiles the boolean expressions used by indicator rules.
//
// Expressions use govaluate syntax over named transaction attributes:
//
//	field_2 == "fraud"
//	amount > 10000 && region == "EMEA"
//	contains(lower(field_9), "casino")
//	field_10 =~ "^gift-"
package condition

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// Params resolves attribute names to values during evaluation.
// *txn.Transaction satisfies it.
type Params interface {
	Get(name string) (interface{}, error)
}

// Expr is a compiled expression. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	eval *govaluate.EvaluableExpression
}

// Compile parses src once; evaluation never re-parses.
func Compile(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("condition: empty expression")
	}
	ev, err := govaluate.NewEvaluableExpressionWithFunctions(src, functions)
	if err != nil {
		return nil, fmt.Errorf("condition: parse %q: %w", src, err)
	}
	return &Expr{src: src, eval: ev}, nil
}

// Evaluate runs the expression against p. Non-boolean results are errors.
func (e *Expr) Evaluate(p Params) (bool, error) {
	out, err := e.eval.Eval(p)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", e.src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q: result %v (%T) is not boolean", e.src, out, out)
	}
	return b, nil
}

// Vars returns the attribute names referenced by the expression.
func (e *Expr) Vars() []string { return e.eval.Vars() }

func (e *Expr) String() string { return e.src }
