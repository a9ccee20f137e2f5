package rules

import "github.com/gyaneshwarpardhi/alertflow/internal/alert"

// SeverityFor maps a combined score to a severity band. Scores of 50 and
// below do not alert.
func SeverityFor(score int) (alert.Severity, bool) {
	switch {
	case score > 85:
		return alert.SeverityCritical, true
	case score > 70:
		return alert.SeverityHigh, true
	case score > 60:
		return alert.SeverityElevated, true
	case score > 50:
		return alert.SeverityModerate, true
	}
	return "", false
}

// Classify derives the alert type from which rules fired.
func Classify(amountHit, indicatorHit bool, sev alert.Severity) alert.Type {
	switch {
	case amountHit && indicatorHit:
		return alert.TypeMultiple
	case indicatorHit:
		return alert.TypeFraud
	case sev == alert.SeverityHigh || sev == alert.SeverityCritical:
		return alert.TypeHighScore
	default:
		return alert.TypeMediumScore
	}
}
