package service

import (
	"fmt"

	"github.com/pawsos/backend/internal/models"
)

type Outcome string

const (
	OutcomeResolve  Outcome = "resolve"
	OutcomeEscalate Outcome = "escalate"
)

var visibleByTier = map[models.Tier][]models.Severity{
	models.TierStudent:   {models.SeverityLow},
	models.TierGraduate:  {models.SeverityLow, models.SeverityMid},
	models.TierQualified: {models.SeverityLow, models.SeverityMid, models.SeverityHigh},
}

var resolvePoints = map[models.Severity]int{
	models.SeverityLow:  10,
	models.SeverityMid:  25,
	models.SeverityHigh: 50,
}

// Escalation is triage by a student, so there is no entry for high severity.
var escalatePoints = map[models.Severity]int{
	models.SeverityLow: 15,
	models.SeverityMid: 25,
}

// VisibleSeverities returns the severities a tier may see and act on.
// Unknown tiers see nothing.
func VisibleSeverities(tier models.Tier) []models.Severity {
	src := visibleByTier[tier]
	out := make([]models.Severity, len(src))
	copy(out, src)
	return out
}

func CanActOnSeverity(tier models.Tier, severity models.Severity) bool {
	for _, s := range visibleByTier[tier] {
		if s == severity {
			return true
		}
	}
	return false
}

// TiersForSeverity returns every tier allowed to act on severity, lowest rank first.
func TiersForSeverity(severity models.Severity) []models.Tier {
	var out []models.Tier
	for _, t := range models.Tiers {
		if CanActOnSeverity(t, severity) {
			out = append(out, t)
		}
	}
	return out
}

// SeniorTiers are the tiers allowed to take over an escalated case.
func SeniorTiers() []models.Tier {
	return []models.Tier{models.TierGraduate, models.TierQualified}
}

// RewardPoints returns the points awarded for an outcome on a case of the given severity.
// Escalating a high severity case has no reward and is reported as an error.
func RewardPoints(severity models.Severity, outcome Outcome) (int, error) {
	var table map[models.Severity]int
	switch outcome {
	case OutcomeResolve:
		table = resolvePoints
	case OutcomeEscalate:
		table = escalatePoints
	default:
		return 0, fmt.Errorf("unknown outcome %q", outcome)
	}
	pts, ok := table[severity]
	if !ok {
		return 0, fmt.Errorf("no %s reward for severity %q", outcome, severity)
	}
	return pts, nil
}

// HelpTypeFor is what the owner is told to expect from a responder of the given tier.
func HelpTypeFor(tier models.Tier) models.HelpType {
	if tier == models.TierStudent {
		return models.HelpRemoteAdvice
	}
	return models.HelpInPerson
}
