package service

import (
	"context"

	"github.com/pawsos/backend/internal/models"
)

// Rewards applies point awards inside the transaction of the transition that earns them,
// so a case can never change state without its award or be awarded twice.
type Rewards struct{}

func (Rewards) AwardForResolve(ctx context.Context, tx Tx, responderID string, severity models.Severity) (int, error) {
	return award(ctx, tx, responderID, severity, OutcomeResolve)
}

// AwardForEscalationTriage also counts toward resolvedCount; the displayed statistic
// therefore means "cases handled", not strictly "cases closed".
func (Rewards) AwardForEscalationTriage(ctx context.Context, tx Tx, responderID string, severity models.Severity) (int, error) {
	return award(ctx, tx, responderID, severity, OutcomeEscalate)
}

func award(ctx context.Context, tx Tx, responderID string, severity models.Severity, outcome Outcome) (int, error) {
	pts, err := RewardPoints(severity, outcome)
	if err != nil {
		return 0, err
	}
	if err := tx.IncrementStanding(ctx, responderID, pts, 1); err != nil {
		return 0, err
	}
	return pts, nil
}
