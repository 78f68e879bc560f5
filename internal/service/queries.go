package service

import (
	"context"
	"errors"

	"github.com/pawsos/backend/internal/models"
)

type HistoryView string

const (
	ViewActive   HistoryView = "active"
	ViewArchived HistoryView = "archived"
	ViewTrash    HistoryView = "trash"
)

// OwnerActiveStatuses include escalated: the owner's emergency is still open while
// it waits for a senior responder.
var OwnerActiveStatuses = []models.Status{
	models.StatusPending, models.StatusAccepted, models.StatusOnWay, models.StatusEscalated,
}

// CaseFor returns a case if the viewer may see it: stakeholders always, other
// responders only within their tier.
func (e *Engine) CaseFor(ctx context.Context, caseID, viewerID string) (models.Case, error) {
	c, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return models.Case{}, storeErr(err, "case")
	}
	if err := e.canView(ctx, c, viewerID); err != nil {
		return models.Case{}, err
	}
	return c, nil
}

func (e *Engine) canView(ctx context.Context, c models.Case, viewerID string) error {
	if c.IsStakeholder(viewerID) {
		return nil
	}
	r, err := e.Store.GetResponder(ctx, viewerID)
	if errors.Is(err, ErrNotFound) {
		return notPermitted()
	}
	if err != nil {
		return systemError("load responder", err)
	}
	if !CanActOnSeverity(r.Tier, c.Severity) {
		return notPermitted()
	}
	return nil
}

// FeedFilter is the open-case query for a responder: pending or in-progress cases
// within the responder's tier. Trash flags never apply, since only resolved cases
// can be trashed.
func (e *Engine) FeedFilter(ctx context.Context, responderID string) (CaseFilter, error) {
	r, err := e.Store.GetResponder(ctx, responderID)
	if err != nil {
		return CaseFilter{}, storeErr(err, "responder")
	}
	return CaseFilter{
		Statuses:   models.ActiveStatuses,
		Severities: VisibleSeverities(r.Tier),
	}, nil
}

// EscalatedFilter is the hand-off pool. Students never see it.
func (e *Engine) EscalatedFilter(ctx context.Context, responderID string) (CaseFilter, error) {
	r, err := e.Store.GetResponder(ctx, responderID)
	if err != nil {
		return CaseFilter{}, storeErr(err, "responder")
	}
	if r.Tier == models.TierStudent {
		return CaseFilter{}, notPermitted()
	}
	return CaseFilter{
		Statuses:   []models.Status{models.StatusEscalated},
		Severities: VisibleSeverities(r.Tier),
	}, nil
}

func (e *Engine) ResponderFeed(ctx context.Context, responderID string, limit int) ([]models.Case, error) {
	f, err := e.FeedFilter(ctx, responderID)
	if err != nil {
		return nil, err
	}
	f.Limit = limit
	return e.list(ctx, f)
}

func (e *Engine) EscalatedFeed(ctx context.Context, responderID string, limit int) ([]models.Case, error) {
	f, err := e.EscalatedFilter(ctx, responderID)
	if err != nil {
		return nil, err
	}
	f.Limit = limit
	return e.list(ctx, f)
}

func (e *Engine) OwnerActiveCases(ctx context.Context, ownerID string, limit int) ([]models.Case, error) {
	if _, err := e.Store.GetOwner(ctx, ownerID); err != nil {
		return nil, storeErr(err, "owner")
	}
	notDeleted := false
	return e.list(ctx, CaseFilter{
		OwnerID:  ownerID,
		Statuses: OwnerActiveStatuses,
		Deleted:  &notDeleted,
		Limit:    limit,
	})
}

// History lists the user's own cases: owners by ownership, responders by assignment.
func (e *Engine) History(ctx context.Context, userID string, view HistoryView, limit int) ([]models.Case, error) {
	f, err := e.historyFilter(ctx, userID)
	if err != nil {
		return nil, err
	}
	yes, no := true, false
	switch view {
	case ViewActive, "":
		f.Archived, f.Deleted = &no, &no
	case ViewArchived:
		f.Archived, f.Deleted = &yes, &no
	case ViewTrash:
		f.Deleted = &yes
	default:
		return nil, invalidInput("view must be one of active, archived, trash")
	}
	f.Limit = limit
	return e.list(ctx, f)
}

func (e *Engine) historyFilter(ctx context.Context, userID string) (CaseFilter, error) {
	_, err := e.Store.GetResponder(ctx, userID)
	if err == nil {
		return CaseFilter{AssigneeID: userID}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return CaseFilter{}, systemError("load responder", err)
	}
	if _, err := e.Store.GetOwner(ctx, userID); err != nil {
		return CaseFilter{}, storeErr(err, "user")
	}
	return CaseFilter{OwnerID: userID}, nil
}

func (e *Engine) list(ctx context.Context, f CaseFilter) ([]models.Case, error) {
	out, err := e.Store.ListCases(ctx, f)
	if err != nil {
		return nil, systemError("list cases", err)
	}
	return out, nil
}

// WatchCase opens a live view of one case. The caller owns the subscription and must Close it.
func (e *Engine) WatchCase(ctx context.Context, caseID, viewerID string) (Subscription[models.Case], error) {
	if _, err := e.CaseFor(ctx, caseID, viewerID); err != nil {
		return nil, err
	}
	sub, err := e.Store.SubscribeCase(ctx, caseID)
	if err != nil {
		return nil, systemError("subscribe case", err)
	}
	return sub, nil
}

// WatchFeed opens a live view of a responder's open-case feed, or of the escalated
// pool when escalated is set.
func (e *Engine) WatchFeed(ctx context.Context, responderID string, escalated bool) (Subscription[[]models.Case], error) {
	var (
		f   CaseFilter
		err error
	)
	if escalated {
		f, err = e.EscalatedFilter(ctx, responderID)
	} else {
		f, err = e.FeedFilter(ctx, responderID)
	}
	if err != nil {
		return nil, err
	}
	sub, err := e.Store.SubscribeCases(ctx, f)
	if err != nil {
		return nil, systemError("subscribe feed", err)
	}
	return sub, nil
}
