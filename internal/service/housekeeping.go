package service

import (
	"context"
	"errors"

	"github.com/pawsos/backend/internal/models"
)

// History management. These operations only touch the archive and trash flags of
// resolved cases; an open emergency can never be hidden from the responder feeds.
// Only the owner and the resolving responder, the users whose history lists the
// case, may use them.

var historyStatuses = []models.Status{models.StatusResolved}

func (e *Engine) ArchiveToggle(ctx context.Context, caseID, userID string) (c models.Case, err error) {
	defer func() { e.record(EventArchived, err) }()

	c, err = e.historyCase(ctx, caseID, userID)
	if err != nil {
		return models.Case{}, err
	}
	archived := !c.IsArchived
	return e.commit(ctx, caseID, userID, false, historyPrecondition(userID, nil), CaseUpdate{IsArchived: &archived}, nil)
}

func (e *Engine) SoftDelete(ctx context.Context, caseID, userID string) (c models.Case, err error) {
	defer func() { e.record(EventDeleted, err) }()

	c, err = e.historyCase(ctx, caseID, userID)
	if err != nil {
		return models.Case{}, err
	}
	if c.IsDeleted {
		return c, nil
	}
	deleted := true
	now := e.now()
	return e.commit(ctx, caseID, userID, false, historyPrecondition(userID, nil), CaseUpdate{IsDeleted: &deleted, DeletedAt: &now}, nil)
}

func (e *Engine) Restore(ctx context.Context, caseID, userID string) (c models.Case, err error) {
	defer func() { e.record(EventRestored, err) }()

	c, err = e.historyCase(ctx, caseID, userID)
	if err != nil {
		return models.Case{}, err
	}
	if !c.IsDeleted {
		return c, nil
	}
	deleted := false
	return e.commit(ctx, caseID, userID, false, historyPrecondition(userID, nil), CaseUpdate{IsDeleted: &deleted, ClearDeletedAt: true}, nil)
}

// PermanentDelete removes a single trashed case.
func (e *Engine) PermanentDelete(ctx context.Context, caseID, userID string) (err error) {
	defer func() { e.record(EventPurged, err) }()

	c, err := e.historyCase(ctx, caseID, userID)
	if err != nil {
		return err
	}
	if !c.IsDeleted {
		return notPermitted()
	}
	deleted := true
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		return tx.DeleteCase(ctx, caseID, historyPrecondition(userID, &deleted))
	})
	if err != nil {
		return e.writeErr(ctx, caseID, userID, false, err)
	}
	e.Logger.Info().Str("case_id", caseID).Str("user_id", userID).Msg("case purged")
	return nil
}

// EmptyTrash removes every trashed case in the user's history and returns how many
// were removed. It works in pages; cases restored concurrently are skipped.
func (e *Engine) EmptyTrash(ctx context.Context, userID string) (n int, err error) {
	defer func() { e.record(EventPurged, err) }()

	deleted := true
	f, err := e.historyFilter(ctx, userID)
	if err != nil {
		return 0, err
	}
	f.Statuses = historyStatuses
	f.Deleted = &deleted
	f.Limit = maxListLimit
	pre := historyPrecondition(userID, &deleted)

	for {
		page, err := e.Store.ListCases(ctx, f)
		if err != nil {
			return n, systemError("list trash", err)
		}
		if len(page) == 0 {
			break
		}
		removed := 0
		err = e.Store.WithTx(ctx, func(tx Tx) error {
			removed = 0
			for _, c := range page {
				err := tx.DeleteCase(ctx, c.ID, pre)
				if errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				removed++
			}
			return nil
		})
		if err != nil {
			return n, systemError("empty trash", err)
		}
		n += removed
		if removed == 0 || len(page) < f.Limit {
			break
		}
	}
	e.Logger.Info().Str("user_id", userID).Int("purged", n).Msg("trash emptied")
	return n, nil
}

// historyCase loads a case for a history operation. Users outside its history are
// refused, as is any case that has not been resolved yet.
func (e *Engine) historyCase(ctx context.Context, caseID, userID string) (models.Case, error) {
	c, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return models.Case{}, storeErr(err, "case")
	}
	if !c.InHistoryOf(userID) || c.Status != models.StatusResolved {
		return models.Case{}, notPermitted()
	}
	return c, nil
}

func historyPrecondition(userID string, deleted *bool) Precondition {
	return Precondition{Statuses: historyStatuses, HistoryOf: &userID, Deleted: deleted}
}
