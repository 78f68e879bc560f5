package service

import (
	"context"
	"errors"
	"strings"

	"github.com/pawsos/backend/internal/models"
)

type RegisterOwnerInput struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type RegisterResponderInput struct {
	ID            string
	Name          string
	Email         string
	Tier          models.Tier
	University    string
	StudentID     string
	CertificateNo string
	LicenseNo     string
}

const (
	defaultLeaderboardSize = 20
	maxLeaderboardSize     = 100
)

func (e *Engine) RegisterOwner(ctx context.Context, in RegisterOwnerInput) (models.Owner, error) {
	o := models.Owner{
		ID:        strings.TrimSpace(in.ID),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		CreatedAt: e.now(),
	}
	if o.ID == "" || o.Name == "" {
		return models.Owner{}, invalidInput("id and name are required")
	}
	if err := e.Store.CreateOwner(ctx, o); err != nil {
		return models.Owner{}, registerErr(err, o.ID)
	}
	e.Logger.Info().Str("user_id", o.ID).Msg("owner registered")
	saved, err := e.Store.GetOwner(ctx, o.ID)
	if err != nil {
		return models.Owner{}, storeErr(err, "owner")
	}
	return saved, nil
}

// RegisterResponder creates or updates a responder profile. New responders start
// with zero points; re-registering never touches standing or the push token.
func (e *Engine) RegisterResponder(ctx context.Context, in RegisterResponderInput) (models.Responder, error) {
	r := models.Responder{
		ID:            strings.TrimSpace(in.ID),
		Name:          strings.TrimSpace(in.Name),
		Email:         strings.TrimSpace(in.Email),
		Tier:          in.Tier,
		University:    strings.TrimSpace(in.University),
		StudentID:     strings.TrimSpace(in.StudentID),
		CertificateNo: strings.TrimSpace(in.CertificateNo),
		LicenseNo:     strings.TrimSpace(in.LicenseNo),
		CreatedAt:     e.now(),
	}
	if r.ID == "" || r.Name == "" {
		return models.Responder{}, invalidInput("id and name are required")
	}
	if !r.Tier.Valid() {
		return models.Responder{}, invalidInput("tier must be one of student, graduate, qualified")
	}
	if err := e.Store.CreateResponder(ctx, r); err != nil {
		return models.Responder{}, registerErr(err, r.ID)
	}
	e.Logger.Info().Str("user_id", r.ID).Str("tier", string(r.Tier)).Msg("responder registered")
	return e.Responder(ctx, r.ID)
}

// registerErr maps store failures on registration. Stores report an id already
// registered under the other role as ErrPreconditionFailed.
func registerErr(err error, id string) *Error {
	if errors.Is(err, ErrPreconditionFailed) {
		return invalidInput("user %s is registered with another role", id)
	}
	return systemError("register user", err)
}

func (e *Engine) RegisterPushToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return invalidInput("push token is required")
	}
	if _, err := e.Store.GetResponder(ctx, userID); err != nil {
		return storeErr(err, "responder")
	}
	if err := e.Store.SetPushToken(ctx, userID, token); err != nil {
		return storeErr(err, "responder")
	}
	return nil
}

func (e *Engine) Responder(ctx context.Context, id string) (models.Responder, error) {
	r, err := e.Store.GetResponder(ctx, id)
	if err != nil {
		return models.Responder{}, storeErr(err, "responder")
	}
	return r, nil
}

func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]models.Responder, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	out, err := e.Store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, systemError("leaderboard", err)
	}
	return out, nil
}
