package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/utils"
)

const (
	MaxSymptomsLen     = 1000
	MaxInstructionsLen = 500

	ReviewingAdvice = "A responder is reviewing your case..."
)

// Locator resolves coordinates to a place label. Optional.
type Locator interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Engine is the only writer of case state. Every transition re-validates the caller
// against the stored case and commits through a store precondition, so concurrent
// callers cannot both succeed where only one should.
type Engine struct {
	Store      Store
	Dispatcher *Dispatcher
	Locator    Locator
	Rewards    Rewards
	Metrics    Recorder
	Logger     zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

type CreateCaseInput struct {
	OwnerID  string
	Symptoms string
	Severity models.Severity
	Location *models.Location
}

type EscalateResult struct {
	Case         models.Case `json:"case"`
	PointsEarned int         `json:"points_earned"`
}

type ResolveResult struct {
	Case            models.Case `json:"case"`
	PointsEarned    int         `json:"points_earned"`
	AlreadyResolved bool        `json:"already_resolved"`
}

type LocationResult struct {
	Case       models.Case `json:"case"`
	DistanceKm float64     `json:"distance_km"`
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) CreateCase(ctx context.Context, in CreateCaseInput) (c models.Case, err error) {
	defer func() { e.record(EventCreated, err) }()

	symptoms := strings.TrimSpace(in.Symptoms)
	if symptoms == "" {
		return models.Case{}, invalidInput("symptoms are required")
	}
	if utf8.RuneCountInString(symptoms) > MaxSymptomsLen {
		return models.Case{}, invalidInput("symptoms must be at most %d characters", MaxSymptomsLen)
	}
	if !in.Severity.Valid() {
		return models.Case{}, invalidInput("severity must be one of low, mid, high")
	}
	loc, err := sanitizeLocation(in.Location)
	if err != nil {
		return models.Case{}, err
	}

	owner, err := e.Store.GetOwner(ctx, in.OwnerID)
	if err != nil {
		return models.Case{}, storeErr(err, "owner")
	}

	now := e.now()
	c = models.Case{
		ID:          e.newID(),
		OwnerID:     owner.ID,
		OwnerName:   owner.Name,
		OwnerPhone:  owner.Phone,
		Symptoms:    symptoms,
		Severity:    in.Severity,
		Location:    loc,
		Status:      models.StatusPending,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if loc != nil && e.Locator != nil {
		label, gerr := e.Locator.ReverseGeocode(ctx, loc.Lat, loc.Lng)
		if gerr != nil {
			e.Logger.Warn().Err(gerr).Msg("reverse geocode failed")
		} else {
			c.LocationLabel = label
		}
	}

	if err := e.Store.CreateCase(ctx, c); err != nil {
		return models.Case{}, systemError("create case", err)
	}
	e.Logger.Info().
		Str("case_id", c.ID).
		Str("owner_id", c.OwnerID).
		Str("severity", string(c.Severity)).
		Msg("case created")

	e.Dispatcher.Dispatch(ctx, EventCreated, c)
	return c, nil
}

func (e *Engine) Accept(ctx context.Context, caseID, responderID string) (c models.Case, err error) {
	defer func() { e.record(EventAccepted, err) }()

	c, r, err := e.load(ctx, caseID, responderID)
	if err != nil {
		return models.Case{}, err
	}
	if !CanActOnSeverity(r.Tier, c.Severity) {
		return models.Case{}, notPermitted()
	}
	if c.Status != models.StatusPending || c.AssignedResponderID != nil {
		return models.Case{}, classify(c, responderID, true)
	}

	status := models.StatusAccepted
	help := HelpTypeFor(r.Tier)
	advice := ReviewingAdvice
	update := CaseUpdate{
		Status:      &status,
		Assign:      &Assignment{ResponderID: r.ID, Name: r.Name, Tier: r.Tier},
		HelpType:    &help,
		Advice:      &advice,
		LastUpdated: e.now(),
	}
	pre := Precondition{Statuses: []models.Status{models.StatusPending}, Unassigned: true}
	c, err = e.commit(ctx, caseID, responderID, true, pre, update, nil)
	if err != nil {
		return models.Case{}, err
	}
	e.Logger.Info().Str("case_id", caseID).Str("responder_id", responderID).Str("tier", string(r.Tier)).Msg("case accepted")
	return c, nil
}

func (e *Engine) MarkOnWay(ctx context.Context, caseID, responderID string) (c models.Case, err error) {
	defer func() { e.record(EventOnWay, err) }()

	c, r, err := e.load(ctx, caseID, responderID)
	if err != nil {
		return models.Case{}, err
	}
	// Students give remote advice only.
	if r.Tier == models.TierStudent {
		return models.Case{}, notPermitted()
	}
	if c.Status != models.StatusAccepted || !c.AssignedTo(responderID) {
		return models.Case{}, classify(c, responderID, false)
	}

	status := models.StatusOnWay
	update := CaseUpdate{Status: &status, LastUpdated: e.now()}
	pre := Precondition{Statuses: []models.Status{models.StatusAccepted}, AssignedTo: &responderID}
	return e.commit(ctx, caseID, responderID, false, pre, update, nil)
}

func (e *Engine) UpdateInstructions(ctx context.Context, caseID, responderID, text string) (c models.Case, err error) {
	defer func() { e.record(EventInstructions, err) }()

	text = strings.TrimSpace(text)
	if err := validateInstructions(text); err != nil {
		return models.Case{}, err
	}

	c, _, err = e.load(ctx, caseID, responderID)
	if err != nil {
		return models.Case{}, err
	}
	if !isHeld(c) || !c.AssignedTo(responderID) {
		return models.Case{}, classify(c, responderID, false)
	}

	update := CaseUpdate{Advice: &text, VolunteerNotes: &text, LastUpdated: e.now()}
	return e.commit(ctx, caseID, responderID, false, heldBy(responderID), update, nil)
}

func (e *Engine) Escalate(ctx context.Context, caseID, responderID string) (res EscalateResult, err error) {
	defer func() { e.record(EventEscalated, err) }()

	c, r, err := e.load(ctx, caseID, responderID)
	if err != nil {
		return EscalateResult{}, err
	}
	// There is no tier above qualified, and graduates handle their cases in person.
	if r.Tier != models.TierStudent {
		return EscalateResult{}, notPermitted()
	}
	if !isHeld(c) || !c.AssignedTo(responderID) {
		return EscalateResult{}, classify(c, responderID, false)
	}
	if _, perr := RewardPoints(c.Severity, OutcomeEscalate); perr != nil {
		// Tier policy keeps students off high severity cases; reaching this is a policy breach.
		e.Logger.Error().Err(perr).Str("case_id", caseID).Str("responder_id", responderID).Msg("escalation outside tier policy")
		return EscalateResult{}, notPermitted()
	}

	status := models.StatusEscalated
	escalated := true
	update := CaseUpdate{
		Status:          &status,
		ClearAssignment: true,
		PriorAssigneeID: &responderID,
		IsEscalated:     &escalated,
		ClearDistance:   true,
		LastUpdated:     e.now(),
	}
	var points int
	award := func(tx Tx) error {
		pts, err := e.Rewards.AwardForEscalationTriage(ctx, tx, responderID, c.Severity)
		points = pts
		return err
	}
	c, err = e.commit(ctx, caseID, responderID, false, heldBy(responderID), update, award)
	if err != nil {
		return EscalateResult{}, err
	}
	e.Logger.Info().Str("case_id", caseID).Str("responder_id", responderID).Int("points", points).Msg("case escalated")

	e.Dispatcher.Dispatch(ctx, EventEscalated, c)
	return EscalateResult{Case: c, PointsEarned: points}, nil
}

func (e *Engine) TakeOver(ctx context.Context, caseID, responderID string) (c models.Case, err error) {
	defer func() { e.record(EventTakenOver, err) }()

	c, r, err := e.load(ctx, caseID, responderID)
	if err != nil {
		return models.Case{}, err
	}
	if r.Tier == models.TierStudent || !CanActOnSeverity(r.Tier, c.Severity) {
		return models.Case{}, notPermitted()
	}
	if c.Status != models.StatusEscalated || c.AssignedResponderID != nil {
		return models.Case{}, classify(c, responderID, true)
	}

	status := models.StatusAccepted
	help := models.HelpInPerson
	escalated := false
	update := CaseUpdate{
		Status:      &status,
		Assign:      &Assignment{ResponderID: r.ID, Name: r.Name, Tier: r.Tier},
		HelpType:    &help,
		IsEscalated: &escalated,
		LastUpdated: e.now(),
	}
	pre := Precondition{Statuses: []models.Status{models.StatusEscalated}, Unassigned: true}
	c, err = e.commit(ctx, caseID, responderID, true, pre, update, nil)
	if err != nil {
		return models.Case{}, err
	}
	e.Logger.Info().Str("case_id", caseID).Str("responder_id", responderID).Str("tier", string(r.Tier)).Msg("case taken over")
	return c, nil
}

// Resolve closes a case. Resolving an already resolved case is a successful no-op for
// the responder who resolved it, so retries never award twice.
func (e *Engine) Resolve(ctx context.Context, caseID, responderID, finalAdvice string) (res ResolveResult, err error) {
	defer func() { e.record(EventResolved, err) }()

	finalAdvice = strings.TrimSpace(finalAdvice)
	if finalAdvice != "" {
		if err := validateInstructions(finalAdvice); err != nil {
			return ResolveResult{}, err
		}
	}

	c, r, err := e.load(ctx, caseID, responderID)
	if err != nil {
		return ResolveResult{}, err
	}
	if c.Status == models.StatusResolved {
		return alreadyResolved(c, responderID)
	}
	if !isHeld(c) || !c.AssignedTo(responderID) {
		return ResolveResult{}, classify(c, responderID, false)
	}
	if finalAdvice == "" && strings.TrimSpace(c.VolunteerNotes) == "" {
		return ResolveResult{}, invalidInput("instructions must be provided before resolving")
	}

	now := e.now()
	status := models.StatusResolved
	update := CaseUpdate{
		Status:        &status,
		ResolvedAt:    &now,
		ClearDistance: true,
		LastUpdated:   now,
	}
	if finalAdvice != "" {
		update.Advice = &finalAdvice
		update.VolunteerNotes = &finalAdvice
	}
	var points int
	award := func(tx Tx) error {
		pts, err := e.Rewards.AwardForResolve(ctx, tx, r.ID, c.Severity)
		points = pts
		return err
	}
	c, err = e.commit(ctx, caseID, responderID, false, heldBy(responderID), update, award)
	if err != nil {
		// A concurrent duplicate may have won the write.
		if KindOf(err) == KindNotPermitted {
			if latest, gerr := e.Store.GetCase(ctx, caseID); gerr == nil && latest.Status == models.StatusResolved {
				return alreadyResolved(latest, responderID)
			}
		}
		return ResolveResult{}, err
	}
	e.Logger.Info().Str("case_id", caseID).Str("responder_id", responderID).Int("points", points).Msg("case resolved")
	return ResolveResult{Case: c, PointsEarned: points}, nil
}

// UpdateLiveLocation records the assigned responder's distance to the owner.
func (e *Engine) UpdateLiveLocation(ctx context.Context, caseID, responderID string, lat, lng float64) (res LocationResult, err error) {
	defer func() { e.record(EventLocation, err) }()

	if _, err := sanitizeLocation(&models.Location{Lat: lat, Lng: lng}); err != nil {
		return LocationResult{}, err
	}
	c, _, err := e.load(ctx, caseID, responderID)
	if err != nil {
		return LocationResult{}, err
	}
	if !isHeld(c) || !c.AssignedTo(responderID) {
		return LocationResult{}, classify(c, responderID, false)
	}
	if c.Location == nil {
		return LocationResult{}, invalidInput("owner location missing")
	}

	dist := utils.DistanceKm(lat, lng, c.Location.Lat, c.Location.Lng)
	now := e.now()
	update := CaseUpdate{CurrentDistanceKm: &dist, LastLocationUpdate: &now}
	c, err = e.commit(ctx, caseID, responderID, false, heldBy(responderID), update, nil)
	if err != nil {
		return LocationResult{}, err
	}
	return LocationResult{Case: c, DistanceKm: dist}, nil
}

func alreadyResolved(c models.Case, responderID string) (ResolveResult, error) {
	if !c.AssignedTo(responderID) {
		return ResolveResult{}, notPermitted()
	}
	return ResolveResult{Case: c, AlreadyResolved: true}, nil
}

func (e *Engine) load(ctx context.Context, caseID, responderID string) (models.Case, models.Responder, error) {
	c, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return models.Case{}, models.Responder{}, storeErr(err, "case")
	}
	r, err := e.Store.GetResponder(ctx, responderID)
	if err != nil {
		return models.Case{}, models.Responder{}, storeErr(err, "responder")
	}
	return c, r, nil
}

// commit runs the conditional write and the optional award in one transaction and
// returns the committed case.
func (e *Engine) commit(ctx context.Context, caseID, actorID string, claim bool, pre Precondition, u CaseUpdate, award func(tx Tx) error) (models.Case, error) {
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateCase(ctx, caseID, pre, u); err != nil {
			return err
		}
		if award != nil {
			return award(tx)
		}
		return nil
	})
	if err != nil {
		return models.Case{}, e.writeErr(ctx, caseID, actorID, claim, err)
	}
	c, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return models.Case{}, storeErr(err, "case")
	}
	return c, nil
}

// writeErr turns a failed conditional write into an engine error by looking at what
// the case became in the meantime.
func (e *Engine) writeErr(ctx context.Context, caseID, actorID string, claim bool, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return notFound("case")
	case errors.Is(err, ErrPreconditionFailed):
		latest, gerr := e.Store.GetCase(ctx, caseID)
		if gerr != nil {
			return storeErr(gerr, "case")
		}
		return classify(latest, actorID, claim)
	}
	return systemError("update case", err)
}

// classify explains why c cannot move for actorID. Claims (accept, take-over) lost to
// another responder are reported as already claimed so the caller can refresh.
func classify(c models.Case, actorID string, claim bool) *Error {
	if claim && c.AssignedResponderID != nil && !c.AssignedTo(actorID) {
		return alreadyClaimed()
	}
	return notPermitted()
}

func (e *Engine) record(event Event, err error) {
	recorder(e.Metrics).Transition(event, KindOf(err))
	if KindOf(err) == KindSystem {
		e.Logger.Error().Err(err).Str("event", string(event)).Msg("transition failed")
	}
}

func isHeld(c models.Case) bool {
	return c.Status == models.StatusAccepted || c.Status == models.StatusOnWay
}

func heldBy(responderID string) Precondition {
	return Precondition{
		Statuses:   []models.Status{models.StatusAccepted, models.StatusOnWay},
		AssignedTo: &responderID,
	}
}

func validateInstructions(text string) error {
	if text == "" {
		return invalidInput("instructions are required")
	}
	if utf8.RuneCountInString(text) > MaxInstructionsLen {
		return invalidInput("instructions must be at most %d characters", MaxInstructionsLen)
	}
	return nil
}

func sanitizeLocation(loc *models.Location) (*models.Location, error) {
	if loc == nil {
		return nil, nil
	}
	if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lng) || loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return nil, invalidInput("location out of range")
	}
	out := *loc
	return &out, nil
}
