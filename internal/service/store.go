package service

import (
	"context"
	"time"

	"github.com/pawsos/backend/internal/models"
)

type Store interface {
	Ping(ctx context.Context) error

	CreateCase(ctx context.Context, c models.Case) error
	GetCase(ctx context.Context, id string) (models.Case, error)
	ListCases(ctx context.Context, f CaseFilter) ([]models.Case, error)

	CreateOwner(ctx context.Context, o models.Owner) error
	CreateResponder(ctx context.Context, r models.Responder) error
	GetOwner(ctx context.Context, id string) (models.Owner, error)
	GetResponder(ctx context.Context, id string) (models.Responder, error)
	SetPushToken(ctx context.Context, userID, token string) error
	ListPushTokens(ctx context.Context, tiers []models.Tier) ([]string, error)
	Leaderboard(ctx context.Context, limit int) ([]models.Responder, error)

	WithTx(ctx context.Context, fn func(tx Tx) error) error

	SubscribeCase(ctx context.Context, id string) (Subscription[models.Case], error)
	SubscribeCases(ctx context.Context, f CaseFilter) (Subscription[[]models.Case], error)
}

// Tx is the write side of the store. All writes made through one Tx commit together.
type Tx interface {
	// UpdateCase applies u only if p holds at write time, otherwise ErrPreconditionFailed.
	UpdateCase(ctx context.Context, id string, p Precondition, u CaseUpdate) error
	DeleteCase(ctx context.Context, id string, p Precondition) error
	// IncrementStanding atomically adds to a responder's points and resolved count.
	IncrementStanding(ctx context.Context, responderID string, points, resolved int) error
}

// Subscription delivers snapshots until Close is called or the context ends.
// Updates is closed when the subscription stops.
type Subscription[T any] interface {
	Updates() <-chan T
	Close() error
}

// Precondition is a compare-and-set guard evaluated by the store.
type Precondition struct {
	Statuses   []models.Status
	AssignedTo *string
	Unassigned bool
	Deleted    *bool

	// HistoryOf matches the owner or the current assignee, the users whose
	// history lists the case.
	HistoryOf *string
}

func (p Precondition) Matches(c models.Case) bool {
	if len(p.Statuses) > 0 && !containsStatus(p.Statuses, c.Status) {
		return false
	}
	if p.AssignedTo != nil && !c.AssignedTo(*p.AssignedTo) {
		return false
	}
	if p.Unassigned && c.AssignedResponderID != nil {
		return false
	}
	if p.Deleted != nil && c.IsDeleted != *p.Deleted {
		return false
	}
	if p.HistoryOf != nil && !c.InHistoryOf(*p.HistoryOf) {
		return false
	}
	return true
}

// Assignment is the responder snapshot written onto a case.
type Assignment struct {
	ResponderID string
	Name        string
	Tier        models.Tier
}

// CaseUpdate lists the fields a transition may write. Nil fields are left unchanged.
// Severity, owner data and creation time are deliberately absent.
type CaseUpdate struct {
	Status          *models.Status
	Assign          *Assignment
	ClearAssignment bool
	HelpType        *models.HelpType
	Advice          *string
	VolunteerNotes  *string
	PriorAssigneeID *string
	IsEscalated     *bool

	CurrentDistanceKm  *float64
	ClearDistance      bool
	LastLocationUpdate *time.Time

	IsArchived     *bool
	IsDeleted      *bool
	DeletedAt      *time.Time
	ClearDeletedAt bool

	LastUpdated time.Time
	ResolvedAt  *time.Time
}

// Apply writes u onto c. Stores use it to keep the in-memory and SQL paths identical.
func (u CaseUpdate) Apply(c *models.Case) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.ClearAssignment {
		c.AssignedResponderID = nil
		c.AssignedResponderName = nil
		c.AssignedResponderTier = nil
	}
	if u.Assign != nil {
		id, name, tier := u.Assign.ResponderID, u.Assign.Name, u.Assign.Tier
		c.AssignedResponderID = &id
		c.AssignedResponderName = &name
		c.AssignedResponderTier = &tier
	}
	if u.HelpType != nil {
		c.HelpType = *u.HelpType
	}
	if u.Advice != nil {
		c.Advice = *u.Advice
	}
	if u.VolunteerNotes != nil {
		c.VolunteerNotes = *u.VolunteerNotes
	}
	if u.PriorAssigneeID != nil {
		id := *u.PriorAssigneeID
		c.PriorAssigneeID = &id
	}
	if u.IsEscalated != nil {
		c.IsEscalated = *u.IsEscalated
	}
	if u.ClearDistance {
		c.CurrentDistanceKm = nil
	}
	if u.CurrentDistanceKm != nil {
		d := *u.CurrentDistanceKm
		c.CurrentDistanceKm = &d
	}
	if u.LastLocationUpdate != nil {
		t := *u.LastLocationUpdate
		c.LastLocationUpdate = &t
	}
	if u.IsArchived != nil {
		c.IsArchived = *u.IsArchived
	}
	if u.IsDeleted != nil {
		c.IsDeleted = *u.IsDeleted
	}
	if u.ClearDeletedAt {
		c.DeletedAt = nil
	}
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		c.DeletedAt = &t
	}
	if !u.LastUpdated.IsZero() {
		c.LastUpdated = u.LastUpdated
	}
	if u.ResolvedAt != nil {
		t := *u.ResolvedAt
		c.ResolvedAt = &t
	}
}

// CaseFilter selects cases for list queries and list subscriptions.
// Results are ordered by creation time, newest first.
type CaseFilter struct {
	Statuses   []models.Status
	Severities []models.Severity
	OwnerID    string
	AssigneeID string
	Archived   *bool
	Deleted    *bool
	Limit      int
}

func (f CaseFilter) Matches(c models.Case) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status) {
		return false
	}
	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if s == c.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.OwnerID != "" && c.OwnerID != f.OwnerID {
		return false
	}
	if f.AssigneeID != "" && !c.AssignedTo(f.AssigneeID) {
		return false
	}
	if f.Archived != nil && c.IsArchived != *f.Archived {
		return false
	}
	if f.Deleted != nil && c.IsDeleted != *f.Deleted {
		return false
	}
	return true
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// EffectiveLimit clamps Limit the way the list endpoints always have.
func (f CaseFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > maxListLimit {
		return defaultListLimit
	}
	return f.Limit
}

func containsStatus(list []models.Status, s models.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
