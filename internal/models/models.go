package models

import "time"

type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityMid  Severity = "mid"
	SeverityHigh Severity = "high"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMid, SeverityHigh:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOnWay     Status = "on_way"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// ActiveStatuses are the statuses shown on the responder feed.
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusOnWay}

type Tier string

const (
	TierStudent   Tier = "student"
	TierGraduate  Tier = "graduate"
	TierQualified Tier = "qualified"
)

// Tiers lists every tier in ascending rank.
var Tiers = []Tier{TierStudent, TierGraduate, TierQualified}

func (t Tier) Valid() bool {
	switch t {
	case TierStudent, TierGraduate, TierQualified:
		return true
	}
	return false
}

type HelpType string

const (
	HelpRemoteAdvice HelpType = "remote_advice"
	HelpInPerson     HelpType = "in_person"
)

type Role string

const (
	RoleOwner     Role = "owner"
	RoleResponder Role = "responder"
)

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Case struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	OwnerName  string    `json:"owner_name"`
	OwnerPhone string    `json:"owner_phone"`
	Symptoms   string    `json:"symptoms"`
	Severity   Severity  `json:"severity"`
	Location   *Location `json:"location"`

	// LocationLabel is a reverse-geocoded place name, empty when unavailable.
	LocationLabel string `json:"location_label,omitempty"`

	Status Status `json:"status"`

	AssignedResponderID   *string  `json:"assigned_responder_id"`
	AssignedResponderName *string  `json:"assigned_responder_name"`
	AssignedResponderTier *Tier    `json:"assigned_responder_tier"`
	HelpType              HelpType `json:"help_type,omitempty"`
	Advice                string   `json:"advice"`
	VolunteerNotes        string   `json:"volunteer_notes"`
	PriorAssigneeID       *string  `json:"prior_assignee_id"`
	IsEscalated           bool     `json:"is_escalated"`

	CurrentDistanceKm  *float64   `json:"current_distance_km"`
	LastLocationUpdate *time.Time `json:"last_location_update,omitempty"`

	IsArchived bool       `json:"is_archived"`
	IsDeleted  bool       `json:"is_deleted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated time.Time  `json:"last_updated"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

// AssignedTo reports whether userID currently holds the case.
func (c Case) AssignedTo(userID string) bool {
	return c.AssignedResponderID != nil && *c.AssignedResponderID == userID
}

// IsStakeholder reports whether userID owns the case or is (or was) its responder.
func (c Case) IsStakeholder(userID string) bool {
	if c.OwnerID == userID || c.AssignedTo(userID) {
		return true
	}
	return c.PriorAssigneeID != nil && *c.PriorAssigneeID == userID
}

// InHistoryOf reports whether the case belongs in userID's personal history: the
// owner's, or the responder currently assigned to it.
func (c Case) InHistoryOf(userID string) bool {
	return c.OwnerID == userID || c.AssignedTo(userID)
}

type Owner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type Responder struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Tier          Tier      `json:"tier"`
	University    string    `json:"university,omitempty"`
	StudentID     string    `json:"student_id,omitempty"`
	CertificateNo string    `json:"certificate_no,omitempty"`
	LicenseNo     string    `json:"license_no,omitempty"`
	Points        int       `json:"points"`
	ResolvedCount int       `json:"resolved_count"`
	PushToken     string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
