package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/notify"
)

type Event string

const (
	EventCreated      Event = "case_created"
	EventAccepted     Event = "case_accepted"
	EventOnWay        Event = "case_on_way"
	EventInstructions Event = "case_instructions"
	EventLocation     Event = "case_location"
	EventEscalated    Event = "case_escalated"
	EventTakenOver    Event = "case_taken_over"
	EventResolved     Event = "case_resolved"
	EventArchived     Event = "case_archived"
	EventDeleted      Event = "case_deleted"
	EventRestored     Event = "case_restored"
	EventPurged       Event = "case_purged"
)

// Sender delivers push messages. Delivery is owned by the push provider.
type Sender interface {
	Send(ctx context.Context, msg notify.Message) error
}

// RecipientTiers maps a transition to the responder tiers that get a push.
// A nil result means no push: the store's change feed keeps open screens in sync.
func RecipientTiers(event Event, c models.Case) []models.Tier {
	switch event {
	case EventCreated:
		return TiersForSeverity(c.Severity)
	case EventEscalated:
		return SeniorTiers()
	}
	return nil
}

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher turns transition events into push messages. It never reports failure
// to the caller: a push that cannot be sent is logged and dropped.
type Dispatcher struct {
	Store   Store
	Sender  Sender
	Logger  zerolog.Logger
	Metrics Recorder
	Timeout time.Duration
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event, c models.Case) {
	tiers := RecipientTiers(event, c)
	if len(tiers) == 0 || d == nil || d.Sender == nil {
		return
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	// The push must not die with the request that triggered it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	tokens, err := d.Store.ListPushTokens(ctx, tiers)
	if err != nil {
		d.recordFailure(event, c, 0, fmt.Errorf("list push tokens: %w", err))
		return
	}
	if len(tokens) == 0 {
		d.Logger.Debug().Str("case_id", c.ID).Str("event", string(event)).Msg("no push recipients")
		return
	}

	msg := buildMessage(event, c)
	msg.To = tokens
	if err := d.Sender.Send(ctx, msg); err != nil {
		d.recordFailure(event, c, len(tokens), err)
		return
	}
	recorder(d.Metrics).Notification(event, len(tokens), nil)
	d.Logger.Info().
		Str("case_id", c.ID).
		Str("event", string(event)).
		Int("recipients", len(tokens)).
		Msg("push dispatched")
}

func (d *Dispatcher) recordFailure(event Event, c models.Case, recipients int, err error) {
	recorder(d.Metrics).Notification(event, recipients, err)
	d.Logger.Warn().
		Err(err).
		Str("case_id", c.ID).
		Str("event", string(event)).
		Msg("push dispatch failed")
}

func buildMessage(event Event, c models.Case) notify.Message {
	switch event {
	case EventEscalated:
		return notify.Message{
			Title:     "URGENT: Case Escalation",
			Body:      fmt.Sprintf("A student responder requires assistance. Case: %s...", truncate(c.Symptoms, 40)),
			Data:      map[string]string{"type": "ESCALATION_ALERT", "caseId": c.ID},
			ChannelID: "emergency",
		}
	default:
		owner := c.OwnerName
		if owner == "" {
			owner = "An owner"
		}
		return notify.Message{
			Title:     "NEW EMERGENCY",
			Body:      fmt.Sprintf("%s needs help with: %s...", owner, truncate(c.Symptoms, 30)),
			Data:      map[string]string{"type": "SOS_ALERT", "caseId": c.ID, "severity": string(c.Severity)},
			ChannelID: "emergency",
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
