package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawsos/backend/internal/db"
	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/notify"
	"github.com/pawsos/backend/internal/service"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeSender) sent() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.msgs...)
}

type fixture struct {
	store  *db.MemoryStore
	engine *service.Engine
	sender *fakeSender

	mu    sync.Mutex
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  db.NewMemory(zerolog.Nop()),
		sender: &fakeSender{},
		clock:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.engine = &service.Engine{
		Store:      f.store,
		Dispatcher: &service.Dispatcher{Store: f.store, Sender: f.sender, Logger: zerolog.Nop()},
		Logger:     zerolog.Nop(),
		Now:        f.tick,
	}
	return f
}

func (f *fixture) tick() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fixture) owner(t *testing.T, id string) models.Owner {
	t.Helper()
	o, err := f.engine.RegisterOwner(context.Background(), service.RegisterOwnerInput{ID: id, Name: "Owner " + id, Phone: "+44 20 0000"})
	require.NoError(t, err)
	return o
}

func (f *fixture) responder(t *testing.T, id string, tier models.Tier) models.Responder {
	t.Helper()
	ctx := context.Background()
	r, err := f.engine.RegisterResponder(ctx, service.RegisterResponderInput{ID: id, Name: "Responder " + id, Tier: tier})
	require.NoError(t, err)
	require.NoError(t, f.engine.RegisterPushToken(ctx, id, "tok-"+id))
	return r
}

func (f *fixture) newCase(t *testing.T, ownerID string, sev models.Severity) models.Case {
	t.Helper()
	c, err := f.engine.CreateCase(context.Background(), service.CreateCaseInput{
		OwnerID:  ownerID,
		Symptoms: "bleeding paw after a walk",
		Severity: sev,
		Location: &models.Location{Lat: 51.5007, Lng: -0.1246},
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) standing(t *testing.T, id string) (int, int) {
	t.Helper()
	r, err := f.engine.Responder(context.Background(), id)
	require.NoError(t, err)
	return r.Points, r.ResolvedCount
}

func assertKind(t *testing.T, want service.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, service.KindOf(err), "error: %v", err)
}

func TestStudentEscalationScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "stu", models.TierStudent)
	f.responder(t, "grad", models.TierGraduate)
	f.responder(t, "qual", models.TierQualified)

	c := f.newCase(t, "o1", models.SeverityLow)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, "Owner o1", c.OwnerName)

	c, err := f.engine.Accept(ctx, c.ID, "stu")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, c.Status)
	assert.Equal(t, models.HelpRemoteAdvice, c.HelpType)
	assert.Equal(t, service.ReviewingAdvice, c.Advice)
	require.NotNil(t, c.AssignedResponderTier)
	assert.Equal(t, models.TierStudent, *c.AssignedResponderTier)

	c, err = f.engine.UpdateInstructions(ctx, c.ID, "stu", "Keep pressure on the wound.")
	require.NoError(t, err)
	assert.Equal(t, "Keep pressure on the wound.", c.Advice)

	res, err := f.engine.Escalate(ctx, c.ID, "stu")
	require.NoError(t, err)
	assert.Equal(t, 15, res.PointsEarned)
	assert.Equal(t, models.StatusEscalated, res.Case.Status)
	assert.Nil(t, res.Case.AssignedResponderID)
	assert.True(t, res.Case.IsEscalated)
	require.NotNil(t, res.Case.PriorAssigneeID)
	assert.Equal(t, "stu", *res.Case.PriorAssigneeID)

	points, resolved := f.standing(t, "stu")
	assert.Equal(t, 15, points)
	assert.Equal(t, 1, resolved)

	msgs := f.sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ESCALATION_ALERT", msgs[1].Data["type"])
	assert.ElementsMatch(t, []string{"tok-grad", "tok-qual"}, msgs[1].To)

	pool, err := f.engine.EscalatedFeed(ctx, "grad", 0)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, c.ID, pool[0].ID)

	_, err = f.engine.EscalatedFeed(ctx, "stu", 0)
	assertKind(t, service.KindNotPermitted, err)

	c, err = f.engine.TakeOver(ctx, c.ID, "grad")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, c.Status)
	assert.Equal(t, models.HelpInPerson, c.HelpType)
	assert.False(t, c.IsEscalated)
	assert.True(t, c.AssignedTo("grad"))

	pool, err = f.engine.EscalatedFeed(ctx, "grad", 0)
	require.NoError(t, err)
	assert.Empty(t, pool)

	_, err = f.engine.Resolve(ctx, c.ID, "stu", "")
	assertKind(t, service.KindNotPermitted, err)

	c, err = f.engine.MarkOnWay(ctx, c.ID, "grad")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnWay, c.Status)

	done, err := f.engine.Resolve(ctx, c.ID, "grad", "Bandage changed, keep it dry.")
	require.NoError(t, err)
	assert.Equal(t, 10, done.PointsEarned)
	assert.Equal(t, models.StatusResolved, done.Case.Status)
	require.NotNil(t, done.Case.ResolvedAt)
	assert.Equal(t, "Bandage changed, keep it dry.", done.Case.Advice)

	points, resolved = f.standing(t, "grad")
	assert.Equal(t, 10, points)
	assert.Equal(t, 1, resolved)

	// The student still sees the case through their prior assignment.
	seen, err := f.engine.CaseFor(ctx, c.ID, "stu")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, seen.Status)
}

func TestQualifiedHighSeverityScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "stu", models.TierStudent)
	f.responder(t, "grad", models.TierGraduate)
	f.responder(t, "qual", models.TierQualified)

	c := f.newCase(t, "o1", models.SeverityHigh)
	msgs := f.sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"tok-qual"}, msgs[0].To)

	_, err := f.engine.Accept(ctx, c.ID, "stu")
	assertKind(t, service.KindNotPermitted, err)
	_, err = f.engine.Accept(ctx, c.ID, "grad")
	assertKind(t, service.KindNotPermitted, err)

	feed, err := f.engine.ResponderFeed(ctx, "grad", 0)
	require.NoError(t, err)
	assert.Empty(t, feed)

	c, err = f.engine.Accept(ctx, c.ID, "qual")
	require.NoError(t, err)
	assert.Equal(t, models.HelpInPerson, c.HelpType)

	_, err = f.engine.Escalate(ctx, c.ID, "qual")
	assertKind(t, service.KindNotPermitted, err)

	_, err = f.engine.Resolve(ctx, c.ID, "qual", "")
	assertKind(t, service.KindInvalidInput, err)

	_, err = f.engine.UpdateInstructions(ctx, c.ID, "qual", "Bring the dog in now.")
	require.NoError(t, err)
	res, err := f.engine.Resolve(ctx, c.ID, "qual", "")
	require.NoError(t, err)
	assert.Equal(t, 50, res.PointsEarned)
	assert.Equal(t, "Bring the dog in now.", res.Case.Advice)
}

// A student can only hold a mid or high case after being re-registered at a lower
// tier while holding it. Escalation then follows the reward table for the severity.
func TestDemotedResponderEscalatesMidCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "g1", models.TierGraduate)
	f.responder(t, "q1", models.TierQualified)

	c := f.newCase(t, "o1", models.SeverityMid)
	_, err := f.engine.Accept(ctx, c.ID, "g1")
	require.NoError(t, err)
	f.responder(t, "g1", models.TierStudent)

	res, err := f.engine.Escalate(ctx, c.ID, "g1")
	require.NoError(t, err)
	assert.Equal(t, 25, res.PointsEarned)
	assert.Equal(t, models.StatusEscalated, res.Case.Status)
	assert.Nil(t, res.Case.AssignedResponderID)
	require.NotNil(t, res.Case.PriorAssigneeID)
	assert.Equal(t, "g1", *res.Case.PriorAssigneeID)

	points, resolved := f.standing(t, "g1")
	assert.Equal(t, 25, points)
	assert.Equal(t, 1, resolved)
}

func TestDemotedResponderCannotEscalateHighCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "q1", models.TierQualified)

	c := f.newCase(t, "o1", models.SeverityHigh)
	accepted, err := f.engine.Accept(ctx, c.ID, "q1")
	require.NoError(t, err)
	f.responder(t, "q1", models.TierStudent)

	_, err = f.engine.Escalate(ctx, c.ID, "q1")
	assertKind(t, service.KindNotPermitted, err)

	stored, err := f.store.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted, stored)

	points, resolved := f.standing(t, "q1")
	assert.Zero(t, points)
	assert.Zero(t, resolved)
}

func TestAcceptRespectsTier(t *testing.T) {
	tests := []struct {
		tier models.Tier
		sev  models.Severity
		want service.Kind
	}{
		{models.TierStudent, models.SeverityLow, ""},
		{models.TierStudent, models.SeverityMid, service.KindNotPermitted},
		{models.TierGraduate, models.SeverityMid, ""},
		{models.TierGraduate, models.SeverityHigh, service.KindNotPermitted},
		{models.TierQualified, models.SeverityHigh, ""},
	}
	for _, tc := range tests {
		t.Run(string(tc.tier)+"/"+string(tc.sev), func(t *testing.T) {
			f := newFixture(t)
			f.owner(t, "o1")
			f.responder(t, "r1", tc.tier)
			c := f.newCase(t, "o1", tc.sev)

			got, err := f.engine.Accept(context.Background(), c.ID, "r1")
			if tc.want == "" {
				require.NoError(t, err)
				assert.Equal(t, service.HelpTypeFor(tc.tier), got.HelpType)
				return
			}
			assertKind(t, tc.want, err)
			stored, err := f.store.GetCase(context.Background(), c.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPending, stored.Status)
		})
	}
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		f.responder(t, id, models.TierGraduate)
	}
	c := f.newCase(t, "o1", models.SeverityLow)

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.engine.Accept(ctx, c.ID, id)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, service.KindAlreadyClaimed, service.KindOf(err))
	}
	assert.Equal(t, 1, wins)
}

func TestConcurrentTakeOverHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "stu", models.TierStudent)
	f.responder(t, "g1", models.TierGraduate)
	f.responder(t, "q1", models.TierQualified)
	c := f.newCase(t, "o1", models.SeverityMid)

	// A student cannot accept mid, so escalate a low case instead.
	low := f.newCase(t, "o1", models.SeverityLow)
	_, err := f.engine.Accept(ctx, low.ID, "stu")
	require.NoError(t, err)
	_, err = f.engine.Escalate(ctx, low.ID, "stu")
	require.NoError(t, err)

	_, err = f.engine.TakeOver(ctx, low.ID, "stu")
	assertKind(t, service.KindNotPermitted, err)
	_, err = f.engine.TakeOver(ctx, c.ID, "g1")
	assertKind(t, service.KindNotPermitted, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"g1", "q1"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.engine.TakeOver(ctx, low.ID, id)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, service.KindAlreadyClaimed, service.KindOf(err))
	}
	assert.Equal(t, 1, wins)
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "g1", models.TierGraduate)
	f.responder(t, "g2", models.TierGraduate)
	c := f.newCase(t, "o1", models.SeverityMid)

	_, err := f.engine.Accept(ctx, c.ID, "g1")
	require.NoError(t, err)

	first, err := f.engine.Resolve(ctx, c.ID, "g1", "Rest and fluids.")
	require.NoError(t, err)
	assert.Equal(t, 25, first.PointsEarned)
	assert.False(t, first.AlreadyResolved)

	again, err := f.engine.Resolve(ctx, c.ID, "g1", "Rest and fluids.")
	require.NoError(t, err)
	assert.True(t, again.AlreadyResolved)
	assert.Zero(t, again.PointsEarned)
	assert.Equal(t, first.Case.ResolvedAt, again.Case.ResolvedAt)

	_, err = f.engine.Resolve(ctx, c.ID, "g2", "")
	assertKind(t, service.KindNotPermitted, err)

	points, resolved := f.standing(t, "g1")
	assert.Equal(t, 25, points)
	assert.Equal(t, 1, resolved)
}

func TestConcurrentResolveAwardsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "q1", models.TierQualified)
	c := f.newCase(t, "o1", models.SeverityHigh)
	_, err := f.engine.Accept(ctx, c.ID, "q1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]service.ResolveResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Resolve(ctx, c.ID, "q1", "Seen and treated.")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, res := range results {
		if !res.AlreadyResolved {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	points, _ := f.standing(t, "q1")
	assert.Equal(t, 50, points)
}

func TestUpdateInstructions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "s1", models.TierStudent)
	f.responder(t, "s2", models.TierStudent)
	f.responder(t, "q1", models.TierQualified)
	c := f.newCase(t, "o1", models.SeverityLow)
	_, err := f.engine.Accept(ctx, c.ID, "s1")
	require.NoError(t, err)

	_, err = f.engine.UpdateInstructions(ctx, c.ID, "s2", "Do something else.")
	assertKind(t, service.KindNotPermitted, err)

	// Seniority grants no rights over someone else's case.
	_, err = f.engine.UpdateInstructions(ctx, c.ID, "q1", "Bring the dog in right away.")
	assertKind(t, service.KindNotPermitted, err)

	_, err = f.engine.UpdateInstructions(ctx, c.ID, "s1", strings.Repeat("x", service.MaxInstructionsLen+1))
	assertKind(t, service.KindInvalidInput, err)

	_, err = f.engine.UpdateInstructions(ctx, c.ID, "s1", "   ")
	assertKind(t, service.KindInvalidInput, err)

	stored, err := f.store.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, service.ReviewingAdvice, stored.Advice)
	assert.Empty(t, stored.VolunteerNotes)
}

func TestMarkOnWayRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "s1", models.TierStudent)
	f.responder(t, "g1", models.TierGraduate)

	low := f.newCase(t, "o1", models.SeverityLow)
	_, err := f.engine.Accept(ctx, low.ID, "s1")
	require.NoError(t, err)
	_, err = f.engine.MarkOnWay(ctx, low.ID, "s1")
	assertKind(t, service.KindNotPermitted, err)

	mid := f.newCase(t, "o1", models.SeverityMid)
	_, err = f.engine.MarkOnWay(ctx, mid.ID, "g1")
	assertKind(t, service.KindNotPermitted, err)
	_, err = f.engine.Accept(ctx, mid.ID, "g1")
	require.NoError(t, err)
	_, err = f.engine.MarkOnWay(ctx, mid.ID, "g1")
	require.NoError(t, err)
	_, err = f.engine.MarkOnWay(ctx, mid.ID, "g1")
	assertKind(t, service.KindNotPermitted, err)
}

func TestCreateCaseValidation(t *testing.T) {
	bad := 91.0
	tests := []struct {
		name string
		in   service.CreateCaseInput
		want service.Kind
	}{
		{"empty symptoms", service.CreateCaseInput{OwnerID: "o1", Symptoms: "  ", Severity: models.SeverityLow}, service.KindInvalidInput},
		{"long symptoms", service.CreateCaseInput{OwnerID: "o1", Symptoms: strings.Repeat("a", service.MaxSymptomsLen+1), Severity: models.SeverityLow}, service.KindInvalidInput},
		{"bad severity", service.CreateCaseInput{OwnerID: "o1", Symptoms: "cough", Severity: "critical"}, service.KindInvalidInput},
		{"bad location", service.CreateCaseInput{OwnerID: "o1", Symptoms: "cough", Severity: models.SeverityLow, Location: &models.Location{Lat: bad}}, service.KindInvalidInput},
		{"unknown owner", service.CreateCaseInput{OwnerID: "ghost", Symptoms: "cough", Severity: models.SeverityLow}, service.KindNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.owner(t, "o1")
			_, err := f.engine.CreateCase(context.Background(), tc.in)
			assertKind(t, tc.want, err)
			assert.Empty(t, f.sender.sent())
		})
	}
}

type fakeLocator struct {
	label string
	err   error
}

func (l fakeLocator) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	return l.label, l.err
}

func TestCreateCaseSurvivesSideEffectFailures(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "g1", models.TierGraduate)
	f.sender.err = errors.New("push provider down")
	f.engine.Locator = fakeLocator{err: errors.New("geocoder down")}

	c := f.newCase(t, "o1", models.SeverityMid)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Empty(t, c.LocationLabel)
	assert.Len(t, f.sender.sent(), 1)

	f.engine.Locator = fakeLocator{label: "Westminster, London"}
	c = f.newCase(t, "o1", models.SeverityMid)
	assert.Equal(t, "Westminster, London", c.LocationLabel)
}

func TestUpdateLiveLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "g1", models.TierGraduate)
	f.responder(t, "g2", models.TierGraduate)
	c := f.newCase(t, "o1", models.SeverityLow)

	_, err := f.engine.UpdateLiveLocation(ctx, c.ID, "g1", 51.5, -0.12)
	assertKind(t, service.KindNotPermitted, err)

	_, err = f.engine.Accept(ctx, c.ID, "g1")
	require.NoError(t, err)
	res, err := f.engine.UpdateLiveLocation(ctx, c.ID, "g1", 51.5074, -0.1278)
	require.NoError(t, err)
	assert.InDelta(t, 0.78, res.DistanceKm, 0.02)
	require.NotNil(t, res.Case.CurrentDistanceKm)
	assert.Equal(t, res.DistanceKm, *res.Case.CurrentDistanceKm)
	assert.NotNil(t, res.Case.LastLocationUpdate)

	_, err = f.engine.UpdateLiveLocation(ctx, c.ID, "g2", 51.5, -0.12)
	assertKind(t, service.KindNotPermitted, err)
	_, err = f.engine.UpdateLiveLocation(ctx, c.ID, "g1", 120, 0)
	assertKind(t, service.KindInvalidInput, err)

	done, err := f.engine.Resolve(ctx, c.ID, "g1", "All good.")
	require.NoError(t, err)
	assert.Nil(t, done.Case.CurrentDistanceKm)
}

func TestFeedsRespectTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "s1", models.TierStudent)
	f.responder(t, "q1", models.TierQualified)
	low := f.newCase(t, "o1", models.SeverityLow)
	high := f.newCase(t, "o1", models.SeverityHigh)

	feed, err := f.engine.ResponderFeed(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, low.ID, feed[0].ID)

	feed, err = f.engine.ResponderFeed(ctx, "q1", 0)
	require.NoError(t, err)
	assert.Len(t, feed, 2)

	_, err = f.engine.CaseFor(ctx, high.ID, "s1")
	assertKind(t, service.KindNotPermitted, err)
	_, err = f.engine.CaseFor(ctx, high.ID, "o1")
	require.NoError(t, err)
	_, err = f.engine.CaseFor(ctx, high.ID, "stranger")
	assertKind(t, service.KindNotPermitted, err)

	active, err := f.engine.OwnerActiveCases(ctx, "o1", 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func (f *fixture) resolvedCase(t *testing.T, ownerID, responderID string) models.Case {
	t.Helper()
	ctx := context.Background()
	c := f.newCase(t, ownerID, models.SeverityLow)
	_, err := f.engine.Accept(ctx, c.ID, responderID)
	require.NoError(t, err)
	res, err := f.engine.Resolve(ctx, c.ID, responderID, "Rest and water.")
	require.NoError(t, err)
	return res.Case
}

func TestHousekeeping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.owner(t, "o2")
	f.responder(t, "g1", models.TierGraduate)
	f.responder(t, "g2", models.TierGraduate)
	c := f.resolvedCase(t, "o1", "g1")
	other := f.resolvedCase(t, "o1", "g1")

	_, err := f.engine.ArchiveToggle(ctx, c.ID, "o2")
	assertKind(t, service.KindNotPermitted, err)
	_, err = f.engine.ArchiveToggle(ctx, c.ID, "g2")
	assertKind(t, service.KindNotPermitted, err)

	archived, err := f.engine.ArchiveToggle(ctx, c.ID, "o1")
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)
	assert.Equal(t, c.LastUpdated, archived.LastUpdated)

	list, err := f.engine.History(ctx, "o1", service.ViewArchived, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	err = f.engine.PermanentDelete(ctx, c.ID, "o1")
	assertKind(t, service.KindNotPermitted, err)

	for _, id := range []string{c.ID, other.ID} {
		deleted, err := f.engine.SoftDelete(ctx, id, "o1")
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)
		assert.NotNil(t, deleted.DeletedAt)
	}
	again, err := f.engine.SoftDelete(ctx, c.ID, "o1")
	require.NoError(t, err)
	assert.True(t, again.IsDeleted)

	trash, err := f.engine.History(ctx, "o1", service.ViewTrash, 0)
	require.NoError(t, err)
	assert.Len(t, trash, 2)

	restored, err := f.engine.Restore(ctx, other.ID, "o1")
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)

	n, err := f.engine.EmptyTrash(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.store.GetCase(ctx, c.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.store.GetCase(ctx, other.ID)
	assert.NoError(t, err)

	// The resolving responder manages the same case in their own history.
	trashed, err := f.engine.SoftDelete(ctx, other.ID, "g1")
	require.NoError(t, err)
	assert.True(t, trashed.IsDeleted)
	trash, err = f.engine.History(ctx, "g1", service.ViewTrash, 0)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, other.ID, trash[0].ID)

	_, err = f.engine.History(ctx, "o1", "everything", 0)
	assertKind(t, service.KindInvalidInput, err)
}

func TestOpenCasesCannotBeHidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "stu", models.TierStudent)
	f.responder(t, "grad", models.TierGraduate)

	pending := f.newCase(t, "o1", models.SeverityLow)
	for _, op := range []func(context.Context, string, string) (models.Case, error){
		f.engine.ArchiveToggle, f.engine.SoftDelete, f.engine.Restore,
	} {
		_, err := op(ctx, pending.ID, "o1")
		assertKind(t, service.KindNotPermitted, err)
	}
	err := f.engine.PermanentDelete(ctx, pending.ID, "o1")
	assertKind(t, service.KindNotPermitted, err)

	feed, err := f.engine.ResponderFeed(ctx, "grad", 0)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, pending.ID, feed[0].ID)

	escalated := f.newCase(t, "o1", models.SeverityLow)
	_, err = f.engine.Accept(ctx, escalated.ID, "stu")
	require.NoError(t, err)
	_, err = f.engine.Escalate(ctx, escalated.ID, "stu")
	require.NoError(t, err)

	_, err = f.engine.SoftDelete(ctx, escalated.ID, "stu")
	assertKind(t, service.KindNotPermitted, err)
	_, err = f.engine.SoftDelete(ctx, escalated.ID, "o1")
	assertKind(t, service.KindNotPermitted, err)
	err = f.engine.PermanentDelete(ctx, escalated.ID, "stu")
	assertKind(t, service.KindNotPermitted, err)

	pool, err := f.engine.EscalatedFeed(ctx, "grad", 0)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, escalated.ID, pool[0].ID)

	stored, err := f.store.GetCase(ctx, escalated.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDeleted)
	assert.False(t, stored.IsArchived)

	// A prior assignee has no history rights once someone else resolves the case.
	_, err = f.engine.TakeOver(ctx, escalated.ID, "grad")
	require.NoError(t, err)
	_, err = f.engine.Resolve(ctx, escalated.ID, "grad", "Seen and treated.")
	require.NoError(t, err)
	_, err = f.engine.SoftDelete(ctx, escalated.ID, "stu")
	assertKind(t, service.KindNotPermitted, err)
}

func TestEmptyTrashClearsEveryPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")

	const total = 230
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < total; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		resolvedAt := created.Add(time.Minute)
		deletedAt := created.Add(2 * time.Minute)
		require.NoError(t, f.store.CreateCase(ctx, models.Case{
			ID:          fmt.Sprintf("case-%03d", i),
			OwnerID:     "o1",
			OwnerName:   "Owner o1",
			Symptoms:    "sneezing",
			Severity:    models.SeverityLow,
			Status:      models.StatusResolved,
			IsDeleted:   true,
			DeletedAt:   &deletedAt,
			CreatedAt:   created,
			LastUpdated: resolvedAt,
			ResolvedAt:  &resolvedAt,
		}))
	}

	n, err := f.engine.EmptyTrash(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, total, n)

	trash, err := f.engine.History(ctx, "o1", service.ViewTrash, 0)
	require.NoError(t, err)
	assert.Empty(t, trash)
}

func TestRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RegisterResponder(ctx, service.RegisterResponderInput{ID: "r1", Name: "R", Tier: "vet"})
	assertKind(t, service.KindInvalidInput, err)
	_, err = f.engine.RegisterOwner(ctx, service.RegisterOwnerInput{ID: "o1"})
	assertKind(t, service.KindInvalidInput, err)

	f.owner(t, "o1")
	_, err = f.engine.RegisterResponder(ctx, service.RegisterResponderInput{ID: "o1", Name: "R", Tier: models.TierStudent})
	assertKind(t, service.KindInvalidInput, err)

	err = f.engine.RegisterPushToken(ctx, "o1", "tok")
	assertKind(t, service.KindNotFound, err)
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "s1", models.TierStudent)
	f.responder(t, "q1", models.TierQualified)
	c := f.newCase(t, "o1", models.SeverityHigh)
	_, err := f.engine.Accept(ctx, c.ID, "q1")
	require.NoError(t, err)
	_, err = f.engine.Resolve(ctx, c.ID, "q1", "Treated.")
	require.NoError(t, err)

	board, err := f.engine.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "q1", board[0].ID)
	assert.Equal(t, 50, board[0].Points)

	board, err = f.engine.Leaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, board, 1)
}

func TestWatchCase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newFixture(t)
	f.owner(t, "o1")
	f.responder(t, "s1", models.TierStudent)
	f.responder(t, "g1", models.TierGraduate)
	c := f.newCase(t, "o1", models.SeverityMid)

	_, err := f.engine.WatchCase(ctx, c.ID, "s1")
	assertKind(t, service.KindNotPermitted, err)

	sub, err := f.engine.WatchCase(ctx, c.ID, "o1")
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, models.StatusPending, (<-sub.Updates()).Status)

	_, err = f.engine.Accept(ctx, c.ID, "g1")
	require.NoError(t, err)
	select {
	case got := <-sub.Updates():
		assert.Equal(t, models.StatusAccepted, got.Status)
	case <-ctx.Done():
		t.Fatal("owner view did not update")
	}
}
