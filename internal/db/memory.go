package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/service"
)

// MemoryStore keeps everything in process. Transactions are serialized by a single
// lock, which gives the same compare-and-set guarantees as the SQL store.
type MemoryStore struct {
	Logger zerolog.Logger

	mu         sync.Mutex
	cases      map[string]models.Case
	owners     map[string]models.Owner
	responders map[string]models.Responder

	hub changeHub
}

var _ service.Store = (*MemoryStore)(nil)

func NewMemory(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		Logger:     logger,
		cases:      map[string]models.Case{},
		owners:     map[string]models.Owner{},
		responders: map[string]models.Responder{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) CreateCase(ctx context.Context, c models.Case) error {
	m.mu.Lock()
	if _, ok := m.cases[c.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("case %s already exists", c.ID)
	}
	m.cases[c.ID] = cloneCase(c)
	m.mu.Unlock()

	m.publish(c.ID)
	return nil
}

func (m *MemoryStore) GetCase(ctx context.Context, id string) (models.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return models.Case{}, service.ErrNotFound
	}
	return cloneCase(c), nil
}

func (m *MemoryStore) ListCases(ctx context.Context, f service.CaseFilter) ([]models.Case, error) {
	m.mu.Lock()
	out := make([]models.Case, 0)
	for _, c := range m.cases {
		if f.Matches(c) {
			out = append(out, cloneCase(c))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateOwner(ctx context.Context, o models.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.responders[o.ID]; ok {
		return service.ErrPreconditionFailed
	}
	if prev, ok := m.owners[o.ID]; ok {
		o.CreatedAt = prev.CreatedAt
	}
	m.owners[o.ID] = o
	return nil
}

func (m *MemoryStore) CreateResponder(ctx context.Context, r models.Responder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[r.ID]; ok {
		return service.ErrPreconditionFailed
	}
	if prev, ok := m.responders[r.ID]; ok {
		r.Points = prev.Points
		r.ResolvedCount = prev.ResolvedCount
		r.PushToken = prev.PushToken
		r.CreatedAt = prev.CreatedAt
	}
	m.responders[r.ID] = r
	return nil
}

func (m *MemoryStore) GetOwner(ctx context.Context, id string) (models.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[id]
	if !ok {
		return models.Owner{}, service.ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) GetResponder(ctx context.Context, id string) (models.Responder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responders[id]
	if !ok {
		return models.Responder{}, service.ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) SetPushToken(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responders[userID]
	if !ok {
		return service.ErrNotFound
	}
	r.PushToken = token
	m.responders[userID] = r
	return nil
}

func (m *MemoryStore) ListPushTokens(ctx context.Context, tiers []models.Tier) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, r := range m.responders {
		if r.PushToken == "" || !containsTier(tiers, r.Tier) {
			continue
		}
		if _, ok := seen[r.PushToken]; ok {
			continue
		}
		seen[r.PushToken] = struct{}{}
		out = append(out, r.PushToken)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Leaderboard(ctx context.Context, limit int) ([]models.Responder, error) {
	m.mu.Lock()
	out := make([]models.Responder, 0, len(m.responders))
	for _, r := range m.responders {
		out = append(out, r)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.ResolvedCount != b.ResolvedCount {
			return a.ResolvedCount > b.ResolvedCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WithTx stages every write and applies them only when fn succeeds.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx service.Tx) error) error {
	m.mu.Lock()
	tx := &memTx{store: m, cases: map[string]*models.Case{}, standing: map[string][2]int{}}
	if err := fn(tx); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	changed := make([]string, 0, len(tx.cases))
	for id, c := range tx.cases {
		if c == nil {
			delete(m.cases, id)
		} else {
			m.cases[id] = *c
		}
		changed = append(changed, id)
	}
	for id, d := range tx.standing {
		r := m.responders[id]
		r.Points += d[0]
		r.ResolvedCount += d[1]
		m.responders[id] = r
	}
	m.mu.Unlock()

	m.publish(changed...)
	return nil
}

// memTx runs with the store lock held. A nil entry in cases marks a deletion.
type memTx struct {
	store    *MemoryStore
	cases    map[string]*models.Case
	standing map[string][2]int
}

func (t *memTx) current(id string) (models.Case, bool) {
	if c, ok := t.cases[id]; ok {
		if c == nil {
			return models.Case{}, false
		}
		return *c, true
	}
	c, ok := t.store.cases[id]
	return c, ok
}

func (t *memTx) UpdateCase(ctx context.Context, id string, p service.Precondition, u service.CaseUpdate) error {
	c, ok := t.current(id)
	if !ok {
		return service.ErrNotFound
	}
	if !p.Matches(c) {
		return service.ErrPreconditionFailed
	}
	next := cloneCase(c)
	u.Apply(&next)
	t.cases[id] = &next
	return nil
}

func (t *memTx) DeleteCase(ctx context.Context, id string, p service.Precondition) error {
	c, ok := t.current(id)
	if !ok {
		return service.ErrNotFound
	}
	if !p.Matches(c) {
		return service.ErrPreconditionFailed
	}
	t.cases[id] = nil
	return nil
}

func (t *memTx) IncrementStanding(ctx context.Context, responderID string, points, resolved int) error {
	if _, ok := t.store.responders[responderID]; !ok {
		return service.ErrNotFound
	}
	d := t.standing[responderID]
	d[0] += points
	d[1] += resolved
	t.standing[responderID] = d
	return nil
}

func (m *MemoryStore) SubscribeCase(ctx context.Context, id string) (service.Subscription[models.Case], error) {
	l, stop := m.listen()
	sub, err := startSubscription(ctx, l, stop, func(changed string) bool { return changed == id }, caseSnapshot(m.GetCase, id), m.Logger)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (m *MemoryStore) SubscribeCases(ctx context.Context, f service.CaseFilter) (service.Subscription[[]models.Case], error) {
	l, stop := m.listen()
	sub, err := startSubscription(ctx, l, stop, nil, listSnapshot(m.ListCases, f), m.Logger)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (m *MemoryStore) listen() (*changeListener, func()) {
	return m.hub.listen()
}

func (m *MemoryStore) publish(ids ...string) {
	m.hub.publish(ids...)
}

// cloneCase copies the pointer fields so callers cannot reach stored state.
func cloneCase(c models.Case) models.Case {
	if c.Location != nil {
		loc := *c.Location
		c.Location = &loc
	}
	c.AssignedResponderID = cloneString(c.AssignedResponderID)
	c.AssignedResponderName = cloneString(c.AssignedResponderName)
	c.PriorAssigneeID = cloneString(c.PriorAssigneeID)
	if c.AssignedResponderTier != nil {
		t := *c.AssignedResponderTier
		c.AssignedResponderTier = &t
	}
	if c.CurrentDistanceKm != nil {
		d := *c.CurrentDistanceKm
		c.CurrentDistanceKm = &d
	}
	c.LastLocationUpdate = utcPtr(c.LastLocationUpdate)
	c.DeletedAt = utcPtr(c.DeletedAt)
	c.ResolvedAt = utcPtr(c.ResolvedAt)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func containsTier(tiers []models.Tier, t models.Tier) bool {
	for _, v := range tiers {
		if v == t {
			return true
		}
	}
	return false
}
