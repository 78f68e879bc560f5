package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/service"
)

const (
	changeChannel = "case_changes"

	feedMinBackoff = 500 * time.Millisecond
	feedMaxBackoff = 30 * time.Second
)

type Store struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger

	hub      changeHub
	feedOnce sync.Once
	stopFeed context.CancelFunc
	feedDone chan struct{}
}

var _ service.Store = (*Store)(nil)

func New(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool, Logger: logger}, nil
}

func (s *Store) Close() {
	// Keeps a later subscribe from starting the feed and orders the reads below.
	s.feedOnce.Do(func() {})
	if s.stopFeed != nil {
		s.stopFeed()
		<-s.feedDone
	}
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx service.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const caseColumns = `id, owner_id, owner_name, owner_phone, symptoms, severity, lat, lng, location_label,
	status, assigned_responder_id, assigned_responder_name, assigned_responder_tier, help_type,
	advice, volunteer_notes, prior_assignee_id, is_escalated, current_distance_km, last_location_update,
	is_archived, is_deleted, deleted_at, created_at, last_updated, resolved_at`

func scanCase(row pgx.Row) (models.Case, error) {
	var (
		c        models.Case
		severity string
		status   string
		helpType string
		lat      *float64
		lng      *float64
		tier     *string
	)
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.OwnerName, &c.OwnerPhone, &c.Symptoms, &severity, &lat, &lng, &c.LocationLabel,
		&status, &c.AssignedResponderID, &c.AssignedResponderName, &tier, &helpType,
		&c.Advice, &c.VolunteerNotes, &c.PriorAssigneeID, &c.IsEscalated, &c.CurrentDistanceKm, &c.LastLocationUpdate,
		&c.IsArchived, &c.IsDeleted, &c.DeletedAt, &c.CreatedAt, &c.LastUpdated, &c.ResolvedAt,
	)
	if err != nil {
		return models.Case{}, err
	}
	c.Severity = models.Severity(severity)
	c.Status = models.Status(status)
	c.HelpType = models.HelpType(helpType)
	if lat != nil && lng != nil {
		c.Location = &models.Location{Lat: *lat, Lng: *lng}
	}
	if tier != nil {
		t := models.Tier(*tier)
		c.AssignedResponderTier = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastUpdated = c.LastUpdated.UTC()
	c.LastLocationUpdate = utcPtr(c.LastLocationUpdate)
	c.DeletedAt = utcPtr(c.DeletedAt)
	c.ResolvedAt = utcPtr(c.ResolvedAt)
	return c, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) CreateCase(ctx context.Context, c models.Case) error {
	var lat, lng *float64
	if c.Location != nil {
		lat, lng = &c.Location.Lat, &c.Location.Lng
	}
	var tier *string
	if c.AssignedResponderTier != nil {
		t := string(*c.AssignedResponderTier)
		tier = &t
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
	`, c.ID, c.OwnerID, c.OwnerName, c.OwnerPhone, c.Symptoms, string(c.Severity), lat, lng, c.LocationLabel,
		string(c.Status), c.AssignedResponderID, c.AssignedResponderName, tier, string(c.HelpType),
		c.Advice, c.VolunteerNotes, c.PriorAssigneeID, c.IsEscalated, c.CurrentDistanceKm, c.LastLocationUpdate,
		c.IsArchived, c.IsDeleted, c.DeletedAt, c.CreatedAt, c.LastUpdated, c.ResolvedAt)
	return err
}

func (s *Store) GetCase(ctx context.Context, id string) (models.Case, error) {
	c, err := scanCase(s.Pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Case{}, service.ErrNotFound
	}
	return c, err
}

func (s *Store) ListCases(ctx context.Context, f service.CaseFilter) ([]models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases`
	var args sqlArgs
	if wheres := filterClauses(f, &args); len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + args.add(f.EffectiveLimit())

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateOwner upserts the owner profile. An id already registered as a responder
// is reported as ErrPreconditionFailed.
func (s *Store) CreateOwner(ctx context.Context, o models.Owner) error {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, role, name, email, phone, created_at)
		VALUES ($1, 'owner', $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone
		WHERE users.role = 'owner'
	`, o.ID, o.Name, o.Email, o.Phone, o.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrPreconditionFailed
	}
	return nil
}

// CreateResponder upserts the responder profile and leaves standing and push token alone.
func (s *Store) CreateResponder(ctx context.Context, r models.Responder) error {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, role, name, email, tier, university, student_id, certificate_no, license_no, created_at)
		VALUES ($1, 'responder', $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			tier = EXCLUDED.tier,
			university = EXCLUDED.university,
			student_id = EXCLUDED.student_id,
			certificate_no = EXCLUDED.certificate_no,
			license_no = EXCLUDED.license_no
		WHERE users.role = 'responder'
	`, r.ID, r.Name, r.Email, string(r.Tier), r.University, r.StudentID, r.CertificateNo, r.LicenseNo, r.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrPreconditionFailed
	}
	return nil
}

func (s *Store) GetOwner(ctx context.Context, id string) (models.Owner, error) {
	var o models.Owner
	err := s.Pool.QueryRow(ctx, `SELECT id, name, email, phone, created_at FROM users WHERE id = $1 AND role = 'owner'`, id).
		Scan(&o.ID, &o.Name, &o.Email, &o.Phone, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Owner{}, service.ErrNotFound
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, err
}

const responderColumns = `id, name, email, tier, university, student_id, certificate_no, license_no,
	points, resolved_count, push_token, created_at`

func scanResponder(row pgx.Row) (models.Responder, error) {
	var (
		r    models.Responder
		tier string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Email, &tier, &r.University, &r.StudentID, &r.CertificateNo, &r.LicenseNo,
		&r.Points, &r.ResolvedCount, &r.PushToken, &r.CreatedAt)
	if err != nil {
		return models.Responder{}, err
	}
	r.Tier = models.Tier(tier)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *Store) GetResponder(ctx context.Context, id string) (models.Responder, error) {
	r, err := scanResponder(s.Pool.QueryRow(ctx, `SELECT `+responderColumns+` FROM users WHERE id = $1 AND role = 'responder'`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Responder{}, service.ErrNotFound
	}
	return r, err
}

func (s *Store) SetPushToken(ctx context.Context, userID, token string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE users SET push_token = $1 WHERE id = $2 AND role = 'responder'`, token, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *Store) ListPushTokens(ctx context.Context, tiers []models.Tier) ([]string, error) {
	if len(tiers) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(tiers))
	for _, t := range tiers {
		names = append(names, string(t))
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT push_token FROM users
		WHERE role = 'responder' AND push_token <> '' AND tier = ANY($1)
	`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]models.Responder, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+responderColumns+` FROM users
		WHERE role = 'responder'
		ORDER BY points DESC, resolved_count DESC, created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Responder, 0)
	for rows.Next() {
		r, err := scanResponder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SubscribeCase(ctx context.Context, id string) (service.Subscription[models.Case], error) {
	l, stop := s.listen()
	sub, err := startSubscription(ctx, l, stop, func(changed string) bool { return changed == id }, caseSnapshot(s.GetCase, id), s.Logger)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscribeCases re-runs the filter on every case change. Notifications only carry
// the id, and a change can move a case out of the filter as well as into it.
func (s *Store) SubscribeCases(ctx context.Context, f service.CaseFilter) (service.Subscription[[]models.Case], error) {
	l, stop := s.listen()
	sub, err := startSubscription(ctx, l, stop, nil, listSnapshot(s.ListCases, f), s.Logger)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// listen registers a subscription with the store's change feed, starting the feed
// on first use. All subscriptions share one LISTEN connection outside the pool.
func (s *Store) listen() (*changeListener, func()) {
	s.feedOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopFeed, s.feedDone = cancel, make(chan struct{})
		go s.runFeed(ctx)
	})
	return s.hub.listen()
}

// runFeed keeps a LISTEN connection open until ctx ends. When the connection is
// lost every open subscription is closed so clients reconnect and re-read.
func (s *Store) runFeed(ctx context.Context) {
	defer close(s.feedDone)
	defer s.hub.closeAll()

	backoff := feedMinBackoff
	for {
		connected, err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = feedMinBackoff
		}
		s.Logger.Warn().Err(err).Int("streams", s.hub.size()).Dur("retry_in", backoff).Msg("case change feed lost")
		s.hub.closeAll()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, feedMaxBackoff)
	}
}

func (s *Store) listenOnce(ctx context.Context) (bool, error) {
	conn, err := pgx.ConnectConfig(ctx, s.Pool.Config().ConnConfig.Copy())
	if err != nil {
		return false, err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return false, err
	}
	// Changes committed while nothing was listening are unknown.
	s.hub.resync()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		s.hub.publish(n.Payload)
	}
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) UpdateCase(ctx context.Context, id string, p service.Precondition, u service.CaseUpdate) error {
	var args sqlArgs
	sets := setClauses(u, &args)
	if len(sets) == 0 {
		return fmt.Errorf("update case %s: no fields to set", id)
	}
	wheres := append([]string{"id = " + args.add(id)}, preconditionClauses(p, &args)...)

	tag, err := t.tx.Exec(ctx, "UPDATE cases SET "+strings.Join(sets, ", ")+" WHERE "+strings.Join(wheres, " AND "), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return t.missed(ctx, id)
	}
	return nil
}

func (t pgTx) DeleteCase(ctx context.Context, id string, p service.Precondition) error {
	var args sqlArgs
	wheres := append([]string{"id = " + args.add(id)}, preconditionClauses(p, &args)...)

	tag, err := t.tx.Exec(ctx, "DELETE FROM cases WHERE "+strings.Join(wheres, " AND "), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return t.missed(ctx, id)
	}
	return nil
}

func (t pgTx) IncrementStanding(ctx context.Context, responderID string, points, resolved int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users SET points = points + $1, resolved_count = resolved_count + $2
		WHERE id = $3 AND role = 'responder'
	`, points, resolved, responderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

// missed tells a failed precondition apart from a missing row.
func (t pgTx) missed(ctx context.Context, id string) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return service.ErrNotFound
	}
	return service.ErrPreconditionFailed
}

type sqlArgs []any

func (a *sqlArgs) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func setClauses(u service.CaseUpdate, args *sqlArgs) []string {
	var sets []string
	set := func(col string, v any) {
		sets = append(sets, col+" = "+args.add(v))
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	switch {
	case u.Assign != nil:
		set("assigned_responder_id", u.Assign.ResponderID)
		set("assigned_responder_name", u.Assign.Name)
		set("assigned_responder_tier", string(u.Assign.Tier))
	case u.ClearAssignment:
		sets = append(sets, "assigned_responder_id = NULL", "assigned_responder_name = NULL", "assigned_responder_tier = NULL")
	}
	if u.HelpType != nil {
		set("help_type", string(*u.HelpType))
	}
	if u.Advice != nil {
		set("advice", *u.Advice)
	}
	if u.VolunteerNotes != nil {
		set("volunteer_notes", *u.VolunteerNotes)
	}
	if u.PriorAssigneeID != nil {
		set("prior_assignee_id", *u.PriorAssigneeID)
	}
	if u.IsEscalated != nil {
		set("is_escalated", *u.IsEscalated)
	}
	switch {
	case u.CurrentDistanceKm != nil:
		set("current_distance_km", *u.CurrentDistanceKm)
	case u.ClearDistance:
		sets = append(sets, "current_distance_km = NULL")
	}
	if u.LastLocationUpdate != nil {
		set("last_location_update", *u.LastLocationUpdate)
	}
	if u.IsArchived != nil {
		set("is_archived", *u.IsArchived)
	}
	if u.IsDeleted != nil {
		set("is_deleted", *u.IsDeleted)
	}
	switch {
	case u.DeletedAt != nil:
		set("deleted_at", *u.DeletedAt)
	case u.ClearDeletedAt:
		sets = append(sets, "deleted_at = NULL")
	}
	if !u.LastUpdated.IsZero() {
		set("last_updated", u.LastUpdated)
	}
	if u.ResolvedAt != nil {
		set("resolved_at", *u.ResolvedAt)
	}
	return sets
}

func preconditionClauses(p service.Precondition, args *sqlArgs) []string {
	var wheres []string
	if len(p.Statuses) > 0 {
		wheres = append(wheres, "status = ANY("+args.add(statusNames(p.Statuses))+")")
	}
	if p.AssignedTo != nil {
		wheres = append(wheres, "assigned_responder_id = "+args.add(*p.AssignedTo))
	}
	if p.Unassigned {
		wheres = append(wheres, "assigned_responder_id IS NULL")
	}
	if p.Deleted != nil {
		wheres = append(wheres, "is_deleted = "+args.add(*p.Deleted))
	}
	if p.HistoryOf != nil {
		ph := args.add(*p.HistoryOf)
		wheres = append(wheres, fmt.Sprintf("(owner_id = %s OR assigned_responder_id = %s)", ph, ph))
	}
	return wheres
}

func filterClauses(f service.CaseFilter, args *sqlArgs) []string {
	var wheres []string
	if len(f.Statuses) > 0 {
		wheres = append(wheres, "status = ANY("+args.add(statusNames(f.Statuses))+")")
	}
	if len(f.Severities) > 0 {
		names := make([]string, 0, len(f.Severities))
		for _, s := range f.Severities {
			names = append(names, string(s))
		}
		wheres = append(wheres, "severity = ANY("+args.add(names)+")")
	}
	if f.OwnerID != "" {
		wheres = append(wheres, "owner_id = "+args.add(f.OwnerID))
	}
	if f.AssigneeID != "" {
		wheres = append(wheres, "assigned_responder_id = "+args.add(f.AssigneeID))
	}
	if f.Archived != nil {
		wheres = append(wheres, "is_archived = "+args.add(*f.Archived))
	}
	if f.Deleted != nil {
		wheres = append(wheres, "is_deleted = "+args.add(*f.Deleted))
	}
	return wheres
}

func statusNames(statuses []models.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
