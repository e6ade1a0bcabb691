// Package postgres implements store.Store and store.InvitationStore on top
// of pgx. The coordinator uses it as the authoritative store; device agents
// can use it when they want durable local state.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
)

// Schema holds the DDL the repository expects. Durations are stored as
// nanosecond bigints; exactly one of paused_remaining and timer_end is
// non-null, enforced by a check constraint mirroring the run-state union.
const Schema = `
CREATE TABLE IF NOT EXISTS timers (
    id               TEXT PRIMARY KEY,
    owner_id         TEXT NOT NULL,
    name             TEXT NOT NULL,
    total_duration   BIGINT NOT NULL,
    paused_remaining BIGINT,
    timer_end        TIMESTAMPTZ,
    shared_with      TEXT[] NOT NULL DEFAULT '{}',
    tags             TEXT[] NOT NULL DEFAULT '{}',
    shared_by        TEXT NOT NULL DEFAULT '',
    version          BIGINT NOT NULL DEFAULT 1,
    CHECK ((paused_remaining IS NULL) != (timer_end IS NULL))
);

CREATE TABLE IF NOT EXISTS invitations (
    timer_id           TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    owner_id           TEXT NOT NULL,
    total_duration     BIGINT NOT NULL,
    remaining_duration BIGINT NOT NULL,
    status             TEXT NOT NULL,
    shared_by          TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invitation_recipients (
    timer_id TEXT NOT NULL,
    user_id  TEXT NOT NULL,
    PRIMARY KEY (timer_id, user_id)
);

CREATE TABLE IF NOT EXISTS device_tokens (
    device_id  TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    token      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// Repository is a pgx-backed timer and invitation store.
type Repository struct {
	pool     *pgxpool.Pool
	notifier *store.Notifier
}

var (
	_ store.Store           = (*Repository)(nil)
	_ store.InvitationStore = (*Repository)(nil)
)

// NewRepository wraps an existing connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, notifier: store.NewNotifier()}
}

// EnsureSchema creates the tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

type timerRow struct {
	id              string
	ownerID         string
	name            string
	totalDuration   int64
	pausedRemaining *int64
	timerEnd        *time.Time
	sharedWith      []string
	tags            []string
	sharedBy        string
	version         int64
}

func (row timerRow) toModel() timer.TimerState {
	t := timer.TimerState{
		ID:            row.id,
		OwnerID:       row.ownerID,
		Name:          row.name,
		TotalDuration: time.Duration(row.totalDuration),
		SharedWith:    timer.NormalizeSet(row.sharedWith),
		Tags:          timer.NormalizeSet(row.tags),
		SharedBy:      row.sharedBy,
		Version:       row.version,
	}
	if row.timerEnd != nil {
		t.Run = timer.Running(*row.timerEnd)
	} else if row.pausedRemaining != nil {
		t.Run = timer.Paused(time.Duration(*row.pausedRemaining))
	}
	return t
}

func rowArgs(t timer.TimerState) []any {
	var pausedRemaining *int64
	var timerEnd *time.Time
	if end, ok := t.Run.End(); ok {
		e := end.UTC()
		timerEnd = &e
	} else {
		rem, _ := t.Run.PausedRemaining()
		n := int64(rem)
		pausedRemaining = &n
	}
	sharedWith := t.SharedWith
	if sharedWith == nil {
		sharedWith = []string{}
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		t.ID, t.OwnerID, t.Name, int64(t.TotalDuration),
		pausedRemaining, timerEnd, sharedWith, tags, t.SharedBy, t.Version,
	}
}

const timerColumns = `id, owner_id, name, total_duration, paused_remaining, timer_end, shared_with, tags, shared_by, version`

func scanTimer(row pgx.Row) (timer.TimerState, error) {
	var tr timerRow
	err := row.Scan(&tr.id, &tr.ownerID, &tr.name, &tr.totalDuration,
		&tr.pausedRemaining, &tr.timerEnd, &tr.sharedWith, &tr.tags, &tr.sharedBy, &tr.version)
	if err != nil {
		return timer.TimerState{}, err
	}
	return tr.toModel(), nil
}

// List returns every timer ordered by id.
func (r *Repository) List(ctx context.Context) (store.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+timerColumns+` FROM timers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	var snap store.Snapshot
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		snap = append(snap, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	return snap, nil
}

// ListForUser returns the timers a user owns or participates in, ordered by
// id. The coordinator uses this to build activeTimerList frames.
func (r *Repository) ListForUser(ctx context.Context, userID string) (store.Snapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+timerColumns+` FROM timers WHERE owner_id = $1 OR $1 = ANY(shared_with) ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list timers for user: %w", err)
	}
	defer rows.Close()

	var snap store.Snapshot
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		snap = append(snap, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list timers for user: %w", err)
	}
	return snap, nil
}

// Get returns one timer by id.
func (r *Repository) Get(ctx context.Context, id string) (timer.TimerState, error) {
	t, err := scanTimer(r.pool.QueryRow(ctx,
		`SELECT `+timerColumns+` FROM timers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return timer.TimerState{}, store.ErrNotFound
	}
	if err != nil {
		return timer.TimerState{}, fmt.Errorf("get timer: %w", err)
	}
	return t, nil
}

// Insert adds a new timer and notifies subscribers.
func (r *Repository) Insert(ctx context.Context, t timer.TimerState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO timers (`+timerColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rowArgs(t)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrExists
		}
		return fmt.Errorf("insert timer: %w", err)
	}
	return r.publish(ctx)
}

// Update replaces an existing timer and notifies subscribers.
func (r *Repository) Update(ctx context.Context, t timer.TimerState) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE timers SET owner_id=$2, name=$3, total_duration=$4, paused_remaining=$5,
		        timer_end=$6, shared_with=$7, tags=$8, shared_by=$9, version=$10
		 WHERE id=$1`,
		rowArgs(t)...)
	if err != nil {
		return fmt.Errorf("update timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return r.publish(ctx)
}

// Delete removes a timer and notifies subscribers.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM timers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return r.publish(ctx)
}

// Subscribe registers a listener for post-mutation snapshots.
func (r *Repository) Subscribe(l store.Listener) store.Subscription {
	return r.notifier.Subscribe(l)
}

func (r *Repository) publish(ctx context.Context) error {
	snap, err := r.List(ctx)
	if err != nil {
		return fmt.Errorf("snapshot after write: %w", err)
	}
	r.notifier.Publish(snap)
	return nil
}

// ListInvitations returns all invitations ordered by timer id.
func (r *Repository) ListInvitations(ctx context.Context) ([]timer.Invitation, error) {
	return r.queryInvitations(ctx,
		`SELECT timer_id, name, owner_id, total_duration, remaining_duration, status, shared_by, created_at
		 FROM invitations ORDER BY timer_id`)
}

// ListInvitationsForUser returns pending invitations addressed to a user,
// joined through the invitation_recipients table.
func (r *Repository) ListInvitationsForUser(ctx context.Context, userID string) ([]timer.Invitation, error) {
	return r.queryInvitations(ctx,
		`SELECT i.timer_id, i.name, i.owner_id, i.total_duration, i.remaining_duration, i.status, i.shared_by, i.created_at
		 FROM invitations i
		 JOIN invitation_recipients ir ON ir.timer_id = i.timer_id
		 WHERE ir.user_id = $1 AND i.status = 'PENDING'
		 ORDER BY i.timer_id`, userID)
}

func (r *Repository) queryInvitations(ctx context.Context, sql string, args ...any) ([]timer.Invitation, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var out []timer.Invitation
	for rows.Next() {
		var inv timer.Invitation
		var total, remaining int64
		var status string
		if err := rows.Scan(&inv.TimerID, &inv.Name, &inv.OwnerID, &total, &remaining,
			&status, &inv.InvitedBy, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		inv.TotalDuration = time.Duration(total)
		inv.RemainingDuration = time.Duration(remaining)
		inv.Status = timer.InvitationStatus(status)
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return out, nil
}

// GetInvitation returns the invitation for a timer id.
func (r *Repository) GetInvitation(ctx context.Context, timerID string) (timer.Invitation, error) {
	var inv timer.Invitation
	var total, remaining int64
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT timer_id, name, owner_id, total_duration, remaining_duration, status, shared_by, created_at
		 FROM invitations WHERE timer_id = $1`, timerID).
		Scan(&inv.TimerID, &inv.Name, &inv.OwnerID, &total, &remaining, &status, &inv.InvitedBy, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return timer.Invitation{}, store.ErrNotFound
	}
	if err != nil {
		return timer.Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	inv.TotalDuration = time.Duration(total)
	inv.RemainingDuration = time.Duration(remaining)
	inv.Status = timer.InvitationStatus(status)
	return inv, nil
}

// SaveInvitation inserts or replaces an invitation.
func (r *Repository) SaveInvitation(ctx context.Context, inv timer.Invitation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invitations (timer_id, name, owner_id, total_duration, remaining_duration, status, shared_by, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (timer_id) DO UPDATE SET
		   name=EXCLUDED.name, owner_id=EXCLUDED.owner_id, total_duration=EXCLUDED.total_duration,
		   remaining_duration=EXCLUDED.remaining_duration, status=EXCLUDED.status,
		   shared_by=EXCLUDED.shared_by, created_at=EXCLUDED.created_at`,
		inv.TimerID, inv.Name, inv.OwnerID, int64(inv.TotalDuration), int64(inv.RemainingDuration),
		string(inv.Status), inv.InvitedBy, inv.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save invitation: %w", err)
	}
	return nil
}

// DeleteInvitation removes an invitation.
func (r *Repository) DeleteInvitation(ctx context.Context, timerID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invitations WHERE timer_id = $1`, timerID)
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddInvitationRecipient records that an invitation was addressed to userID.
func (r *Repository) AddInvitationRecipient(ctx context.Context, timerID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invitation_recipients (timer_id, user_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		timerID, userID)
	if err != nil {
		return fmt.Errorf("add invitation recipient: %w", err)
	}
	return nil
}

// SaveDeviceToken registers or refreshes a push token for a device.
func (r *Repository) SaveDeviceToken(ctx context.Context, deviceID, userID, token string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO device_tokens (device_id, user_id, token, updated_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (device_id) DO UPDATE SET user_id=EXCLUDED.user_id, token=EXCLUDED.token, updated_at=EXCLUDED.updated_at`,
		deviceID, userID, token, now.UTC())
	if err != nil {
		return fmt.Errorf("save device token: %w", err)
	}
	return nil
}

// DeviceTokensForUser returns the push tokens registered for a user's devices.
func (r *Repository) DeviceTokensForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("device tokens for user: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("device tokens for user: %w", err)
	}
	return tokens, nil
}
