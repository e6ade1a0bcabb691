// Package store defines the observable timer collection the sync engine
// reconciles against, plus invitation persistence. Implementations: an
// in-memory store and a Postgres-backed one under store/postgres.
package store

import (
	"context"
	"errors"

	"github.com/hourglass-app/hourglass/internal/timer"
)

var (
	// ErrNotFound is returned for lookups, updates and deletes of unknown ids.
	ErrNotFound = errors.New("timer not found")
	// ErrExists is returned when inserting an id that is already present.
	ErrExists = errors.New("timer already exists")
)

// Snapshot is a complete listing of all timers known to one side at one
// point in time, ordered by id.
type Snapshot []timer.TimerState

// ByID indexes a snapshot for map-keyed diffing.
func (s Snapshot) ByID() map[string]timer.TimerState {
	m := make(map[string]timer.TimerState, len(s))
	for _, t := range s {
		m[t.ID] = t
	}
	return m
}

// Listener receives the full current snapshot after every mutation.
// Delivery is asynchronous; the store never blocks a write on a consumer.
type Listener func(Snapshot)

// Subscription detaches a listener when cancelled.
type Subscription interface {
	Cancel()
}

// Store is the local timer collection keyed by id.
type Store interface {
	List(ctx context.Context) (Snapshot, error)
	Get(ctx context.Context, id string) (timer.TimerState, error)
	Insert(ctx context.Context, t timer.TimerState) error
	Update(ctx context.Context, t timer.TimerState) error
	Delete(ctx context.Context, id string) error
	Subscribe(l Listener) Subscription
}

// InvitationStore persists shared-timer invitations, keyed by timer id.
type InvitationStore interface {
	ListInvitations(ctx context.Context) ([]timer.Invitation, error)
	GetInvitation(ctx context.Context, timerID string) (timer.Invitation, error)
	SaveInvitation(ctx context.Context, inv timer.Invitation) error
	DeleteInvitation(ctx context.Context, timerID string) error
}
