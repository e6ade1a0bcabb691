package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/hourglass-app/hourglass/internal/timer"
)

// Memory is an in-process Store and InvitationStore. It backs devices that
// do not persist between launches and every test in the repo.
type Memory struct {
	mu       sync.RWMutex
	timers   map[string]timer.TimerState
	invites  map[string]timer.Invitation
	notifier *Notifier
}

var (
	_ Store           = (*Memory)(nil)
	_ InvitationStore = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		timers:   make(map[string]timer.TimerState),
		invites:  make(map[string]timer.Invitation),
		notifier: NewNotifier(),
	}
}

// List returns all timers ordered by id.
func (m *Memory) List(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(), nil
}

// Get returns the timer with the given id.
func (m *Memory) Get(ctx context.Context, id string) (timer.TimerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.timers[id]
	if !ok {
		return timer.TimerState{}, ErrNotFound
	}
	return t, nil
}

// Insert adds a new timer and notifies subscribers.
func (m *Memory) Insert(ctx context.Context, t timer.TimerState) error {
	m.mu.Lock()
	if _, ok := m.timers[t.ID]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	m.timers[t.ID] = t
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notifier.Publish(snap)
	return nil
}

// Update replaces an existing timer and notifies subscribers.
func (m *Memory) Update(ctx context.Context, t timer.TimerState) error {
	m.mu.Lock()
	if _, ok := m.timers[t.ID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.timers[t.ID] = t
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notifier.Publish(snap)
	return nil
}

// Delete removes a timer and notifies subscribers.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.timers[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.timers, id)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notifier.Publish(snap)
	return nil
}

// Subscribe registers a listener for post-mutation snapshots.
func (m *Memory) Subscribe(l Listener) Subscription {
	return m.notifier.Subscribe(l)
}

func (m *Memory) snapshotLocked() Snapshot {
	snap := make(Snapshot, 0, len(m.timers))
	for _, t := range m.timers {
		snap = append(snap, t)
	}
	slices.SortFunc(snap, func(a, b timer.TimerState) int {
		return strings.Compare(a.ID, b.ID)
	})
	return snap
}

// ListInvitations returns all stored invitations ordered by timer id.
func (m *Memory) ListInvitations(ctx context.Context) ([]timer.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]timer.Invitation, 0, len(m.invites))
	for _, inv := range m.invites {
		out = append(out, inv)
	}
	slices.SortFunc(out, func(a, b timer.Invitation) int {
		return strings.Compare(a.TimerID, b.TimerID)
	})
	return out, nil
}

// GetInvitation returns the invitation for the given timer id.
func (m *Memory) GetInvitation(ctx context.Context, timerID string) (timer.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invites[timerID]
	if !ok {
		return timer.Invitation{}, ErrNotFound
	}
	return inv, nil
}

// SaveInvitation inserts or replaces an invitation.
func (m *Memory) SaveInvitation(ctx context.Context, inv timer.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[inv.TimerID] = inv
	return nil
}

// DeleteInvitation removes an invitation.
func (m *Memory) DeleteInvitation(ctx context.Context, timerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invites[timerID]; !ok {
		return ErrNotFound
	}
	delete(m.invites, timerID)
	return nil
}
