package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hourglass-app/hourglass/internal/timer"
)

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	tm := timer.New("t1", "alice", "tea", 5*time.Minute, now)
	require.NoError(t, m.Insert(ctx, tm))
	require.ErrorIs(t, m.Insert(ctx, tm), ErrExists)

	got, err := m.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, tm.Equal(got))

	paused := tm.Pause(now)
	require.NoError(t, m.Update(ctx, paused))
	got, err = m.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, paused.Equal(got))

	require.NoError(t, m.Delete(ctx, "t1"))
	require.ErrorIs(t, m.Delete(ctx, "t1"), ErrNotFound)
	_, err = m.Get(ctx, "t1")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.Update(ctx, paused), ErrNotFound)
}

func TestMemoryListOrderedByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, m.Insert(ctx, timer.New(id, "alice", id, time.Minute, now)))
	}

	snap, err := m.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
}

func TestMemorySubscribeDeliversLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	var mu sync.Mutex
	var last Snapshot
	seen := make(chan struct{}, 16)
	sub := m.Subscribe(func(s Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
		seen <- struct{}{}
	})
	defer sub.Cancel()

	require.NoError(t, m.Insert(ctx, timer.New("t1", "alice", "tea", time.Minute, now)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].ID == "t1"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Delete(ctx, "t1"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMemorySubscribeCancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	calls := make(chan Snapshot, 16)
	sub := m.Subscribe(func(s Snapshot) { calls <- s })

	require.NoError(t, m.Insert(ctx, timer.New("t1", "alice", "tea", time.Minute, time.Now())))
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("no notification before cancel")
	}

	sub.Cancel()
	require.NoError(t, m.Insert(ctx, timer.New("t2", "alice", "tea", time.Minute, time.Now())))

	select {
	case snap := <-calls:
		// A snapshot already in flight at cancel time may still land; it must
		// predate the post-cancel insert.
		require.LessOrEqual(t, len(snap), 1)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryInvitations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	inv := timer.Invitation{
		TimerID:   "t1",
		Name:      "tea",
		OwnerID:   "alice",
		Status:    timer.InvitationPending,
		InvitedBy: "alice",
		CreatedAt: time.Now(),
	}
	require.NoError(t, m.SaveInvitation(ctx, inv))

	got, err := m.GetInvitation(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, inv, got)

	accepted, err := inv.Accept()
	require.NoError(t, err)
	require.NoError(t, m.SaveInvitation(ctx, accepted))
	got, err = m.GetInvitation(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, timer.InvitationAccepted, got.Status)

	require.NoError(t, m.DeleteInvitation(ctx, "t1"))
	require.ErrorIs(t, m.DeleteInvitation(ctx, "t1"), ErrNotFound)
	_, err = m.GetInvitation(ctx, "t1")
	require.ErrorIs(t, err, ErrNotFound)
}
