package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// recordingSender captures outbound messages; Send never fails unless told to.
type recordingSender struct {
	sent []wire.Message
	err  error
}

func (s *recordingSender) Send(msg wire.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) reset() { s.sent = nil }

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *recordingSender) {
	t.Helper()
	mem := store.NewMemory()
	sender := &recordingSender{}
	return NewEngine(mem, sender), mem, sender
}

func TestRemoteListInsertsLocally(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	now := time.Now()

	t1 := mkTimer("t1", now)
	e.handleRemoteList(ctx, []timer.TimerState{t1})

	got, err := mem.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, t1.Equal(got))

	// The memorized remote snapshot now contains t1; re-delivery of the
	// same list applies nothing further.
	e.handleRemoteList(ctx, []timer.TimerState{t1})
	require.Empty(t, sender.sent)
}

func TestNoFeedbackLoopAfterRemoteApply(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	now := time.Now()

	t1 := mkTimer("t1", now)
	e.handleRemoteList(ctx, []timer.TimerState{t1})

	// The store write above triggers a local snapshot notification; the
	// local→remote pass must see it as a no-op for t1.
	snap, err := mem.List(ctx)
	require.NoError(t, err)
	e.handleLocalSnapshot(snap)

	require.Empty(t, sender.sent)
}

func TestLocalDeleteEmitsStopTimerExactlyOnce(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	now := time.Now()

	t1 := mkTimer("t1", now).ShareWith("bob")
	require.NoError(t, mem.Insert(ctx, t1))
	snap, _ := mem.List(ctx)
	e.handleLocalSnapshot(snap)
	sender.reset()

	require.NoError(t, mem.Delete(ctx, "t1"))
	snap, _ = mem.List(ctx)
	e.handleLocalSnapshot(snap)

	require.Len(t, sender.sent, 1)
	stop, ok := sender.sent[0].(wire.StopTimer)
	require.True(t, ok)
	require.Equal(t, "t1", stop.TimerID)
	require.Equal(t, []string{"alice", "bob"}, stop.ShareWith)

	// Unchanged snapshot: nothing further.
	e.handleLocalSnapshot(snap)
	require.Len(t, sender.sent, 1)
}

func TestLocalInsertAndUpdatePushMessages(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	now := time.Now()

	t1 := mkTimer("t1", now)
	require.NoError(t, mem.Insert(ctx, t1))
	snap, _ := mem.List(ctx)
	e.handleLocalSnapshot(snap)

	require.Len(t, sender.sent, 1)
	upd := sender.sent[0].(wire.UpdateTimer)
	require.Equal(t, ReasonCreated, upd.Reason)
	require.True(t, t1.Equal(upd.Timer))

	paused := t1.Pause(now)
	require.NoError(t, mem.Update(ctx, paused))
	snap, _ = mem.List(ctx)
	e.handleLocalSnapshot(snap)

	require.Len(t, sender.sent, 2)
	upd = sender.sent[1].(wire.UpdateTimer)
	require.Equal(t, ReasonUpdated, upd.Reason)
	require.True(t, paused.Equal(upd.Timer))
}

func TestRemoteStopRemovesLocally(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	now := time.Now()

	t1 := mkTimer("t1", now)
	e.handleRemoteUpdate(ctx, t1)
	_, err := mem.Get(ctx, "t1")
	require.NoError(t, err)

	e.handleRemoteStop(ctx, "t1")
	_, err = mem.Get(ctx, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Duplicate stop is idempotent.
	e.handleRemoteStop(ctx, "t1")
	require.Empty(t, sender.sent)

	// And the deletion does not echo back on the next local pass.
	snap, _ := mem.List(ctx)
	e.handleLocalSnapshot(snap)
	require.Empty(t, sender.sent)
}

func TestStaleRemoteUpdateIsSkippedAndReasserted(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	now := time.Now()

	local := mkTimer("t1", now).AddTime(time.Minute).AddTime(time.Minute) // version 3
	require.NoError(t, mem.Insert(ctx, local))

	stale := mkTimer("t1", now) // version 1
	e.handleRemoteUpdate(ctx, stale)

	// Local state wins and is pushed back to the remote.
	got, err := mem.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, local.Equal(got))

	require.Len(t, sender.sent, 1)
	upd := sender.sent[0].(wire.UpdateTimer)
	require.Equal(t, ReasonUpdated, upd.Reason)
	require.True(t, local.Equal(upd.Timer))
}

func TestRemoteListRemovalDeletesLocally(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	now := time.Now()

	t1 := mkTimer("t1", now)
	t2 := mkTimer("t2", now)
	e.handleRemoteList(ctx, []timer.TimerState{t1, t2})

	e.handleRemoteList(ctx, []timer.TimerState{t2})
	_, err := mem.Get(ctx, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.Get(ctx, "t2")
	require.NoError(t, err)
}

func TestConnectedEmitsInitialSync(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	now := time.Now()

	require.NoError(t, mem.Insert(ctx, mkTimer("a", now)))
	require.NoError(t, mem.Insert(ctx, mkTimer("b", now)))

	e.handleConnected(ctx)
	require.Len(t, sender.sent, 2)
	for _, msg := range sender.sent {
		upd, ok := msg.(wire.UpdateTimer)
		require.True(t, ok)
		require.Equal(t, ReasonConnected, upd.Reason)
	}

	// The initial sync primes the local memo: the snapshot notification it
	// may race with must not double-send.
	snap, _ := mem.List(ctx)
	e.handleLocalSnapshot(snap)
	require.Len(t, sender.sent, 2)
}

func TestSendFailureIsSilent(t *testing.T) {
	ctx := context.Background()
	e, mem, sender := newTestEngine(t)
	sender.err = context.DeadlineExceeded
	now := time.Now()

	require.NoError(t, mem.Insert(ctx, mkTimer("t1", now)))
	snap, _ := mem.List(ctx)

	// Must not panic or error; the memo still advances (at-most-once).
	e.handleLocalSnapshot(snap)
	require.Empty(t, sender.sent)
}

func TestEngineRunProcessesEvents(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	now := time.Now()
	t1 := mkTimer("t1", now)
	e.HandleMessage(wire.ActiveTimerList{Timers: []timer.TimerState{t1}})

	require.Eventually(t, func() bool {
		_, err := mem.Get(context.Background(), "t1")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}
