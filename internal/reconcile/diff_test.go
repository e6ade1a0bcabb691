package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
)

func mkTimer(id string, now time.Time) timer.TimerState {
	return timer.New(id, "alice", "timer "+id, 5*time.Minute, now)
}

func TestDiffClassifiesChanges(t *testing.T) {
	now := time.Now()
	a := mkTimer("a", now)
	b := mkTimer("b", now)
	c := mkTimer("c", now)

	old := store.Snapshot{a, b}
	updated := b.AddTime(time.Minute)
	new := store.Snapshot{updated, c}

	ops := Diff(old, new)
	require.Len(t, ops, 3)

	require.Equal(t, OpInsert, ops[0].Kind)
	require.Equal(t, "c", ops[0].Timer.ID)
	require.Equal(t, OpUpdate, ops[1].Kind)
	require.Equal(t, "b", ops[1].Timer.ID)
	require.True(t, updated.Equal(ops[1].Timer))
	require.Equal(t, OpRemove, ops[2].Kind)
	require.Equal(t, "a", ops[2].Timer.ID)
}

func TestDiffIsIdempotent(t *testing.T) {
	now := time.Now()
	snap := store.Snapshot{mkTimer("a", now), mkTimer("b", now)}

	ops := Diff(nil, snap)
	require.Len(t, ops, 2)

	// Second pass against the unchanged snapshot produces zero operations.
	require.Empty(t, Diff(snap, snap))
}

func TestDiffSeesSharingSetChanges(t *testing.T) {
	now := time.Now()
	a := mkTimer("a", now)
	shared := a.ShareWith("bob")

	ops := Diff(store.Snapshot{a}, store.Snapshot{shared})
	require.Len(t, ops, 1)
	require.Equal(t, OpUpdate, ops[0].Kind)
}

func TestDiffEmptySides(t *testing.T) {
	now := time.Now()
	snap := store.Snapshot{mkTimer("a", now)}

	require.Empty(t, Diff(nil, nil))

	ops := Diff(snap, nil)
	require.Len(t, ops, 1)
	require.Equal(t, OpRemove, ops[0].Kind)
}
