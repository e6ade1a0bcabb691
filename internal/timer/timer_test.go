package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPauseUnpauseRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := New("t1", "alice", "tea", 5*time.Minute, now)

	before := tm.Remaining(now)
	paused := tm.Pause(now)
	resumed := paused.Unpause(now)

	require.Equal(t, before, resumed.Remaining(now))
}

func TestPauseSnapshotsRemainderExactly(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := New("t1", "alice", "tea", 5*time.Minute, now).Pause(now)

	rem, ok := tm.Run.PausedRemaining()
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, rem)

	// Paused remainder is immune to the passage of time.
	later := now.Add(42 * time.Hour)
	require.Equal(t, 5*time.Minute, tm.Remaining(later))
}

func TestPauseIsIdempotent(t *testing.T) {
	now := time.Now()
	tm := New("t1", "alice", "tea", time.Minute, now).Pause(now)
	again := tm.Pause(now.Add(time.Hour))
	require.True(t, tm.Equal(again))
}

func TestUnpauseIsIdempotent(t *testing.T) {
	now := time.Now()
	tm := New("t1", "alice", "tea", time.Minute, now)
	require.True(t, tm.Equal(tm.Unpause(now)))
}

func TestRunningOverrunGoesNegative(t *testing.T) {
	now := time.Now()
	tm := TimerState{ID: "t1", Run: Running(now.Add(-10 * time.Second))}
	require.Equal(t, -10*time.Second, tm.Remaining(now))
}

func TestAddTimeExtendsRemainingInEitherRunState(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	running := New("t1", "alice", "tea", 5*time.Minute, now)
	require.Equal(t, running.Remaining(now)+time.Minute, running.AddTime(time.Minute).Remaining(now))
	require.Equal(t, 6*time.Minute, running.AddTime(time.Minute).TotalDuration)

	paused := running.Pause(now)
	require.Equal(t, paused.Remaining(now)+time.Minute, paused.AddTime(time.Minute).Remaining(now))
	require.Equal(t, 6*time.Minute, paused.AddTime(time.Minute).TotalDuration)
}

func TestShareWithAddsOwnerAndInvitee(t *testing.T) {
	now := time.Now()
	tm := New("t1", "alice", "tea", time.Minute, now).ShareWith("bob")

	require.Equal(t, []string{"alice", "bob"}, tm.SharedWith)

	tm = tm.ShareWith("bob") // duplicate insert is a set no-op
	require.Equal(t, []string{"alice", "bob"}, tm.SharedWith)

	tm = tm.Unshare("bob")
	require.Equal(t, []string{"alice"}, tm.SharedWith)
}

func TestMutationsBumpVersion(t *testing.T) {
	now := time.Now()
	tm := New("t1", "alice", "tea", time.Minute, now)
	v := tm.Version

	tm = tm.Pause(now)
	require.Greater(t, tm.Version, v)
	v = tm.Version

	tm = tm.AddTime(time.Second)
	require.Greater(t, tm.Version, v)
}

func TestShareWithDoesNotMutateReceiver(t *testing.T) {
	now := time.Now()
	tm := New("t1", "alice", "tea", time.Minute, now).ShareWith("bob")
	shared := tm.ShareWith("carol")

	require.Equal(t, []string{"alice", "bob"}, tm.SharedWith)
	require.Equal(t, []string{"alice", "bob", "carol"}, shared.SharedWith)
}

func TestNormalizeSet(t *testing.T) {
	require.Nil(t, NormalizeSet(nil))
	require.Nil(t, NormalizeSet([]string{"", ""}))
	require.Equal(t, []string{"a", "b"}, NormalizeSet([]string{"b", "a", "b", ""}))
}
