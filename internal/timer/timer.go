package timer

import (
	"slices"
	"time"
)

// TimerState is an immutable snapshot of a shared timer. Mutating operations
// return a new value; nothing here touches the wall clock, callers pass `now`
// explicitly.
type TimerState struct {
	ID            string
	OwnerID       string
	Name          string
	TotalDuration time.Duration
	Run           RunState
	SharedWith    []string // sorted, deduplicated user ids
	Tags          []string // sorted, deduplicated labels
	SharedBy      string   // user that invited us, empty for own timers

	// Version increases on every mutation and makes last-writer-wins
	// well-defined when two devices edit the same timer while offline.
	Version int64
}

// RunState is the tagged union over the two run modes. Exactly one of the
// running deadline or the paused remainder is meaningful at any time.
type RunState struct {
	running   bool
	end       time.Time
	remaining time.Duration
}

// Running returns a RunState that reaches zero at end.
func Running(end time.Time) RunState {
	return RunState{running: true, end: end}
}

// Paused returns a RunState frozen with the given remainder.
func Paused(remaining time.Duration) RunState {
	return RunState{remaining: remaining}
}

// IsRunning reports whether the timer is counting down.
func (r RunState) IsRunning() bool { return r.running }

// End returns the deadline and whether the state is running.
func (r RunState) End() (time.Time, bool) { return r.end, r.running }

// PausedRemaining returns the frozen remainder and whether the state is paused.
func (r RunState) PausedRemaining() (time.Duration, bool) {
	return r.remaining, !r.running
}

// Equal reports deep equality of two run states.
func (r RunState) Equal(o RunState) bool {
	if r.running != o.running {
		return false
	}
	if r.running {
		return r.end.Equal(o.end)
	}
	return r.remaining == o.remaining
}

// New creates a running timer owned by ownerID that reaches zero at
// now+total.
func New(id, ownerID, name string, total time.Duration, now time.Time) TimerState {
	return TimerState{
		ID:            id,
		OwnerID:       ownerID,
		Name:          name,
		TotalDuration: total,
		Run:           Running(now.Add(total)),
		Version:       1,
	}
}

// Remaining returns the time left on the timer. Running timers may return a
// negative value, which signals overrun (the alarm is sounding).
func (t TimerState) Remaining(now time.Time) time.Duration {
	if end, ok := t.Run.End(); ok {
		return end.Sub(now)
	}
	rem, _ := t.Run.PausedRemaining()
	return rem
}

// Pause freezes a running timer, snapshotting the remainder at now. Pausing
// an already paused timer is a no-op.
func (t TimerState) Pause(now time.Time) TimerState {
	end, ok := t.Run.End()
	if !ok {
		return t
	}
	t.Run = Paused(end.Sub(now))
	t.Version++
	return t
}

// Unpause resumes a paused timer so it reaches zero at now+remainder.
// Unpausing a running timer is a no-op.
func (t TimerState) Unpause(now time.Time) TimerState {
	rem, ok := t.Run.PausedRemaining()
	if !ok {
		return t
	}
	t.Run = Running(now.Add(rem))
	t.Version++
	return t
}

// AddTime extends the timer by d: the total grows by d and whichever of the
// deadline or the paused remainder is active moves by d as well, so the
// observed remaining time grows by exactly d in either run state.
func (t TimerState) AddTime(d time.Duration) TimerState {
	t.TotalDuration += d
	if end, ok := t.Run.End(); ok {
		t.Run = Running(end.Add(d))
	} else {
		rem, _ := t.Run.PausedRemaining()
		t.Run = Paused(rem + d)
	}
	t.Version++
	return t
}

// ShareWith adds userID to the sharing set. The owner always joins the set
// with the first share so every member sees the full participant list.
func (t TimerState) ShareWith(userID string) TimerState {
	t.SharedWith = addToSet(t.SharedWith, t.OwnerID)
	t.SharedWith = addToSet(t.SharedWith, userID)
	t.Version++
	return t
}

// Unshare removes userID from the sharing set.
func (t TimerState) Unshare(userID string) TimerState {
	t.SharedWith = removeFromSet(t.SharedWith, userID)
	t.Version++
	return t
}

// WithName returns a copy with the display label replaced.
func (t TimerState) WithName(name string) TimerState {
	t.Name = name
	t.Version++
	return t
}

// Tag adds a free-form label, independent of sharing.
func (t TimerState) Tag(label string) TimerState {
	t.Tags = addToSet(t.Tags, label)
	t.Version++
	return t
}

// Untag removes a label.
func (t TimerState) Untag(label string) TimerState {
	t.Tags = removeFromSet(t.Tags, label)
	t.Version++
	return t
}

// Equal reports deep field equality, the "unchanged" predicate the
// reconciliation diff uses. Version participates so a bumped-but-otherwise
// identical timer still counts as changed.
func (t TimerState) Equal(o TimerState) bool {
	return t.ID == o.ID &&
		t.OwnerID == o.OwnerID &&
		t.Name == o.Name &&
		t.TotalDuration == o.TotalDuration &&
		t.Run.Equal(o.Run) &&
		t.SharedBy == o.SharedBy &&
		t.Version == o.Version &&
		slices.Equal(t.SharedWith, o.SharedWith) &&
		slices.Equal(t.Tags, o.Tags)
}

// addToSet inserts v keeping the slice sorted and duplicate-free. The
// original slice is never mutated, copies keep TimerState values independent.
func addToSet(set []string, v string) []string {
	if v == "" {
		return set
	}
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set[:i]...)
	out = append(out, v)
	out = append(out, set[i:]...)
	return out
}

func removeFromSet(set []string, v string) []string {
	i, found := slices.BinarySearch(set, v)
	if !found {
		return set
	}
	out := make([]string, 0, len(set)-1)
	out = append(out, set[:i]...)
	out = append(out, set[i+1:]...)
	return out
}

// NormalizeSet sorts and deduplicates a user id or tag list coming from
// storage or the wire so set equality stays positional.
func NormalizeSet(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	out := slices.Clone(vals)
	slices.Sort(out)
	out = slices.Compact(out)
	// Drop empty entries that delimited-string storage can produce.
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
