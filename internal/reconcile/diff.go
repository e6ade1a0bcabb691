package reconcile

import (
	"slices"
	"strings"

	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
)

// OpKind classifies one detected change between two snapshots.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpRemove OpKind = "remove"
	OpUpdate OpKind = "update"
)

// Op is one change detected by Diff. Insert and Update carry the new timer
// value; Remove carries the last value seen before it disappeared.
type Op struct {
	Kind  OpKind
	Timer timer.TimerState
}

// Diff computes the map-keyed difference between two snapshots of the same
// side: added ids become inserts, missing ids removes, ids present in both
// with unequal values updates. Output is ordered by id within each kind
// (inserts, updates, removes) so passes are deterministic. Diffing a
// snapshot against itself yields nothing.
func Diff(old, new store.Snapshot) []Op {
	oldByID := old.ByID()
	newByID := new.ByID()

	var ops []Op
	for _, t := range new {
		prev, ok := oldByID[t.ID]
		if !ok {
			ops = append(ops, Op{Kind: OpInsert, Timer: t})
		} else if !prev.Equal(t) {
			ops = append(ops, Op{Kind: OpUpdate, Timer: t})
		}
	}
	for _, t := range old {
		if _, ok := newByID[t.ID]; !ok {
			ops = append(ops, Op{Kind: OpRemove, Timer: t})
		}
	}

	slices.SortStableFunc(ops, func(a, b Op) int {
		if a.Kind != b.Kind {
			return kindRank(a.Kind) - kindRank(b.Kind)
		}
		return strings.Compare(a.Timer.ID, b.Timer.ID)
	})
	return ops
}

func kindRank(k OpKind) int {
	switch k {
	case OpInsert:
		return 0
	case OpUpdate:
		return 1
	default:
		return 2
	}
}
