package reconcile

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/observability"
	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// Reasons tagged onto outbound updateTimer messages.
const (
	ReasonCreated   = "created"
	ReasonUpdated   = "updated"
	ReasonConnected = "connected"
)

// Sender pushes one message toward the remote coordinator. Delivery is
// fire-and-forget: an error means the message was not sent and will not be
// retried here; convergence relies on the full resync after reconnect.
type Sender interface {
	Send(msg wire.Message) error
}

// Engine keeps the local store and the remote coordinator converging. It
// memorizes the last snapshot it synchronized of each side, diffs every new
// snapshot against the memo of that same side, and applies the resulting
// operations to the opposite side.
//
// All state is owned by the Run goroutine; public methods only enqueue
// events, which serializes every diff pass and keeps the two directions from
// interleaving against the same memo.
type Engine struct {
	store  store.Store
	sender Sender
	events chan event

	// Memorized per-side snapshots, keyed by timer id. Touched only from
	// the Run goroutine.
	lastLocal  map[string]timer.TimerState
	lastRemote map[string]timer.TimerState
}

type eventKind int

const (
	evLocalSnapshot eventKind = iota
	evRemoteList
	evRemoteUpdate
	evRemoteStop
	evConnected
)

type event struct {
	kind     eventKind
	snapshot store.Snapshot
	timers   []timer.TimerState
	update   wire.UpdateTimer
	stopID   string
}

// NewEngine creates an engine bridging the given store and sender.
func NewEngine(st store.Store, sender Sender) *Engine {
	return &Engine{
		store:      st,
		sender:     sender,
		events:     make(chan event, 64),
		lastLocal:  make(map[string]timer.TimerState),
		lastRemote: make(map[string]timer.TimerState),
	}
}

// Run processes events until ctx is cancelled. It is the single execution
// context for all reconciliation work.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Msg("reconciliation engine started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciliation engine stopped")
			return
		case ev := <-e.events:
			e.process(ctx, ev)
		}
	}
}

// OnLocalSnapshot enqueues a local-store snapshot for diffing. Wire it as
// the store's subscription listener.
func (e *Engine) OnLocalSnapshot(snap store.Snapshot) {
	e.events <- event{kind: evLocalSnapshot, snapshot: snap}
}

// OnConnected enqueues the initial outbound sync after a handshake.
func (e *Engine) OnConnected() {
	e.events <- event{kind: evConnected}
}

// HandleMessage enqueues one decoded inbound frame. Unknown message types
// are logged and dropped.
func (e *Engine) HandleMessage(msg wire.Message) {
	switch m := msg.(type) {
	case wire.ActiveTimerList:
		e.events <- event{kind: evRemoteList, timers: m.Timers}
	case wire.UpdateTimer:
		e.events <- event{kind: evRemoteUpdate, update: m}
	case wire.StopTimer:
		e.events <- event{kind: evRemoteStop, stopID: m.TimerID}
	default:
		observability.RecordDroppedFrame()
		log.Warn().Type("message", msg).Msg("dropping unhandled message")
	}
}

func (e *Engine) process(ctx context.Context, ev event) {
	switch ev.kind {
	case evLocalSnapshot:
		e.handleLocalSnapshot(ev.snapshot)
	case evRemoteList:
		e.handleRemoteList(ctx, ev.timers)
	case evRemoteUpdate:
		e.handleRemoteUpdate(ctx, ev.update.Timer)
	case evRemoteStop:
		e.handleRemoteStop(ctx, ev.stopID)
	case evConnected:
		e.handleConnected(ctx)
	}
}

// handleLocalSnapshot is the local→remote diff pass.
func (e *Engine) handleLocalSnapshot(snap store.Snapshot) {
	ops := Diff(memoSnapshot(e.lastLocal), snap)
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			e.push(wire.UpdateTimer{Reason: ReasonCreated, ShareWith: op.Timer.SharedWith, Timer: op.Timer})
		case OpUpdate:
			e.push(wire.UpdateTimer{Reason: ReasonUpdated, ShareWith: op.Timer.SharedWith, Timer: op.Timer})
		case OpRemove:
			e.push(wire.StopTimer{ShareWith: op.Timer.SharedWith, TimerID: op.Timer.ID})
		}
		observability.RecordReconcileOp("local_to_remote", string(op.Kind))
	}

	// Memorize side A's snapshot so an unchanged snapshot diffs to nothing.
	e.lastLocal = snap.ByID()
}

// handleRemoteList is the remote→local diff pass against a full snapshot.
func (e *Engine) handleRemoteList(ctx context.Context, timers []timer.TimerState) {
	newRemote := store.Snapshot(timers)
	ops := Diff(memoSnapshot(e.lastRemote), newRemote)
	for _, op := range ops {
		switch op.Kind {
		case OpInsert, OpUpdate:
			e.applyRemoteUpsert(ctx, op.Timer)
		case OpRemove:
			e.applyRemoteRemove(ctx, op.Timer.ID)
		}
		observability.RecordReconcileOp("remote_to_local", string(op.Kind))
	}
	e.lastRemote = newRemote.ByID()
}

// handleRemoteUpdate applies a single inbound updateTimer.
func (e *Engine) handleRemoteUpdate(ctx context.Context, t timer.TimerState) {
	e.applyRemoteUpsert(ctx, t)
	e.lastRemote[t.ID] = t
	observability.RecordReconcileOp("remote_to_local", string(OpUpdate))
}

// handleRemoteStop applies a single inbound stopTimer.
func (e *Engine) handleRemoteStop(ctx context.Context, id string) {
	e.applyRemoteRemove(ctx, id)
	delete(e.lastRemote, id)
	observability.RecordReconcileOp("remote_to_local", string(OpRemove))
}

// handleConnected emits the locally-known timers as the initial outbound
// sync and memorizes them, so the snapshot notification the coordinator's
// reply may trigger does not re-send them.
func (e *Engine) handleConnected(ctx context.Context) {
	snap, err := e.store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("initial sync: list local timers")
		return
	}
	for _, t := range snap {
		e.push(wire.UpdateTimer{Reason: ReasonConnected, ShareWith: t.SharedWith, Timer: t})
	}
	e.lastLocal = snap.ByID()
}

// applyRemoteUpsert writes one remote timer into the local store. The local
// memo is updated in the same pass, so the store-changed notification this
// write triggers diffs as a no-op instead of echoing back to the remote.
func (e *Engine) applyRemoteUpsert(ctx context.Context, t timer.TimerState) {
	if local, err := e.store.Get(ctx, t.ID); err == nil && local.Version > t.Version {
		// Stale remote write lost the race. Reassert our newer state so
		// both sides settle on it (last writer wins, deterministically,
		// thanks to the version counter).
		log.Debug().
			Str("timer_id", t.ID).
			Int64("local_version", local.Version).
			Int64("remote_version", t.Version).
			Msg("skipping stale remote update")
		e.push(wire.UpdateTimer{Reason: ReasonUpdated, ShareWith: local.SharedWith, Timer: local})
		return
	}

	err := e.store.Insert(ctx, t)
	if errors.Is(err, store.ErrExists) {
		err = e.store.Update(ctx, t)
	}
	if err != nil {
		log.Error().Err(err).Str("timer_id", t.ID).Msg("apply remote update to store")
		return
	}
	e.lastLocal[t.ID] = t
}

// applyRemoteRemove deletes one timer locally. Deleting a timer the store
// no longer has is fine, stop messages are idempotent.
func (e *Engine) applyRemoteRemove(ctx context.Context, id string) {
	err := e.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("timer_id", id).Msg("apply remote remove to store")
		return
	}
	delete(e.lastLocal, id)
}

// push sends one message, fire-and-forget. A down connection is not an
// error here: the post-reconnect resync re-establishes convergence.
func (e *Engine) push(msg wire.Message) {
	if err := e.sender.Send(msg); err != nil {
		log.Debug().Err(err).Msg("message not delivered")
	}
}

// memoSnapshot rebuilds an ordered snapshot from a memo map for diffing.
func memoSnapshot(memo map[string]timer.TimerState) store.Snapshot {
	snap := make(store.Snapshot, 0, len(memo))
	for _, t := range memo {
		snap = append(snap, t)
	}
	slices.SortFunc(snap, func(a, b timer.TimerState) int {
		return strings.Compare(a.ID, b.ID)
	})
	return snap
}
