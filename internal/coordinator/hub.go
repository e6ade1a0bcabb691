// Package coordinator is the server side of the sync protocol: it accepts
// device WebSockets, applies their updates to the authoritative store and
// fans the result out to every user in a timer's sharing set, across
// instances via JetStream.
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// TimerStore is what the hub needs from the authoritative store.
type TimerStore interface {
	ListForUser(ctx context.Context, userID string) (store.Snapshot, error)
	Get(ctx context.Context, id string) (timer.TimerState, error)
	Insert(ctx context.Context, t timer.TimerState) error
	Update(ctx context.Context, t timer.TimerState) error
	Delete(ctx context.Context, id string) error
}

// Publisher forwards a fan-out to the other coordinator instances.
type Publisher interface {
	Publish(ctx context.Context, users []string, frame []byte) error
}

// HubConfig holds WebSocket tunables for device sessions.
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultHubConfig returns the session defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

type broadcast struct {
	users []string
	frame []byte
}

// Hub owns the per-user session pools. One session per connected device;
// a user with three devices has three sessions in their pool.
type Hub struct {
	config   HubConfig
	store    TimerStore
	pub      Publisher
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[*session]bool // keyed by user id

	broadcastCh chan broadcast
	ctx         context.Context
}

// NewHub creates a hub over the authoritative store. pub may be nil when
// running a single instance.
func NewHub(config HubConfig, timers TimerStore, pub Publisher) *Hub {
	return &Hub{
		config:   config,
		store:    timers,
		pub:      pub,
		sessions: make(map[string]map[*session]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		broadcastCh: make(chan broadcast, 1000),
		ctx:         context.Background(),
	}
}

// Start processes fan-out broadcasts until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub shutting down")
			return
		case b := <-h.broadcastCh:
			h.handleBroadcast(b)
		}
	}
}

// Upgrade turns an authenticated HTTP request into a device session and
// replies with the user's full timer list as the initial sync.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID, deviceID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sess := &session{
		id:          uuid.New().String(),
		userID:      userID,
		deviceID:    deviceID,
		ws:          ws,
		send:        make(chan []byte, 256),
		hub:         h,
		connectedAt: time.Now(),
	}
	h.register(sess)

	go sess.writePump()
	go sess.readPump()

	log.Info().
		Str("session_id", sess.id).
		Str("user_id", userID).
		Str("device_id", deviceID).
		Msg("device session established")

	return h.sendTimerList(sess)
}

// sendTimerList pushes the user's current timers as one activeTimerList frame.
func (h *Hub) sendTimerList(sess *session) error {
	snap, err := h.store.ListForUser(h.ctx, sess.userID)
	if err != nil {
		return err
	}
	frame, err := wire.Encode(wire.ActiveTimerList{Timers: snap})
	if err != nil {
		return err
	}
	sess.enqueue(frame)
	return nil
}

func (h *Hub) register(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sess.userID] == nil {
		h.sessions[sess.userID] = make(map[*session]bool)
	}
	h.sessions[sess.userID][sess] = true
}

func (h *Hub) unregister(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pool, ok := h.sessions[sess.userID]
	if !ok {
		return
	}
	if _, ok := pool[sess]; !ok {
		return
	}
	delete(pool, sess)
	close(sess.send)
	if len(pool) == 0 {
		delete(h.sessions, sess.userID)
	}
	log.Info().
		Str("session_id", sess.id).
		Str("user_id", sess.userID).
		Msg("device session closed")
}

// Deliver queues one frame for every session of the given users. Used both
// for locally-originated fan-outs and for frames arriving from other
// instances via JetStream.
func (h *Hub) Deliver(users []string, frame []byte) {
	select {
	case h.broadcastCh <- broadcast{users: users, frame: frame}:
	default:
		log.Warn().Msg("broadcast channel full, dropping frame")
	}
}

func (h *Hub) handleBroadcast(b broadcast) {
	h.mu.RLock()
	var targets []*session
	for _, userID := range b.users {
		for sess := range h.sessions[userID] {
			targets = append(targets, sess)
		}
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		sess.enqueue(b.frame)
	}
}

// fanOut delivers a frame locally and forwards it to the other instances.
func (h *Hub) fanOut(ctx context.Context, users []string, msg wire.Message) {
	frame, err := wire.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msg("encode fan-out frame")
		return
	}
	h.Deliver(users, frame)
	if h.pub != nil {
		if err := h.pub.Publish(ctx, users, frame); err != nil {
			log.Error().Err(err).Msg("publish fan-out")
		}
	}
}

// handleInbound applies one device frame to the authoritative store.
func (h *Hub) handleInbound(ctx context.Context, sess *session, msg wire.Message) {
	switch m := msg.(type) {
	case wire.UpdateTimer:
		h.applyUpdate(ctx, sess, m)
	case wire.StopTimer:
		h.applyStop(ctx, sess, m)
	default:
		// Devices never send activeTimerList; drop anything unexpected.
		log.Warn().Str("type", wire.TypeOf(msg)).Str("session_id", sess.id).Msg("unexpected inbound frame")
	}
}

// applyUpdate upserts the timer unless the stored version is newer, in which
// case the stored state is pushed back to the sending device only.
func (h *Hub) applyUpdate(ctx context.Context, sess *session, m wire.UpdateTimer) {
	incoming := m.Timer
	existing, err := h.store.Get(ctx, incoming.ID)
	switch {
	case err == nil:
		if existing.Version > incoming.Version {
			log.Debug().
				Str("timer_id", incoming.ID).
				Int64("stored", existing.Version).
				Int64("incoming", incoming.Version).
				Msg("stale update, reasserting stored state")
			if frame, err := wire.Encode(wire.UpdateTimer{Reason: "updated", Timer: existing}); err == nil {
				sess.enqueue(frame)
			}
			return
		}
		if existing.Equal(incoming) {
			return
		}
		if err := h.store.Update(ctx, incoming); err != nil {
			log.Error().Err(err).Str("timer_id", incoming.ID).Msg("update timer")
			return
		}
	case errors.Is(err, store.ErrNotFound):
		if err := h.store.Insert(ctx, incoming); err != nil {
			log.Error().Err(err).Str("timer_id", incoming.ID).Msg("insert timer")
			return
		}
	default:
		log.Error().Err(err).Str("timer_id", incoming.ID).Msg("load timer")
		return
	}

	users := incoming.SharedWith
	if len(users) == 0 {
		users = []string{incoming.OwnerID}
	}
	h.fanOut(ctx, users, wire.UpdateTimer{Reason: m.Reason, ShareWith: users, Timer: incoming})
}

// applyStop deletes the timer and notifies its sharing set. Duplicate stops
// are idempotent.
func (h *Hub) applyStop(ctx context.Context, sess *session, m wire.StopTimer) {
	users := m.ShareWith
	if existing, err := h.store.Get(ctx, m.TimerID); err == nil {
		users = existing.SharedWith
		if len(users) == 0 {
			users = []string{existing.OwnerID}
		}
	}

	if err := h.store.Delete(ctx, m.TimerID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("timer_id", m.TimerID).Msg("delete timer")
		}
		return
	}
	if len(users) == 0 {
		users = []string{sess.userID}
	}
	h.fanOut(ctx, users, wire.StopTimer{ShareWith: users, TimerID: m.TimerID})
}

// Stats summarizes the live session pools.
func (h *Hub) Stats() (sessions int, users int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, pool := range h.sessions {
		sessions += len(pool)
	}
	return sessions, len(h.sessions)
}
