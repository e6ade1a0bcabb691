// Package agent is the device-side composition root: it owns the local
// store, the reconciliation engine, the connection manager and the sharing
// client, and exposes the timer operations a UI layer calls.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/conn"
	"github.com/hourglass-app/hourglass/internal/creds"
	"github.com/hourglass-app/hourglass/internal/reconcile"
	"github.com/hourglass-app/hourglass/internal/share"
	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// Config holds everything the agent needs to reach its coordinator.
type Config struct {
	UserID     string
	SocketURL  string
	APIBaseURL string
	Connection conn.Config
	HTTPClient *http.Client
}

// Service ties the device-side components together. One Service per user
// session.
type Service struct {
	userID      string
	timers      store.Store
	invitations store.InvitationStore
	engine      *reconcile.Engine
	manager     *conn.Manager
	client      *share.Client
	responder   *share.Responder
	clock       clockwork.Clock

	sub    store.Subscription
	cancel context.CancelFunc
}

// lazySender breaks the engine/manager construction cycle: the engine needs
// a sender before the manager exists, and the manager needs the engine as
// its frame handler.
type lazySender struct {
	m *conn.Manager
}

func (s *lazySender) Send(msg wire.Message) error {
	if s.m == nil {
		return conn.ErrNotConnected
	}
	return s.m.Send(msg)
}

// New wires a device agent. Pass nil for clock to use the wall clock.
func New(cfg Config, timers store.Store, invitations store.InvitationStore, source creds.Source, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	connCfg := cfg.Connection
	if connCfg.URL == "" {
		connCfg = conn.DefaultConfig(cfg.SocketURL)
	}

	sender := &lazySender{}
	engine := reconcile.NewEngine(timers, sender)
	manager := conn.NewManager(connCfg, nil, source, engine, clock)
	sender.m = manager

	client := share.NewClient(cfg.APIBaseURL, cfg.HTTPClient, source)
	responder := share.NewResponder(timers, invitations, client, manager, cfg.UserID)

	return &Service{
		userID:      cfg.UserID,
		timers:      timers,
		invitations: invitations,
		engine:      engine,
		manager:     manager,
		client:      client,
		responder:   responder,
		clock:       clock,
	}
}

// Start runs the reconciliation engine, subscribes it to the local store and
// brings the sync channel up. A stopped service can be started again.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.engine.Run(runCtx)
	s.sub = s.timers.Subscribe(s.engine.OnLocalSnapshot)
	s.manager.Connect(runCtx)
	log.Info().Str("user_id", s.userID).Msg("agent started")
}

// Stop detaches from the store, stops the engine and tears the connection
// down.
func (s *Service) Stop() {
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	s.manager.Close()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	log.Info().Str("user_id", s.userID).Msg("agent stopped")
}

// ConnectionState reports the sync channel's lifecycle state.
func (s *Service) ConnectionState() conn.State {
	return s.manager.State()
}

// Timers lists the local timers.
func (s *Service) Timers(ctx context.Context) (store.Snapshot, error) {
	return s.timers.List(ctx)
}

// Invitations lists the locally-known invitations.
func (s *Service) Invitations(ctx context.Context) ([]timer.Invitation, error) {
	return s.invitations.ListInvitations(ctx)
}

// CreateTimer starts a new running timer owned by this user.
func (s *Service) CreateTimer(ctx context.Context, name string, d time.Duration) (timer.TimerState, error) {
	t := timer.New(uuid.New().String(), s.userID, name, d, s.clock.Now())
	if err := s.timers.Insert(ctx, t); err != nil {
		return timer.TimerState{}, fmt.Errorf("create timer: %w", err)
	}
	return t, nil
}

// PauseTimer freezes a running timer at its current remainder.
func (s *Service) PauseTimer(ctx context.Context, id string) (timer.TimerState, error) {
	return s.mutate(ctx, id, func(t timer.TimerState) timer.TimerState {
		return t.Pause(s.clock.Now())
	})
}

// UnpauseTimer resumes a paused timer.
func (s *Service) UnpauseTimer(ctx context.Context, id string) (timer.TimerState, error) {
	return s.mutate(ctx, id, func(t timer.TimerState) timer.TimerState {
		return t.Unpause(s.clock.Now())
	})
}

// AddTime extends a timer in either run state.
func (s *Service) AddTime(ctx context.Context, id string, d time.Duration) (timer.TimerState, error) {
	return s.mutate(ctx, id, func(t timer.TimerState) timer.TimerState {
		return t.AddTime(d)
	})
}

// RenameTimer changes a timer's display name.
func (s *Service) RenameTimer(ctx context.Context, id, name string) (timer.TimerState, error) {
	return s.mutate(ctx, id, func(t timer.TimerState) timer.TimerState {
		return t.WithName(name)
	})
}

// UnshareTimer removes a user from the sharing set.
func (s *Service) UnshareTimer(ctx context.Context, id, userID string) (timer.TimerState, error) {
	return s.mutate(ctx, id, func(t timer.TimerState) timer.TimerState {
		return t.Unshare(userID)
	})
}

// TagTimer adds a tag to a timer.
func (s *Service) TagTimer(ctx context.Context, id, tag string) (timer.TimerState, error) {
	return s.mutate(ctx, id, func(t timer.TimerState) timer.TimerState {
		return t.Tag(tag)
	})
}

// UntagTimer removes a tag from a timer.
func (s *Service) UntagTimer(ctx context.Context, id, tag string) (timer.TimerState, error) {
	return s.mutate(ctx, id, func(t timer.TimerState) timer.TimerState {
		return t.Untag(tag)
	})
}

// StopTimer removes a timer locally; reconciliation propagates the stop.
func (s *Service) StopTimer(ctx context.Context, id string) error {
	return s.timers.Delete(ctx, id)
}

// ShareTimer adds the invitees to the sharing set and sends them
// invitations. The returned result carries the per-invitee outcome.
func (s *Service) ShareTimer(ctx context.Context, id string, userIDs []string) (share.InviteResult, error) {
	t, err := s.timers.Get(ctx, id)
	if err != nil {
		return share.InviteResult{}, err
	}
	for _, u := range userIDs {
		t = t.ShareWith(u)
	}
	if err := s.timers.Update(ctx, t); err != nil {
		return share.InviteResult{}, fmt.Errorf("share timer: %w", err)
	}
	return s.client.Invite(ctx, t, userIDs)
}

// AcceptInvitation materializes the invitation's timer locally and joins
// live reconciliation.
func (s *Service) AcceptInvitation(ctx context.Context, timerID string) (timer.TimerState, error) {
	return s.responder.Accept(ctx, timerID)
}

// RejectInvitation declines and discards the invitation.
func (s *Service) RejectInvitation(ctx context.Context, timerID string) error {
	return s.responder.Reject(ctx, timerID)
}

// RefreshInvitations pulls pending invitations from the coordinator.
func (s *Service) RefreshInvitations(ctx context.Context) error {
	return s.responder.Refresh(ctx)
}

// RegisterDeviceToken registers this device's push token with the
// coordinator.
func (s *Service) RegisterDeviceToken(ctx context.Context, token string) error {
	return s.client.RegisterDeviceToken(ctx, token)
}

// mutate loads a timer, applies fn and stores the result.
func (s *Service) mutate(ctx context.Context, id string, fn func(timer.TimerState) timer.TimerState) (timer.TimerState, error) {
	t, err := s.timers.Get(ctx, id)
	if err != nil {
		return timer.TimerState{}, err
	}
	next := fn(t)
	if next.Equal(t) {
		return t, nil
	}
	if err := s.timers.Update(ctx, next); err != nil {
		return timer.TimerState{}, fmt.Errorf("update timer: %w", err)
	}
	return next, nil
}
