package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/creds"
	"github.com/hourglass-app/hourglass/internal/observability"
	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// ShareStore is what the sharing API needs from the authoritative store.
type ShareStore interface {
	Get(ctx context.Context, id string) (timer.TimerState, error)
	GetInvitation(ctx context.Context, timerID string) (timer.Invitation, error)
	SaveInvitation(ctx context.Context, inv timer.Invitation) error
	ListInvitationsForUser(ctx context.Context, userID string) ([]timer.Invitation, error)
	AddInvitationRecipient(ctx context.Context, timerID, userID string) error
	SaveDeviceToken(ctx context.Context, deviceID, userID, token string, now time.Time) error
}

// Pusher notifies an invited user out of band, through whatever push layer
// is wired in. Delivery failure makes that invitee part of the failed set.
type Pusher interface {
	Push(ctx context.Context, userID string, inv timer.Invitation) error
}

// LogPusher is the no-transport Pusher: it only logs. Useful in development
// and as the fallback when no push provider is configured.
type LogPusher struct{}

// Push logs the invitation instead of delivering it.
func (LogPusher) Push(ctx context.Context, userID string, inv timer.Invitation) error {
	log.Info().
		Str("user_id", userID).
		Str("timer_id", inv.TimerID).
		Str("invited_by", inv.InvitedBy).
		Msg("push suppressed, no provider configured")
	return nil
}

// ShareAPI serves the sharing endpoints: invite, list, reject and device
// token registration.
type ShareAPI struct {
	store    ShareStore
	pusher   Pusher
	verifier *Verifier
}

// NewShareAPI wires the sharing endpoints.
func NewShareAPI(st ShareStore, pusher Pusher, verifier *Verifier) *ShareAPI {
	if pusher == nil {
		pusher = LogPusher{}
	}
	return &ShareAPI{store: st, pusher: pusher, verifier: verifier}
}

// RegisterRoutes attaches the sharing endpoints to mux.
func (a *ShareAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/timers/share", a.handleInvite)
	mux.HandleFunc("/timers/shared", a.handleShared)
	mux.HandleFunc("/devices/token", a.handleDeviceToken)
}

func (a *ShareAPI) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, _, err := a.verifier.Authenticate(r)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, creds.ErrCredentialExpired) {
			log.Debug().Err(err).Msg("request authentication failed")
		}
		http.Error(w, "unauthorized", status)
		return "", false
	}
	return userID, true
}

type inviteRequest struct {
	TimerID   string          `json:"timerId"`
	UserIDs   []string        `json:"userIds"`
	TimerData json.RawMessage `json:"timerData,omitempty"`
}

type inviteResponse struct {
	Succeeded []string `json:"success"`
	Failed    []string `json:"failed"`
}

// handleInvite creates one pending invitation per invitee and pushes it to
// them. Failures are per-invitee: the response carries both lists and the
// status is 200 as long as the request itself was well-formed.
func (a *ShareAPI) handleInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if req.TimerID == "" || len(req.UserIDs) == 0 {
		http.Error(w, "timerId and userIds are required", http.StatusBadRequest)
		return
	}

	inv, err := a.buildInvitation(r.Context(), userID, req)
	if err != nil {
		log.Warn().Err(err).Str("timer_id", req.TimerID).Msg("invite rejected")
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	resp := inviteResponse{Succeeded: []string{}, Failed: []string{}}
	for _, invitee := range req.UserIDs {
		if err := a.inviteOne(r.Context(), inv, invitee); err != nil {
			log.Warn().Err(err).Str("timer_id", req.TimerID).Str("user_id", invitee).Msg("invite failed")
			observability.RecordInvitation("failed")
			resp.Failed = append(resp.Failed, invitee)
			continue
		}
		observability.RecordInvitation("sent")
		resp.Succeeded = append(resp.Succeeded, invitee)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// buildInvitation snapshots the timer being shared. The stored timer wins
// over the optional timerData payload; the payload covers timers the
// coordinator has not seen yet.
func (a *ShareAPI) buildInvitation(ctx context.Context, inviter string, req inviteRequest) (timer.Invitation, error) {
	t, err := a.store.Get(ctx, req.TimerID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) || len(req.TimerData) == 0 {
			return timer.Invitation{}, errors.New("unknown timer")
		}
		msg, decErr := wire.Decode(req.TimerData)
		if decErr != nil {
			return timer.Invitation{}, errors.New("unknown timer")
		}
		upd, ok := msg.(wire.UpdateTimer)
		if !ok || upd.Timer.ID != req.TimerID {
			return timer.Invitation{}, errors.New("unknown timer")
		}
		t = upd.Timer
	}

	remaining := t.Remaining(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	return timer.Invitation{
		TimerID:           t.ID,
		Name:              t.Name,
		OwnerID:           t.OwnerID,
		TotalDuration:     t.TotalDuration,
		RemainingDuration: remaining,
		Status:            timer.InvitationPending,
		InvitedBy:         inviter,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

func (a *ShareAPI) inviteOne(ctx context.Context, inv timer.Invitation, invitee string) error {
	if err := a.store.SaveInvitation(ctx, inv); err != nil {
		return err
	}
	if err := a.store.AddInvitationRecipient(ctx, inv.TimerID, invitee); err != nil {
		return err
	}
	return a.pusher.Push(ctx, invitee, inv)
}

// handleShared serves GET (pending invitations for the caller) and DELETE
// (reject by timerId, idempotent).
func (a *ShareAPI) handleShared(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		invs, err := a.store.ListInvitationsForUser(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("list invitations")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		body, err := wire.EncodeInvitationList(invs)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)

	case http.MethodDelete:
		timerID := r.URL.Query().Get("timerId")
		if timerID == "" {
			http.Error(w, "timerId is required", http.StatusBadRequest)
			return
		}
		a.rejectInvitation(r.Context(), w, timerID, userID)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// rejectInvitation marks the invitation rejected. Duplicate rejects answer
// 200 without touching anything.
func (a *ShareAPI) rejectInvitation(ctx context.Context, w http.ResponseWriter, timerID, userID string) {
	inv, err := a.store.GetInvitation(ctx, timerID)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	rejected, err := inv.Reject()
	if errors.Is(err, timer.ErrInvitationDecided) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := a.store.SaveInvitation(ctx, rejected); err != nil {
		log.Error().Err(err).Str("timer_id", timerID).Msg("save rejected invitation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	observability.RecordInvitation("rejected")
	log.Info().Str("timer_id", timerID).Str("user_id", userID).Msg("invitation rejected")
	w.WriteHeader(http.StatusOK)
}

type deviceTokenRequest struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

func (a *ShareAPI) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	var req deviceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.Token == "" {
		http.Error(w, "deviceId and token are required", http.StatusBadRequest)
		return
	}
	if err := a.store.SaveDeviceToken(r.Context(), req.DeviceID, userID, req.Token, time.Now()); err != nil {
		log.Error().Err(err).Str("device_id", req.DeviceID).Msg("save device token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
