package share

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/observability"
	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
)

// Connector triggers the persistent channel. The connection manager
// implements it; Connect is idempotent there, so the responder can call it
// unconditionally after an accept.
type Connector interface {
	Connect(ctx context.Context)
}

// Remote is the slice of Client the responder needs: decline notifications
// and the pending-invitation listing.
type Remote interface {
	Reject(ctx context.Context, timerID string) error
	ListInvitations(ctx context.Context) ([]timer.Invitation, error)
}

// Responder applies the invitee's decision on an invitation: accept
// materializes a timer locally and brings the sync channel up, reject
// notifies the coordinator and discards the invitation.
type Responder struct {
	timers      store.Store
	invitations store.InvitationStore
	remote      Remote
	conn        Connector
	userID      string
}

// NewResponder wires a responder for the given local user.
func NewResponder(timers store.Store, invitations store.InvitationStore, remote Remote, conn Connector, userID string) *Responder {
	return &Responder{
		timers:      timers,
		invitations: invitations,
		remote:      remote,
		conn:        conn,
		userID:      userID,
	}
}

// Accept takes the pending invitation for timerID, materializes the full
// timer into the local store and connects so the timer joins live
// reconciliation. The invitation record is kept in its terminal state.
func (r *Responder) Accept(ctx context.Context, timerID string) (timer.TimerState, error) {
	inv, err := r.invitations.GetInvitation(ctx, timerID)
	if err != nil {
		return timer.TimerState{}, fmt.Errorf("load invitation: %w", err)
	}
	accepted, err := inv.Accept()
	if err != nil {
		return timer.TimerState{}, err
	}

	t := accepted.Materialize(r.userID)
	if err := r.timers.Insert(ctx, t); err != nil {
		if !errors.Is(err, store.ErrExists) {
			return timer.TimerState{}, fmt.Errorf("store timer: %w", err)
		}
		// Already present from an earlier sync pass; the live state wins.
		if t, err = r.timers.Get(ctx, timerID); err != nil {
			return timer.TimerState{}, fmt.Errorf("load existing timer: %w", err)
		}
	}
	if err := r.invitations.SaveInvitation(ctx, accepted); err != nil {
		return timer.TimerState{}, fmt.Errorf("save invitation: %w", err)
	}

	observability.RecordInvitation("accepted")
	log.Info().Str("timer_id", timerID).Str("owner", inv.OwnerID).Msg("invitation accepted")
	r.conn.Connect(ctx)
	return t, nil
}

// Reject declines the pending invitation for timerID: the coordinator is
// notified and the invitation is discarded locally. No timer is created.
func (r *Responder) Reject(ctx context.Context, timerID string) error {
	inv, err := r.invitations.GetInvitation(ctx, timerID)
	if err != nil {
		return fmt.Errorf("load invitation: %w", err)
	}
	if _, err := inv.Reject(); err != nil {
		return err
	}

	if err := r.remote.Reject(ctx, timerID); err != nil {
		// Duplicate rejects are idempotent on the coordinator, so the local
		// discard proceeds and a retry of the notification is harmless.
		log.Warn().Err(err).Str("timer_id", timerID).Msg("reject notification failed")
	}
	if err := r.invitations.DeleteInvitation(ctx, timerID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("discard invitation: %w", err)
	}

	observability.RecordInvitation("rejected")
	log.Info().Str("timer_id", timerID).Msg("invitation rejected")
	return nil
}

// Refresh pulls the pending invitations the coordinator holds for this user
// into the local invitation store. Already-decided invitations are left
// untouched.
func (r *Responder) Refresh(ctx context.Context) error {
	invs, err := r.remote.ListInvitations(ctx)
	if err != nil {
		return err
	}
	for _, inv := range invs {
		if inv.Status != timer.InvitationPending {
			continue
		}
		if _, err := r.invitations.GetInvitation(ctx, inv.TimerID); err == nil {
			continue
		}
		if err := r.invitations.SaveInvitation(ctx, inv); err != nil {
			return fmt.Errorf("save invitation %q: %w", inv.TimerID, err)
		}
	}
	return nil
}
