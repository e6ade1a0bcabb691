package timer

import (
	"errors"
	"time"
)

// InvitationStatus tracks where an invitation is in its lifecycle.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationRejected InvitationStatus = "REJECTED"
)

// ErrInvitationDecided is returned when accepting or rejecting an invitation
// that already left the pending state. Both terminal states are final.
var ErrInvitationDecided = errors.New("invitation already decided")

// Invitation is a pending offer to join a timer's sharing set. It carries a
// snapshot of the timer taken at invite time, not a live view; the full
// TimerState is materialized only on accept.
type Invitation struct {
	TimerID           string
	Name              string
	OwnerID           string
	TotalDuration     time.Duration
	RemainingDuration time.Duration
	Status            InvitationStatus
	InvitedBy         string
	CreatedAt         time.Time
}

// Accept moves a pending invitation to accepted.
func (i Invitation) Accept() (Invitation, error) {
	if i.Status != InvitationPending {
		return i, ErrInvitationDecided
	}
	i.Status = InvitationAccepted
	return i, nil
}

// Reject moves a pending invitation to rejected.
func (i Invitation) Reject() (Invitation, error) {
	if i.Status != InvitationPending {
		return i, ErrInvitationDecided
	}
	i.Status = InvitationRejected
	return i, nil
}

// Materialize builds the full TimerState an accepting user stores locally.
// The invite snapshot does not carry the complete sharing set, so the set is
// reconstructed as {owner, accepting user}; reconciliation fills in the rest
// once the timer participates in a sync pass. The timer resumes paused at the
// snapshotted remainder, the next sync replaces it with live state.
func (i Invitation) Materialize(acceptingUserID string) TimerState {
	t := TimerState{
		ID:            i.TimerID,
		OwnerID:       i.OwnerID,
		Name:          i.Name,
		TotalDuration: i.TotalDuration,
		Run:           Paused(i.RemainingDuration),
		SharedBy:      i.InvitedBy,
		Version:       1,
	}
	t.SharedWith = addToSet(t.SharedWith, i.OwnerID)
	t.SharedWith = addToSet(t.SharedWith, acceptingUserID)
	return t
}
