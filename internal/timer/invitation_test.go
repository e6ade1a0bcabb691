package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pendingInvitation() Invitation {
	return Invitation{
		TimerID:           "t1",
		Name:              "tea",
		OwnerID:           "alice",
		TotalDuration:     5 * time.Minute,
		RemainingDuration: 3 * time.Minute,
		Status:            InvitationPending,
		InvitedBy:         "alice",
		CreatedAt:         time.Now(),
	}
}

func TestInvitationAccept(t *testing.T) {
	inv, err := pendingInvitation().Accept()
	require.NoError(t, err)
	require.Equal(t, InvitationAccepted, inv.Status)

	// Terminal: cannot flip to rejected afterwards.
	_, err = inv.Reject()
	require.ErrorIs(t, err, ErrInvitationDecided)
}

func TestInvitationReject(t *testing.T) {
	inv, err := pendingInvitation().Reject()
	require.NoError(t, err)
	require.Equal(t, InvitationRejected, inv.Status)

	_, err = inv.Accept()
	require.ErrorIs(t, err, ErrInvitationDecided)
}

func TestMaterializeReconstructsSharingSet(t *testing.T) {
	tm := pendingInvitation().Materialize("bob")

	require.Equal(t, "t1", tm.ID)
	require.Equal(t, "alice", tm.OwnerID)
	require.Equal(t, []string{"alice", "bob"}, tm.SharedWith)
	require.Equal(t, "alice", tm.SharedBy)

	// Resumes paused at the invite-time remainder.
	rem, ok := tm.Run.PausedRemaining()
	require.True(t, ok)
	require.Equal(t, 3*time.Minute, rem)
}
