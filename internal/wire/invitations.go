package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hourglass-app/hourglass/internal/timer"
)

// invitationJSON is the request/response shape of a shared-timer invitation,
// used by the GET /timers/shared listing.
type invitationJSON struct {
	TimerID           string    `json:"timerId"`
	Name              string    `json:"name"`
	UserID            string    `json:"userId"` // owner
	TotalDuration     *string   `json:"totalDuration"`
	RemainingDuration *string   `json:"remainingDuration"`
	Status            string    `json:"status"`
	SharedBy          string    `json:"sharedBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

// EncodeInvitationList renders invitations for the shared-timers listing.
func EncodeInvitationList(invs []timer.Invitation) ([]byte, error) {
	out := make([]invitationJSON, 0, len(invs))
	for _, inv := range invs {
		total := FormatISODuration(inv.TotalDuration)
		rem := FormatISODuration(inv.RemainingDuration)
		out = append(out, invitationJSON{
			TimerID:           inv.TimerID,
			Name:              inv.Name,
			UserID:            inv.OwnerID,
			TotalDuration:     &total,
			RemainingDuration: &rem,
			Status:            string(inv.Status),
			SharedBy:          inv.InvitedBy,
			CreatedAt:         inv.CreatedAt.UTC(),
		})
	}
	return json.Marshal(out)
}

// DecodeInvitationList parses the shared-timers listing.
func DecodeInvitationList(data []byte) ([]timer.Invitation, error) {
	var raw []invitationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal invitation list: %w", err)
	}
	out := make([]timer.Invitation, 0, len(raw))
	for _, ij := range raw {
		inv := timer.Invitation{
			TimerID:   ij.TimerID,
			Name:      ij.Name,
			OwnerID:   ij.UserID,
			Status:    timer.InvitationStatus(ij.Status),
			InvitedBy: ij.SharedBy,
			CreatedAt: ij.CreatedAt,
		}
		if inv.Status == "" {
			inv.Status = timer.InvitationPending
		}
		if ij.TotalDuration != nil {
			d, err := ParseISODuration(*ij.TotalDuration)
			if err != nil {
				return nil, fmt.Errorf("invitation %q totalDuration: %w", ij.TimerID, err)
			}
			inv.TotalDuration = d
		}
		if ij.RemainingDuration != nil {
			d, err := ParseISODuration(*ij.RemainingDuration)
			if err != nil {
				return nil, fmt.Errorf("invitation %q remainingDuration: %w", ij.TimerID, err)
			}
			inv.RemainingDuration = d
		}
		out = append(out, inv)
	}
	return out, nil
}
