package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hourglass-app/hourglass/internal/timer"
)

func TestDecodeActiveTimerList(t *testing.T) {
	frame := []byte(`{
		"action": "sendmessage",
		"data": {
			"type": "activeTimerList",
			"timerList": [
				{"id":"t1","userId":"alice","name":"tea","totalDuration":"PT5M","remainingDuration":"PT3M","timerEnd":null,"sharedWith":["alice","bob"]},
				{"id":"t2","userId":"alice","name":"oven","totalDuration":"PT1H","remainingDuration":null,"timerEnd":"2024-03-01T12:00:00Z","sharedWith":[]}
			]
		}
	}`)

	msg, err := Decode(frame)
	require.NoError(t, err)
	list, ok := msg.(ActiveTimerList)
	require.True(t, ok)
	require.Len(t, list.Timers, 2)

	paused := list.Timers[0]
	rem, isPaused := paused.Run.PausedRemaining()
	require.True(t, isPaused)
	require.Equal(t, 3*time.Minute, rem)
	require.Equal(t, []string{"alice", "bob"}, paused.SharedWith)

	running := list.Timers[1]
	end, isRunning := running.Run.End()
	require.True(t, isRunning)
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), end.UTC())
}

func TestDecodeRejectsBothRunStateFields(t *testing.T) {
	frame := []byte(`{"action":"sendmessage","data":{
		"type":"updateTimer","reason":"updated","shareWith":[],
		"timer":{"id":"t1","userId":"a","name":"x","totalDuration":"PT1M","remainingDuration":"PT1M","timerEnd":"2024-03-01T12:00:00Z","sharedWith":[]}
	}}`)
	_, err := Decode(frame)
	require.Error(t, err)

	frame = []byte(`{"action":"sendmessage","data":{
		"type":"updateTimer","reason":"updated","shareWith":[],
		"timer":{"id":"t1","userId":"a","name":"x","totalDuration":"PT1M","remainingDuration":null,"timerEnd":null,"sharedWith":[]}
	}}`)
	_, err = Decode(frame)
	require.Error(t, err)
}

func TestDecodeUnknownTypeIsDistinguishable(t *testing.T) {
	_, err := Decode([]byte(`{"action":"sendmessage","data":{"type":"fancyNewThing"}}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := Decode([]byte(`{`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"action":"sendmessage","data":{"timerId":"t1"}}`))
	require.Error(t, err)
}

func TestEncodeDecodeUpdateTimer(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := timer.New("t1", "alice", "tea", 5*time.Minute, now).ShareWith("bob").Pause(now)

	frame, err := Encode(UpdateTimer{Reason: "updated", ShareWith: orig.SharedWith, Timer: orig})
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	upd, ok := msg.(UpdateTimer)
	require.True(t, ok)
	require.Equal(t, "updated", upd.Reason)
	require.True(t, orig.Equal(upd.Timer))
}

func TestEncodeDecodeStopTimer(t *testing.T) {
	frame, err := Encode(StopTimer{ShareWith: []string{"alice"}, TimerID: "t1"})
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	stop, ok := msg.(StopTimer)
	require.True(t, ok)
	require.Equal(t, "t1", stop.TimerID)
}

func TestInvitationListRoundTrip(t *testing.T) {
	invs := []timer.Invitation{{
		TimerID:           "t1",
		Name:              "tea",
		OwnerID:           "alice",
		TotalDuration:     5 * time.Minute,
		RemainingDuration: 3 * time.Minute,
		Status:            timer.InvitationPending,
		InvitedBy:         "alice",
		CreatedAt:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	data, err := EncodeInvitationList(invs)
	require.NoError(t, err)

	got, err := DecodeInvitationList(data)
	require.NoError(t, err)
	require.Equal(t, invs, got)
}
