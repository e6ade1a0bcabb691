package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hourglass-app/hourglass/internal/timer"
)

// Message type discriminants carried in the frame's "type" field.
const (
	TypeActiveTimerList = "activeTimerList"
	TypeUpdateTimer     = "updateTimer"
	TypeStopTimer       = "stopTimer"
)

// actionSendMessage is the only envelope action the channel uses.
const actionSendMessage = "sendmessage"

// ErrUnknownType marks a frame whose discriminant this build does not know.
// Callers log and drop these for forward compatibility.
var ErrUnknownType = errors.New("unknown message type")

// Message is the union of frames the persistent channel carries.
type Message interface {
	messageType() string
}

// ActiveTimerList is the full-snapshot frame the coordinator sends after a
// handshake. Inbound only on the device side.
type ActiveTimerList struct {
	Timers []timer.TimerState
}

// UpdateTimer creates or replaces one timer on the receiving side.
type UpdateTimer struct {
	Reason    string
	ShareWith []string
	Timer     timer.TimerState
}

// StopTimer removes one timer on the receiving side.
type StopTimer struct {
	ShareWith []string
	TimerID   string
}

func (ActiveTimerList) messageType() string { return TypeActiveTimerList }
func (UpdateTimer) messageType() string     { return TypeUpdateTimer }
func (StopTimer) messageType() string       { return TypeStopTimer }

// TypeOf returns the discriminant a message would carry on the wire.
func TypeOf(msg Message) string {
	if msg == nil {
		return ""
	}
	return msg.messageType()
}

type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type frameHeader struct {
	Type string `json:"type"`
}

type activeTimerListJSON struct {
	Type      string      `json:"type"`
	TimerList []timerJSON `json:"timerList"`
}

type updateTimerJSON struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	ShareWith []string  `json:"shareWith"`
	Timer     timerJSON `json:"timer"`
}

type stopTimerJSON struct {
	Type      string   `json:"type"`
	ShareWith []string `json:"shareWith"`
	TimerID   string   `json:"timerId"`
}

// timerJSON is the wire shape of a timer. Exactly one of remainingDuration
// and timerEnd is non-null, mirroring the run-state union. Durations are
// ISO-8601 strings, timestamps RFC 3339.
type timerJSON struct {
	ID                string   `json:"id"`
	UserID            string   `json:"userId"`
	Name              string   `json:"name"`
	TotalDuration     *string  `json:"totalDuration"`
	RemainingDuration *string  `json:"remainingDuration"`
	TimerEnd          *string  `json:"timerEnd"`
	SharedWith        []string `json:"sharedWith"`
	SharedBy          string   `json:"sharedBy,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Version           int64    `json:"version,omitempty"`
}

// Encode wraps msg in the sendmessage envelope, ready for the socket.
func Encode(msg Message) ([]byte, error) {
	var data any
	switch m := msg.(type) {
	case ActiveTimerList:
		list := make([]timerJSON, 0, len(m.Timers))
		for _, t := range m.Timers {
			list = append(list, timerToJSON(t))
		}
		data = activeTimerListJSON{Type: TypeActiveTimerList, TimerList: list}
	case UpdateTimer:
		data = updateTimerJSON{
			Type:      TypeUpdateTimer,
			Reason:    m.Reason,
			ShareWith: m.ShareWith,
			Timer:     timerToJSON(m.Timer),
		}
	case StopTimer:
		data = stopTimerJSON{Type: TypeStopTimer, ShareWith: m.ShareWith, TimerID: m.TimerID}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal message data: %w", err)
	}
	return json.Marshal(envelope{Action: actionSendMessage, Data: raw})
}

// Decode parses one inbound frame. Frames with an unknown discriminant
// return ErrUnknownType; anything structurally broken returns a plain error.
// Both leave connection state untouched at the caller.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	data := env.Data
	if len(data) == 0 {
		// Tolerate bare frames without the envelope, some peers send them.
		data = frame
	}

	var hdr frameHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("unmarshal frame header: %w", err)
	}

	switch hdr.Type {
	case TypeActiveTimerList:
		var body activeTimerListJSON
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", hdr.Type, err)
		}
		msg := ActiveTimerList{Timers: make([]timer.TimerState, 0, len(body.TimerList))}
		for _, tj := range body.TimerList {
			t, err := timerFromJSON(tj)
			if err != nil {
				return nil, fmt.Errorf("timer %q: %w", tj.ID, err)
			}
			msg.Timers = append(msg.Timers, t)
		}
		return msg, nil

	case TypeUpdateTimer:
		var body updateTimerJSON
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", hdr.Type, err)
		}
		t, err := timerFromJSON(body.Timer)
		if err != nil {
			return nil, fmt.Errorf("timer %q: %w", body.Timer.ID, err)
		}
		return UpdateTimer{
			Reason:    body.Reason,
			ShareWith: timer.NormalizeSet(body.ShareWith),
			Timer:     t,
		}, nil

	case TypeStopTimer:
		var body stopTimerJSON
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", hdr.Type, err)
		}
		if body.TimerID == "" {
			return nil, errors.New("stopTimer without timerId")
		}
		return StopTimer{ShareWith: timer.NormalizeSet(body.ShareWith), TimerID: body.TimerID}, nil

	case "":
		return nil, errors.New("frame without type discriminant")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, hdr.Type)
	}
}

func timerToJSON(t timer.TimerState) timerJSON {
	tj := timerJSON{
		ID:         t.ID,
		UserID:     t.OwnerID,
		Name:       t.Name,
		SharedWith: t.SharedWith,
		SharedBy:   t.SharedBy,
		Tags:       t.Tags,
		Version:    t.Version,
	}
	total := FormatISODuration(t.TotalDuration)
	tj.TotalDuration = &total

	if end, ok := t.Run.End(); ok {
		s := end.UTC().Format(time.RFC3339Nano)
		tj.TimerEnd = &s
	} else {
		rem, _ := t.Run.PausedRemaining()
		s := FormatISODuration(rem)
		tj.RemainingDuration = &s
	}
	return tj
}

func timerFromJSON(tj timerJSON) (timer.TimerState, error) {
	if tj.ID == "" {
		return timer.TimerState{}, errors.New("timer without id")
	}
	if (tj.TimerEnd == nil) == (tj.RemainingDuration == nil) {
		return timer.TimerState{}, errors.New("timer must carry exactly one of timerEnd and remainingDuration")
	}

	t := timer.TimerState{
		ID:         tj.ID,
		OwnerID:    tj.UserID,
		Name:       tj.Name,
		SharedWith: timer.NormalizeSet(tj.SharedWith),
		SharedBy:   tj.SharedBy,
		Tags:       timer.NormalizeSet(tj.Tags),
		Version:    tj.Version,
	}

	if tj.TotalDuration != nil {
		total, err := ParseISODuration(*tj.TotalDuration)
		if err != nil {
			return timer.TimerState{}, fmt.Errorf("totalDuration: %w", err)
		}
		t.TotalDuration = total
	}

	if tj.TimerEnd != nil {
		end, err := time.Parse(time.RFC3339Nano, *tj.TimerEnd)
		if err != nil {
			return timer.TimerState{}, fmt.Errorf("timerEnd: %w", err)
		}
		t.Run = timer.Running(end)
	} else {
		rem, err := ParseISODuration(*tj.RemainingDuration)
		if err != nil {
			return timer.TimerState{}, fmt.Errorf("remainingDuration: %w", err)
		}
		t.Run = timer.Paused(rem)
	}
	return t, nil
}
