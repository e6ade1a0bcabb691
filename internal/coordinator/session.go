package coordinator

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/observability"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// session is one device's WebSocket. Outbound frames go through the send
// channel so the write pump is the only writer on the socket.
type session struct {
	id       string
	userID   string
	deviceID string
	ws       *websocket.Conn
	send     chan []byte
	hub      *Hub

	connectedAt time.Time
}

// enqueue hands a frame to the write pump; slow sessions are disconnected
// rather than allowed to block the hub.
func (s *session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		log.Warn().
			Str("session_id", s.id).
			Str("user_id", s.userID).
			Msg("send buffer full, closing session")
		s.hub.unregister(s)
		s.ws.Close()
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.ws.Close()
		s.hub.unregister(s)
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if !ok {
				s.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("session_id", s.id).Msg("write frame")
				return
			}

		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("session_id", s.id).Msg("ping failed")
				return
			}
		}
	}
}

func (s *session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.ws.Close()
	}()

	s.ws.SetReadLimit(s.hub.config.MaxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("session_id", s.id).Msg("unexpected close")
			}
			return
		}
		s.ws.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))

		msg, err := wire.Decode(data)
		if err != nil {
			observability.RecordDroppedFrame()
			log.Warn().Err(err).Str("session_id", s.id).Msg("dropping inbound frame")
			continue
		}
		observability.RecordFrame("in", wire.TypeOf(msg))
		s.hub.handleInbound(s.hub.ctx, s, msg)
	}
}
