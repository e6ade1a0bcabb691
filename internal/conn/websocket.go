package conn

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer is the production Dialer, backed by gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial opens a WebSocket to url with the given handshake headers.
func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &websocketSocket{ws: ws, writeTimeout: d.WriteTimeout}, nil
}

type websocketSocket struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (s *websocketSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.ws.ReadMessage()
	return data, err
}

func (s *websocketSocket) WriteMessage(data []byte) error {
	if s.writeTimeout > 0 {
		s.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *websocketSocket) Close() error {
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.ws.Close()
}
