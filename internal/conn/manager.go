// Package conn owns the persistent channel to the remote coordinator: a
// single WebSocket whose lifecycle is a four-state machine with autonomous
// retry. Transport errors never escape this package; they only move the
// state machine, which keeps retrying until Close.
package conn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/creds"
	"github.com/hourglass-app/hourglass/internal/observability"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrNotConnected is the delivery failure Send surfaces outside the
// Connected state. Messages are never queued: timers are idempotently
// reconciled, so at-most-once delivery is enough.
var ErrNotConnected = errors.New("not connected")

// Handler consumes decoded inbound frames and connection events. The
// reconciliation engine implements it.
type Handler interface {
	HandleMessage(msg wire.Message)
	OnConnected()
}

// Socket is the minimal transport surface the manager drives, satisfied by
// a gorilla/websocket connection and by test fakes.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a socket to the coordinator.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

// Config holds connection tunables.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// DefaultConfig returns the connection defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
	}
}

// Manager is the connection lifecycle owner. One long-lived goroutine owns
// the transport; Send and Close are safe from any goroutine.
type Manager struct {
	cfg     Config
	dialer  Dialer
	source  creds.Source
	handler Handler
	clock   clockwork.Clock

	mu     sync.Mutex
	state  State
	sock   Socket
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager in the Disconnected state.
func NewManager(cfg Config, dialer Dialer, source creds.Source, handler Handler, clock clockwork.Clock) *Manager {
	if dialer == nil {
		dialer = &WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout, WriteTimeout: cfg.WriteTimeout}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		source:  source,
		handler: handler,
		clock:   clock,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the connection loop. Calling it in any state other than
// Disconnected is a no-op, so there is never more than one handshake in
// flight no matter how many callers race.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		log.Debug().Stringer("state", m.state).Msg("connect ignored, already active")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.state = StateConnecting
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(runCtx)
	}()
}

// Send delivers one message if Connected, otherwise fails with
// ErrNotConnected. It never blocks on the network beyond the write timeout
// and never queues.
func (m *Manager) Send(msg wire.Message) error {
	m.mu.Lock()
	sock := m.sock
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || sock == nil {
		return ErrNotConnected
	}

	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := sock.WriteMessage(frame); err != nil {
		// The read loop will notice the broken socket and reconnect.
		return errors.Join(ErrNotConnected, err)
	}
	observability.RecordFrame("out", wire.TypeOf(msg))
	return nil
}

// Close tears the transport down and moves to Disconnected from any state,
// cancelling any pending reconnect backoff.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	sock := m.sock
	done := m.done
	m.state = StateDisconnected
	m.sock = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sock != nil {
		sock.Close()
	}
	if done != nil {
		<-done
	}
	log.Info().Msg("connection closed")
}

// run is the connection loop: dial, pump, backoff, repeat. It exits only
// when its context is cancelled (via Close or the parent context).
func (m *Manager) run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.InitialBackoff
	policy.MaxInterval = m.cfg.MaxBackoff
	policy.MaxElapsedTime = 0 // retry forever; Close is the only exit

	for {
		if ctx.Err() != nil {
			return
		}
		m.setState(StateConnecting)

		sock, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The credential may be why the handshake failed; let the
			// source decide whether to refresh before the next attempt.
			m.source.MarkStale(err)
			log.Warn().Err(err).Msg("handshake failed")
			if !m.waitBackoff(ctx, policy.NextBackOff()) {
				return
			}
			continue
		}

		policy.Reset()
		m.mu.Lock()
		if m.cancel == nil {
			// Closed while the handshake was in flight.
			m.mu.Unlock()
			sock.Close()
			return
		}
		m.sock = sock
		m.state = StateConnected
		m.mu.Unlock()
		log.Info().Str("url", m.cfg.URL).Msg("connected")

		m.handler.OnConnected()
		m.readLoop(ctx, sock)

		m.mu.Lock()
		m.sock = nil
		m.mu.Unlock()
		sock.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Msg("connection lost, scheduling reconnect")
		if !m.waitBackoff(ctx, policy.NextBackOff()) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (Socket, error) {
	cred, err := m.source.Credential(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	header.Set("X-Device-ID", cred.DeviceID)

	dialCtx := ctx
	if m.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancel()
	}
	return m.dialer.Dial(dialCtx, m.cfg.URL, header)
}

// readLoop pumps inbound frames until the socket breaks. Malformed and
// unknown frames are logged and dropped without touching connection state.
func (m *Manager) readLoop(ctx context.Context, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			observability.RecordDroppedFrame()
			if errors.Is(err, wire.ErrUnknownType) {
				log.Warn().Err(err).Msg("dropping frame with unknown type")
			} else {
				log.Warn().Err(err).Msg("dropping malformed frame")
			}
			continue
		}

		observability.RecordFrame("in", wire.TypeOf(msg))
		m.handler.HandleMessage(msg)
	}
}

// waitBackoff sleeps for d on the injected clock; false means the context
// was cancelled and the loop should exit. State is Reconnecting while
// waiting.
func (m *Manager) waitBackoff(ctx context.Context, d time.Duration) bool {
	m.setState(StateReconnecting)
	observability.RecordReconnectAttempt()
	log.Debug().Dur("backoff", d).Msg("waiting before reconnect")

	select {
	case <-ctx.Done():
		return false
	case <-m.clock.After(d):
		return true
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	// Close may already have forced Disconnected; don't resurrect.
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
}
