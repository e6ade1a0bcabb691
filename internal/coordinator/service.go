package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/creds"
)

// Config holds the coordinator service configuration.
type Config struct {
	Hub    HubConfig
	Fanout FanoutConfig

	// JWTSecret signs and verifies device bearer tokens.
	JWTSecret string

	// SingleInstance skips the JetStream fan-out entirely.
	SingleInstance bool
}

// DefaultServiceConfig returns the coordinator defaults.
func DefaultServiceConfig() Config {
	return Config{
		Hub:    DefaultHubConfig(),
		Fanout: DefaultFanoutConfig(),
	}
}

// FullStore is the authoritative store surface the coordinator needs, both
// the timer side and the sharing side. The postgres repository satisfies it.
type FullStore interface {
	TimerStore
	ShareStore
}

// Service bundles the hub, the fan-out and the sharing API behind one
// route registration.
type Service struct {
	hub      *Hub
	fanout   *Fanout
	shareAPI *ShareAPI
	verifier *Verifier
}

// NewService wires the coordinator components.
func NewService(config Config, st FullStore, pusher Pusher) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	verifier := NewVerifier([]byte(config.JWTSecret), nil)

	var fanout *Fanout
	var pub Publisher
	if !config.SingleInstance {
		hubForFanout := &deliverLater{}
		f, err := NewFanout(config.Fanout, hubForFanout)
		if err != nil {
			return nil, fmt.Errorf("create fan-out: %w", err)
		}
		fanout = f
		pub = f
		hub := NewHub(config.Hub, st, pub)
		hubForFanout.hub = hub
		return &Service{
			hub:      hub,
			fanout:   fanout,
			shareAPI: NewShareAPI(st, pusher, verifier),
			verifier: verifier,
		}, nil
	}

	hub := NewHub(config.Hub, st, nil)
	return &Service{
		hub:      hub,
		shareAPI: NewShareAPI(st, pusher, verifier),
		verifier: verifier,
	}, nil
}

// deliverLater breaks the hub/fan-out construction cycle.
type deliverLater struct {
	hub *Hub
}

func (d *deliverLater) Deliver(users []string, frame []byte) {
	if d.hub != nil {
		d.hub.Deliver(users, frame)
	}
}

// Start runs the hub and the fan-out consumer until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting coordinator service")

	go s.hub.Start(ctx)
	if s.fanout != nil {
		go func() {
			if err := s.fanout.Start(ctx); err != nil {
				log.Error().Err(err).Msg("fan-out consumer failed")
			}
		}()
	}

	<-ctx.Done()
	return s.Stop()
}

// Stop shuts the fan-out down; the hub stops with its context.
func (s *Service) Stop() error {
	if s.fanout != nil {
		if err := s.fanout.Stop(); err != nil {
			log.Error().Err(err).Msg("stop fan-out")
		}
	}
	log.Info().Msg("coordinator service stopped")
	return nil
}

// RegisterRoutes attaches the WebSocket endpoint and the sharing API to mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/timers", s.handleTimerSocket)
	mux.HandleFunc("/ws/stats", s.handleStats)
	s.shareAPI.RegisterRoutes(mux)
	log.Info().Msg("coordinator routes registered")
}

// handleTimerSocket authenticates the device and hands the connection to
// the hub, which answers with the user's full timer list.
func (s *Service) handleTimerSocket(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, err := s.verifier.Authenticate(r)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, creds.ErrCredentialExpired) {
			log.Debug().Str("device_id", deviceID).Msg("expired credential at handshake")
		}
		http.Error(w, "unauthorized", status)
		return
	}

	if err := s.hub.Upgrade(w, r, userID, deviceID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("upgrade failed")
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	sessions, users := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"sessions":%d,"users":%d}`, sessions, users)
}
