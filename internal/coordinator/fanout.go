package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// FanoutConfig holds JetStream settings for cross-instance delivery.
type FanoutConfig struct {
	URL           string
	StreamName    string
	Subject       string
	ConsumerName  string // instance-specific; every instance sees every event
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultFanoutConfig returns the fan-out defaults. The consumer name is
// randomized so each coordinator instance gets its own delivery cursor.
func DefaultFanoutConfig() FanoutConfig {
	return FanoutConfig{
		URL:           nats.DefaultURL,
		StreamName:    "TIMER_EVENTS",
		Subject:       "timer.events.fanout",
		ConsumerName:  "coordinator-" + uuid.New().String()[:8],
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        time.Hour,
	}
}

// fanoutEvent is the JetStream payload: an already-encoded wire frame plus
// the users it addresses. Origin lets instances skip their own events, which
// they have already delivered locally.
type fanoutEvent struct {
	EventID string          `json:"eventId"`
	Origin  string          `json:"origin"`
	Users   []string        `json:"users"`
	Frame   json.RawMessage `json:"frame"`
}

// Deliverer receives frames consumed from the stream. The hub implements it.
type Deliverer interface {
	Deliver(users []string, frame []byte)
}

// Fanout publishes locally-applied updates to JetStream and consumes the
// other instances' updates into the local hub.
type Fanout struct {
	origin   string
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   FanoutConfig
	hub      Deliverer
}

// NewFanout connects to NATS and ensures the stream and this instance's
// consumer exist.
func NewFanout(config FanoutConfig, hub Deliverer) (*Fanout, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	f := &Fanout{
		origin: uuid.New().String(),
		nc:     nc,
		js:     js,
		config: config,
		hub:    hub,
	}
	if err := f.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	if err := f.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return f, nil
}

func (f *Fanout) ensureStream(ctx context.Context) error {
	_, err := f.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        f.config.StreamName,
		Description: "Timer update fan-out between coordinator instances",
		Subjects:    []string{f.config.Subject},
		MaxAge:      f.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

func (f *Fanout) ensureConsumer(ctx context.Context) error {
	consumer, err := f.js.CreateOrUpdateConsumer(ctx, f.config.StreamName, jetstream.ConsumerConfig{
		Name:          f.config.ConsumerName,
		Description:   "Coordinator instance fan-out consumer",
		FilterSubject: f.config.Subject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    f.config.MaxDeliver,
		AckWait:       f.config.AckWait,
		MaxAckPending: f.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	f.consumer = consumer
	return nil
}

// Publish sends one fan-out event to the stream.
func (f *Fanout) Publish(ctx context.Context, users []string, frame []byte) error {
	data, err := json.Marshal(fanoutEvent{
		EventID: uuid.New().String(),
		Origin:  f.origin,
		Users:   users,
		Frame:   frame,
	})
	if err != nil {
		return fmt.Errorf("marshal fan-out event: %w", err)
	}
	if _, err := f.js.Publish(ctx, f.config.Subject, data); err != nil {
		return fmt.Errorf("publish fan-out event: %w", err)
	}
	return nil
}

// Start consumes fan-out events until ctx is cancelled.
func (f *Fanout) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", f.config.ConsumerName).
		Str("stream", f.config.StreamName).
		Msg("starting fan-out consumer")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := f.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("fan-out consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := f.processMessage(msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("process fan-out event")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("NAK failed")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("ACK failed")
			}
		}
	}
}

func (f *Fanout) processMessage(msg jetstream.Msg) error {
	var ev fanoutEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		return fmt.Errorf("unmarshal fan-out event: %w", err)
	}
	if ev.Origin == f.origin {
		// Our own publish; the hub already delivered it locally.
		return nil
	}
	f.hub.Deliver(ev.Users, ev.Frame)
	return nil
}

// Stop closes the NATS connection.
func (f *Fanout) Stop() error {
	if f.nc != nil {
		f.nc.Close()
	}
	return nil
}
