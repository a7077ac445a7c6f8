// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Publisher wraps a watermill publisher with circuit-breaker protection so a
// struggling delivery pipeline cannot stall sync attempts.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[any]
	mu             sync.RWMutex
	closed         bool
}

// NATSConfig tunes the NATS-backed publisher.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewNATSPublisher creates a resilient watermill NATS publisher for the alert
// delivery pipeline.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 60
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:   false,
			TrackMsgId: true, // alert id as Nats-Msg-Id deduplicates redelivery
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	p := &Publisher{publisher: pub}
	p.circuitBreaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: "alert-publisher",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
	})
	return p, nil
}

// NewPublisher wraps an existing watermill publisher, without a breaker.
// Tests use it with the gochannel pub/sub.
func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{publisher: pub}
}

// Publish sends a message to the topic through the circuit breaker.
func (p *Publisher) Publish(topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	if p.circuitBreaker != nil {
		_, err := p.circuitBreaker.Execute(func() (any, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
		return err
	}
	return p.publisher.Publish(topic, msg)
}

// Close shuts the underlying publisher down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
