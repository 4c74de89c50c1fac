// Package amqpsink publishes alerts onto a durable RabbitMQ topic
// exchange, the second optional fan-out destination alongside the
// gRPC stream and the Redis sink (spec §6 "external interfaces",
// optional sinks). Grounded on the teacher's pkg/nova RabbitMQ
// broker: dial, open a channel, declare a topic exchange, publish
// persistent messages with PublishWithContext.
package amqpsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/sentryd/sentryd/internal/fanout"
)

// Config controls the AMQP connection and target exchange/routing key.
type Config struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.Exchange == "" {
		cp.Exchange = "sentryd"
	}
	if cp.RoutingKey == "" {
		cp.RoutingKey = "sentryd.alerts"
	}
	return &cp
}

// Sink publishes AlertViews as persistent JSON messages to a durable
// topic exchange. Like redissink.Sink it is meant to be Subscribe'd to
// an alert fanout.Bus and driven from Run in its own goroutine.
type Sink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     *Config
	logger  *zap.Logger
}

// New dials RabbitMQ, opens a channel, and declares cfg.Exchange as a
// durable topic exchange.
func New(cfg *Config, logger *zap.Logger) (*Sink, error) {
	cfg = cfg.withDefaults()

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Sink{conn: conn, channel: channel, cfg: cfg, logger: logger}, nil
}

// Run drains sub until its channel closes or ctx is cancelled,
// publishing each alert to the durable exchange. Publish failures are
// logged, not returned, so a stalled broker never backs up the bus's
// other subscribers.
func (s *Sink) Run(ctx context.Context, sub *fanout.Subscriber[fanout.AlertView]) {
	for {
		select {
		case alert, ok := <-sub.C():
			if !ok {
				return
			}
			s.publish(ctx, alert)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sink) publish(ctx context.Context, alert fanout.AlertView) {
	payload, err := json.Marshal(alert)
	if err != nil {
		s.logger.Error("marshal alert for amqp", zap.Error(err))
		return
	}

	err = s.channel.PublishWithContext(
		ctx,
		s.cfg.Exchange,
		s.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			MessageId:    fmt.Sprintf("%s:%s:%d", alert.RuleID, alert.TargetID, alert.FirstSeenNs),
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		s.logger.Warn("publish alert to amqp", zap.String("exchange", s.cfg.Exchange), zap.Error(err))
	}
}

// Close tears down the channel and connection.
func (s *Sink) Close() error {
	if err := s.channel.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
