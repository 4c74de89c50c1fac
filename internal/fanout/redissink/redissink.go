// Package redissink publishes alerts onto a Redis pub/sub channel, an
// optional fan-out destination alongside the gRPC stream (spec §6
// "external interfaces", optional sinks). Grounded on the teacher's
// pkg/cache RedisCache wrapper: a thin struct holding a *redis.Client
// and nothing else, methods just forwarding to it.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sentryd/sentryd/internal/fanout"
)

// Config controls the Redis connection and target channel.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.Channel == "" {
		cp.Channel = "sentryd.alerts"
	}
	return &cp
}

// Sink publishes AlertViews as JSON to a single Redis channel. It
// implements the subscriber side of a fanout.Bus[fanout.AlertView]:
// callers Subscribe it to an alert bus and run Sink.Run in its own
// goroutine.
type Sink struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// New creates a Redis client and returns a Sink bound to cfg.Channel.
// No connection is made here; the client connects on first use.
func New(cfg *Config, logger *zap.Logger) *Sink {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Sink{client: client, channel: cfg.Channel, logger: logger}
}

// Run drains sub until its channel closes or ctx is cancelled,
// publishing each alert to the configured Redis channel. Publish
// failures are logged, not returned: one unreachable Redis instance
// must never stall the bus's other subscribers or the rules engine
// upstream of it.
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
		s.logger.Error("marshal alert for redis", zap.Error(err))
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Warn("publish alert to redis", zap.String("channel", s.channel), zap.Error(err))
	}
}

// Close releases the underlying client connection.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Ping checks connectivity to Redis, returning an error if it is
// unreachable.
func (s *Sink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis sink unreachable: %w", err)
	}
	return nil
}
