// Package events feeds domain events from collaborators into the dispatcher.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bruinhooks/internal/config"
	"bruinhooks/internal/metrics"
	"bruinhooks/internal/model"
)

// Sink receives validated domain events. It must not block.
type Sink interface {
	OnEvent(evt model.DomainEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.DomainEvent)

func (f SinkFunc) OnEvent(evt model.DomainEvent) { f(evt) }

func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// RedisSource subscribes to a pub/sub channel carrying JSON-encoded domain events.
type RedisSource struct {
	rdb     *redis.Client
	channel string
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewRedisSource(rdb *redis.Client, channel string, log logrus.FieldLogger) *RedisSource {
	return &RedisSource{rdb: rdb, channel: channel, log: log, now: time.Now}
}

// Run forwards events to sink until ctx is cancelled or the subscription is closed.
func (s *RedisSource) Run(ctx context.Context, sink Sink) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.log.WithField("channel", s.channel).Info("listening for domain events")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(msg.Payload, sink)
		}
	}
}

func (s *RedisSource) handle(payload string, sink Sink) {
	var evt model.DomainEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		s.log.WithError(err).WithField("channel", s.channel).Warn("discarding malformed domain event")
		return
	}
	if err := evt.Validate(s.now().UTC()); err != nil {
		s.log.WithError(err).WithField("channel", s.channel).Warn("discarding invalid domain event")
		return
	}
	metrics.DomainEvents.WithLabelValues("redis").Inc()
	sink.OnEvent(evt)
}

// RedisPublisher is the producer side used by collaborators and the demo client.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt model.DomainEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, data).Err()
}
