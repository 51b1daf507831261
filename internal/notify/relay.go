package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	publishTimeout = 2 * time.Second
	publishBuffer  = 1024
)

// RedisRelay shares events between processes over a redis pub/sub channel.
// Publish queues for redis; Run drains that queue in order and broadcasts what
// it receives from redis to the local hub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	log     *logrus.Logger
	queue   chan Event

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, log *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     log,
		queue:   make(chan Event, publishBuffer),
		ready:   make(chan struct{}),
	}
}

// Publish never blocks. When the queue is full the event is dropped.
func (r *RedisRelay) Publish(_ context.Context, ev Event) {
	select {
	case r.queue <- ev:
	default:
		r.log.WithFields(logrus.Fields{
			"event":   ev.Type,
			"channel": r.channel,
		}).Warn("relay queue full, dropping event")
	}
}

func (r *RedisRelay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.send(ctx, ev)
		}
	}
}

func (r *RedisRelay) send(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.WithError(err).WithField("event", ev.Type).Error("marshal event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"event":   ev.Type,
			"channel": r.channel,
		}).Warn("publish event to redis failed")
	}
}

// Ready is closed once Run is subscribed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run forwards events from redis into the hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	drainCtx, stop := context.WithCancel(ctx)
	defer stop()
	go r.drain(drainCtx)

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.log.WithField("channel", r.channel).Info("notify relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.WithError(err).Warn("discarding malformed event from redis")
				continue
			}
			r.hub.Broadcast(ev)
		}
	}
}
