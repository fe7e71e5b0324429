// Package notify relays custody events between service instances and
// devices over Redis Pub/Sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"zacharie/internal/core"
)

// DefaultChannel carries every custody event.
const DefaultChannel = "zacharie:custody"

// envelope tags an event with the instance that published it.
type envelope struct {
	core.CustodyEvent
	InstanceID string `json:"instance_id,omitempty"`
}

// RedisBus publishes and subscribes to custody events. It implements
// core.Notifier.
type RedisBus struct {
	client     redis.UniversalClient
	channel    string
	logger     core.Logger
	instanceID string
}

var _ core.Notifier = (*RedisBus)(nil)

// NewRedisBus returns a bus on channel, DefaultChannel when empty.
func NewRedisBus(client redis.UniversalClient, channel string, logger core.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	return &RedisBus{client: client, channel: channel, logger: logger, instanceID: uuid.NewString()}
}

// Publish sends event to every subscriber.
func (b *RedisBus) Publish(ctx context.Context, event core.CustodyEvent) error {
	data, err := json.Marshal(envelope{CustodyEvent: event, InstanceID: b.instanceID})
	if err != nil {
		return fmt.Errorf("marshal custody event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish custody event %s of %s: %w", event.Type, event.FeiNumero, err)
	}
	b.logger.Debug("custody event published", "channel", b.channel, "type", event.Type, "fei_numero", event.FeiNumero)
	return nil
}

// Subscribe delivers events published by other instances to handler until
// ctx is done, reconnecting with exponential backoff.
func (b *RedisBus) Subscribe(ctx context.Context, handler func(core.CustodyEvent)) error {
	wait := time.Second
	const maxWait = 30 * time.Second
	for {
		err := b.subscribe(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("custody subscription lost, reconnecting", "channel", b.channel, "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, maxWait)
	}
}

func (b *RedisBus) subscribe(ctx context.Context, handler func(core.CustodyEvent)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("subscribed to custody events", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload, handler)
		}
	}
}

func (b *RedisBus) handle(payload string, handler func(core.CustodyEvent)) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Warn("drop malformed custody event", "channel", b.channel, "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	handler(env.CustodyEvent)
}
