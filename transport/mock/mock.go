// Package mock implements the "isMockingEnabled" test hook of spec §6.4:
// a transport.Transport decorator that can be told to fail the next call
// to a named RPC method, so sync-engine retry/backoff/auth-refresh paths
// can be exercised deterministically instead of waiting on a flaky real
// network. Grounded on luvjson/crdtpubsub's pluggable PubSub backends
// (memory vs. Redis, selected by which constructor the caller uses); when
// a *redis.Client is supplied, Broadcast additionally fans out over a
// Redis channel the way luvjson/crdtpubsub/redis.go does, so a fault
// injection test can also exercise cross-process broadcast delivery
// instead of only the in-memory transport's single-process fan-out.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"docengine/change"
	"docengine/logicaltime"
	"docengine/transport"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Transport decorates a base transport.Transport with one-shot fault
// injection keyed by RPC method name, and an optional Redis-backed
// broadcast channel.
type Transport struct {
	base   transport.Transport
	logger *zap.Logger

	mu     sync.Mutex
	faults map[string][]error

	redis       *redis.Client
	redisPrefix string
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger overrides the mock transport's structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithRedisBroadcast adds a Redis pub/sub channel to Broadcast/Watch's
// broadcast leg, alongside the delegation to base, so fan-out survives
// across separate mock.Transport instances (e.g. two client processes in
// a test pointed at the same Redis).
func WithRedisBroadcast(client *redis.Client, channelPrefix string) Option {
	return func(t *Transport) {
		t.redis = client
		t.redisPrefix = channelPrefix
	}
}

// New wraps base with fault-injection and (optionally) Redis broadcast.
func New(base transport.Transport, opts ...Option) *Transport {
	t := &Transport{
		base:        base,
		logger:      zap.NewNop(),
		faults:      make(map[string][]error),
		redisPrefix: "docengine:broadcast:",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InjectFault queues err to be returned by the next call to method
// (e.g. "PushPull", "ActivateClient"), instead of reaching base. Queued
// faults are consumed in FIFO order, one per call.
func (t *Transport) InjectFault(method string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults[method] = append(t.faults[method], err)
}

// take pops the next queued fault for method, if any.
func (t *Transport) take(method string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.faults[method]
	if len(q) == 0 {
		return nil
	}
	t.faults[method] = q[1:]
	return q[0]
}

func (t *Transport) ActivateClient(ctx context.Context, clientKey string) (*transport.ActivateClientResponse, error) {
	if err := t.take("ActivateClient"); err != nil {
		return nil, err
	}
	return t.base.ActivateClient(ctx, clientKey)
}

func (t *Transport) DeactivateClient(ctx context.Context, clientID logicaltime.ActorID) error {
	if err := t.take("DeactivateClient"); err != nil {
		return err
	}
	return t.base.DeactivateClient(ctx, clientID)
}

func (t *Transport) AttachDocument(ctx context.Context, clientID logicaltime.ActorID, docKey string, initial *change.ChangePack) (*transport.AttachDocumentResponse, error) {
	if err := t.take("AttachDocument"); err != nil {
		return nil, err
	}
	return t.base.AttachDocument(ctx, clientID, docKey, initial)
}

func (t *Transport) DetachDocument(ctx context.Context, clientID logicaltime.ActorID, docKey string) error {
	if err := t.take("DetachDocument"); err != nil {
		return err
	}
	return t.base.DetachDocument(ctx, clientID, docKey)
}

func (t *Transport) PushPull(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
	if err := t.take("PushPull"); err != nil {
		return nil, err
	}
	return t.base.PushPull(ctx, clientID, local)
}

// Watch delegates stream setup to base, then — if Redis broadcast is
// configured — additionally subscribes to this docKey's Redis channel
// and merges inbound payloads into the same event channel, so a
// Broadcast published by any mock.Transport sharing the Redis instance
// reaches this watcher even though they didn't share an in-memory
// transport.memory.Server.
func (t *Transport) Watch(ctx context.Context, clientID logicaltime.ActorID, docKey string) (<-chan transport.WatchEvent, error) {
	if err := t.take("Watch"); err != nil {
		return nil, err
	}
	base, err := t.base.Watch(ctx, clientID, docKey)
	if err != nil {
		return nil, err
	}
	if t.redis == nil {
		return base, nil
	}

	out := make(chan transport.WatchEvent, 16)
	sub := t.redis.Subscribe(ctx, t.redisPrefix+docKey)

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case evt, ok := <-base:
				if !ok {
					return
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload transport.BroadcastPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					t.logger.Warn("mock: malformed redis broadcast payload", zap.Error(err))
					continue
				}
				if payload.From == clientID {
					continue
				}
				select {
				case out <- transport.WatchEvent{Broadcast: &payload}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Broadcast delegates to base, and additionally publishes to Redis when
// configured, so peers watching only via Redis (no shared in-memory
// server) still observe it.
func (t *Transport) Broadcast(ctx context.Context, clientID logicaltime.ActorID, docKey, topic string, payload []byte) error {
	if err := t.take("Broadcast"); err != nil {
		return err
	}
	if err := t.base.Broadcast(ctx, clientID, docKey, topic, payload); err != nil {
		return err
	}
	if t.redis == nil {
		return nil
	}
	data, err := json.Marshal(transport.BroadcastPayload{Topic: topic, Payload: payload, From: clientID})
	if err != nil {
		return errors.Wrap(err, "mock: marshal broadcast payload")
	}
	return errors.Wrap(t.redis.Publish(ctx, t.redisPrefix+docKey, data).Err(), "mock: publish broadcast")
}

var _ transport.Transport = (*Transport)(nil)
