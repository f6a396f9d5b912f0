package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mirrorKeyPrefix    = "rbac:decisions:"
	invalidateChannel  = "rbac.invalidate"
	invalidateAllToken = "*"
)

// Mirror replicates decision entries to Redis for multi-instance
// deployments. The in-process cache is always the first read path; the
// mirror is a best-effort secondary. Every failure here is logged and
// swallowed so the local decision path keeps working when Redis is down.
type Mirror struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

type mirrorValue struct {
	Decision   Decision  `json:"decision"`
	Generation uint64    `json:"generation"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewMirror wraps a Redis client. ttl bounds how long mirrored principals
// survive without writes.
func NewMirror(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Mirror{client: client, ttl: ttl, timeout: 250 * time.Millisecond, logger: logger}
}

// Get reads a mirrored decision. A decision only counts when it matches the
// local catalog generation and has not expired; anything else is a miss.
func (m *Mirror) Get(ctx context.Context, principalID, field string, generation uint64, now time.Time) (Decision, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	payload, err := m.client.HGet(ctx, mirrorKeyPrefix+principalID, field).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.logError(&MirrorError{Op: "get", Err: err})
		}
		return Decision{}, false
	}
	var value mirrorValue
	if err := json.Unmarshal(payload, &value); err != nil {
		m.logError(&MirrorError{Op: "decode", Err: err})
		return Decision{}, false
	}
	if value.Generation != generation || !now.Before(value.ExpiresAt) {
		return Decision{}, false
	}
	return value.Decision, true
}

// PutAsync writes a decision to the mirror without blocking the caller.
func (m *Mirror) PutAsync(principalID, field string, dec Decision, generation uint64, expiresAt time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		payload, err := json.Marshal(mirrorValue{Decision: dec, Generation: generation, ExpiresAt: expiresAt})
		if err != nil {
			m.logError(&MirrorError{Op: "encode", Err: err})
			return
		}
		key := mirrorKeyPrefix + principalID
		pipe := m.client.Pipeline()
		pipe.HSet(ctx, key, field, payload)
		pipe.Expire(ctx, key, m.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			m.logError(&MirrorError{Op: "put", Err: err})
		}
	}()
}

// InvalidateAsync drops the principal's mirrored decisions and fans the
// invalidation out to other instances.
func (m *Mirror) InvalidateAsync(principalID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.client.Del(ctx, mirrorKeyPrefix+principalID).Err(); err != nil && !errors.Is(err, redis.Nil) {
			m.logError(&MirrorError{Op: "invalidate", Err: err})
		}
		if err := m.client.Publish(ctx, invalidateChannel, principalID).Err(); err != nil {
			m.logError(&MirrorError{Op: "publish", Err: err})
		}
	}()
}

// PublishInvalidation fans out an invalidation token without touching
// stored entries. The all-token tells peers to flush their local caches.
func (m *Mirror) PublishInvalidation(token string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.client.Publish(ctx, invalidateChannel, token).Err(); err != nil {
			m.logError(&MirrorError{Op: "publish", Err: err})
		}
	}()
}

// SubscribeInvalidations applies invalidations published by peer instances
// to the given cache until ctx is cancelled.
func (m *Mirror) SubscribeInvalidations(ctx context.Context, cache *DecisionCache) {
	pubsub := m.client.Subscribe(ctx, invalidateChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == invalidateAllToken {
					cache.flushLocal()
					continue
				}
				if msg.Payload != "" {
					cache.invalidateLocal(msg.Payload)
				}
			}
		}
	}()
}

func (m *Mirror) logError(err *MirrorError) {
	m.logger.Warn("distributed cache", slog.Any("error", err))
}
