package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "webhook:event:"

	claimProcessing = "processing"
	claimDone       = "done"

	// DefaultClaimTTL bounds how long a crashed delivery can block gateway retries.
	DefaultClaimTTL = 5 * time.Minute
)

// ClaimState is the outcome of claiming an event id.
type ClaimState int

const (
	// Claimed means this delivery owns the event and must Complete or Release it.
	Claimed ClaimState = iota
	// InProgress means another delivery holds a live claim.
	InProgress
	// Processed means the event already completed.
	Processed
)

// Deduper tracks event ids so a redelivered event runs at most once.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (ClaimState, error)
	// Complete marks a claimed event as processed for the retention window.
	Complete(ctx context.Context, eventID string) error
	// Release drops a claim so a gateway retry is processed again.
	Release(ctx context.Context, eventID string) error
}

// RedisDeduper keeps a short "processing" lease per event and swaps it for a long "done" marker on success.
type RedisDeduper struct {
	client   redis.Cmdable
	ttl      time.Duration
	claimTTL time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper. ttl is the retention of completed events.
func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, claimTTL: DefaultClaimTTL}
}

// WithClaimTTL overrides the processing lease.
func (d *RedisDeduper) WithClaimTTL(ttl time.Duration) *RedisDeduper {
	if ttl > 0 {
		d.claimTTL = ttl
	}
	return d
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	key := dedupeKeyPrefix + eventID
	ok, err := d.client.SetNX(ctx, key, claimProcessing, d.claimTTL).Result()
	if err != nil {
		return Claimed, err
	}
	if ok {
		return Claimed, nil
	}
	val, err := d.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// lease expired between the two calls; let the gateway retry
		return InProgress, nil
	case err != nil:
		return Claimed, err
	case val == claimDone:
		return Processed, nil
	default:
		return InProgress, nil
	}
}

func (d *RedisDeduper) Complete(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, dedupeKeyPrefix+eventID, claimDone, d.ttl).Err()
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupeKeyPrefix+eventID).Err()
}

// EventID returns the gateway's delivery id when it sent one, else the SHA-256 of the verified body.
func EventID(header string, body []byte) string {
	if header != "" {
		return header
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
