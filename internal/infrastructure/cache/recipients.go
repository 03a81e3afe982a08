// Package cache holds Redis read-through caches in front of the key-value stores.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-reminders/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RecipientLookup resolves an owner's channel addresses.
type RecipientLookup interface {
	Lookup(ctx context.Context, userID string) (*domain.Recipient, error)
}

// RecipientCache caches RecipientLookup results for a fixed TTL. Redis errors
// degrade to direct lookups; they never fail the call.
type RecipientCache struct {
	rdb       *redis.Client
	next      RecipientLookup
	namespace string
	ttl       time.Duration
	log       zerolog.Logger
}

func NewRecipientCache(rdb *redis.Client, next RecipientLookup, namespace string, ttl time.Duration, log zerolog.Logger) *RecipientCache {
	return &RecipientCache{rdb: rdb, next: next, namespace: namespace, ttl: ttl, log: log}
}

func (c *RecipientCache) key(userID string) string {
	return c.namespace + ":recipient:" + userID
}

func (c *RecipientCache) Lookup(ctx context.Context, userID string) (*domain.Recipient, error) {
	raw, err := c.rdb.Get(ctx, c.key(userID)).Bytes()
	switch {
	case err == nil:
		var r domain.Recipient
		if jerr := json.Unmarshal(raw, &r); jerr == nil {
			return &r, nil
		}
		c.log.Warn().Str("user_id", userID).Msg("discarding malformed cached recipient")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("user_id", userID).Msg("recipient cache read failed")
	}

	r, err := c.next.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if raw, jerr := json.Marshal(r); jerr == nil {
		if serr := c.rdb.Set(ctx, c.key(userID), raw, c.ttl).Err(); serr != nil {
			c.log.Warn().Err(serr).Str("user_id", userID).Msg("recipient cache write failed")
		}
	}
	return r, nil
}

// Invalidate drops the cached entry so the next lookup reads through.
func (c *RecipientCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, c.key(userID)).Err()
}
