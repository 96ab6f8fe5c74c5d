package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// RedisCache is a read-through cache in front of a MembershipOracle.
// Ownership lookups hit the registry on miss and the result is cached with a
// short TTL, keeping the "reflects the registry at call time" contract loose
// only within the TTL. Redis failures fall through to the live oracle rather
// than failing the engine operation.
type RedisCache struct {
	next   MembershipOracle
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache wraps next with a Redis-backed read-through cache.
func NewRedisCache(next MembershipOracle, client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "oracle-cache"),
	}
}

func balanceKey(addr contracts.Address) string {
	return fmt.Sprintf("oracle:balance:%s", addr)
}

func ownerKey(token contracts.TokenID) string {
	return fmt.Sprintf("oracle:owner:%d", token)
}

// TokenBalance implements MembershipOracle with read-through caching.
func (c *RedisCache) TokenBalance(ctx context.Context, addr contracts.Address) (int, error) {
	key := balanceKey(addr)
	if cached, err := c.client.Get(ctx, key).Result(); err == nil {
		if n, perr := strconv.Atoi(cached); perr == nil {
			return n, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "cache read failed, falling through", "key", key, "error", err)
	}

	n, err := c.next.TokenBalance(ctx, addr)
	if err != nil {
		return 0, err
	}
	if serr := c.client.Set(ctx, key, strconv.Itoa(n), c.ttl).Err(); serr != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", key, "error", serr)
	}
	return n, nil
}

// OwnerOf implements MembershipOracle with read-through caching.
// Unknown tokens are not negatively cached: a token could be minted between
// two lookups.
func (c *RedisCache) OwnerOf(ctx context.Context, token contracts.TokenID) (contracts.Address, error) {
	key := ownerKey(token)
	if cached, err := c.client.Get(ctx, key).Result(); err == nil && cached != "" {
		return contracts.Address(cached), nil
	} else if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "cache read failed, falling through", "key", key, "error", err)
	}

	owner, err := c.next.OwnerOf(ctx, token)
	if err != nil {
		return "", err
	}
	if serr := c.client.Set(ctx, key, string(owner), c.ttl).Err(); serr != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", key, "error", serr)
	}
	return owner, nil
}

// Invalidate drops cached entries for a token and its owners. Called by
// dev-mode transfer flows; live registries expire via TTL only.
func (c *RedisCache) Invalidate(ctx context.Context, token contracts.TokenID, addrs ...contracts.Address) {
	keys := []string{ownerKey(token)}
	for _, a := range addrs {
		keys = append(keys, balanceKey(a))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache invalidation failed", "error", err)
	}
}
