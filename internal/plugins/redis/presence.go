package redis

import (
	"context"
	"fmt"
	"pok7/internal/core/domain"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:user:"
	presenceIndexKey  = "presence:live"
)

// RedisPresenceRegistry keeps one expiring key per live user plus a set
// indexing them. The key is authoritative; the set may hold stale members
// until they are filtered on read or swept.
type RedisPresenceRegistry struct {
	rdb       *redis.Client
	opTimeout time.Duration
}

func NewRedisPresenceRegistry(rdb *redis.Client, opTimeout time.Duration) *RedisPresenceRegistry {
	return &RedisPresenceRegistry{
		rdb:       rdb,
		opTimeout: opTimeout,
	}
}

func (p *RedisPresenceRegistry) key(userID string) string {
	return presenceKeyPrefix + userID
}

func (p *RedisPresenceRegistry) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPresenceUnavailable, op, err)
}

func validate(userID string, ttl time.Duration) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	if ttl <= 0 {
		return fmt.Errorf("presence ttl must be positive, got %v", ttl)
	}
	return nil
}

// MarkLive sets the user key with ttl and adds the user to the index.
func (p *RedisPresenceRegistry) MarkLive(ctx context.Context, userID string, ttl time.Duration) error {
	if err := validate(userID, ttl); err != nil {
		return err
	}
	ctx, cancel := p.bounded(ctx)
	defer cancel()
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key(userID), "1", ttl)
		pipe.SAdd(ctx, presenceIndexKey, userID)
		return nil
	})
	if err != nil {
		return unavailable("mark live", err)
	}
	return nil
}

// Refresh slides the expiry of an existing entry and falls back to MarkLive
// when the entry is already gone.
func (p *RedisPresenceRegistry) Refresh(ctx context.Context, userID string, ttl time.Duration) error {
	if err := validate(userID, ttl); err != nil {
		return err
	}
	bctx, cancel := p.bounded(ctx)
	defer cancel()
	var extended *redis.BoolCmd
	_, err := p.rdb.TxPipelined(bctx, func(pipe redis.Pipeliner) error {
		extended = pipe.Expire(bctx, p.key(userID), ttl)
		pipe.SAdd(bctx, presenceIndexKey, userID)
		return nil
	})
	if err != nil {
		return unavailable("refresh", err)
	}
	if extended.Val() {
		return nil
	}
	return p.MarkLive(ctx, userID, ttl)
}

func (p *RedisPresenceRegistry) IsLive(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, domain.ErrInvalidUserID
	}
	ctx, cancel := p.bounded(ctx)
	defer cancel()
	n, err := p.rdb.Exists(ctx, p.key(userID)).Result()
	if err != nil {
		return false, unavailable("is live", err)
	}
	return n == 1, nil
}

func (p *RedisPresenceRegistry) MarkOffline(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	ctx, cancel := p.bounded(ctx)
	defer cancel()
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.key(userID))
		pipe.SRem(ctx, presenceIndexKey, userID)
		return nil
	})
	if err != nil {
		return unavailable("mark offline", err)
	}
	return nil
}

// TTL returns the remaining lifetime of the entry, zero when absent.
func (p *RedisPresenceRegistry) TTL(ctx context.Context, userID string) (time.Duration, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()
	d, err := p.rdb.PTTL(ctx, p.key(userID)).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Entry returns the presence entry of userID, or nil when offline.
func (p *RedisPresenceRegistry) Entry(ctx context.Context, userID string) (*domain.PresenceEntry, error) {
	d, err := p.TTL(ctx, userID)
	if err != nil || d == 0 {
		return nil, err
	}
	return &domain.PresenceEntry{UserID: userID, ExpiresAt: time.Now().Add(d)}, nil
}

// ListLive returns the live users, dropping stale index members on the way.
func (p *RedisPresenceRegistry) ListLive(ctx context.Context) ([]string, error) {
	live, _, err := p.prune(ctx)
	return live, err
}

func (p *RedisPresenceRegistry) Count(ctx context.Context) (int, error) {
	live, _, err := p.prune(ctx)
	return len(live), err
}

func (p *RedisPresenceRegistry) Sweep(ctx context.Context) (int, error) {
	_, removed, err := p.prune(ctx)
	return removed, err
}

func (p *RedisPresenceRegistry) prune(ctx context.Context) ([]string, int, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()
	members, err := p.rdb.SMembers(ctx, presenceIndexKey).Result()
	if err != nil {
		return nil, 0, unavailable("list live", err)
	}
	if len(members) == 0 {
		return []string{}, 0, nil
	}
	cmds := make([]*redis.IntCmd, len(members))
	if _, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.Exists(ctx, p.key(m))
		}
		return nil
	}); err != nil {
		return nil, 0, unavailable("list live", err)
	}
	live := make([]string, 0, len(members))
	var stale []any
	for i, m := range members {
		if cmds[i].Val() == 1 {
			live = append(live, m)
		} else {
			stale = append(stale, m)
		}
	}
	if len(stale) > 0 {
		if err := p.rdb.SRem(ctx, presenceIndexKey, stale...).Err(); err != nil {
			return nil, 0, unavailable("sweep", err)
		}
	}
	sort.Strings(live)
	return live, len(stale), nil
}
