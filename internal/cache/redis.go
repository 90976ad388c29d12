package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/autoservice/config"
	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/redis/go-redis/v9"
)

// generationTTL outlives any snapshot; an expired counter reads as 0, which
// only makes in-flight snapshots miss their write.
const generationTTL = 48 * time.Hour

// RedisCache holds three kinds of keys: short-lived availability snapshots,
// per-slot booking locks and the recent-notification journal.
type RedisCache struct {
	client          *redis.Client
	availabilityTTL time.Duration
	journalSize     int64
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func NewRedisCache(client *redis.Client, availabilityTTL time.Duration, journalSize int) *RedisCache {
	return &RedisCache{
		client:          client,
		availabilityTTL: availabilityTTL,
		journalSize:     int64(journalSize),
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetReserved returns the cached reserved slot numbers. ok is false on a miss.
func (c *RedisCache) GetReserved(ctx context.Context, date time.Time, session calendar.Session) ([]int, bool, error) {
	data, err := c.client.Get(ctx, availabilityKey(date, session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var reserved []int
	if err := json.Unmarshal(data, &reserved); err != nil {
		return nil, false, err
	}
	return reserved, true, nil
}

// Generation reads the invalidation counter of a session. Readers take it
// before loading from the store and hand it back to SetReserved.
func (c *RedisCache) Generation(ctx context.Context, date time.Time, session calendar.Session) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(date, session)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// setIfGeneration stores the snapshot only while the generation is unchanged.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if (gen or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// SetReserved caches a snapshot read at generation. A snapshot older than the
// latest Invalidate is discarded, so a booking that commits while a reader is
// loading never gets masked for the TTL.
func (c *RedisCache) SetReserved(ctx context.Context, date time.Time, session calendar.Session, generation int64, reserved []int) error {
	if c.availabilityTTL <= 0 {
		return nil
	}
	if reserved == nil {
		reserved = []int{}
	}
	payload, err := json.Marshal(reserved)
	if err != nil {
		return err
	}
	keys := []string{generationKey(date, session), availabilityKey(date, session)}
	return setIfGeneration.Run(ctx, c.client, keys, generation, payload, c.availabilityTTL.Milliseconds()).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, date time.Time, session calendar.Session) error {
	gen := generationKey(date, session)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, generationTTL)
		pipe.Del(ctx, availabilityKey(date, session))
		return nil
	})
	return err
}

// AcquireSlotLock is a fast-path guard in front of the store. The store's
// uniqueness constraint stays authoritative.
func (c *RedisCache) AcquireSlotLock(ctx context.Context, key calendar.SlotKey, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, slotLockKey(key), "locked", ttl).Result()
}

func (c *RedisCache) ReleaseSlotLock(ctx context.Context, key calendar.SlotKey) error {
	return c.client.Del(ctx, slotLockKey(key)).Err()
}

// Append pushes the event onto the topic journal, trimmed to the configured size.
func (c *RedisCache) Append(ctx context.Context, topic string, event domain.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := journalKey(topic)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, c.journalSize-1)
		return nil
	})
	return err
}

// Recent returns up to limit journal entries, newest first.
func (c *RedisCache) Recent(ctx context.Context, topic string, limit int) ([]domain.NotificationEvent, error) {
	if limit <= 0 {
		return []domain.NotificationEvent{}, nil
	}
	raw, err := c.client.LRange(ctx, journalKey(topic), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]domain.NotificationEvent, 0, len(raw))
	for _, item := range raw {
		var ev domain.NotificationEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func availabilityKey(date time.Time, session calendar.Session) string {
	return fmt.Sprintf("cache:availability:%s:%s", date.Format(calendar.DateFormat), session)
}

func generationKey(date time.Time, session calendar.Session) string {
	return fmt.Sprintf("cache:availability:gen:%s:%s", date.Format(calendar.DateFormat), session)
}

func slotLockKey(key calendar.SlotKey) string {
	return "lock:slot:" + key.String()
}

func journalKey(topic string) string {
	return "notifications:recent:" + topic
}
