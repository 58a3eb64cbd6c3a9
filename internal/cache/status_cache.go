package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/types/streak"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// StatusCache keeps the last computed StatusResult per user in redis. An
// entry is only served for the local date it was computed on, so a cached
// "active" never outlives the day boundary.
//
// Invalidate bumps a per-user version key next to the entry and Set is a
// compare-and-set against it, so a reader that queried the store before a
// write cannot put its stale result back after the write invalidated it.
type StatusCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

type cachedStatus struct {
	Today  string               `json:"today"`
	Status *streak.StatusResult `json:"status"`
}

func NewStatusCache(addr string, ttl time.Duration, log *logger.Logger) (*StatusCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newStatusCache(rdb, ttl, log), nil
}

func newStatusCache(rdb *goredis.Client, ttl time.Duration, log *logger.Logger) *StatusCache {
	return &StatusCache{
		log: log.With("service", "StatusCache"),
		rdb: rdb,
		ttl: ttl,
	}
}

// versionTTL outlives any in-flight GetStatus by a wide margin; an expired
// version reads as 0 again.
const versionTTL = 7 * 24 * time.Hour

// setIfVersion writes ARGV[2] to KEYS[2] only while KEYS[1] still holds
// ARGV[1]. A missing version counts as "0".
var setIfVersion = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then v = "0" end
if v ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

func key(userID uuid.UUID) string {
	return "streak:status:" + userID.String()
}

func versionKey(userID uuid.UUID) string {
	return "streak:status:ver:" + userID.String()
}

func (c *StatusCache) Get(ctx context.Context, userID uuid.UUID, today time.Time) (*streak.StatusResult, bool) {
	raw, err := c.rdb.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn("status cache get failed", "user_id", userID, "error", err)
		}
		return nil, false
	}

	var entry cachedStatus
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Status == nil {
		return nil, false
	}
	if entry.Today != streak.Date(today).Format(streak.DateLayout) {
		return nil, false
	}
	return entry.Status, true
}

func (c *StatusCache) Version(ctx context.Context, userID uuid.UUID) (int64, bool) {
	v, err := c.rdb.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, true
	}
	if err != nil {
		c.log.Warn("status cache version failed", "user_id", userID, "error", err)
		return 0, false
	}
	return v, true
}

func (c *StatusCache) Set(ctx context.Context, userID uuid.UUID, today time.Time, version int64, res *streak.StatusResult) {
	raw, err := json.Marshal(cachedStatus{
		Today:  streak.Date(today).Format(streak.DateLayout),
		Status: res,
	})
	if err != nil {
		return
	}
	keys := []string{versionKey(userID), key(userID)}
	err = setIfVersion.Run(ctx, c.rdb, keys, strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Err()
	if err != nil {
		c.log.Warn("status cache set failed", "user_id", userID, "error", err)
	}
}

func (c *StatusCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionTTL)
		pipe.Del(ctx, key(userID))
		return nil
	})
	if err != nil {
		c.log.Warn("status cache invalidate failed", "user_id", userID, "error", err)
	}
}

func (c *StatusCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *StatusCache) Close() error {
	return c.rdb.Close()
}
