// Package cache 提供质押排行榜的 Redis 读缓存
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
)

// Redis 缓存键格式，{scope:owner} 保证同一归属的键落在同一集群槽位
const (
	KeyLeaderboard        = "eidos:campaign:leaderboard:{%s:%s}:%d:%d"   // scope:owner:page:page_size
	KeyLeaderboardIndex   = "eidos:campaign:leaderboard_pages:{%s:%s}"   // scope:owner (Set)
	KeyLeaderboardVersion = "eidos:campaign:leaderboard_version:{%s:%s}" // scope:owner (计数器)
)

// DefaultLeaderboardTTL 默认 TTL，失效由写入侧主动触发，TTL 只兜底
const DefaultLeaderboardTTL = 30 * time.Second

// versionTTL 版本号的保留时间，远长于任何一次查库回填
const versionTTL = 24 * time.Hour

// setIfVersionScript 版本号未变时才写入缓存页
// KEYS[1]: 版本号 KEYS[2]: 缓存页 KEYS[3]: 页索引
// ARGV[1]: 读库前的版本号 ARGV[2]: 缓存内容 ARGV[3]: TTL (毫秒)
var setIfVersionScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
	current = "0"
end
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
redis.call("SADD", KEYS[3], KEYS[2])
redis.call("PEXPIRE", KEYS[3], ARGV[3])
return 1
`)

const cacheName = "leaderboard"

// LeaderboardPage 一页排行榜
type LeaderboardPage struct {
	Stakes []*model.Stake `json:"stakes"`
	Total  int64          `json:"total"`
}

// LeaderboardCache 排行榜缓存
type LeaderboardCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewLeaderboardCache 创建排行榜缓存
func NewLeaderboardCache(client redis.UniversalClient, ttl time.Duration) *LeaderboardCache {
	if ttl == 0 {
		ttl = DefaultLeaderboardTTL
	}
	return &LeaderboardCache{
		client: client,
		ttl:    ttl,
	}
}

func pageKey(scope model.StakeScope, owner string, page, pageSize int) string {
	return fmt.Sprintf(KeyLeaderboard, scope, owner, page, pageSize)
}

func indexKey(scope model.StakeScope, owner string) string {
	return fmt.Sprintf(KeyLeaderboardIndex, scope, owner)
}

func versionKey(scope model.StakeScope, owner string) string {
	return fmt.Sprintf(KeyLeaderboardVersion, scope, owner)
}

// Version 当前版本号，每次失效递增；查库前读取，回填时交给 Set 比对
func (c *LeaderboardCache) Version(ctx context.Context, scope model.StakeScope, owner string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(scope, owner)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get 获取缓存页，未命中返回 nil
func (c *LeaderboardCache) Get(ctx context.Context, scope model.StakeScope, owner string, page, pageSize int) (*LeaderboardPage, error) {
	data, err := c.client.Get(ctx, pageKey(scope, owner, page, pageSize)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCache(cacheName, "miss")
			return nil, nil
		}
		metrics.RecordCache(cacheName, "error")
		return nil, err
	}

	var result LeaderboardPage
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.RecordCache(cacheName, "error")
		return nil, err
	}
	metrics.RecordCache(cacheName, "hit")
	return &result, nil
}

// Set 缓存一页并登记到页索引中
//
// version 为查库前读到的版本号；期间发生过失效则放弃写入，返回是否写入。
func (c *LeaderboardCache) Set(ctx context.Context, scope model.StakeScope, owner string, page, pageSize int, version int64, result *LeaderboardPage) (bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return false, err
	}

	keys := []string{versionKey(scope, owner), pageKey(scope, owner, page, pageSize), indexKey(scope, owner)}
	stored, err := setIfVersionScript.Run(ctx, c.client, keys, strconv.FormatInt(version, 10), data, c.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	if stored == 0 {
		metrics.RecordCache(cacheName, "stale")
	}
	return stored == 1, nil
}

// Invalidate 递增版本号并删除某个活动或金库的全部缓存页
func (c *LeaderboardCache) Invalidate(ctx context.Context, scope model.StakeScope, owner string) error {
	vk := versionKey(scope, owner)
	if err := c.client.Incr(ctx, vk).Err(); err != nil {
		return err
	}
	if err := c.client.Expire(ctx, vk, versionTTL).Err(); err != nil {
		return err
	}

	idx := indexKey(scope, owner)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}
	return c.client.Del(ctx, append(keys, idx)...).Err()
}
