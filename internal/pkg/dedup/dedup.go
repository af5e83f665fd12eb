package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "altfinder:dedup:req:"

// Deduplicator 合并短时间内对同一商品的重复推荐请求：第一个请求认领 key，后续请求复用它的 job_id。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// Key 由站点、规范化 URL 与 limit 生成请求指纹。
func Key(site, url string, limit int) string {
	raw := fmt.Sprintf("%s|%s|%d", strings.ToLower(site), strings.TrimSpace(url), limit)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Claim 尝试为 key 认领 jobID。
//
// 返回值:
//
//	string: 实际负责该请求的 job_id（认领成功时就是传入的 jobID）
//	bool: 是否由本次调用认领
//	error: Redis 错误
func (d *Deduplicator) Claim(ctx context.Context, key, jobID string) (string, bool, error) {
	if d == nil || d.rdb == nil || key == "" {
		return jobID, true, nil
	}
	ok, err := d.rdb.SetNX(ctx, keyPrefix+key, jobID, d.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("dedup setnx: %w", err)
	}
	if ok {
		return jobID, true, nil
	}

	owner, err := d.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// 刚好过期，重新认领
		return d.Claim(ctx, key, jobID)
	}
	if err != nil {
		return "", false, fmt.Errorf("dedup get: %w", err)
	}
	return owner, false, nil
}

// Release 释放 key，之后的请求会创建新任务。
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	if d == nil || d.rdb == nil || key == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}
