package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"altfinder/internal/model"
	"altfinder/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	KeyJobQueue           = "altfinder:queue:jobs"
	KeyJobProcessingQueue = "altfinder:queue:jobs:processing"
	KeyJobPendingSet      = "altfinder:queue:jobs:pending" // 去重集合
	KeyJobStartedHash     = "altfinder:queue:jobs:started" // 任务开始处理时间 (job_id -> unix timestamp)
	KeyResultPrefix       = "altfinder:result:"            // 任务结果 (string, 带 TTL)
)

var (
	ErrNoJob     = errors.New("no job available")
	ErrNoResult  = errors.New("no result available")
	ErrJobExists = errors.New("job already in queue")
)

// Client wraps Redis list operations for the job queue and keyed job results.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a redisqueue client with address/password.
func NewClient(addr, password string) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
		}),
	}
}

// NewClientWithRedis creates a redisqueue client from an existing redis.Client.
func NewClientWithRedis(rdb *redis.Client) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &Client{rdb: rdb}, nil
}

// Redis 返回底层客户端，供 dedup / ratelimit 复用连接。
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// pushJobScript 原子性地执行 SADD + LPUSH，避免中间状态不一致。
// KEYS[1] = pending set, KEYS[2] = job queue
// ARGV[1] = job_id, ARGV[2] = job JSON
// 返回: 1 = 成功推送, 0 = 任务已存在
var pushJobScript = redis.NewScript(`
	local added = redis.call('SADD', KEYS[1], ARGV[1])
	if added == 0 then
		return 0
	end
	redis.call('LPUSH', KEYS[2], ARGV[2])
	return 1
`)

// PushJob 序列化任务并推入队列。同一个 job_id 已在队列中时返回 ErrJobExists。
func (c *Client) PushJob(ctx context.Context, job *model.RecommendationJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if job.JobID == "" {
		return errors.New("job id is empty")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	result, err := pushJobScript.Run(ctx, c.rdb,
		[]string{KeyJobPendingSet, KeyJobQueue},
		job.JobID, string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("push job script: %w", err)
	}
	if result == 0 {
		metrics.JobThroughput.WithLabelValues("in", "skipped").Inc()
		return ErrJobExists
	}

	metrics.JobThroughput.WithLabelValues("in", "pushed").Inc()
	return nil
}

// PopJob blocks until a job is available or timeout is reached.
// 同时记录任务开始处理的时间到 KeyJobStartedHash。
func (c *Client) PopJob(ctx context.Context, timeout time.Duration) (*model.RecommendationJob, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	raw, err := c.rdb.BRPopLPush(ctx, KeyJobQueue, KeyJobProcessingQueue, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("brpoplpush job: %w", err)
	}

	var job model.RecommendationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// 丢弃无法解析的任务
		c.rdb.LRem(ctx, KeyJobProcessingQueue, 1, raw)
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	if job.JobID != "" {
		c.rdb.HSet(ctx, KeyJobStartedHash, job.JobID, time.Now().Unix())
	}

	metrics.JobThroughput.WithLabelValues("out", "popped").Inc()
	return &job, nil
}

// ackJobScript 原子性地从 processing queue 中找到并删除匹配 job_id 的任务。
// KEYS[1] = processing queue, KEYS[2] = pending set, KEYS[3] = started hash
// ARGV[1] = job_id
// 返回: 删除的任务数量
var ackJobScript = redis.NewScript(`
	local queue = KEYS[1]
	local pending = KEYS[2]
	local started = KEYS[3]
	local jobId = ARGV[1]

	local jobs = redis.call('LRANGE', queue, 0, -1)
	local removed = 0
	for _, job in ipairs(jobs) do
		if string.find(job, '"job_id":"' .. jobId .. '"', 1, true) then
			redis.call('LREM', queue, 1, job)
			removed = removed + 1
			break
		end
	end

	redis.call('SREM', pending, jobId)
	redis.call('HDEL', started, jobId)

	return removed
`)

// AckJob 从 processing 队列、pending 集合与 started 哈希中移除任务。
// 按 job_id 匹配而不是完整 JSON，避免序列化差异导致匹配失败。
func (c *Client) AckJob(ctx context.Context, jobID string) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if jobID == "" {
		return errors.New("job id is empty")
	}
	if _, err := ackJobScript.Run(ctx, c.rdb,
		[]string{KeyJobProcessingQueue, KeyJobPendingSet, KeyJobStartedHash},
		jobID,
	).Int(); err != nil {
		return fmt.Errorf("ack job script: %w", err)
	}
	return nil
}

// PushResult 保存任务结果，ttl 过后自动过期。
func (c *Client) PushResult(ctx context.Context, res *model.JobResult, ttl time.Duration) error {
	if res == nil {
		return errors.New("result is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if res.JobID == "" {
		return errors.New("job id is empty")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.rdb.Set(ctx, KeyResultPrefix+res.JobID, data, ttl).Err(); err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	metrics.JobThroughput.WithLabelValues("out", string(res.Status)).Inc()
	return nil
}

// GetResult 读取任务结果，不存在（尚未完成或已过期）时返回 ErrNoResult。
func (c *Client) GetResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	raw, err := c.rdb.Get(ctx, KeyResultPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var res model.JobResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

// WaitResult 轮询任务结果直到拿到结果或 ctx 结束。
//
// 参数:
//
//	jobID: 任务 ID
//	poll: 轮询间隔，非正数时使用 200ms
//
// 返回值:
//
//	*model.JobResult: 任务结果
//	error: ctx 结束时返回 ctx.Err()
func (c *Client) WaitResult(ctx context.Context, jobID string, poll time.Duration) (*model.JobResult, error) {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		res, err := c.GetResult(ctx, jobID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrNoResult) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsPending 报告任务是否仍在队列中（等待或处理中）。
func (c *Client) IsPending(ctx context.Context, jobID string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, errors.New("redis client is not initialized")
	}
	ok, err := c.rdb.SIsMember(ctx, KeyJobPendingSet, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("sismember pending: %w", err)
	}
	return ok, nil
}

// QueueDepth returns the current length of the waiting and processing queues.
func (c *Client) QueueDepth(ctx context.Context) (int64, int64, error) {
	if c == nil || c.rdb == nil {
		return 0, 0, errors.New("redis client is not initialized")
	}
	waiting, err := c.rdb.LLen(ctx, KeyJobQueue).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen jobs: %w", err)
	}
	processing, err := c.rdb.LLen(ctx, KeyJobProcessingQueue).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen processing: %w", err)
	}
	return waiting, processing, nil
}

// rescueScript 只有当 LREM 成功移除了任务时才执行 LPUSH，防止多个 Janitor 重复入队。
// KEYS[1] = processing queue, KEYS[2] = job queue, KEYS[3] = started hash
// ARGV[1] = job JSON, ARGV[2] = job_id
// 返回: 1 = 成功 rescue, 0 = 任务不存在
var rescueScript = redis.NewScript(`
	local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
	if removed > 0 then
		redis.call('LPUSH', KEYS[2], ARGV[1])
		redis.call('HDEL', KEYS[3], ARGV[2])
		return 1
	end
	return 0
`)

// RescueStuckJobs 把 processing 队列中超过 timeout 仍未确认的任务放回等待队列（Worker 崩溃时）。
// 以 KeyJobStartedHash 中记录的开始时间为准，没有记录时退回到 CreatedAt。
func (c *Client) RescueStuckJobs(ctx context.Context, timeout time.Duration) (int, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}

	startedTimes, err := c.rdb.HGetAll(ctx, KeyJobStartedHash).Result()
	if err != nil {
		return 0, fmt.Errorf("hgetall started: %w", err)
	}

	jobsRaw, err := c.rdb.LRange(ctx, KeyJobProcessingQueue, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("lrange processing: %w", err)
	}
	if len(jobsRaw) == 0 {
		for jobID := range startedTimes {
			c.rdb.HDel(ctx, KeyJobStartedHash, jobID)
		}
		return 0, nil
	}

	now := time.Now().Unix()
	threshold := int64(timeout.Seconds())
	rescued := 0

	for _, raw := range jobsRaw {
		var job model.RecommendationJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil || job.JobID == "" {
			continue
		}

		started := job.CreatedAt
		if s, ok := startedTimes[job.JobID]; ok {
			if _, err := fmt.Sscanf(s, "%d", &started); err != nil {
				continue
			}
		}
		if started == 0 || now-started <= threshold {
			continue
		}

		result, err := rescueScript.Run(ctx, c.rdb,
			[]string{KeyJobProcessingQueue, KeyJobQueue, KeyJobStartedHash},
			raw, job.JobID,
		).Int()
		if err != nil {
			continue
		}
		if result == 1 {
			rescued++
		}
	}

	return rescued, nil
}
