// Package crawler 实现推荐任务的 Worker：从 Redis 队列拉取任务，执行推荐流程并回写结果。
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"altfinder/internal/config"
	"altfinder/internal/model"
	"altfinder/internal/pkg/dedup"
	"altfinder/internal/pkg/metrics"
	"altfinder/internal/pkg/redisqueue"
	"altfinder/internal/recs"
	"altfinder/internal/source"
)

const (
	popTimeout            = 2 * time.Second
	redisOperationTimeout = 5 * time.Second
	watchdogGrace         = 30 * time.Second
	janitorRescueTimeout  = 10 * time.Second
)

// Recommender 执行一次推荐请求，由 recs.Recommender 实现。
type Recommender interface {
	Recommend(ctx context.Context, siteID, rawURL string, limit int) (*model.RecommendationResult, error)
	ReadSeed(ctx context.Context, siteID, rawURL string) (*model.Product, string, error)
}

// Service 消费推荐任务的 Worker。
type Service struct {
	recommender Recommender
	queue       *redisqueue.Client
	dedup       *dedup.Deduplicator
	logger      *slog.Logger

	maxConcurrency  int
	jobTimeout      time.Duration
	resultTTL       time.Duration
	janitorInterval time.Duration
	stuckJobTimeout time.Duration

	maxJobs    uint64
	jobCounter atomic.Uint64
	restartCh  chan struct{}

	bgCtx    context.Context
	bgCancel context.CancelFunc

	stats workerStats
}

type workerStats struct {
	TotalProcessed atomic.Int64
	TotalSucceeded atomic.Int64
	TotalFailed    atomic.Int64
	TotalPanics    atomic.Int64
}

// NewService 创建 Worker 并启动卡住任务巡检。
//
// 参数:
//
//	cfg: 配置对象，使用 App 与 Browser.MaxConcurrency
//	recommender: 推荐执行器
//	queue: Redis 任务队列
//	dd: 请求去重器，可为 nil
//	logger: 日志记录器
//
// 返回值:
//
//	*Service: Worker 实例，调用方负责 Shutdown
func NewService(cfg *config.Config, recommender Recommender, queue *redisqueue.Client, dd *dedup.Deduplicator, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if recommender == nil {
		return nil, errors.New("recommender is nil")
	}
	if queue == nil {
		return nil, errors.New("redis queue client is not initialized")
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxJobs := uint64(0)
	if cfg.App.MaxJobs > 0 {
		maxJobs = uint64(cfg.App.MaxJobs)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Service{
		recommender:     recommender,
		queue:           queue,
		dedup:           dd,
		logger:          logger,
		maxConcurrency:  max(cfg.Browser.MaxConcurrency, 1),
		jobTimeout:      cfg.App.JobTimeout,
		resultTTL:       cfg.App.ResultTTL,
		janitorInterval: cfg.App.JanitorInterval,
		stuckJobTimeout: cfg.App.StuckJobTimeout,
		maxJobs:         maxJobs,
		restartCh:       make(chan struct{}, 1),
		bgCtx:           bgCtx,
		bgCancel:        bgCancel,
	}

	if s.janitorInterval > 0 && s.stuckJobTimeout > 0 {
		go s.startStuckJobCleanup(bgCtx)
	}
	return s, nil
}

// RestartSignal 在处理任务数达到 max_jobs 后收到通知。
func (s *Service) RestartSignal() <-chan struct{} {
	return s.restartCh
}

// startStuckJobCleanup 定期把卡住的任务放回等待队列。
func (s *Service) startStuckJobCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rescueStuckJobs(ctx)
		}
	}
}

func (s *Service) rescueStuckJobs(ctx context.Context) int {
	rescueCtx, cancel := context.WithTimeout(ctx, janitorRescueTimeout)
	defer cancel()
	count, err := s.queue.RescueStuckJobs(rescueCtx, s.stuckJobTimeout)
	if err != nil {
		s.logger.Warn("failed to rescue stuck jobs", slog.String("error", err.Error()))
		return 0
	}
	if count > 0 {
		s.logger.Info("rescued stuck jobs", slog.Int("count", count))
	}
	return count
}

// StartWorker 循环消费 Redis 任务直到 ctx 被取消。
func (s *Service) StartWorker(ctx context.Context) error {
	// 令牌数 = 最大并发数，确保同时运行的推荐流程不超过配置值
	sem := make(chan struct{}, s.maxConcurrency)
	s.logger.Info("recommendation worker started",
		slog.Int("max_concurrent_jobs", s.maxConcurrency))

	for {
		// 处理不过来时暂停拉取
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		job, err := s.queue.PopJob(ctx, popTimeout)
		if err != nil {
			<-sem
			if errors.Is(err, redisqueue.ErrNoJob) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.logger.Info("worker loop stopped")
				return err
			}
			metrics.WorkerErrorsTotal.WithLabelValues("pop").Inc()
			s.logger.Error("pop redis job failed", slog.String("error", err.Error()))
			time.Sleep(200 * time.Millisecond)
			continue
		}

		go func(j *model.RecommendationJob) {
			defer func() { <-sem }()
			s.handle(j)
		}(job)
	}
}

// handle 处理单个任务：看门狗、panic 恢复、回写结果、确认与释放去重 key。
func (s *Service) handle(job *model.RecommendationJob) {
	start := time.Now()
	metrics.JobsInFlight.Inc()

	// 看门狗只记录日志与指标，任务最终会通过 ctx 超时返回
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-time.After(s.jobTimeout + watchdogGrace):
			s.logger.Error("watchdog timeout triggered, job stuck",
				slog.String("job_id", job.JobID),
				slog.Duration("elapsed", time.Since(start)))
			metrics.WorkerErrorsTotal.WithLabelValues("watchdog_timeout").Inc()
		}
	}()

	defer func() {
		close(done)
		metrics.JobsInFlight.Dec()
		s.finish(job)
		s.logger.Debug("job goroutine exited",
			slog.String("job_id", job.JobID),
			slog.Duration("total_duration", time.Since(start)))
	}()

	defer func() {
		if r := recover(); r != nil {
			s.stats.TotalPanics.Add(1)
			s.stats.TotalFailed.Add(1)
			metrics.WorkerErrorsTotal.WithLabelValues("panic").Inc()
			s.logger.Error("recommendation job panic recovered",
				slog.String("job_id", job.JobID),
				slog.Any("panic", r))
			s.pushResult(&model.JobResult{
				JobID:      job.JobID,
				Status:     model.JobStatusFailed,
				ErrorCode:  model.ErrorCodeInternal,
				Error:      fmt.Sprintf("panic: %v", r),
				FinishedAt: time.Now().Unix(),
			})
		}
	}()

	res := s.Process(context.Background(), job)
	s.pushResult(res)
}

// Process 在 jobTimeout 内执行推荐并构造任务结果，不访问队列。
func (s *Service) Process(ctx context.Context, job *model.RecommendationJob) *model.JobResult {
	start := time.Now()
	s.stats.TotalProcessed.Add(1)

	jobCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	type recommendResult struct {
		result *model.RecommendationResult
		seed   *model.Product
		err    error
	}
	resultCh := make(chan recommendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.stats.TotalPanics.Add(1)
				metrics.WorkerErrorsTotal.WithLabelValues("panic").Inc()
				s.logger.Error("recommendation panic recovered",
					slog.String("job_id", job.JobID),
					slog.Any("panic", r))
				resultCh <- recommendResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		if job.Kind == model.JobKindSeed {
			seed, _, err := s.recommender.ReadSeed(jobCtx, job.Site, job.URL)
			resultCh <- recommendResult{seed: seed, err: err}
			return
		}
		result, err := s.recommender.Recommend(jobCtx, job.Site, job.URL, job.Limit)
		resultCh <- recommendResult{result: result, err: err}
	}()

	var (
		result *model.RecommendationResult
		seed   *model.Product
		err    error
	)
	select {
	case r := <-resultCh:
		result, seed, err = r.result, r.seed, r.err
	case <-jobCtx.Done():
		err = fmt.Errorf("job context timeout: %w", jobCtx.Err())
	}

	res := &model.JobResult{JobID: job.JobID, FinishedAt: time.Now().Unix()}
	if err != nil {
		s.stats.TotalFailed.Add(1)
		metrics.WorkerErrorsTotal.WithLabelValues(source.ClassifyError(err)).Inc()
		s.logger.Warn("recommendation job failed",
			slog.String("job_id", job.JobID),
			slog.String("site", job.Site),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		res.Status = model.JobStatusFailed
		res.ErrorCode = ErrorCode(err)
		res.Error = err.Error()
		return res
	}

	s.stats.TotalSucceeded.Add(1)
	res.Status = model.JobStatusDone
	if job.Kind == model.JobKindSeed {
		s.logger.Info("seed job done",
			slog.String("job_id", job.JobID),
			slog.String("site", job.Site),
			slog.Duration("duration", time.Since(start)))
		res.Seed = seed
		return res
	}

	s.logger.Info("recommendation job done",
		slog.String("job_id", job.JobID),
		slog.String("site", job.Site),
		slog.Int("results", len(result.Flat)),
		slog.Duration("duration", time.Since(start)))
	res.Result = result
	return res
}

// ErrorCode 把推荐错误映射为任务错误码。
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, recs.ErrUnsupportedSite):
		return model.ErrorCodeUnsupported
	case recs.IsSeedError(err):
		return model.ErrorCodeSeed
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorCodeTimeout
	default:
		return model.ErrorCodeInternal
	}
}

func (s *Service) pushResult(res *model.JobResult) {
	pushCtx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()
	if err := s.queue.PushResult(pushCtx, res, s.resultTTL); err != nil {
		metrics.WorkerErrorsTotal.WithLabelValues("push_result").Inc()
		s.logger.Error("push redis result failed",
			slog.String("job_id", res.JobID),
			slog.String("error", err.Error()))
	}
}

// finish 确认任务并释放去重 key，达到 max_jobs 时发出重启信号。
func (s *Service) finish(job *model.RecommendationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()

	if err := s.queue.AckJob(ctx, job.JobID); err != nil {
		s.logger.Error("failed to ack job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()))
	} else {
		s.logger.Debug("job acked", slog.String("job_id", job.JobID))
	}

	if job.DedupKey != "" {
		if err := s.dedup.Release(ctx, job.DedupKey); err != nil {
			s.logger.Warn("failed to release dedup key",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()))
		}
	}

	if s.maxJobs > 0 && s.jobCounter.Add(1) == s.maxJobs {
		s.logger.Info("max jobs reached, requesting restart", slog.Uint64("max_jobs", s.maxJobs))
		select {
		case s.restartCh <- struct{}{}:
		default:
		}
	}
}

// Shutdown 停止后台巡检。
func (s *Service) Shutdown() {
	if s.bgCancel != nil {
		s.bgCancel()
	}
}

// WorkerStats 运行统计快照。
type WorkerStats struct {
	TotalProcessed int64 `json:"total_processed"`
	TotalSucceeded int64 `json:"total_succeeded"`
	TotalFailed    int64 `json:"total_failed"`
	TotalPanics    int64 `json:"total_panics"`
}

// Stats 返回当前统计。
func (s *Service) Stats() WorkerStats {
	return WorkerStats{
		TotalProcessed: s.stats.TotalProcessed.Load(),
		TotalSucceeded: s.stats.TotalSucceeded.Load(),
		TotalFailed:    s.stats.TotalFailed.Load(),
		TotalPanics:    s.stats.TotalPanics.Load(),
	}
}
