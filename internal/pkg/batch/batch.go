// Package batch 用固定数量的 worker 为一组种子 URL 计算推荐，结果按输入顺序返回。
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"altfinder/internal/model"
)

// Request 单个种子请求。
type Request struct {
	Site  string `json:"site,omitempty"`
	URL   string `json:"url"`
	Limit int    `json:"limit,omitempty"`
}

// Outcome 单个请求的结果，Error 与 Result 二选一。
type Outcome struct {
	Request Request                     `json:"request"`
	Result  *model.RecommendationResult `json:"result,omitempty"`
	Error   string                      `json:"error,omitempty"`
	Err     error                       `json:"-"`
}

// RecommendFunc 执行一次推荐，通常是 recs.Recommender.Recommend。
type RecommendFunc func(ctx context.Context, siteID, rawURL string, limit int) (*model.RecommendationResult, error)

// Runner 固定 worker 池。
type Runner struct {
	logger    *slog.Logger
	workers   int
	recommend RecommendFunc
	stats     runnerStats
}

type runnerStats struct {
	TotalProcessed atomic.Int64
	TotalSucceeded atomic.Int64
	TotalFailed    atomic.Int64
	TotalPanics    atomic.Int64
}

// Stats 统计快照。
type Stats struct {
	TotalProcessed int64
	TotalSucceeded int64
	TotalFailed    int64
	TotalPanics    int64
}

type indexed struct {
	idx int
	req Request
}

// NewRunner 创建 worker 池。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - recommend: 推荐函数
//
// 返回值:
//   - *Runner: 实例
func NewRunner(logger *slog.Logger, workers int, recommend RecommendFunc) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, workers: workers, recommend: recommend}
}

// Run 处理全部请求后返回。ctx 取消后未开始的请求以 ctx.Err() 结束。
func (r *Runner) Run(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))
	for i, req := range reqs {
		out[i].Request = req
	}

	jobs := make(chan indexed)
	var wg sync.WaitGroup
	for i := 0; i < min(r.workers, max(len(reqs), 1)); i++ {
		wg.Add(1)
		go r.worker(ctx, i, jobs, out, &wg)
	}

feed:
	for i, req := range reqs {
		select {
		case jobs <- indexed{idx: i, req: req}:
		case <-ctx.Done():
			for j := i; j < len(reqs); j++ {
				out[j].Err = ctx.Err()
				out[j].Error = ctx.Err().Error()
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return out
}

// worker 单个 worker 的执行逻辑，每个下标只由一个 worker 写入。
func (r *Runner) worker(ctx context.Context, id int, jobs <-chan indexed, out []Outcome, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			out[job.idx].Err = err
			out[job.idx].Error = err.Error()
			continue
		}
		res, err := r.execute(ctx, id, job.req)
		r.stats.TotalProcessed.Add(1)
		if err != nil {
			r.stats.TotalFailed.Add(1)
			r.logger.Warn("batch request failed",
				slog.Int("worker_id", id),
				slog.String("url", job.req.URL),
				slog.String("error", err.Error()))
			out[job.idx].Err = err
			out[job.idx].Error = err.Error()
			continue
		}
		r.stats.TotalSucceeded.Add(1)
		out[job.idx].Result = res
	}
	r.logger.Debug("batch worker exit", slog.Int("worker_id", id))
}

// execute 执行单个请求，带 panic 恢复。
func (r *Runner) execute(ctx context.Context, workerID int, req Request) (res *model.RecommendationResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.stats.TotalPanics.Add(1)
			r.logger.Error("batch request panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			res, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return r.recommend(ctx, req.Site, req.URL, req.Limit)
}

// Stats 获取统计信息的快照。
func (r *Runner) Stats() Stats {
	return Stats{
		TotalProcessed: r.stats.TotalProcessed.Load(),
		TotalSucceeded: r.stats.TotalSucceeded.Load(),
		TotalFailed:    r.stats.TotalFailed.Load(),
		TotalPanics:    r.stats.TotalPanics.Load(),
	}
}

// String 返回状态描述。
func (r *Runner) String() string {
	s := r.Stats()
	return fmt.Sprintf("Runner[workers=%d, processed=%d, succeeded=%d, failed=%d, panics=%d]",
		r.workers, s.TotalProcessed, s.TotalSucceeded, s.TotalFailed, s.TotalPanics)
}
