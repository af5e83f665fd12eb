// Package api 提供推荐服务的 HTTP 接口：提交任务、同步等待结果、查询任务状态。
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"altfinder/internal/api/middleware"
	"altfinder/internal/config"
	"altfinder/internal/model"
	"altfinder/internal/pkg/dedup"
	"altfinder/internal/pkg/redisqueue"
	"altfinder/internal/recs"
	"altfinder/internal/site"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPollInterval = 200 * time.Millisecond

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有 Redis 队列客户端、请求去重器、站点注册表以及 Gin 路由引擎。
// 推荐流程本身在爬虫 Worker 中执行，API 只负责投递任务与读取结果。
type Server struct {
	cfg          *config.Config
	logger       *slog.Logger
	queue        *redisqueue.Client
	deduper      *dedup.Deduplicator
	registry     *site.Registry
	opts         recs.Options
	router       *gin.Engine
	pollInterval time.Duration
}

// NewServer 初始化 API 服务器。
//
// 参数:
//
//	cfg: 配置对象
//	logger: 日志记录器
//	queue: Redis 任务队列，去重器复用其连接
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 流程参数非法时返回错误
func NewServer(cfg *config.Config, logger *slog.Logger, queue *redisqueue.Client) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if queue == nil {
		return nil, errors.New("redis queue client is not initialized")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := recs.OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		queue:        queue,
		deduper:      dedup.NewDeduplicator(queue.Redis(), cfg.App.DedupWindow),
		registry:     site.Default(),
		opts:         opts,
		router:       r,
		pollInterval: defaultPollInterval,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭 Redis 连接。
func (s *Server) Close() error {
	return s.queue.Close()
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/sites", s.handleSites)

	s.router.POST("/recs/:site", s.handleRecommend)
	s.router.POST("/scrape", s.handleScrapeSeed)
	s.router.POST("/jobs", s.handleSubmitJob)
	s.router.GET("/jobs/:id", s.handleGetJob)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.queue.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSites(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sites": s.registry.IDs()})
}

// recommendRequest 同步推荐接口的请求参数。
type recommendRequest struct {
	URL   string `json:"url" binding:"required,url"`
	Limit int    `json:"limit" binding:"gte=0"`
}

// scrapeRequest 种子读取接口的请求参数，site 为空时按 URL 自动识别。
type scrapeRequest struct {
	Site string `json:"site"`
	URL  string `json:"url" binding:"required,url"`
}

// submitJobRequest 异步任务接口的请求参数，site 为空时按 URL 自动识别。
type submitJobRequest struct {
	Site  string `json:"site"`
	URL   string `json:"url" binding:"required,url"`
	Limit int    `json:"limit" binding:"gte=0"`
}

type submitJobResponse struct {
	JobID     string `json:"job_id"`
	Coalesced bool   `json:"coalesced"`
}

// handleRecommend 投递任务并在 request_timeout 内等待结果。
func (s *Server) handleRecommend(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, _, ok := s.submit(c, model.JobKindRecommend, c.Param("site"), req.URL, req.Limit)
	if !ok {
		return
	}
	s.waitAndWrite(c, jobID)
}

// handleScrapeSeed 只读取种子商品，同样在 request_timeout 内等待结果。
func (s *Server) handleScrapeSeed(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, _, ok := s.submit(c, model.JobKindSeed, req.Site, req.URL, 0)
	if !ok {
		return
	}
	s.waitAndWrite(c, jobID)
}

// waitAndWrite 轮询任务结果并写出响应，超时返回 504 和 job_id 以便之后查询。
func (s *Server) waitAndWrite(c *gin.Context, jobID string) {
	waitCtx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.App.RequestTimeout)
	defer cancel()
	res, err := s.queue.WaitResult(waitCtx, jobID, s.pollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error":      "job timed out",
				"error_code": model.ErrorCodeTimeout,
				"job_id":     jobID,
			})
			return
		}
		s.logger.Error("wait result failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wait result failed"})
		return
	}
	s.writeResult(c, res)
}

// handleSubmitJob 异步投递任务，立即返回 job_id。
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, coalesced, ok := s.submit(c, model.JobKindRecommend, req.Site, req.URL, req.Limit)
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, submitJobResponse{JobID: jobID, Coalesced: coalesced})
}

// handleGetJob 返回任务结果：完成 200，排队中 202，未知或已过期 404。
func (s *Server) handleGetJob(c *gin.Context) {
	jobID := c.Param("id")
	ctx := c.Request.Context()

	res, err := s.queue.GetResult(ctx, jobID)
	if err == nil {
		s.writeResult(c, res)
		return
	}
	if !errors.Is(err, redisqueue.ErrNoResult) {
		s.logger.Error("get result failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get result failed"})
		return
	}

	pending, err := s.queue.IsPending(ctx, jobID)
	if err != nil {
		s.logger.Error("check pending failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check job failed"})
		return
	}
	if pending {
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "pending"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

// submit 校验站点、合并重复请求并入队。
//
// 返回值:
//
//	string: 负责该请求的 job_id（合并时为已有任务）
//	bool: 是否合并到了已有任务
//	bool: false 表示已经写出错误响应
func (s *Server) submit(c *gin.Context, kind model.JobKind, siteID, rawURL string, limit int) (string, bool, bool) {
	ctx := c.Request.Context()
	siteID = strings.ToLower(strings.TrimSpace(siteID))
	rawURL = strings.TrimSpace(rawURL)

	profile, err := s.registry.Resolve(siteID, rawURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_code": model.ErrorCodeUnsupported})
		return "", false, false
	}
	dedupSite := profile.ID
	if kind == model.JobKindSeed {
		limit = 0
		dedupSite += "/seed"
	} else {
		limit = s.opts.ClampLimit(limit)
	}

	jobID := uuid.NewString()
	key := dedup.Key(dedupSite, rawURL, limit)
	owner, claimed, err := s.deduper.Claim(ctx, key, jobID)
	if err != nil {
		// 去重失败不影响投递
		s.logger.Warn("dedup claim failed", slog.String("error", err.Error()))
		key = ""
	} else if !claimed {
		s.logger.Info("request coalesced",
			slog.String("job_id", owner),
			slog.String("request_id", middleware.GetRequestID(c)))
		return owner, true, true
	}

	job := &model.RecommendationJob{
		JobID:     jobID,
		Kind:      kind,
		Site:      profile.ID,
		URL:       rawURL,
		Limit:     limit,
		DedupKey:  key,
		CreatedAt: time.Now().Unix(),
	}
	if err := s.queue.PushJob(ctx, job); err != nil {
		if key != "" {
			if relErr := s.deduper.Release(context.WithoutCancel(ctx), key); relErr != nil {
				s.logger.Warn("dedup release failed", slog.String("error", relErr.Error()))
			}
		}
		s.logger.Error("push job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return "", false, false
	}

	s.logger.Info("job enqueued",
		slog.String("job_id", jobID),
		slog.String("site", profile.ID),
		slog.String("kind", string(kind)),
		slog.Int("limit", limit),
		slog.String("request_id", middleware.GetRequestID(c)))
	return jobID, false, true
}

// writeResult 按任务状态写出响应。
func (s *Server) writeResult(c *gin.Context, res *model.JobResult) {
	if res.Status == model.JobStatusDone {
		if res.Seed != nil {
			c.JSON(http.StatusOK, gin.H{"seed": res.Seed})
			return
		}
		c.JSON(http.StatusOK, res.Result)
		return
	}
	c.JSON(StatusForErrorCode(res.ErrorCode), gin.H{
		"error":      res.Error,
		"error_code": res.ErrorCode,
		"job_id":     res.JobID,
	})
}

// StatusForErrorCode 把任务错误码映射为 HTTP 状态码。
func StatusForErrorCode(code string) int {
	switch code {
	case model.ErrorCodeSeed:
		return http.StatusUnprocessableEntity
	case model.ErrorCodeUnsupported:
		return http.StatusBadRequest
	case model.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
