package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"altfinder/internal/config"
	"altfinder/internal/crawler"
	"altfinder/internal/pkg/dedup"
	"altfinder/internal/pkg/logger"
	"altfinder/internal/pkg/ratelimit"
	"altfinder/internal/pkg/redisqueue"
	"altfinder/internal/recs"
	"altfinder/internal/site"
	"altfinder/internal/source"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// main 是爬虫 Worker 的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志记录器
// 3. 创建页面数据源（浏览器或纯 HTTP）与推荐执行器
// 4. 启动 Redis Worker 与 Metrics 服务
// 5. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisQueue := redisqueue.NewClient(cfg.Redis.Addr, cfg.Redis.Password)
	if err := redisQueue.Ping(ctx); err != nil {
		appLogger.Error("redis ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisQueue.Close()

	limiter := ratelimit.NewRedisRateLimiter(redisQueue.Redis(), appLogger, "", cfg.App.RateLimit, cfg.App.RateBurst)

	src, closeSource, err := newSource(ctx, cfg, limiter, appLogger)
	if err != nil {
		appLogger.Error("init page source failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeSource()

	opts, err := recs.OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		appLogger.Error("invalid pipeline config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	recommender := recs.NewRecommender(site.Default(), src, opts, appLogger)

	deduper := dedup.NewDeduplicator(redisQueue.Redis(), cfg.App.DedupWindow)
	service, err := crawler.NewService(cfg, recommender, redisQueue, deduper, appLogger)
	if err != nil {
		appLogger.Error("init crawler service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// Worker 循环已停止，退出进程交给容器重启
				appLogger.Error("PANIC in redis worker loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()

		appLogger.Info("starting redis worker loop")
		if err := service.StartWorker(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("redis worker loop stopped", slog.String("error", err.Error()))
		}
	}()

	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("crawler metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("received os signal")
	case <-service.RestartSignal():
		appLogger.Info("restart requested by service (max jobs reached)")
	}

	appLogger.Info("shutting down crawler service...")
	stopWorkers()
	service.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	s := service.Stats()
	appLogger.Info("crawler service stopped gracefully",
		slog.Int64("processed", s.TotalProcessed),
		slog.Int64("failed", s.TotalFailed))
}

// newSource 按配置创建浏览器数据源，browser.static 为 true 时使用纯 HTTP 数据源。
func newSource(ctx context.Context, cfg *config.Config, limiter source.Limiter, logger *slog.Logger) (source.Source, func(), error) {
	if cfg.Browser.Static {
		logger.Info("using static http page source")
		return source.NewHTTPSource(cfg.Browser.PageTimeout, source.Profile{}, limiter, logger), func() {}, nil
	}

	bs, err := source.NewBrowserSource(ctx, source.BrowserOptions{
		BinPath:     cfg.Browser.BinPath,
		ProxyURL:    cfg.Browser.ProxyURL,
		Headless:    cfg.Browser.Headless,
		PageTimeout: cfg.Browser.PageTimeout,
	}, limiter, logger)
	if err != nil {
		return nil, nil, err
	}
	go bs.StartHealthCheck(ctx)
	return bs, func() {
		if err := bs.Close(); err != nil {
			logger.Warn("close browser failed", slog.String("error", err.Error()))
		}
	}, nil
}
