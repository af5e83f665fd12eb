package recs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"altfinder/internal/model"
	"altfinder/internal/pkg/metrics"
	"altfinder/internal/site"
	"altfinder/internal/source"
)

// Recommender 是多站点的入口：根据站点 ID 或 URL 选出 Profile，再运行 Pipeline。
type Recommender struct {
	registry *site.Registry
	src      source.Source
	opts     Options
	logger   *slog.Logger
}

// NewRecommender creates a Recommender sharing one page source across sites.
func NewRecommender(registry *site.Registry, src source.Source, opts Options, logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{registry: registry, src: src, opts: opts, logger: logger}
}

// Recommend 为 rawURL 生成推荐。siteID 为空时按 URL 主机名匹配站点。
//
// 返回值:
//
//	*model.RecommendationResult: 推荐结果
//	error: 站点不支持时包含 ErrUnsupportedSite；种子不可读时为 *SeedError
func (r *Recommender) Recommend(ctx context.Context, siteID, rawURL string, limit int) (*model.RecommendationResult, error) {
	start := time.Now()
	label := siteID
	if label == "" {
		label = "auto"
	}

	res, err := r.recommend(ctx, siteID, rawURL, limit)

	status := statusLabel(err)
	if res != nil {
		label = res.Site
	}
	metrics.PipelineRequestsTotal.WithLabelValues(label, status).Inc()
	metrics.PipelineDuration.WithLabelValues(label, status).Observe(time.Since(start).Seconds())
	return res, err
}

func (r *Recommender) recommend(ctx context.Context, siteID, rawURL string, limit int) (*model.RecommendationResult, error) {
	pipeline, err := r.pipelineFor(siteID, rawURL)
	if err != nil {
		return nil, err
	}
	return pipeline.GetRecommendations(ctx, rawURL, limit)
}

// ReadSeed 只读取种子商品，不做检索与排序。
//
// 返回值:
//
//	*model.Product: 种子商品
//	string: 匹配到的站点 ID
//	error: 与 Recommend 相同的错误约定
func (r *Recommender) ReadSeed(ctx context.Context, siteID, rawURL string) (*model.Product, string, error) {
	pipeline, err := r.pipelineFor(siteID, rawURL)
	if err != nil {
		return nil, "", err
	}

	seed, err := pipeline.ReadSeed(ctx, rawURL)
	if err != nil {
		return nil, pipeline.profile.ID, err
	}
	return &seed, pipeline.profile.ID, nil
}

// pipelineFor 解析站点并创建使用该站点请求头的 Pipeline。
func (r *Recommender) pipelineFor(siteID, rawURL string) (*Pipeline, error) {
	profile, err := r.registry.Resolve(siteID, rawURL)
	if err != nil {
		return nil, err
	}

	src := r.src
	if ps, ok := src.(source.ProfiledSource); ok && !isZeroProfile(profile.Source) {
		src = ps.WithProfile(profile.Source)
	}
	return NewPipeline(profile, src, r.opts, r.logger)
}

// Sites 返回已注册的站点 ID。
func (r *Recommender) Sites() []string {
	return r.registry.IDs()
}

func isZeroProfile(p source.Profile) bool {
	return p.AcceptLanguage == "" && len(p.UserAgents) == 0 && len(p.BlockedURLs) == 0
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnsupportedSite):
		return "unsupported"
	case IsSeedError(err):
		return "seed_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "error"
}
