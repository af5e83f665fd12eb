// Package recs 实现"相似商品推荐"流程：读取种子商品、生成搜索词、收集候选、
// 去重、打分、回访补全、价格分档并分组。
package recs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"altfinder/internal/extract"
	"altfinder/internal/model"
	"altfinder/internal/pkg/metrics"
	"altfinder/internal/site"
	"altfinder/internal/source"
)

// 页面访问类型，用于日志与 metrics 标签。
const (
	visitSeed      = "seed"
	visitAlternate = "alternate"
	visitSearch    = "search"
	visitEnrich    = "enrich"
)

// Pipeline 针对单个站点执行一次完整的推荐流程。
//
// Pipeline 本身不持有请求级状态，可以被多个请求并发使用。
type Pipeline struct {
	profile    *site.Profile
	src        source.Source
	extractor  *extract.Extractor
	opts       Options
	scorer     Scorer
	bucketizer Bucketizer
	logger     *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
}

// NewPipeline 创建推荐流程。
//
// 参数:
//
//	profile: 站点配置
//	src: 页面数据源（浏览器或静态 HTML）
//	opts: 流程阈值
//	logger: 日志，可以为 nil
func NewPipeline(profile *site.Profile, src source.Source, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if profile == nil {
		return nil, errors.New("site profile is required")
	}
	if src == nil {
		return nil, errors.New("page source is required")
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	bucketizer, err := BucketizerFor(opts.BucketPolicy)
	if err != nil {
		return nil, err
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("site", profile.ID))

	return &Pipeline{
		profile:    profile,
		src:        src,
		extractor:  extract.New(logger),
		opts:       opts,
		scorer:     Scorer{Weights: opts.Weights},
		bucketizer: bucketizer,
		logger:     logger,
		sleep:      sleepContext,
		jitter:     randomDelay,
	}, nil
}

// GetRecommendations 为 seedURL 指向的商品生成分组推荐。
//
// 只有种子商品不可读（*SeedError）或请求被取消时返回错误；
// 单个查询或单个候选的失败只会记录日志，结果中相应地少一些候选。
func (p *Pipeline) GetRecommendations(ctx context.Context, seedURL string, limit int) (*model.RecommendationResult, error) {
	limit = p.opts.ClampLimit(limit)

	seed, err := p.ReadSeed(ctx, seedURL)
	if err != nil {
		return nil, err
	}

	queries := BuildQueries(seed)
	if p.opts.MaxQueries > 0 && len(queries) > p.opts.MaxQueries {
		queries = queries[:p.opts.MaxQueries]
	}
	collected := p.collectAll(ctx, seedURL, queries)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect candidates: %w", err)
	}

	unique := Dedupe(collected, seed.Identifier, seed.URL)
	metrics.CandidatesTotal.WithLabelValues("deduped").Add(float64(len(unique)))

	first := p.scorer.Rank(seed, unique)
	candidates := make([]model.Product, len(first))
	for i, c := range first {
		candidates[i] = c.Product
	}
	enriched := p.Enrich(ctx, candidates, p.opts.EnrichTopK)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("enrich candidates: %w", err)
	}

	ranked := p.scorer.Rank(seed, enriched)
	if p.opts.MinScore > 0 {
		kept := ranked[:0]
		for _, c := range ranked {
			if c.Score >= p.opts.MinScore {
				kept = append(kept, c)
			}
		}
		ranked = kept
	}

	buckets := p.bucketizer.Bucketize(seed, ranked)
	groups, flat := Group(ranked, buckets, p.opts.GroupSize, limit)

	p.logger.Info("recommendations ready",
		slog.String("seed", seed.URL),
		slog.Int("queries", len(queries)),
		slog.Int("collected", len(collected)),
		slog.Int("unique", len(unique)),
		slog.Int("returned", len(flat)))

	return &model.RecommendationResult{
		Site:     p.profile.ID,
		InputURL: seedURL,
		Seed:     seed,
		Groups:   groups,
		Flat:     flat,
	}, nil
}

// visit 导航并记录访问耗时与结果。
func (p *Pipeline) visit(ctx context.Context, kind, rawURL string) (source.Page, error) {
	start := time.Now()
	page, err := p.src.Navigate(ctx, rawURL)
	metrics.PageVisitDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.PageVisitsTotal.WithLabelValues(kind, source.ClassifyError(err)).Inc()
	if err != nil {
		return nil, err
	}
	return page, nil
}

// readProduct 按 FieldSet 从节点中读取商品字段。URL 与 Identifier 由调用方决定。
func (p *Pipeline) readProduct(ctx context.Context, node source.Node, fields site.FieldSet) model.Product {
	prod := model.Product{
		Name:        p.extractor.Name(ctx, node, fields.Name),
		Brand:       p.extractor.String(ctx, node, fields.Brand),
		Price:       p.extractor.Price(ctx, node, fields.Price),
		Rating:      p.extractor.Rating(ctx, node, fields.Rating),
		RatingCount: p.extractor.RatingCount(ctx, node, fields.RatingCount),
		Image:       p.extractor.Image(ctx, node, fields.Image),
		Features:    p.extractor.Features(ctx, node, fields.Features, p.opts.MaxFeatures),
		Identifier:  p.extractor.Identifier(ctx, node, fields.Identifier),
	}
	if prod.Features == nil {
		prod.Features = []string{}
	}
	return prod
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
