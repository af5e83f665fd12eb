package recs

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"altfinder/internal/model"
	"altfinder/internal/pkg/metrics"
)

// Enrich 回访前 topK 个候选的详情页，补全缺失的价格、评分、评分人数与图片。
//
// 最多 EnrichConcurrency 个页面同时打开。字段已完整或没有 URL 的候选不会被访问。
// 回访失败的候选保持原样；已知字段永远不会被覆盖。返回切片与输入等长、顺序一致。
func (p *Pipeline) Enrich(ctx context.Context, candidates []model.Product, topK int) []model.Product {
	out := make([]model.Product, len(candidates))
	copy(out, candidates)
	if topK > len(out) {
		topK = len(out)
	}

	var g errgroup.Group
	g.SetLimit(p.opts.EnrichConcurrency)

	for i := 0; i < topK; i++ {
		c := out[i]
		if !c.NeedsEnrichment() || c.URL == "" {
			metrics.EnrichmentTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out[i] = p.enrichOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pipeline) enrichOne(ctx context.Context, c model.Product) model.Product {
	taskCtx, cancel := context.WithTimeout(ctx, p.opts.EnrichTimeout)
	defer cancel()

	page, err := p.visit(taskCtx, visitEnrich, c.URL)
	if err != nil {
		metrics.EnrichmentTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("enrichment failed",
			slog.String("url", c.URL),
			slog.String("error", err.Error()))
		return c
	}
	defer page.Close()

	extra := p.readProduct(taskCtx, page, p.profile.EnrichFields())
	filled := model.FillMissing(c, extra)
	if sameKnown(c, filled) {
		metrics.EnrichmentTotal.WithLabelValues("unchanged").Inc()
	} else {
		metrics.EnrichmentTotal.WithLabelValues("filled").Inc()
	}
	return filled
}

func sameKnown(a, b model.Product) bool {
	return (a.Price == nil) == (b.Price == nil) &&
		(a.Rating == nil) == (b.Rating == nil) &&
		(a.RatingCount == nil) == (b.RatingCount == nil) &&
		a.Image == b.Image
}
