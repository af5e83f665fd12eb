package recs

import (
	"context"
	"fmt"
	"log/slog"

	"altfinder/internal/model"
	"altfinder/internal/pkg/metrics"
)

// Collect 打开 query 的搜索结果页，读取前 limit 个结果卡片（推广位也占用名额，但会被跳过）。
//
// 参数:
//
//	seedURL: 种子商品 URL，决定搜索所在的站点域名
//	query: 搜索关键词
//	limit: 最多检查的卡片数
//
// 返回值:
//
//	[]model.Product: 非推广的候选商品，顺序与页面一致
//	error: 搜索页无法打开或读取时返回错误
func (p *Pipeline) Collect(ctx context.Context, seedURL, query string, limit int) ([]model.Product, error) {
	searchURL := p.profile.SearchURL(seedURL, query)
	page, err := p.visit(ctx, visitSearch, searchURL)
	if err != nil {
		return nil, fmt.Errorf("open search page: %w", err)
	}
	defer page.Close()

	entries, err := page.All(ctx, p.profile.Listing.Entries)
	if err != nil {
		return nil, fmt.Errorf("list search entries: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	fields := p.profile.Listing.Fields
	out := make([]model.Product, 0, len(entries))
	sponsored := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if _, ok := p.extractor.Extract(ctx, entry, p.profile.Listing.Sponsored, nil); ok {
			sponsored++
			continue
		}

		prod := p.readProduct(ctx, entry, fields)
		prod.URL = p.profile.CanonicalURL(p.extractor.String(ctx, entry, fields.Link), page.URL())
		if prod.URL == "" && prod.Identifier != "" {
			prod.URL = p.profile.ProductURL(page.URL(), prod.Identifier)
		}
		if prod.Identifier == "" && prod.URL != "" {
			prod.Identifier = p.profile.IdentifierFromURL(prod.URL)
		}
		if prod.Name == "" && prod.URL == "" {
			continue
		}
		out = append(out, prod)
	}

	metrics.CandidatesTotal.WithLabelValues("sponsored").Add(float64(sponsored))
	metrics.CandidatesTotal.WithLabelValues("collected").Add(float64(len(out)))
	p.logger.Debug("search page collected",
		slog.String("query", query),
		slog.Int("entries", len(entries)),
		slog.Int("sponsored", sponsored),
		slog.Int("candidates", len(out)))
	return out, nil
}

// collectAll 依次执行所有查询，查询之间随机等待。失败的查询只记录日志。
func (p *Pipeline) collectAll(ctx context.Context, seedURL string, queries []string) []model.Product {
	var all []model.Product
	for i, q := range queries {
		if i > 0 {
			if err := p.sleep(ctx, p.jitter(p.opts.QueryDelayMin, p.opts.QueryDelayMax)); err != nil {
				break
			}
		}
		found, err := p.Collect(ctx, seedURL, q, p.opts.ListingCap)
		if err != nil {
			metrics.CollectionFailuresTotal.Inc()
			p.logger.Warn("collect query failed",
				slog.String("query", q),
				slog.String("error", err.Error()))
			continue
		}
		all = append(all, found...)
	}
	return all
}
