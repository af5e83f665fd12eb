package recs

import (
	"context"
	"log/slog"

	"altfinder/internal/model"
)

// ReadSeed 读取种子商品。
//
// 先访问详情页；标题或价格缺失时（或详情页无法打开时）再尝试精简版详情页补全，
// 已读到的值不会被覆盖。两个页面都拿不到标题时返回 *SeedError。
func (p *Pipeline) ReadSeed(ctx context.Context, seedURL string) (model.Product, error) {
	seed := model.Product{
		URL:        p.profile.CanonicalURL(seedURL, seedURL),
		Identifier: p.profile.IdentifierFromURL(seedURL),
		Features:   []string{},
	}
	if seed.URL == "" {
		seed.URL = seedURL
	}

	page, navErr := p.visit(ctx, visitSeed, seedURL)
	if navErr == nil {
		read := p.readProduct(ctx, page, p.profile.Seed)
		_ = page.Close()
		seed = mergeSeed(seed, read)
	} else {
		p.logger.Warn("seed page unavailable",
			slog.String("url", seedURL),
			slog.String("error", navErr.Error()))
	}

	if !p.opts.DisableAlternate && (seed.Name == "" || seed.Price == nil) {
		if altURL, ok := p.profile.AlternateURL(seedURL, seed.Identifier); ok {
			seed = p.readAlternate(ctx, seed, altURL)
		}
	}

	if seed.Name == "" {
		if err := ctx.Err(); err != nil {
			return model.Product{}, &SeedError{URL: seedURL, Err: err}
		}
		if navErr != nil {
			return model.Product{}, &SeedError{URL: seedURL, Err: navErr}
		}
		return model.Product{}, &SeedError{URL: seedURL, Err: ErrSeedNameMissing}
	}
	return seed, nil
}

func (p *Pipeline) readAlternate(ctx context.Context, seed model.Product, altURL string) model.Product {
	page, err := p.visit(ctx, visitAlternate, altURL)
	if err != nil {
		p.logger.Warn("alternate page unavailable",
			slog.String("url", altURL),
			slog.String("error", err.Error()))
		return seed
	}
	defer page.Close()

	alt := p.readProduct(ctx, page, p.profile.Alternate)
	p.logger.Debug("seed filled from alternate page",
		slog.String("url", altURL),
		slog.Bool("name", seed.Name == "" && alt.Name != ""),
		slog.Bool("price", seed.Price == nil && alt.Price != nil))
	return model.FillMissing(seed, alt)
}

// mergeSeed 合并详情页读到的字段；页面上的标识优先于 URL 中解析出的标识。
func mergeSeed(base, read model.Product) model.Product {
	out := model.FillMissing(base, read)
	if read.Identifier != "" {
		out.Identifier = read.Identifier
	}
	return out
}
