package recs

import "altfinder/internal/model"

// Dedupe 合并多个查询收集到的候选商品。
//
// 两件商品都有 identifier 时按 identifier 判重，否则按规范 URL 判重；先出现的保留
// （收集顺序即查询优先级，品牌查询的结果优先）。identifier 等于 excludeIdentifier、
// URL 属于 excludeURLs 的候选，以及 identifier 与 URL 都缺失的候选会被丢弃。
func Dedupe(candidates []model.Product, excludeIdentifier string, excludeURLs ...string) []model.Product {
	excluded := make(map[string]struct{}, len(excludeURLs))
	for _, u := range excludeURLs {
		if u != "" {
			excluded[u] = struct{}{}
		}
	}

	byID := make(map[string]struct{}, len(candidates))
	byURL := make(map[string]struct{}, len(candidates))
	urlWithoutID := make(map[string]struct{})

	out := make([]model.Product, 0, len(candidates))
	for _, c := range candidates {
		if c.Identifier == "" && c.URL == "" {
			continue
		}
		if excludeIdentifier != "" && c.Identifier == excludeIdentifier {
			continue
		}
		if _, ok := excluded[c.URL]; ok && c.URL != "" {
			continue
		}

		if c.Identifier != "" {
			if _, dup := byID[c.Identifier]; dup {
				continue
			}
			if _, dup := urlWithoutID[c.URL]; dup && c.URL != "" {
				continue
			}
		} else if _, dup := byURL[c.URL]; dup {
			continue
		}

		if c.Identifier != "" {
			byID[c.Identifier] = struct{}{}
		} else {
			urlWithoutID[c.URL] = struct{}{}
		}
		if c.URL != "" {
			byURL[c.URL] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}
