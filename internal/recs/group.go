package recs

import (
	"sort"

	"altfinder/internal/model"
)

// Group 组装返回给调用方的分组与扁平列表。
//
// 参数:
//
//	ranked: 最终排序后的候选
//	buckets: 价格分档结果
//	groupSize: 每个分组的上限
//	limit: 扁平列表的上限，同时也限制每个分组
//
// 返回值:
//
//	model.Groups: topRated / featureMatch / budget / midRange / premium
//	[]model.Product: 按分数排序的扁平列表
func Group(ranked []model.ScoredCandidate, buckets model.PriceBuckets, groupSize, limit int) (model.Groups, []model.Product) {
	if limit > 0 && (groupSize <= 0 || limit < groupSize) {
		groupSize = limit
	}

	rated := make([]model.ScoredCandidate, 0, len(ranked))
	for _, c := range ranked {
		if c.Rating != nil {
			rated = append(rated, c)
		}
	}
	sort.SliceStable(rated, func(i, j int) bool {
		if *rated[i].Rating != *rated[j].Rating {
			return *rated[i].Rating > *rated[j].Rating
		}
		return countOrNone(rated[i].RatingCount) > countOrNone(rated[j].RatingCount)
	})

	groups := model.Groups{
		TopRated:     products(rated, groupSize),
		FeatureMatch: products(ranked, groupSize),
		Budget:       products(buckets.Budget, groupSize),
		MidRange:     products(buckets.MidRange, groupSize),
		Premium:      products(buckets.Premium, groupSize),
	}
	return groups, products(ranked, limit)
}

// products 去掉分数并截断到 n（n ≤ 0 表示不截断）。结果永远不为 nil。
func products(list []model.ScoredCandidate, n int) []model.Product {
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	out := make([]model.Product, 0, len(list))
	for _, c := range list {
		out = append(out, c.Product)
	}
	return out
}
