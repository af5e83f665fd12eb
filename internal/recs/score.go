package recs

import (
	"fmt"
	"math"
	"sort"

	"altfinder/internal/model"
)

// Weights 是评分三个分量的权重，三者之和为 1。
type Weights struct {
	Text   float64
	Rating float64
	Price  float64
}

// WeightPresets 是具名的权重方案。canonical 为默认方案，legacy 保留旧版排序行为。
var WeightPresets = map[string]Weights{
	"canonical": {Text: 0.55, Rating: 0.30, Price: 0.15},
	"legacy":    {Text: 0.35, Rating: 0.35, Price: 0.30},
}

// Validate 检查权重范围与总和。
func (w Weights) Validate() error {
	for _, v := range []float64{w.Text, w.Rating, w.Price} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("weight %v out of range [0,1]", v)
		}
	}
	if sum := w.Text + w.Rating + w.Price; math.Abs(sum-1) > 1e-3 {
		return fmt.Errorf("weights must sum to 1, got %.3f", sum)
	}
	return nil
}

// ResolveWeights 按名称查找权重方案；name 为 "custom" 时使用 custom。
func ResolveWeights(name string, custom *Weights) (Weights, error) {
	if name == "" {
		name = "canonical"
	}
	if name == "custom" {
		if custom == nil {
			return Weights{}, fmt.Errorf("custom weights not provided")
		}
		if err := custom.Validate(); err != nil {
			return Weights{}, err
		}
		return *custom, nil
	}
	w, ok := WeightPresets[name]
	if !ok {
		return Weights{}, fmt.Errorf("unknown weight preset %q", name)
	}
	return w, nil
}

// Scorer 计算候选商品与种子的综合相似度，结果在 [0, 1] 区间。
type Scorer struct {
	Weights Weights
}

// Score 返回 seed 与 candidate 的综合分数。
//
// 分量：
//   - 文本：标题与卖点词元集合的 Jaccard 系数
//   - 评分：rating / 5，未知为 0
//   - 价格：max(0, 1 - |Δ| / seedPrice)，任一方价格未知为 0
func (s Scorer) Score(seed, candidate model.Product) float64 {
	score := s.Weights.Text*TextSimilarity(seed, candidate) +
		s.Weights.Rating*RatingComponent(candidate) +
		s.Weights.Price*PriceProximity(seed, candidate)
	return clamp01(score)
}

// Rank 为所有候选打分并排序。
//
// 排序规则：分数降序，其次评分人数降序（未知视为最少），再按 identifier、url 字典序。
// 相同输入总是得到相同顺序。
func (s Scorer) Rank(seed model.Product, candidates []model.Product) []model.ScoredCandidate {
	ranked := make([]model.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, model.ScoredCandidate{Product: c, Score: s.Score(seed, c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankLess(ranked[i], ranked[j])
	})
	return ranked
}

func rankLess(a, b model.ScoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ca, cb := countOrNone(a.RatingCount), countOrNone(b.RatingCount); ca != cb {
		return ca > cb
	}
	if a.Identifier != b.Identifier {
		return a.Identifier < b.Identifier
	}
	return a.URL < b.URL
}

func countOrNone(c *int) int {
	if c == nil {
		return -1
	}
	return *c
}

// TextSimilarity 计算两件商品标题与卖点词元的 Jaccard 系数。
func TextSimilarity(a, b model.Product) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(p model.Product) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(p.Name) {
		set[t] = struct{}{}
	}
	for _, f := range p.Features {
		for _, t := range Tokenize(f) {
			set[t] = struct{}{}
		}
	}
	return set
}

// RatingComponent 返回 rating / 5，未知时为 0。
func RatingComponent(c model.Product) float64 {
	if c.Rating == nil {
		return 0
	}
	return clamp01(*c.Rating / 5)
}

// PriceProximity 返回价格接近程度，任一方价格未知或种子价格非正时为 0。
func PriceProximity(seed, c model.Product) float64 {
	if seed.Price == nil || c.Price == nil || *seed.Price <= 0 {
		return 0
	}
	return math.Max(0, 1-math.Abs(*c.Price-*seed.Price)/(*seed.Price))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
