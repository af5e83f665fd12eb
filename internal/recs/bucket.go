package recs

import (
	"fmt"
	"math"
	"sort"

	"altfinder/internal/model"
)

// 价格分档策略名称。
const (
	BucketQuantile  = "quantile"
	BucketSeedRatio = "seed_ratio"
)

// Bucketizer 把排好序的候选划分为三个互斥的价格档位，档内保持原有顺序。
type Bucketizer interface {
	Bucketize(seed model.Product, ranked []model.ScoredCandidate) model.PriceBuckets
}

// BucketizerFor 按名称返回分档策略。
func BucketizerFor(policy string) (Bucketizer, error) {
	switch policy {
	case "", BucketQuantile:
		return QuantileBuckets{}, nil
	case BucketSeedRatio:
		return SeedRatioBuckets{Low: 0.6, High: 1.4}, nil
	}
	return nil, fmt.Errorf("unknown bucket policy %q", policy)
}

// QuantileBuckets 以候选已知价格的第 33 与第 66 百分位为界：
// price ≤ p33 为 budget，p33 < price ≤ p66 为 midRange，price > p66 为 premium。
// 价格未知的候选一律归入 midRange。
type QuantileBuckets struct{}

func (QuantileBuckets) Bucketize(_ model.Product, ranked []model.ScoredCandidate) model.PriceBuckets {
	prices := make([]float64, 0, len(ranked))
	for _, c := range ranked {
		if c.Price != nil && *c.Price > 0 {
			prices = append(prices, *c.Price)
		}
	}
	sort.Float64s(prices)
	p33 := Percentile(prices, 33)
	p66 := Percentile(prices, 66)

	return partition(ranked, func(price float64) tier {
		switch {
		case price <= p33:
			return tierBudget
		case price <= p66:
			return tierMid
		default:
			return tierPremium
		}
	})
}

// SeedRatioBuckets 按候选价格与种子价格之比分档：≤ Low 为 budget，≤ High 为 midRange，其余为 premium。
// 种子价格未知时全部归入 midRange。
type SeedRatioBuckets struct {
	Low  float64
	High float64
}

func (b SeedRatioBuckets) Bucketize(seed model.Product, ranked []model.ScoredCandidate) model.PriceBuckets {
	if seed.Price == nil || *seed.Price <= 0 {
		return partition(ranked, func(float64) tier { return tierMid })
	}
	base := *seed.Price
	return partition(ranked, func(price float64) tier {
		ratio := price / base
		switch {
		case ratio <= b.Low:
			return tierBudget
		case ratio <= b.High:
			return tierMid
		default:
			return tierPremium
		}
	})
}

// Percentile 使用最近秩法计算已排序切片的第 p 百分位，空切片返回 NaN。
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

type tier int

const (
	tierBudget tier = iota
	tierMid
	tierPremium
)

func partition(ranked []model.ScoredCandidate, classify func(price float64) tier) model.PriceBuckets {
	b := model.PriceBuckets{
		Budget:   []model.ScoredCandidate{},
		MidRange: []model.ScoredCandidate{},
		Premium:  []model.ScoredCandidate{},
	}
	for _, c := range ranked {
		t := tierMid
		if c.Price != nil && *c.Price > 0 {
			t = classify(*c.Price)
		}
		switch t {
		case tierBudget:
			b.Budget = append(b.Budget, c)
		case tierPremium:
			b.Premium = append(b.Premium, c)
		default:
			b.MidRange = append(b.MidRange, c)
		}
	}
	return b
}
