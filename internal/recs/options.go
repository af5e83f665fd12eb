package recs

import (
	"fmt"
	"time"

	"altfinder/internal/config"
)

// Options 控制推荐流程的各项阈值。零值不可用，请从 DefaultOptions 或 OptionsFromConfig 获取。
type Options struct {
	ListingCap        int           // 每个搜索页最多检查的结果数（含推广位）
	MaxQueries        int           // 最多执行的搜索查询数
	QueryDelayMin     time.Duration // 查询之间的随机延迟
	QueryDelayMax     time.Duration
	EnrichTopK        int // 第一次排序后回访的候选数
	EnrichConcurrency int
	EnrichTimeout     time.Duration
	GroupSize         int
	DefaultLimit      int
	MinLimit          int
	MaxLimit          int
	MaxFeatures       int
	Weights           Weights
	BucketPolicy      string
	MinScore          float64
	DisableAlternate  bool
}

// DefaultOptions 返回生产环境使用的默认值。
func DefaultOptions() Options {
	return Options{
		ListingCap:        36,
		MaxQueries:        2,
		QueryDelayMin:     800 * time.Millisecond,
		QueryDelayMax:     1600 * time.Millisecond,
		EnrichTopK:        15,
		EnrichConcurrency: 3,
		EnrichTimeout:     45 * time.Second,
		GroupSize:         5,
		DefaultLimit:      15,
		MinLimit:          5,
		MaxLimit:          50,
		MaxFeatures:       10,
		Weights:           WeightPresets["canonical"],
		BucketPolicy:      BucketQuantile,
	}
}

// OptionsFromConfig 把配置文件中的 pipeline 段转换为 Options。
func OptionsFromConfig(cfg config.PipelineConfig) (Options, error) {
	var custom *Weights
	if cfg.CustomWeights != nil {
		custom = &Weights{
			Text:   cfg.CustomWeights.Text,
			Rating: cfg.CustomWeights.Rating,
			Price:  cfg.CustomWeights.Price,
		}
	}
	weights, err := ResolveWeights(cfg.Weights, custom)
	if err != nil {
		return Options{}, fmt.Errorf("resolve weights: %w", err)
	}
	if _, err := BucketizerFor(cfg.BucketPolicy); err != nil {
		return Options{}, err
	}

	return Options{
		ListingCap:        cfg.ListingCap,
		MaxQueries:        cfg.MaxQueries,
		QueryDelayMin:     cfg.QueryDelayMin,
		QueryDelayMax:     cfg.QueryDelayMax,
		EnrichTopK:        cfg.EnrichTopK,
		EnrichConcurrency: cfg.EnrichConcurrency,
		EnrichTimeout:     cfg.EnrichTimeout,
		GroupSize:         cfg.GroupSize,
		DefaultLimit:      cfg.DefaultLimit,
		MinLimit:          cfg.MinLimit,
		MaxLimit:          cfg.MaxLimit,
		MaxFeatures:       cfg.MaxFeatures,
		Weights:           weights,
		BucketPolicy:      cfg.BucketPolicy,
		MinScore:          cfg.MinScore,
		DisableAlternate:  cfg.DisableAlternate,
	}, nil
}

// ClampLimit 把调用方传入的 limit 收敛到 [MinLimit, MaxLimit]，非正数使用 DefaultLimit。
func (o Options) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = o.DefaultLimit
	}
	if limit < o.MinLimit {
		limit = o.MinLimit
	}
	if o.MaxLimit > 0 && limit > o.MaxLimit {
		limit = o.MaxLimit
	}
	return limit
}
