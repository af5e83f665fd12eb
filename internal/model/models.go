package model

// Product 是种子商品与候选商品共用的数据结构。
//
// 数值字段使用指针表示可空：nil 表示未知，而不是 0。
type Product struct {
	Name        string   `json:"name"`                 // 规范化后的短标题
	Brand       string   `json:"brand,omitempty"`      // 品牌
	Price       *float64 `json:"price"`                // 统一数值单位的价格
	Rating      *float64 `json:"rating"`               // 0.0 - 5.0 评分
	RatingCount *int     `json:"ratingCount"`          // 评分人数
	Features    []string `json:"features"`             // 卖点短语（去重、保序、有上限）
	Image       string   `json:"image,omitempty"`      // 主图 URL
	Identifier  string   `json:"identifier,omitempty"` // 目录内稳定 ID（如 ASIN）
	URL         string   `json:"url"`                  // 去掉易变参数后的规范 URL
}

// Clone 返回深拷贝，避免共享指针字段。
func (p Product) Clone() Product {
	out := p
	if p.Price != nil {
		out.Price = Float(*p.Price)
	}
	if p.Rating != nil {
		out.Rating = Float(*p.Rating)
	}
	if p.RatingCount != nil {
		out.RatingCount = Int(*p.RatingCount)
	}
	if p.Features != nil {
		out.Features = make([]string, len(p.Features))
		copy(out.Features, p.Features)
	}
	return out
}

// NeedsEnrichment 报告 price / rating / ratingCount / image 中是否有缺失。
func (p Product) NeedsEnrichment() bool {
	return p.Price == nil || p.Rating == nil || p.RatingCount == nil || p.Image == ""
}

// FillMissing 用 extra 中的值填充 base 的空字段，已知值永远不会被覆盖。
//
// Identifier 与 URL 是去重键，不参与填充。
func FillMissing(base, extra Product) Product {
	out := base.Clone()
	if out.Name == "" {
		out.Name = extra.Name
	}
	if out.Brand == "" {
		out.Brand = extra.Brand
	}
	if len(out.Features) == 0 && len(extra.Features) > 0 {
		out.Features = append([]string(nil), extra.Features...)
	}
	if out.Price == nil && extra.Price != nil {
		out.Price = Float(*extra.Price)
	}
	if out.Rating == nil && extra.Rating != nil {
		out.Rating = Float(*extra.Rating)
	}
	if out.RatingCount == nil && extra.RatingCount != nil {
		out.RatingCount = Int(*extra.RatingCount)
	}
	if out.Image == "" {
		out.Image = extra.Image
	}
	return out
}

// ScoredCandidate 是带排序分数的候选商品，分数不参与序列化。
type ScoredCandidate struct {
	Product
	Score float64 `json:"-"`
}

// PriceBuckets 是按价格档位划分的三个互斥子集。
type PriceBuckets struct {
	Budget   []ScoredCandidate
	MidRange []ScoredCandidate
	Premium  []ScoredCandidate
}

// Groups 是返回给调用方的分组结果。
type Groups struct {
	TopRated     []Product `json:"topRated"`
	FeatureMatch []Product `json:"featureMatch"`
	Budget       []Product `json:"budget"`
	MidRange     []Product `json:"midRange"`
	Premium      []Product `json:"premium"`
}

// RecommendationResult 是一次推荐请求的完整结果。
type RecommendationResult struct {
	Site     string    `json:"site"`
	InputURL string    `json:"inputUrl"`
	Seed     Product   `json:"seed"`
	Groups   Groups    `json:"groups"`
	Flat     []Product `json:"flat"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
