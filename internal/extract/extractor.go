package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"altfinder/internal/source"
)

// Rule 对一个原始取值做规范化和校验。attr 是读取该值的属性名（文本策略为空）。
// 返回 false 表示这个策略没有命中，继续尝试下一个。
type Rule func(attr, raw string) (string, bool)

// Extractor 按顺序执行取值策略，返回第一个通过校验的值。
//
// 任何策略的失败（选择器不存在、属性为空、元数据缺失、甚至实现层 panic）都只会让它跳过，
// 不会传播给调用方。
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor. logger may be nil.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

type hit struct {
	attr string
	raw  string
}

// Extract 返回字段的第一个有效值。rule 为 nil 时使用 NonEmpty。
func (e *Extractor) Extract(ctx context.Context, node source.Node, chain []Strategy, rule Rule) (string, bool) {
	if rule == nil {
		rule = NonEmpty
	}
	for i, st := range chain {
		if ctx.Err() != nil {
			return "", false
		}
		for _, h := range e.read(ctx, node, st) {
			raw := h.raw
			if st.Pattern != nil && st.Kind != KindBody && st.Kind != KindURL {
				raw = applyPattern(st.Pattern, raw)
			}
			if raw == "" {
				continue
			}
			if v, ok := rule(h.attr, raw); ok {
				if e.logger != nil {
					e.logger.Debug("field strategy hit",
						slog.Int("index", i),
						slog.String("kind", string(st.Kind)),
						slog.String("selector", st.Selector))
				}
				return v, true
			}
		}
	}
	return "", false
}

// ExtractAll 返回多值字段（如卖点列表）：使用第一个至少产出一个有效值的策略，结果去重、保序并截断到 limit。
func (e *Extractor) ExtractAll(ctx context.Context, node source.Node, chain []Strategy, rule Rule, limit int) []string {
	if rule == nil {
		rule = NonEmpty
	}
	for _, st := range chain {
		if ctx.Err() != nil {
			return nil
		}
		if st.Kind != KindText {
			if v, ok := e.Extract(ctx, node, []Strategy{st}, rule); ok {
				return []string{v}
			}
			continue
		}

		items, err := node.All(ctx, st.Selector)
		if err != nil || len(items) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(items))
		out := make([]string, 0, len(items))
		for _, item := range items {
			if limit > 0 && len(out) >= limit {
				break
			}
			raw, err := item.Text(ctx, "")
			if err != nil {
				continue
			}
			if st.Pattern != nil {
				raw = applyPattern(st.Pattern, raw)
			}
			v, ok := rule("", raw)
			if !ok {
				continue
			}
			key := strings.ToLower(v)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// read 执行单个策略，返回若干候选原始值。所有错误与 panic 都在这里被吞掉。
func (e *Extractor) read(ctx context.Context, node source.Node, st Strategy) (hits []hit) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Warn("field strategy panic recovered",
					slog.String("kind", string(st.Kind)),
					slog.String("selector", st.Selector),
					slog.String("panic", fmt.Sprint(r)))
			}
			hits = nil
		}
	}()

	switch st.Kind {
	case KindText:
		if v, err := node.Text(ctx, st.Selector); err == nil {
			hits = append(hits, hit{raw: v})
		}
	case KindAttr:
		for _, name := range st.Attrs {
			if v, err := node.Attr(ctx, st.Selector, name); err == nil && v != "" {
				hits = append(hits, hit{attr: name, raw: v})
			}
		}
	case KindExists:
		if n, err := node.Count(ctx, st.Selector); err == nil && n > 0 {
			hits = append(hits, hit{raw: "1"})
		}
	case KindMetadata:
		page, ok := node.(source.Page)
		if !ok {
			return nil
		}
		blobs, err := page.StructuredMetadata(ctx)
		if err != nil {
			return nil
		}
		if v, ok := ParseProductMetadata(blobs).Value(st.Field); ok {
			hits = append(hits, hit{raw: v})
		}
	case KindBody:
		page, ok := node.(source.Page)
		if !ok || st.Pattern == nil {
			return nil
		}
		body, err := page.BodyText(ctx)
		if err != nil {
			return nil
		}
		if v := applyPattern(st.Pattern, body); v != "" {
			hits = append(hits, hit{raw: v})
		}
	case KindURL:
		page, ok := node.(source.Page)
		if !ok {
			return nil
		}
		v := page.URL()
		if st.Pattern != nil {
			v = applyPattern(st.Pattern, v)
		}
		if v != "" {
			hits = append(hits, hit{raw: v})
		}
	}
	return hits
}

// String 读取文本类字段。
func (e *Extractor) String(ctx context.Context, node source.Node, chain []Strategy) string {
	v, _ := e.Extract(ctx, node, chain, NonEmpty)
	return v
}

// Name 读取标题并去掉分隔符后的修饰部分。
func (e *Extractor) Name(ctx context.Context, node source.Node, chain []Strategy) string {
	v, _ := e.Extract(ctx, node, chain, NameRule)
	return v
}

// Price 读取价格，未知时返回 nil。
func (e *Extractor) Price(ctx context.Context, node source.Node, chain []Strategy) *float64 {
	v, ok := e.Extract(ctx, node, chain, PriceRule)
	if !ok {
		return nil
	}
	n, ok := ParseNumber(v)
	if !ok {
		return nil
	}
	return &n
}

// Rating 读取 0-5 评分，未知时返回 nil。
func (e *Extractor) Rating(ctx context.Context, node source.Node, chain []Strategy) *float64 {
	v, ok := e.Extract(ctx, node, chain, RatingRule)
	if !ok {
		return nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &n
}

// RatingCount 读取评分人数，未知时返回 nil。
func (e *Extractor) RatingCount(ctx context.Context, node source.Node, chain []Strategy) *int {
	v, ok := e.Extract(ctx, node, chain, CountRule)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

// Image 读取图片 URL。
func (e *Extractor) Image(ctx context.Context, node source.Node, chain []Strategy) string {
	v, _ := e.Extract(ctx, node, chain, ImageRule)
	return v
}

// Features 读取卖点短语列表。
func (e *Extractor) Features(ctx context.Context, node source.Node, chain []Strategy, limit int) []string {
	return e.ExtractAll(ctx, node, chain, FeatureRule, limit)
}

// Identifier 读取目录 ID（统一为大写）。
func (e *Extractor) Identifier(ctx context.Context, node source.Node, chain []Strategy) string {
	v, _ := e.Extract(ctx, node, chain, IdentifierRule)
	return v
}

// NonEmpty accepts any non-blank value.
func NonEmpty(_, raw string) (string, bool) {
	v := CleanText(raw)
	return v, v != ""
}

// NameRule 规范化标题。
func NameRule(_, raw string) (string, bool) {
	v := DeriveName(raw)
	return v, v != ""
}

// PriceRule 接受像价格的文本或已规范化的纯数字，拒绝促销文案，输出规范化数字。
func PriceRule(_, raw string) (string, bool) {
	if !LooksLikePrice(raw) && !IsPlainNumber(raw) {
		return "", false
	}
	n, ok := ParseNumber(raw)
	if !ok || n <= 0 {
		return "", false
	}
	return FormatNumber(n), true
}

// RatingRule 输出 (0, 5] 范围内的评分。
func RatingRule(_, raw string) (string, bool) {
	v, ok := ParseRating(raw)
	if !ok {
		return "", false
	}
	return FormatNumber(v), true
}

// CountRule 输出非负整数。
func CountRule(_, raw string) (string, bool) {
	n, ok := ParseCount(raw)
	if !ok {
		return "", false
	}
	return strconv.Itoa(n), true
}

// ImageRule 解析图片属性并只接受 http(s) 或协议相对 URL。
func ImageRule(attr, raw string) (string, bool) {
	v := ParseImageAttr(attr, raw)
	switch {
	case strings.HasPrefix(v, "//"):
		return "https:" + v, true
	case strings.HasPrefix(v, "http://"), strings.HasPrefix(v, "https://"):
		return v, true
	}
	return "", false
}

// FeatureRule 接受长度合理的短语。
func FeatureRule(_, raw string) (string, bool) {
	v := CleanText(raw)
	if len([]rune(v)) < 3 || len(v) > 300 {
		return "", false
	}
	return v, true
}

// IdentifierRule 接受由字母和数字组成的 ID。
func IdentifierRule(_, raw string) (string, bool) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if v == "" {
		return "", false
	}
	for _, r := range v {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' {
			return "", false
		}
	}
	return v, true
}
