// Package site 描述每个电商站点的取值策略、列表页结构以及 URL 规则。
//
// 策略顺序是数据而不是代码：同一个站点的不同取值顺序或列表结构变化，只需要修改 Profile。
package site

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"altfinder/internal/extract"
	"altfinder/internal/source"
)

// ErrUnsupportedSite 表示 URL 或站点 ID 没有对应的 Profile。
var ErrUnsupportedSite = errors.New("unsupported site")

// FieldSet 是一组字段的取值策略链。空链表示该字段在此页面上不可用。
type FieldSet struct {
	Name        []extract.Strategy
	Brand       []extract.Strategy
	Price       []extract.Strategy
	Rating      []extract.Strategy
	RatingCount []extract.Strategy
	Image       []extract.Strategy
	Features    []extract.Strategy
	Identifier  []extract.Strategy
	Link        []extract.Strategy
}

// ListingSpec 描述搜索结果页。
type ListingSpec struct {
	Entries   string             // 每个结果卡片的选择器
	Sponsored []extract.Strategy // 任一策略命中即视为推广位
	Fields    FieldSet           // 相对于卡片的取值策略
}

// Profile 是一个站点的完整配置。
type Profile struct {
	ID          string
	DefaultHost string
	Hosts       *regexp.Regexp // 匹配主机名

	Seed      FieldSet // 商品详情页
	Alternate FieldSet // 精简/移动版详情页
	Enrich    FieldSet // 候选商品回访，默认与 Seed 相同
	Listing   ListingSpec

	SearchPath    string // 例如 "/s"
	SearchParam   string // 例如 "k"
	AlternatePath string // 含一个 %s 占位符，例如 "/gp/aw/d/%s"
	ProductPath   string // 含一个 %s 占位符，例如 "/dp/%s"
	IdentifierRe  *regexp.Regexp

	Source source.Profile
}

// Match 判断 URL 是否属于该站点。
func (p *Profile) Match(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return false
	}
	return p.Hosts != nil && p.Hosts.MatchString(strings.ToLower(u.Hostname()))
}

// EnrichFields 返回回访使用的策略，未单独配置时复用 Seed。
func (p *Profile) EnrichFields() FieldSet {
	if len(p.Enrich.Name) == 0 && len(p.Enrich.Price) == 0 {
		return p.Seed
	}
	return p.Enrich
}
