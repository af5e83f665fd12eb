package site

import (
	"fmt"
	"net/url"
	"strings"
)

// host 返回 seedURL 的主机名；无法解析时使用站点默认主机。
//
// 搜索与备用页面始终建立在种子所在的站点上（amazon.in / amazon.de 等）。
func (p *Profile) host(seedURL string) string {
	u, err := url.Parse(strings.TrimSpace(seedURL))
	if err != nil || u.Hostname() == "" || !p.Match(seedURL) {
		return p.DefaultHost
	}
	return u.Host
}

// SearchURL 构造搜索结果页的 URL。
//
// 参数:
//
//	seedURL: 种子商品 URL，用于确定站点域名
//	query: 搜索关键词
//
// 返回值:
//
//	string: 完整的搜索 URL
func (p *Profile) SearchURL(seedURL, query string) string {
	values := url.Values{}
	values.Set(p.SearchParam, strings.TrimSpace(query))

	qs := values.Encode()
	qs = strings.ReplaceAll(qs, "+", "%20")
	return fmt.Sprintf("https://%s%s?%s", p.host(seedURL), p.SearchPath, qs)
}

// AlternateURL 构造精简版详情页的 URL。站点没有精简版或标识未知时返回 false。
func (p *Profile) AlternateURL(seedURL, identifier string) (string, bool) {
	if p.AlternatePath == "" || identifier == "" {
		return "", false
	}
	return "https://" + p.host(seedURL) + fmt.Sprintf(p.AlternatePath, url.PathEscape(identifier)), true
}

// IdentifierFromURL 从 URL 路径中提取商品标识，找不到时返回空字符串。
func (p *Profile) IdentifierFromURL(rawURL string) string {
	if p.IdentifierRe == nil {
		return ""
	}
	m := p.IdentifierRe.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return ""
	}
	return strings.ToUpper(m[1])
}

// CanonicalURL 把列表页中的相对链接解析为绝对地址，并去掉易变的查询参数。
//
// 能识别商品标识时返回 https://{host}/dp/{id} 形式；否则仅去掉 query 与 fragment。
// 无法解析的链接返回空字符串。
func (p *Profile) CanonicalURL(href, baseURL string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Host == "" {
		base = &url.URL{Scheme: "https", Host: p.DefaultHost}
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}

	if p.ProductPath != "" {
		if id := p.IdentifierFromURL(abs.Path); id != "" {
			return "https://" + abs.Host + fmt.Sprintf(p.ProductPath, id)
		}
	}
	abs.RawQuery = ""
	abs.Fragment = ""
	return abs.String()
}

// ProductURL 由商品标识构造规范详情页 URL；站点不支持时返回空字符串。
func (p *Profile) ProductURL(baseURL, identifier string) string {
	if p.ProductPath == "" || identifier == "" {
		return ""
	}
	return p.CanonicalURL(fmt.Sprintf(p.ProductPath, url.PathEscape(identifier)), baseURL)
}
