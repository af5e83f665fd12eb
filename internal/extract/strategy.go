package extract

import "regexp"

// Kind 取值方式。
type Kind string

const (
	KindText     Kind = "text"     // 读取选择器文本
	KindAttr     Kind = "attr"     // 依次读取选择器的若干属性
	KindExists   Kind = "exists"   // 选择器存在即命中，值为 "1"
	KindMetadata Kind = "metadata" // 读取 JSON-LD 中的字段
	KindBody     Kind = "body"     // 对正文文本做正则扫描
	KindURL      Kind = "url"      // 读取页面 URL（通常配合 Pattern）
)

// Strategy 描述一种取值方式。策略按顺序尝试，第一个通过校验的值胜出。
//
// Pattern 可选：设置后原始值先经过正则，取第一个捕获组（没有捕获组则取整个匹配）。
type Strategy struct {
	Kind     Kind
	Selector string
	Attrs    []string
	Field    MetadataField
	Pattern  *regexp.Regexp
}

// Text reads the text content of selector.
func Text(selector string) Strategy {
	return Strategy{Kind: KindText, Selector: selector}
}

// Attr reads the first usable attribute of selector, trying attrs in order.
func Attr(selector string, attrs ...string) Strategy {
	return Strategy{Kind: KindAttr, Selector: selector, Attrs: attrs}
}

// Exists hits when selector matches at least one element.
func Exists(selector string) Strategy {
	return Strategy{Kind: KindExists, Selector: selector}
}

// Metadata reads a typed field of the page's structured product metadata.
func Metadata(field MetadataField) Strategy {
	return Strategy{Kind: KindMetadata, Field: field}
}

// BodyRegex scans the visible body text.
func BodyRegex(pattern string) Strategy {
	return Strategy{Kind: KindBody, Pattern: regexp.MustCompile(pattern)}
}

// URLRegex matches against the page URL.
func URLRegex(pattern string) Strategy {
	return Strategy{Kind: KindURL, Pattern: regexp.MustCompile(pattern)}
}

// Match returns a copy of s that post-processes the raw value with pattern.
func (s Strategy) Match(pattern string) Strategy {
	s.Pattern = regexp.MustCompile(pattern)
	return s
}

func applyPattern(re *regexp.Regexp, raw string) string {
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		for _, g := range m[1:] {
			if g != "" {
				return g
			}
		}
		return ""
	}
	return m[0]
}
