package recs

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"altfinder/internal/extract"
	"altfinder/internal/model"
)

const (
	maxQueryTokens = 6
	brandTokens    = 4
	minTokenLength = 3
)

var (
	yearTokenRe = regexp.MustCompile(`^(19|20)\d\d$`)

	stopWords = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "for": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {},
		"with": {}, "by": {}, "from": {}, "plus": {}, "pro": {}, "max": {}, "mini": {}, "new": {},
		"gb": {}, "tb": {}, "ram": {}, "rom": {}, "phone": {}, "mobile": {}, "smartphone": {},
		"official": {}, "store": {}, "lifetime": {}, "warranty": {},
	}
)

// Tokenize 把文本转换为用于检索与相似度计算的词元。
//
// 规则：转小写，非字母数字字符视为分隔符，丢弃长度小于 3 的词、停用词与年份，
// 按首次出现的顺序去重。
func Tokenize(s string) []string {
	fields := words(s)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenLength || yearTokenRe.MatchString(f) {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// words 转小写并按非字母数字字符切分，不做过滤。
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// BuildQueries 从种子商品生成至多两条搜索词：品牌 + 前 4 个词元（品牌已知时），以及前 6 个词元。
//
// 词元为空时退化为原始标题。结果去重，顺序即优先级。
func BuildQueries(seed model.Product) []string {
	tokens := Tokenize(seed.Name)
	if len(tokens) > maxQueryTokens {
		tokens = tokens[:maxQueryTokens]
	}

	var queries []string
	// 品牌保留短词（如 "LG"），只去掉标点与符号
	if brand := strings.Join(words(extract.CleanText(seed.Brand)), " "); brand != "" {
		skip := make(map[string]struct{})
		for _, t := range Tokenize(brand) {
			skip[t] = struct{}{}
		}
		rest := make([]string, 0, brandTokens)
		for _, t := range tokens {
			if len(rest) == brandTokens {
				break
			}
			if _, ok := skip[t]; !ok {
				rest = append(rest, t)
			}
		}
		queries = append(queries, strings.TrimSpace(brand+" "+strings.Join(rest, " ")))
	}

	generic := strings.Join(tokens, " ")
	if generic == "" {
		generic = extract.CleanText(seed.Name)
	}
	queries = append(queries, generic)

	out := queries[:0]
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		key := strings.ToLower(q)
		if q == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}
