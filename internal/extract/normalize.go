package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	numberRunRe   = regexp.MustCompile(`\d[\d.,]*`)
	plainNumberRe = regexp.MustCompile(`^\s*\d+(?:\.\d+)?\s*$`)
	ratingRe      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)
	countRe       = regexp.MustCompile(`(\d[\d.,]*)\s*([kKmM])?\b`)
	spaceRe       = regexp.MustCompile(`\s+`)

	// 价格判定：货币符号/代码紧邻数字，或两位小数，或五位以上带千分位的整数
	currencyBeforeDigitRe = regexp.MustCompile(`(?i)(?:[₹$€£¥₺]|\brs\.?|\binr\b|\busd\b|\beur\b|\bgbp\b|\btl\b|\btry\b)\s*\d`)
	currencyAfterDigitRe  = regexp.MustCompile(`(?i)\d\s*(?:₺|€|\btl\b|\beur\b)`)
	decimalPriceRe        = regexp.MustCompile(`\d[\d,]*\.\d{2}\b`)
	longNumberRe          = regexp.MustCompile(`\d[\d,]{4,}`)
	promoRe               = regexp.MustCompile(`(?i)emi|saving|save|coupon|bank|m\.?r\.?p|exchange|offer|discount`)

	nameCutters = []string{"|", " (", " [", " – ", " — "}
)

// ParseNumber 是所有数值字段共用的规范化函数。
//
// 取第一段数字，按以下规则处理千分位与小数点：
//   - 同时出现 ',' 和 '.'：最后出现的是小数点，其余为千分位
//   - 只有 ','：出现多次或后面正好三位数字（整数部分不为 0）时视为千分位，否则视为小数点
//   - 只有 '.'：出现多次，或形如 "1.299 TL"（1-3 位非零开头的整数部分加三位数字）视为千分位，否则视为小数点
//
// 整个输入就是一个纯数字时按小数点解析，因此 FormatNumber 的输出再次解析得到同一个值。
func ParseNumber(s string) (float64, bool) {
	if plainNumberRe.MatchString(s) {
		return parseFinite(strings.TrimSpace(s))
	}

	run := numberRunRe.FindString(s)
	run = strings.TrimRight(run, ".,")
	if run == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(run, ",")
	lastDot := strings.LastIndex(run, ".")
	commas := strings.Count(run, ",")
	dots := strings.Count(run, ".")

	var cleaned string
	switch {
	case commas > 0 && dots > 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(run, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(run, ",", "")
		}
	case commas > 0:
		if commas > 1 || (len(run)-lastComma-1 == 3 && run[:lastComma] != "0") {
			cleaned = strings.ReplaceAll(run, ",", "")
		} else {
			cleaned = strings.Replace(run, ",", ".", 1)
		}
	case dots > 1:
		cleaned = strings.ReplaceAll(run, ".", "")
	case dots == 1 && isGroupedThousands(run, lastDot):
		cleaned = strings.Replace(run, ".", "", 1)
	default:
		cleaned = run
	}

	return parseFinite(cleaned)
}

// ParseDecimal 解析机器格式的数字（'.' 为小数点，如 schema.org 的 offers.price），
// 不符合该格式时退回 ParseNumber。
func ParseDecimal(s string) (float64, bool) {
	if n, ok := parseFinite(strings.TrimSpace(s)); ok {
		return n, true
	}
	return ParseNumber(s)
}

func parseFinite(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func isGroupedThousands(run string, dot int) bool {
	intPart, frac := run[:dot], run[dot+1:]
	return len(frac) == 3 && len(intPart) >= 1 && len(intPart) <= 3 && intPart[0] != '0'
}

// FormatNumber 输出 ParseNumber 可以无损读回的形式。
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// LooksLikePrice 判断文本是否像一个价格，而不是促销/分期等干扰信息。
func LooksLikePrice(s string) bool {
	if s == "" || promoRe.MatchString(s) {
		return false
	}
	return currencyBeforeDigitRe.MatchString(s) ||
		currencyAfterDigitRe.MatchString(s) ||
		decimalPriceRe.MatchString(s) ||
		longNumberRe.MatchString(s)
}

// IsPlainNumber reports whether s is already a bare normalized number.
func IsPlainNumber(s string) bool {
	return plainNumberRe.MatchString(s)
}

// ParseRating 解析 "4.5 out of 5 stars" / "4,5 von 5 Sternen" / "4.5" 等形式，结果必须落在 (0, 5]。
func ParseRating(s string) (float64, bool) {
	m := ratingRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || v <= 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseCount 解析评分人数，如 "(1,234)"、"1.234 Bewertungen"、"2.1K ratings"。
func ParseCount(s string) (int, bool) {
	m := countRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	digits := strings.TrimRight(m[1], ".,")
	if m[2] == "" {
		n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(digits))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}

	v, ok := ParseNumber(digits)
	if !ok {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k":
		v *= 1_000
	case "m":
		v *= 1_000_000
	}
	return int(math.Round(v)), true
}

// ParseImageAttr 从图片属性中取出一个 URL。
//
// srcset 取第一个候选；data-a-dynamic-image 是 {"url": [w, h]} 的 JSON，取面积最大的一个。
func ParseImageAttr(attr, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	switch attr {
	case "srcset":
		first := strings.TrimSpace(strings.Split(value, ",")[0])
		if fields := strings.Fields(first); len(fields) > 0 {
			return fields[0]
		}
		return ""
	case "data-a-dynamic-image":
		var dims map[string][]float64
		if err := json.Unmarshal([]byte(value), &dims); err != nil || len(dims) == 0 {
			return ""
		}
		urls := make([]string, 0, len(dims))
		for u := range dims {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		best, bestArea := "", -1.0
		for _, u := range urls {
			area := 0.0
			if d := dims[u]; len(d) >= 2 {
				area = d[0] * d[1]
			}
			if area > bestArea {
				best, bestArea = u, area
			}
		}
		return best
	default:
		return value
	}
}

// CleanText 合并连续空白并去掉首尾空白。
func CleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// DeriveName 从原始标题中去掉分隔符之后的修饰部分，得到规范短标题。
func DeriveName(raw string) string {
	name := CleanText(raw)
	for _, sep := range nameCutters {
		if i := strings.Index(name, sep); i > 0 {
			name = strings.TrimSpace(name[:i])
		}
	}
	return name
}
