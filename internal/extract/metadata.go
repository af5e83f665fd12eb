package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MetadataField 是结构化商品元数据中可读取的字段。
type MetadataField string

const (
	MetaName        MetadataField = "name"
	MetaBrand       MetadataField = "brand"
	MetaPrice       MetadataField = "price"
	MetaCurrency    MetadataField = "currency"
	MetaRating      MetadataField = "rating"
	MetaRatingCount MetadataField = "ratingCount"
	MetaImage       MetadataField = "image"
	MetaIdentifier  MetadataField = "identifier"
	MetaDescription MetadataField = "description"
)

// ProductMetadata 是从 JSON-LD Product 节点中读出的强类型字段，未知字段为空值。
type ProductMetadata struct {
	Name        string
	Brand       string
	Price       *float64
	Currency    string
	Rating      *float64
	RatingCount *int
	Image       string
	Identifier  string
	Description string
}

// Value 以字符串形式返回某个字段，第二个返回值表示字段是否存在。
func (m *ProductMetadata) Value(field MetadataField) (string, bool) {
	if m == nil {
		return "", false
	}
	var v string
	switch field {
	case MetaName:
		v = m.Name
	case MetaBrand:
		v = m.Brand
	case MetaPrice:
		if m.Price != nil {
			v = FormatNumber(*m.Price)
		}
	case MetaCurrency:
		v = m.Currency
	case MetaRating:
		if m.Rating != nil {
			v = FormatNumber(*m.Rating)
		}
	case MetaRatingCount:
		if m.RatingCount != nil {
			v = strconv.Itoa(*m.RatingCount)
		}
	case MetaImage:
		v = m.Image
	case MetaIdentifier:
		v = m.Identifier
	case MetaDescription:
		v = m.Description
	}
	return v, v != ""
}

// ldProduct 对应 schema.org Product 中用到的部分。各字段都允许多种 JSON 形态。
type ldProduct struct {
	Name            flexString `json:"name"`
	Brand           flexString `json:"brand"`
	Image           flexString `json:"image"`
	SKU             flexString `json:"sku"`
	ProductID       flexString `json:"productID"`
	MPN             flexString `json:"mpn"`
	Description     flexString `json:"description"`
	Offers          flexObject `json:"offers"`
	AggregateRating flexObject `json:"aggregateRating"`
}

// flexString 接受字符串、数字、带 name/url/@id 的对象，或它们的数组，取第一个非空值。
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*f = flexString(firstString(raw, "name", "url", "@id"))
	return nil
}

// flexObject 接受对象或对象数组，取第一个对象。
type flexObject map[string]any

func (f *flexObject) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*f = flexObject(firstObject(raw))
	return nil
}

// ParseProductMetadata 在若干 JSON-LD 文本中查找第一个 Product 节点，并转换为强类型结构。
// 没有找到时返回 nil。无法解析的脚本会被忽略。
func ParseProductMetadata(blobs []string) *ProductMetadata {
	for _, blob := range blobs {
		var root any
		if err := json.Unmarshal([]byte(strings.TrimSpace(blob)), &root); err != nil {
			continue
		}
		node := findProductNode(root)
		if node == nil {
			continue
		}
		encoded, err := json.Marshal(node)
		if err != nil {
			continue
		}
		var p ldProduct
		if err := json.Unmarshal(encoded, &p); err != nil {
			continue
		}
		return p.toMetadata()
	}
	return nil
}

func (p ldProduct) toMetadata() *ProductMetadata {
	m := &ProductMetadata{
		Name:        CleanText(string(p.Name)),
		Brand:       CleanText(string(p.Brand)),
		Image:       string(p.Image),
		Description: CleanText(string(p.Description)),
	}
	for _, id := range []flexString{p.SKU, p.ProductID, p.MPN} {
		if id != "" {
			m.Identifier = string(id)
			break
		}
	}

	if p.Offers != nil {
		if price := firstString(map[string]any(p.Offers), "price", "lowPrice"); price != "" {
			if n, ok := ParseDecimal(price); ok && n > 0 {
				m.Price = &n
			}
		}
		m.Currency = firstString(p.Offers["priceCurrency"])
	}

	if p.AggregateRating != nil {
		if v, ok := ParseRating(firstString(p.AggregateRating["ratingValue"])); ok {
			m.Rating = &v
		}
		count := firstString(p.AggregateRating["reviewCount"])
		if count == "" {
			count = firstString(p.AggregateRating["ratingCount"])
		}
		if n, ok := ParseCount(count); ok {
			m.RatingCount = &n
		}
	}
	return m
}

// findProductNode 在 JSON-LD 树中查找 @type 包含 Product 的节点，支持数组与 @graph。
func findProductNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if node := findProductNode(item); node != nil {
				return node
			}
		}
	case map[string]any:
		if isProductType(t["@type"]) {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findProductNode(graph)
		}
	}
	return nil
}

func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Product" || strings.HasSuffix(t, "/Product")
	case []any:
		for _, item := range t {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func firstString(v any, keys ...string) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return FormatNumber(t)
	case []any:
		for _, item := range t {
			if s := firstString(item, keys...); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, k := range keys {
			if s := firstString(t[k], keys...); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, item := range t {
			if obj := firstObject(item); obj != nil {
				return obj
			}
		}
	}
	return nil
}
