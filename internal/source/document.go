package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// documentNode 基于 goquery 选择集实现 Node。
type documentNode struct {
	sel *goquery.Selection
}

func (n documentNode) pick(selector string) *goquery.Selection {
	if selector == "" {
		return n.sel
	}
	return n.sel.Find(selector)
}

func (n documentNode) Text(_ context.Context, selector string) (string, error) {
	s := n.pick(selector).First()
	if s.Length() == 0 {
		return "", ErrNotFound
	}
	return strings.TrimSpace(s.Text()), nil
}

func (n documentNode) Attr(_ context.Context, selector, name string) (string, error) {
	s := n.pick(selector).First()
	if s.Length() == 0 {
		return "", ErrNotFound
	}
	v, ok := s.Attr(name)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (n documentNode) Count(_ context.Context, selector string) (int, error) {
	return n.pick(selector).Length(), nil
}

func (n documentNode) All(_ context.Context, selector string) ([]Node, error) {
	s := n.pick(selector)
	out := make([]Node, 0, s.Length())
	s.Each(func(_ int, item *goquery.Selection) {
		out = append(out, documentNode{sel: item})
	})
	return out, nil
}

// documentPage 是一个已解析的静态 HTML 页面。
type documentPage struct {
	documentNode
	url string
	doc *goquery.Document
}

// NewDocumentPage 将已解析的文档包装为 Page。
func NewDocumentPage(pageURL string, doc *goquery.Document) Page {
	return &documentPage{
		documentNode: documentNode{sel: doc.Selection},
		url:          pageURL,
		doc:          doc,
	}
}

func (p *documentPage) URL() string { return p.url }

func (p *documentPage) StructuredMetadata(_ context.Context) ([]string, error) {
	var blobs []string
	p.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			blobs = append(blobs, text)
		}
	})
	return blobs, nil
}

func (p *documentPage) BodyText(_ context.Context) (string, error) {
	body := p.doc.Find("body")
	if body.Length() == 0 {
		return strings.TrimSpace(p.doc.Text()), nil
	}
	return strings.TrimSpace(body.Text()), nil
}

func (p *documentPage) Close() error { return nil }

// DocumentSource 从内存中的 URL -> HTML 映射提供页面，用于离线回放与测试。
type DocumentSource struct {
	mu     sync.Mutex
	pages  map[string]string
	visits map[string]int
}

// NewDocumentSource creates a source serving the given pages.
func NewDocumentSource(pages map[string]string) *DocumentSource {
	cp := make(map[string]string, len(pages))
	for k, v := range pages {
		cp[k] = v
	}
	return &DocumentSource{pages: cp, visits: make(map[string]int)}
}

// Set 添加或替换一个页面。
func (s *DocumentSource) Set(pageURL, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[pageURL] = html
}

// Navigate 返回对应 URL 的页面，未登记的 URL 视为导航失败。
func (s *DocumentSource) Navigate(ctx context.Context, rawURL string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	html, ok := s.pages[rawURL]
	s.visits[rawURL]++
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, ErrNotFound)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if IsBlockedDocument(doc) {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, ErrBlocked)
	}
	return NewDocumentPage(rawURL, doc), nil
}

// Visits 返回某个 URL 被访问的次数。
func (s *DocumentSource) Visits(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visits[rawURL]
}
