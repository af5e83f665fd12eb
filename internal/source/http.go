package source

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultUserAgents 是轮换使用的浏览器 UA 列表。
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// Profile 描述数据源的礼貌性设置（语言头、UA、屏蔽的资源）。
type Profile struct {
	AcceptLanguage string
	UserAgents     []string
	BlockedURLs    []string // 仅浏览器数据源使用
}

func (p Profile) pickUserAgent() string {
	agents := p.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return agents[rand.IntN(len(agents))]
}

// HTTPSource 通过普通 HTTP 请求抓取页面并用 goquery 解析，不执行 JavaScript。
type HTTPSource struct {
	client  *http.Client
	profile Profile
	limiter Limiter
	logger  *slog.Logger
}

// NewHTTPSource creates a static HTML source. limiter may be nil.
func NewHTTPSource(timeout time.Duration, profile Profile, limiter Limiter, logger *slog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSource{
		client:  &http.Client{Timeout: timeout},
		profile: profile,
		limiter: limiter,
		logger:  logger,
	}
}

// WithProfile 返回共享 HTTP 客户端、但使用另一组请求头的数据源。
func (s *HTTPSource) WithProfile(p Profile) Source {
	cp := *s
	cp.profile = p
	return &cp
}

// Navigate 发起 GET 请求并解析 HTML。429/503 与挑战页返回 ErrBlocked。
func (s *HTTPSource) Navigate(ctx context.Context, rawURL string) (Page, error) {
	if err := acquire(ctx, s.limiter, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.profile.pickUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if s.profile.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", s.profile.AcceptLanguage)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("navigate %s: status %d: %w", rawURL, resp.StatusCode, ErrBlocked)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("navigate %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if IsBlockedDocument(doc) {
		if s.logger != nil {
			s.logger.Warn("blocked page detected", slog.String("url", rawURL))
		}
		return nil, fmt.Errorf("navigate %s: %w", rawURL, ErrBlocked)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return NewDocumentPage(finalURL, doc), nil
}
