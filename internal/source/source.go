// Package source 提供页面数据源：导航到 URL 并以统一方式读取 DOM、结构化元数据与正文文本。
//
// 有两种实现：基于 go-rod 的浏览器数据源（生产环境）与基于 goquery 的静态 HTML 数据源
// （轻量抓取、离线回放与测试）。
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrNotFound 表示选择器没有匹配到元素或属性。
	ErrNotFound = errors.New("element not found")
	// ErrBlocked 表示页面被反爬挑战页拦截。
	ErrBlocked = errors.New("page blocked by anti-bot challenge")
)

// Node 是可以查询的 DOM 作用域，可以是整个页面，也可以是列表中的某一项。
//
// selector 为空字符串时表示节点自身。
type Node interface {
	Text(ctx context.Context, selector string) (string, error)
	Attr(ctx context.Context, selector, name string) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	All(ctx context.Context, selector string) ([]Node, error)
}

// Page 是一次导航得到的页面句柄。每个句柄只能被一个任务使用。
type Page interface {
	Node
	// URL 返回最终（跳转后）的页面地址。
	URL() string
	// StructuredMetadata 返回页面中所有 JSON-LD 脚本的原始内容。
	StructuredMetadata(ctx context.Context) ([]string, error)
	BodyText(ctx context.Context) (string, error)
	Close() error
}

// Source 负责导航，返回一个就绪的页面句柄。
type Source interface {
	Navigate(ctx context.Context, rawURL string) (Page, error)
}

// ProfiledSource 是可以按站点切换 Profile 的数据源。
type ProfiledSource interface {
	Source
	WithProfile(p Profile) Source
}

// Limiter 在每次导航前按目标主机获取令牌。
type Limiter interface {
	Acquire(ctx context.Context, host string) error
}

// acquire 为 rawURL 的主机获取令牌，limiter 为 nil 时直接放行。
func acquire(ctx context.Context, limiter Limiter, rawURL string) error {
	if limiter == nil {
		return nil
	}
	var host string
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	if err := limiter.Acquire(ctx, host); err != nil {
		return fmt.Errorf("acquire rate limit: %w", err)
	}
	return nil
}
