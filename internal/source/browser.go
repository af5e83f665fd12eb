package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"altfinder/internal/pkg/metrics"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	// 超时常量
	browserInitTimeout    = 30 * time.Second // 浏览器初始化超时
	browserHealthInterval = 30 * time.Second // 浏览器健康检查间隔
	browserHealthTimeout  = 5 * time.Second  // 健康检查单次超时
	pageCreateTimeout     = 10 * time.Second // 页面创建超时
	stealthScriptTimeout  = 5 * time.Second  // Stealth 脚本应用超时
	loadWaitTimeout       = 20 * time.Second // WaitLoad 最长等待
	pageTextCheckTimeout  = 2 * time.Second  // 拦截检测读取正文超时
	pageCloseTimeout      = 5 * time.Second  // 关闭页面超时
)

// DefaultBlockedURLs 屏蔽高带宽资源与追踪脚本，字段提取只依赖 DOM 与属性。
var DefaultBlockedURLs = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.avif",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.mp4", "*.webm", "*.mov", "*.mp3",
	"*google-analytics*",
	"*googletagmanager*",
	"*doubleclick*",
	"*amazon-adsystem*",
	"*fls-na.amazon*",
	"*unagi*",
}

const ldJSONScript = `() => Array.from(document.querySelectorAll('script[type="application/ld+json"]')).map(s => s.textContent || "")`

// BrowserOptions 浏览器数据源配置。
type BrowserOptions struct {
	BinPath     string
	ProxyURL    string
	Headless    bool
	PageTimeout time.Duration
	Profile     Profile
}

// BrowserSource 使用 go-rod 驱动的 Chromium 渲染页面。
//
// 每次 Navigate 都会创建独立的标签页，调用方负责 Close。
type BrowserSource struct {
	mu          sync.RWMutex
	browser     *rod.Browser
	opts        BrowserOptions
	limiter     Limiter
	logger      *slog.Logger
	activePages atomic.Int64
}

// NewBrowserSource 启动浏览器实例并创建数据源。
//
// 参数:
//
//	ctx: 上下文
//	opts: 浏览器路径、代理、无头模式与页面超时
//	limiter: 每次导航前获取令牌，可以为 nil
//	logger: 日志记录器
//
// 返回值:
//
//	*BrowserSource: 初始化完成的数据源
//	error: 浏览器启动失败返回错误
func NewBrowserSource(ctx context.Context, opts BrowserOptions, limiter Limiter, logger *slog.Logger) (*BrowserSource, error) {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 45 * time.Second
	}
	if len(opts.Profile.BlockedURLs) == 0 {
		opts.Profile.BlockedURLs = DefaultBlockedURLs
	}

	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	browser, err := startBrowser(initCtx, opts, logger)
	if err != nil {
		return nil, err
	}
	metrics.BrowserInstances.Inc()

	return &BrowserSource{
		browser: browser,
		opts:    opts,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// startBrowser 根据配置启动浏览器。
//
// 针对 Docker/容器环境做了适配（NoSandbox、禁用 /dev/shm）。
func startBrowser(ctx context.Context, opts BrowserOptions, logger *slog.Logger) (*rod.Browser, error) {
	bin := opts.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(opts.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disk-cache-size", "1").
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if opts.ProxyURL != "" {
		parsed, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", opts.ProxyURL)
		}
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			proxyPass, _ = parsed.User.Password()
		}
		server := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		l = l.Proxy(server)
		logger.Info("using http proxy", slog.String("server", server))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}

	logger.Info("browser started", slog.String("bin", bin), slog.Bool("headless", opts.Headless))
	return browser, nil
}

// Navigate 在新标签页中打开 URL，等待加载完成并检查是否被拦截。
func (s *BrowserSource) Navigate(ctx context.Context, rawURL string) (Page, error) {
	return s.navigate(ctx, rawURL, s.opts.Profile)
}

// WithProfile 返回共享同一浏览器实例、但使用站点专属 Profile 的视图。
func (s *BrowserSource) WithProfile(p Profile) Source {
	if len(p.BlockedURLs) == 0 {
		p.BlockedURLs = DefaultBlockedURLs
	}
	return &profiledBrowser{owner: s, profile: p}
}

type profiledBrowser struct {
	owner   *BrowserSource
	profile Profile
}

func (v *profiledBrowser) Navigate(ctx context.Context, rawURL string) (Page, error) {
	return v.owner.navigate(ctx, rawURL, v.profile)
}

func (s *BrowserSource) navigate(ctx context.Context, rawURL string, profile Profile) (Page, error) {
	if err := acquire(ctx, s.limiter, rawURL); err != nil {
		return nil, err
	}

	s.mu.RLock()
	browser := s.browser
	s.mu.RUnlock()
	if browser == nil {
		return nil, errors.New("browser is not running")
	}

	page, err := s.newPage(ctx, browser, profile)
	if err != nil {
		return nil, err
	}
	s.activePages.Add(1)
	bp := &browserPage{page: page.Context(ctx), url: rawURL, owner: s}

	navigateCtx, navigateCancel := context.WithTimeout(ctx, s.opts.PageTimeout)
	defer navigateCancel()

	// Navigate 在 goroutine 中执行，浏览器卡住时依然能按超时返回
	navigateErrCh := make(chan error, 1)
	go func() {
		navigateErrCh <- page.Context(navigateCtx).Navigate(rawURL)
	}()
	select {
	case navErr := <-navigateErrCh:
		if navErr != nil {
			_ = bp.Close()
			return nil, fmt.Errorf("navigate %s: %w", rawURL, navErr)
		}
	case <-navigateCtx.Done():
		_ = bp.Close()
		return nil, fmt.Errorf("navigate %s timeout: %w", rawURL, navigateCtx.Err())
	}

	loadCtx, loadCancel := context.WithTimeout(ctx, loadWaitTimeout)
	defer loadCancel()
	if err := page.Context(loadCtx).WaitLoad(); err != nil {
		s.logger.Debug("WaitLoad failed, continuing anyway",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
	}

	if blockType := s.detectBlock(page); blockType != "" {
		s.logger.Warn("blocked page detected",
			slog.String("url", rawURL),
			slog.String("block_type", blockType))
		_ = bp.Close()
		return nil, fmt.Errorf("navigate %s (%s): %w", rawURL, blockType, ErrBlocked)
	}

	if info, err := page.Info(); err == nil && info.URL != "" {
		bp.url = info.URL
	}
	return bp, nil
}

// newPage 创建带 stealth 脚本、资源屏蔽、UA 与语言头的空白标签页。
func (s *BrowserSource) newPage(ctx context.Context, browser *rod.Browser, profile Profile) (*rod.Page, error) {
	type pageResult struct {
		page *rod.Page
		err  error
	}
	pageResultCh := make(chan pageResult, 1)

	go func() {
		page, pageErr := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		pageResultCh <- pageResult{page: page, err: pageErr}
	}()
	closeLatePage := func() {
		closeLate[pageResult](pageResultCh, func(r pageResult) {
			if r.err == nil && r.page != nil {
				_ = r.page.Close()
			}
		})
	}

	pageCreateTimer := time.NewTimer(pageCreateTimeout)
	defer pageCreateTimer.Stop()

	var page *rod.Page
	select {
	case result := <-pageResultCh:
		if result.err != nil {
			return nil, fmt.Errorf("create page failed: %w", result.err)
		}
		page = result.page
	case <-pageCreateTimer.C:
		closeLatePage()
		return nil, fmt.Errorf("create page timeout after %v", pageCreateTimeout)
	case <-ctx.Done():
		closeLatePage()
		return nil, fmt.Errorf("context cancelled during page creation: %w", ctx.Err())
	}

	stealthTimer := time.NewTimer(stealthScriptTimeout)
	defer stealthTimer.Stop()
	stealthDone := make(chan error, 1)
	go func() {
		_, evalErr := page.EvalOnNewDocument(stealth.JS)
		stealthDone <- evalErr
	}()
	select {
	case err := <-stealthDone:
		if err != nil {
			closePage(page)
			return nil, fmt.Errorf("apply stealth script: %w", err)
		}
	case <-stealthTimer.C:
		closePage(page)
		return nil, fmt.Errorf("apply stealth script timeout after %v", stealthScriptTimeout)
	case <-ctx.Done():
		closePage(page)
		return nil, fmt.Errorf("context cancelled during stealth script: %w", ctx.Err())
	}

	if err := (proto.NetworkSetBlockedURLs{Urls: profile.BlockedURLs}).Call(page); err != nil {
		s.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      profile.pickUserAgent(),
		AcceptLanguage: profile.AcceptLanguage,
	}); err != nil {
		s.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}
	if profile.AcceptLanguage != "" {
		if _, err := page.SetExtraHeaders([]string{"Accept-Language", profile.AcceptLanguage}); err != nil {
			s.logger.Warn("set extra headers failed", slog.String("error", err.Error()))
		}
	}
	return page, nil
}

// detectBlock 使用独立的短超时读取标题与正文，不受任务 context 影响。
func (s *BrowserSource) detectBlock(page *rod.Page) string {
	diagCtx, cancel := context.WithTimeout(context.Background(), pageTextCheckTimeout)
	defer cancel()
	diagPage := page.Context(diagCtx)

	if els, err := diagPage.Elements(captchaSelectors); err == nil && len(els) > 0 {
		return "captcha"
	}
	title := ""
	if info, err := diagPage.Info(); err == nil {
		title = info.Title
	}
	body := ""
	if el, err := diagPage.Element("body"); err == nil {
		body, _ = el.Text()
	}
	return DetectBlockType(title, body)
}

// ActivePages 返回当前打开的标签页数量。
func (s *BrowserSource) ActivePages() int64 {
	return s.activePages.Load()
}

// StartHealthCheck 定期检查浏览器健康状态，如果无响应则重启浏览器实例。
func (s *BrowserSource) StartHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(browserHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.checkBrowserHealth(ctx) {
				continue
			}
			s.logger.Warn("browser health check failed, restarting browser instance")
			if err := s.restartBrowser(ctx); err != nil {
				s.logger.Error("failed to restart browser instance", slog.String("error", err.Error()))
			} else {
				metrics.BrowserRestartsTotal.Inc()
				s.logger.Info("browser instance restarted successfully")
			}
		}
	}
}

// checkBrowserHealth 打开一个空白页并执行脚本，返回 true 表示健康。
func (s *BrowserSource) checkBrowserHealth(ctx context.Context) bool {
	s.mu.RLock()
	browser := s.browser
	s.mu.RUnlock()
	if browser == nil {
		return false
	}

	healthCtx, cancel := context.WithTimeout(ctx, browserHealthTimeout)
	defer cancel()

	page, err := browser.Context(healthCtx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	defer closePage(page)

	_, err = page.Eval("() => document.title")
	return err == nil
}

func (s *BrowserSource) restartBrowser(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("close old browser failed", slog.String("error", err.Error()))
		}
		s.browser = nil
		metrics.BrowserInstances.Dec()
	}

	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()
	browser, err := startBrowser(initCtx, s.opts, s.logger)
	if err != nil {
		return fmt.Errorf("start new browser: %w", err)
	}
	s.browser = browser
	metrics.BrowserInstances.Inc()
	return nil
}

// Close 关闭浏览器。
func (s *BrowserSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	metrics.BrowserInstances.Dec()
	return err
}

func closePage(page *rod.Page) {
	closeCtx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
	defer cancel()
	_ = page.Context(closeCtx).Close()
}

// browserPage 是 go-rod 标签页的 Page 实现。查询使用 Elements（不等待），缺失的选择器立即返回。
type browserPage struct {
	page   *rod.Page
	url    string
	owner  *BrowserSource
	closed atomic.Bool
}

func (p *browserPage) URL() string { return p.url }

func (p *browserPage) Text(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		return p.BodyText(ctx)
	}
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return "", err
	}
	return elementText(els.First())
}

func (p *browserPage) Attr(ctx context.Context, selector, name string) (string, error) {
	if selector == "" {
		return "", ErrNotFound
	}
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return "", err
	}
	return elementAttr(els.First(), name)
}

func (p *browserPage) Count(ctx context.Context, selector string) (int, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (p *browserPage) All(ctx context.Context, selector string) ([]Node, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (p *browserPage) StructuredMetadata(ctx context.Context) ([]string, error) {
	res, err := p.page.Context(ctx).Eval(ldJSONScript)
	if err != nil {
		return nil, fmt.Errorf("read structured metadata: %w", err)
	}
	var blobs []string
	for _, v := range res.Value.Arr() {
		if text := strings.TrimSpace(v.Str()); text != "" {
			blobs = append(blobs, text)
		}
	}
	return blobs, nil
}

func (p *browserPage) BodyText(ctx context.Context) (string, error) {
	els, err := p.page.Context(ctx).Elements("body")
	if err != nil {
		return "", err
	}
	return elementText(els.First())
}

func (p *browserPage) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.owner.activePages.Add(-1)
	closePage(p.page)
	return nil
}

// browserNode 是列表项等子元素的 Node 实现。
type browserNode struct {
	el *rod.Element
}

func (n browserNode) scope(ctx context.Context, selector string) (*rod.Element, error) {
	el := n.el.Context(ctx)
	if selector == "" {
		return el, nil
	}
	els, err := el.Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, ErrNotFound
	}
	return els.First(), nil
}

func (n browserNode) Text(ctx context.Context, selector string) (string, error) {
	el, err := n.scope(ctx, selector)
	if err != nil {
		return "", err
	}
	return elementText(el)
}

func (n browserNode) Attr(ctx context.Context, selector, name string) (string, error) {
	el, err := n.scope(ctx, selector)
	if err != nil {
		return "", err
	}
	return elementAttr(el, name)
}

func (n browserNode) Count(ctx context.Context, selector string) (int, error) {
	els, err := n.el.Context(ctx).Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (n browserNode) All(ctx context.Context, selector string) ([]Node, error) {
	els, err := n.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func wrapElements(els rod.Elements) []Node {
	out := make([]Node, 0, len(els))
	for _, el := range els {
		out = append(out, browserNode{el: el})
	}
	return out
}

func elementText(el *rod.Element) (string, error) {
	if el == nil {
		return "", ErrNotFound
	}
	text, err := el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func elementAttr(el *rod.Element, name string) (string, error) {
	if el == nil {
		return "", ErrNotFound
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", ErrNotFound
	}
	return *v, nil
}

// closeLate 在后台等待一个已被放弃的结果，到达后交给 release 释放。
func closeLate[T any](ch <-chan T, release func(T)) {
	go func() {
		if v, ok := <-ch; ok {
			release(v)
		}
	}()
}
