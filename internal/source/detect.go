package source

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// 页面拦截关键词（小写匹配）
var (
	blockedTitleHints = []string{
		"robot check",
		"just a moment",
		"attention required",
		"access denied",
		"403 forbidden",
		"429 too many requests",
		"sorry! something went wrong",
	}
	blockedBodyHints = []string{
		"enter the characters you see below",
		"to discuss automated access to amazon data",
		"make sure you're not a robot",
		"type the characters you see in this image",
		"verify you are human",
		"checking your browser",
		"cf-browser-verification",
		"challenge-platform",
		"too many requests",
	}
	captchaSelectors = `form[action*="validateCaptcha"], #captchacharacters, .g-recaptcha, .h-captcha, #challenge-form, .cf-turnstile`
)

// containsAny 检查文本是否包含任意一个关键词
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// IsBlockedText 根据标题与正文判断页面是否为反爬挑战页。
func IsBlockedText(title, body string) bool {
	return DetectBlockType(title, body) != ""
}

// DetectBlockType 返回拦截类型，未被拦截时返回空字符串。
func DetectBlockType(title, body string) string {
	lowerTitle := strings.ToLower(strings.TrimSpace(title))
	lowerBody := strings.ToLower(body)

	switch {
	case strings.Contains(lowerBody, "validatecaptcha"),
		strings.Contains(lowerBody, "enter the characters you see below"),
		strings.Contains(lowerBody, "type the characters you see in this image"),
		strings.Contains(lowerTitle, "robot check"):
		return "captcha"
	case strings.Contains(lowerTitle, "just a moment"),
		strings.Contains(lowerBody, "cf-browser-verification"),
		strings.Contains(lowerBody, "challenge-platform"):
		return "cloudflare_challenge"
	case strings.HasPrefix(lowerTitle, "403"), strings.Contains(lowerTitle, "access denied"):
		return "403_forbidden"
	case strings.HasPrefix(lowerTitle, "429"), strings.Contains(lowerBody, "too many requests"):
		return "429_rate_limited"
	case containsAny(lowerTitle, blockedTitleHints), containsAny(lowerBody, blockedBodyHints):
		return "blocked"
	}
	return ""
}

// IsBlockedDocument 检查静态文档是否为挑战页。
func IsBlockedDocument(doc *goquery.Document) bool {
	if doc.Find(captchaSelectors).Length() > 0 {
		return true
	}
	return IsBlockedText(doc.Find("title").First().Text(), doc.Find("body").Text())
}

// ClassifyError 返回用于 metrics 的错误类型字符串。
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if errors.Is(err, ErrBlocked) {
		return "blocked"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "403"), strings.Contains(msg, "429"), strings.Contains(msg, "forbidden"):
		return "blocked"
	case strings.Contains(msg, "net::"), strings.Contains(msg, "connection"), strings.Contains(msg, "navigate"):
		return "network_error"
	}
	return "unknown"
}
