package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/LubyRuffy/freeloader/cookiestore"
)

// Source 从某个来源导入指定浏览器、指定 domain 的 cookie 记录。
// 返回空列表表示没有找到可用的 cookie（调用方按失败处理）。
type Source interface {
	Import(ctx context.Context, browser, domain string) ([]cookiestore.Record, error)
}

// Kind 标识导入来源。
type Kind string

const (
	KindCommand Kind = "command"
	KindFile    Kind = "file"
	KindEnv     Kind = "env"
	KindAuto    Kind = "auto"
)

// 支持的浏览器名称。
const (
	BrowserChrome  = "chrome"
	BrowserFirefox = "firefox"
	BrowserEdge    = "edge"
	BrowserSafari  = "safari"
)

// Browsers 返回支持的浏览器列表。
func Browsers() []string {
	return []string{BrowserChrome, BrowserFirefox, BrowserEdge, BrowserSafari}
}

// NormalizeBrowser 校验并规范化浏览器名称。
func NormalizeBrowser(browser string) (string, error) {
	b := strings.ToLower(strings.TrimSpace(browser))
	for _, known := range Browsers() {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unsupported browser: %q (want one of %s)", browser, strings.Join(Browsers(), ", "))
}
