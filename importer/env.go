package importer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/LubyRuffy/freeloader/cookiestore"
)

// EnvCookies 手动录入 cookie 的环境变量，格式同 Cookie 请求头：name=value; name2=value2。
const EnvCookies = "FREELOADER_COOKIES"

type envSource struct{}

func (s *envSource) Import(ctx context.Context, browser, domain string) ([]cookiestore.Record, error) {
	raw := strings.TrimSpace(os.Getenv(EnvCookies))
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", EnvCookies)
	}
	return ParseCookieString(raw, domain)
}

// ParseCookieString 把 "name=value; name2=value2" 解析为 session cookie 记录。
func ParseCookieString(raw, domain string) ([]cookiestore.Record, error) {
	var out []cookiestore.Record
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid cookie pair %q, want name=value", part)
		}
		out = append(out, cookiestore.Record{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	return out, nil
}
