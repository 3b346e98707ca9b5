package openaihttp

import (
	"time"

	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/metrics"
)

// CookieSource 提供某个 domain 当前的 cookie 记录（*cookiestore.Store 满足该接口）。
// domain 带端口而没有记录时，实现应退回到不带端口的 host。
type CookieSource interface {
	Lookup(domain string) []cookiestore.Record
}

// HealthChecker 返回最近一次后端探活的结果；checkedAt 为零值表示还没有探活过。
type HealthChecker interface {
	Healthy() (up bool, checkedAt time.Time, err error)
}

type Config struct {
	// BasePath 仅用于 Gin 注册路由时拼接路径，默认 "/v1"。
	BasePath string
	// Adapter 必填：启动时选定的后端适配器。
	Adapter backend.Adapter
	// BackendURL 仅用于 /healthz 展示，也是 CookieDomain 为空时推导 domain 的来源。
	BackendURL string
	// Cookies 可选，nil 时出站请求不带 cookie。
	Cookies CookieSource
	// CookieDomain 读取 cookie 的 domain；为空时取 BackendURL 的 host:port。
	CookieDomain string
	// SystemFingerprint chat.completions 用；默认 "fp_freeloader"。
	SystemFingerprint string
	// Metrics 可选，nil 时不记录指标也不注册 /metrics。
	Metrics *metrics.Collector
	// MetricsPath 默认 "/metrics"。
	MetricsPath string
	// Health 可选，/healthz 的数据来源。
	Health HealthChecker
}
