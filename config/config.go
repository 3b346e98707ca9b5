// Package config 负责 freeloader 的配置：默认值 → YAML 文件 → FREELOADER_* 环境变量 → 命令行参数，
// 最后统一校验。
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/supervisor"
)

const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8000
	DefaultStorePath         = "~/.freeloader/cookies.json"
	DefaultImportSource      = "command"
	DefaultSystemFingerprint = "fp_freeloader"
	DefaultMetricsPath       = "/metrics"
)

type Config struct {
	Backend           string        `yaml:"backend"`
	BackendURL        string        `yaml:"backend_url"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Debug             bool          `yaml:"debug"`
	FirstByteTimeout  time.Duration `yaml:"first_byte_timeout"`
	SystemFingerprint string        `yaml:"system_fingerprint"`

	Cookies CookiesConfig `yaml:"cookies"`
	Import  ImportConfig  `yaml:"import"`
	Startup StartupConfig `yaml:"startup"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type CookiesConfig struct {
	// Enabled 为 false 时出站请求不带 cookie。
	Enabled   bool   `yaml:"enabled"`
	StorePath string `yaml:"store_path"`
	// Domain 为空时取 backend_url 的 host:port。
	Domain string `yaml:"domain"`
	// Watch 监听存储文件，外部修改后自动重新加载。
	Watch bool `yaml:"watch"`
}

type ImportConfig struct {
	Source      string        `yaml:"source"`
	Command     string        `yaml:"command"`
	File        string        `yaml:"file"`
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type StartupConfig struct {
	Probe        bool          `yaml:"probe"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// ProbeSchedule 是标准 cron 表达式，为空时不周期探活。
	ProbeSchedule string        `yaml:"probe_schedule"`
	MaxAttempts   int           `yaml:"max_attempts"`
	Delay         time.Duration `yaml:"delay"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default 返回全部默认值。BackendURL 留空，由 ApplyDefaults 按后端补齐。
func Default() *Config {
	return &Config{
		Backend:           string(freeloader.BackendAIGateway),
		Host:              DefaultHost,
		Port:              DefaultPort,
		FirstByteTimeout:  backend.DefaultFirstByteTimeout,
		SystemFingerprint: DefaultSystemFingerprint,
		Cookies: CookiesConfig{
			Enabled:   true,
			StorePath: DefaultStorePath,
		},
		Import: ImportConfig{
			Source:      DefaultImportSource,
			MaxAttempts: supervisor.DefaultMaxAttempts,
			Delay:       supervisor.DefaultDelay,
		},
		Startup: StartupConfig{
			Probe:        true,
			ProbeTimeout: supervisor.DefaultProbeTimeout,
			MaxAttempts:  supervisor.DefaultMaxAttempts,
			Delay:        supervisor.DefaultDelay,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}

// ApplyDefaults 补齐依赖其他字段的默认值（比如按后端选择 backend_url）。
func ApplyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = string(freeloader.BackendAIGateway)
	}
	if cfg.BackendURL == "" {
		if kind, err := freeloader.ParseBackendKind(cfg.Backend); err == nil {
			cfg.BackendURL = freeloader.DefaultBackendURL(kind)
		}
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.FirstByteTimeout == 0 {
		cfg.FirstByteTimeout = backend.DefaultFirstByteTimeout
	}
	if cfg.SystemFingerprint == "" {
		cfg.SystemFingerprint = DefaultSystemFingerprint
	}
	if cfg.Cookies.StorePath == "" {
		cfg.Cookies.StorePath = DefaultStorePath
	}
	if cfg.Import.Source == "" {
		cfg.Import.Source = DefaultImportSource
	}
	if cfg.Startup.ProbeTimeout == 0 {
		cfg.Startup.ProbeTimeout = supervisor.DefaultProbeTimeout
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// BackendKind 返回解析后的后端类型；配置已通过 Validate 时不会出错。
func (c *Config) BackendKind() (freeloader.BackendKind, error) {
	return freeloader.ParseBackendKind(c.Backend)
}

// Addr 返回监听地址 host:port。
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ImportPolicy 返回 cookie 导入的重试策略。
func (c *Config) ImportPolicy() supervisor.Policy {
	return supervisor.Policy{MaxAttempts: c.Import.MaxAttempts, Delay: c.Import.Delay}
}

// StartupPolicy 返回端口监听的重试策略。
func (c *Config) StartupPolicy() supervisor.Policy {
	return supervisor.Policy{MaxAttempts: c.Startup.MaxAttempts, Delay: c.Startup.Delay}
}
