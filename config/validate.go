package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/importer"
	"github.com/robfig/cron/v3"
)

// FieldError 是某个配置字段的校验错误，Field 为 YAML 中的点分路径。
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError 汇总所有字段错误。
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate 校验配置，一次性返回所有问题。
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := freeloader.ParseBackendKind(cfg.Backend); err != nil {
		add("backend", "must be one of %s", backendNames())
	}
	if err := validateURL(cfg.BackendURL); err != nil {
		add("backend_url", "%v", err)
	}
	if strings.TrimSpace(cfg.Host) == "" {
		add("host", "must not be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		add("port", "must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.FirstByteTimeout <= 0 {
		add("first_byte_timeout", "must be positive")
	}

	if cfg.Cookies.Enabled && strings.TrimSpace(cfg.Cookies.StorePath) == "" {
		add("cookies.store_path", "must not be empty when cookies are enabled")
	}

	switch importer.Kind(strings.ToLower(strings.TrimSpace(cfg.Import.Source))) {
	case importer.KindCommand, importer.KindFile, importer.KindEnv, importer.KindAuto:
	default:
		add("import.source", "must be one of command, file, env, auto")
	}
	if cfg.Import.MaxAttempts <= 0 {
		add("import.max_attempts", "must be positive")
	}
	if cfg.Import.Delay < 0 {
		add("import.delay", "must not be negative")
	}

	if cfg.Startup.ProbeTimeout < 0 {
		add("startup.probe_timeout", "must not be negative")
	}
	if cfg.Startup.MaxAttempts <= 0 {
		add("startup.max_attempts", "must be positive")
	}
	if cfg.Startup.Delay < 0 {
		add("startup.delay", "must not be negative")
	}
	if spec := strings.TrimSpace(cfg.Startup.ProbeSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			add("startup.probe_schedule", "invalid cron expression %q: %v", spec, err)
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func backendNames() string {
	kinds := freeloader.BackendKinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}
