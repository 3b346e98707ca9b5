package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "FREELOADER_"

// Load 依次应用默认值、YAML 文件（path 为空时跳过）和环境变量。
// 不做校验：调用方应用完命令行参数后再调用 ApplyDefaults 与 Validate。
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		// 在默认值之上解码，文件里没写的字段保持默认值。
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 应用 FREELOADER_* 环境变量。值无法解析时报错，而不是静默忽略。
func applyEnvOverrides(cfg *Config) error {
	if val, ok := lookupEnv("BACKEND"); ok {
		cfg.Backend = val
	}
	if val, ok := lookupEnv("BACKEND_URL"); ok {
		cfg.BackendURL = val
	}
	if val, ok := lookupEnv("HOST"); ok {
		cfg.Host = val
	}
	if val, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %sPORT %q: %w", envPrefix, val, err)
		}
		cfg.Port = port
	}
	if val, ok := lookupEnv("DEBUG"); ok {
		debug, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %sDEBUG %q: %w", envPrefix, val, err)
		}
		cfg.Debug = debug
	}
	if val, ok := lookupEnv("COOKIE_STORE"); ok {
		cfg.Cookies.StorePath = val
	}
	if val, ok := lookupEnv("COOKIE_DOMAIN"); ok {
		cfg.Cookies.Domain = val
	}
	if val, ok := lookupEnv("FIRST_BYTE_TIMEOUT"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %sFIRST_BYTE_TIMEOUT %q: %w", envPrefix, val, err)
		}
		cfg.FirstByteTimeout = d
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	val := strings.TrimSpace(os.Getenv(envPrefix + name))
	return val, val != ""
}
