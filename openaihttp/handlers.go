package openaihttp

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/metrics"
	"github.com/LubyRuffy/freeloader/openaiapi"
)

const (
	defaultSystemFingerprint = "fp_freeloader"
	defaultMetricsPath       = "/metrics"
)

func Handlers(cfg Config) (modelsHandler http.HandlerFunc, chatHandler http.HandlerFunc, embeddingsHandler http.HandlerFunc, err error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	compat, err := newCompatHandler(compatConfig{
		Now:               time.Now,
		NewChatCompletion: openaiapi.NewChatCompletionID,
		WriteJSON:         writeJSON,
		WriteOpenAIError:  writeOpenAIError,
		SystemFingerprint: resolved.SystemFingerprint,
		Adapter:           resolved.Adapter,
		Cookies:           resolved.cookies,
		Metrics:           resolved.Metrics,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return compat.handleModels, compat.handleChatCompletions, compat.handleEmbeddings, nil
}

// HealthHandler 返回 /healthz handler。
func HealthHandler(cfg Config) (http.HandlerFunc, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	h := &healthHandler{
		backend:    resolved.Adapter.Name(),
		backendURL: resolved.BackendURL,
		checker:    resolved.Health,
		writeJSON:  writeJSON,
	}
	return h.handle, nil
}

type resolvedConfig struct {
	BasePath          string
	Adapter           backend.Adapter
	BackendURL        string
	SystemFingerprint string
	Metrics           *metrics.Collector
	MetricsPath       string
	Health            HealthChecker
	cookies           func() []cookiestore.Record
}

func resolveConfig(cfg Config) (resolvedConfig, error) {
	if cfg.Adapter == nil {
		return resolvedConfig{}, fmt.Errorf("Adapter is required")
	}

	backendURL := strings.TrimSpace(cfg.BackendURL)

	cookies := func() []cookiestore.Record { return nil }
	if cfg.Cookies != nil {
		domain := strings.TrimSpace(cfg.CookieDomain)
		if domain == "" {
			if backendURL == "" {
				return resolvedConfig{}, fmt.Errorf("CookieDomain or BackendURL is required when Cookies is set")
			}
			d, err := cookiestore.DomainFromURL(backendURL)
			if err != nil {
				return resolvedConfig{}, err
			}
			domain = d
		}
		source := cfg.Cookies
		cookies = func() []cookiestore.Record { return source.Lookup(domain) }
	}

	fp := strings.TrimSpace(cfg.SystemFingerprint)
	if fp == "" {
		fp = defaultSystemFingerprint
	}

	metricsPath := strings.TrimSpace(cfg.MetricsPath)
	if metricsPath == "" {
		metricsPath = defaultMetricsPath
	}

	return resolvedConfig{
		BasePath:          cfg.BasePath,
		Adapter:           cfg.Adapter,
		BackendURL:        backendURL,
		SystemFingerprint: fp,
		Metrics:           cfg.Metrics,
		MetricsPath:       metricsPath,
		Health:            cfg.Health,
		cookies:           cookies,
	}, nil
}
