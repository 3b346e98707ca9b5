package openaihttp

import (
	"fmt"
	"time"

	"github.com/LubyRuffy/freeloader/metrics"
	"github.com/gin-gonic/gin"
)

func RegisterGinRoutes(r gin.IRouter, cfg Config) error {
	if r == nil {
		return fmt.Errorf("router is nil")
	}
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return err
	}
	modelsHandler, chatHandler, embeddingsHandler, err := Handlers(cfg)
	if err != nil {
		return err
	}
	healthHandler, err := HealthHandler(cfg)
	if err != nil {
		return err
	}

	g := r.Group("", observeRequests(resolved.Metrics))
	basePath := resolved.BasePath
	g.GET(routePath(basePath, "/models"), gin.WrapF(modelsHandler))
	g.POST(routePath(basePath, "/chat/completions"), gin.WrapF(chatHandler))
	g.POST(routePath(basePath, "/embeddings"), gin.WrapF(embeddingsHandler))
	r.GET("/healthz", gin.WrapF(healthHandler))
	if resolved.Metrics != nil {
		r.GET(resolved.MetricsPath, gin.WrapH(resolved.Metrics.Handler()))
	}
	return nil
}

// observeRequests 按路由模板记录请求数与耗时（流式请求包含整个流的时长）。
func observeRequests(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if collector == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			return
		}
		collector.ObserveRequest(endpoint, c.Writer.Status(), time.Since(start))
	}
}
