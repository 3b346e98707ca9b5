// Package openaihttp 提供 OpenAI v1 兼容的 HTTP 处理器（front door），请求经由 backend.Adapter 转发。
//
// 该包对外只暴露：
// - net/http 形式的 handlers（models/chat.completions/embeddings 与 healthz）
// - Gin 路由注册方法（含可选的 /metrics）
//
// 调用方的 Authorization 头会被忽略；出站鉴权只依赖 cookie store 中的会话 cookie。
//
// 使用示例：
//
//	adapter, _ := backend.New(backend.Config{Kind: freeloader.BackendAIGateway})
//	store, _ := cookiestore.Open("")
//
//	// net/http
//	modelsH, chatH, embeddingsH, _ := openaihttp.Handlers(openaihttp.Config{
//		Adapter:      adapter,
//		Cookies:      store,
//		CookieDomain: "localhost",
//	})
//	mux.HandleFunc("/v1/models", modelsH)
//	mux.HandleFunc("/v1/chat/completions", chatH)
//	mux.HandleFunc("/v1/embeddings", embeddingsH)
//
//	// gin
//	_ = openaihttp.RegisterGinRoutes(r, openaihttp.Config{Adapter: adapter, Cookies: store, CookieDomain: "localhost"})
package openaihttp
