package freeloader

import (
	"fmt"
	"strings"
)

// BackendKind 标识后端实现，启动时选定，运行期间不变。
type BackendKind string

const (
	// BackendAIGateway 统一的多 provider OpenAI 兼容中继。
	BackendAIGateway BackendKind = "ai-gateway"
	// BackendChatGPTAdapter 把网页聊天 UI 转为 API 的翻译服务。
	BackendChatGPTAdapter BackendKind = "chatgpt-adapter"
)

const (
	// DefaultAIGatewayURL ai-gateway 的默认监听地址。
	DefaultAIGatewayURL = "http://localhost:8080"
	// DefaultChatGPTAdapterURL chatgpt-adapter 的默认监听地址。
	DefaultChatGPTAdapterURL = "http://localhost:8081"
)

// BackendKinds 返回所有受支持的后端（用于 CLI 帮助与配置校验）。
func BackendKinds() []BackendKind {
	return []BackendKind{BackendAIGateway, BackendChatGPTAdapter}
}

// ParseBackendKind 解析后端名称，大小写与首尾空白不敏感。
func ParseBackendKind(s string) (BackendKind, error) {
	kind := BackendKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range BackendKinds() {
		if k == kind {
			return k, nil
		}
	}
	return "", fmt.Errorf("unsupported backend: %q", s)
}

// DefaultBackendURL 返回后端的默认地址；未知后端返回空字符串。
func DefaultBackendURL(kind BackendKind) string {
	switch kind {
	case BackendAIGateway:
		return DefaultAIGatewayURL
	case BackendChatGPTAdapter:
		return DefaultChatGPTAdapterURL
	default:
		return ""
	}
}

// CatalogModel 是 /v1/models 中的一项。
type CatalogModel struct {
	ID      string
	OwnedBy string
}

var aiGatewayCatalog = []CatalogModel{
	{ID: "gpt-3.5-turbo", OwnedBy: "openai"},
	{ID: "gpt-4", OwnedBy: "openai"},
	{ID: "claude-3-opus", OwnedBy: "anthropic"},
	{ID: "claude-3-sonnet", OwnedBy: "anthropic"},
	{ID: "gemini-pro", OwnedBy: "google"},
}

var chatGPTAdapterCatalog = []CatalogModel{
	{ID: "gpt-3.5-turbo", OwnedBy: "openai"},
	{ID: "gpt-4", OwnedBy: "openai"},
	{ID: "claude-3", OwnedBy: "anthropic"},
	{ID: "coze", OwnedBy: "coze"},
	{ID: "deepseek", OwnedBy: "deepseek"},
	{ID: "cursor", OwnedBy: "cursor"},
	{ID: "windsurf", OwnedBy: "windsurf"},
	{ID: "qodo", OwnedBy: "qodo"},
	{ID: "blackbox", OwnedBy: "blackbox"},
	{ID: "you", OwnedBy: "you.com"},
	{ID: "grok", OwnedBy: "xai"},
	{ID: "bing", OwnedBy: "microsoft"},
}

// CatalogFor 返回后端内置的静态模型列表（副本）。
// 列表只用于展示，请求中的 model 不做校验，任意字符串都会透传给后端。
func CatalogFor(kind BackendKind) []CatalogModel {
	var src []CatalogModel
	switch kind {
	case BackendAIGateway:
		src = aiGatewayCatalog
	case BackendChatGPTAdapter:
		src = chatGPTAdapterCatalog
	}
	out := make([]CatalogModel, len(src))
	copy(out, src)
	return out
}

var chatGPTAdapterModelAliases = map[string]string{
	"claude-3-opus":   "claude-3",
	"claude-3-sonnet": "claude-3",
}

// MapChatGPTAdapterModel 把 OpenAI 风格的模型名映射为 chatgpt-adapter 能识别的名字。
// 未知模型原样返回。
func MapChatGPTAdapterModel(modelID string) string {
	trimmed := strings.TrimSpace(modelID)
	if mapped, ok := chatGPTAdapterModelAliases[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	return trimmed
}
