package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/cloudwego/eino/schema"
)

// streamBuffer 是后端流与 HTTP 写出之间的缓冲 chunk 数。
const streamBuffer = 64

// DefaultFirstByteTimeout 是等待后端响应头的默认超时。
const DefaultFirstByteTimeout = 60 * time.Second

// Message 是一条对话消息（content 已展平为文本）。
type Message struct {
	Role    string
	Content string
}

// ChatRequest 是规范化后的聊天请求。Model 不做校验，由适配器决定如何使用。
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	Stream      bool
}

// EmbeddingRequest 是单条文本的 embeddings 请求。
type EmbeddingRequest struct {
	Model string
	Input string
}

// Usage 是 token 统计；后端没有返回时由 EstimateTokens 估算。
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Reply 是后端回复：非流式时是完整内容（Final=true），流式时是一个增量。
// 流以且仅以一个 Final=true 的 Reply（或一个错误）结束。
type Reply struct {
	Content      string
	Final        bool
	FinishReason string
	Usage        *Usage
}

// Model 是模型目录中的一项。
type Model struct {
	ID      string
	OwnedBy string
}

// Adapter 把规范化请求发往具体后端，并把后端回复转换为 Reply。
// 实现必须可并发使用，且从不自动重试。
type Adapter interface {
	Name() string
	ListModels(ctx context.Context) ([]Model, error)
	ChatCompletion(ctx context.Context, req *ChatRequest, cookies []cookiestore.Record) (*Reply, error)
	// StreamChatCompletion 同步完成请求直到拿到响应头；连接与鉴权错误在此直接返回。
	// 关闭返回的 reader 后生产者在下一次发送时退出并取消上游请求；取消 ctx 会立即中断上游。
	StreamChatCompletion(ctx context.Context, req *ChatRequest, cookies []cookiestore.Record) (*schema.StreamReader[*Reply], error)
	Embed(ctx context.Context, req *EmbeddingRequest, cookies []cookiestore.Record) ([]float64, error)
}

// Config 是创建适配器的参数。
type Config struct {
	Kind    freeloader.BackendKind
	BaseURL string
	// FirstByteTimeout 等待响应头的超时，<=0 时使用 DefaultFirstByteTimeout。
	FirstByteTimeout time.Duration
	// HTTPClient 为空时按 FirstByteTimeout 创建。
	HTTPClient *http.Client
}

// New 根据后端类型创建适配器。新增后端只需要实现 Adapter 并在这里加一个 case。
func New(cfg Config) (Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = freeloader.DefaultBackendURL(cfg.Kind)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("unsupported backend: %q", cfg.Kind)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(cfg.FirstByteTimeout)
	}

	switch cfg.Kind {
	case freeloader.BackendAIGateway:
		return newAIGatewayAdapter(baseURL, client), nil
	case freeloader.BackendChatGPTAdapter:
		return newChatGPTAdapter(baseURL, client), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %q", cfg.Kind)
	}
}

// NewHTTPClient 创建后端调用使用的 client。
// 只限制首字节（响应头）时间，不限制总时长，流式响应可以持续很久。
func NewHTTPClient(firstByteTimeout time.Duration) *http.Client {
	if firstByteTimeout <= 0 {
		firstByteTimeout = DefaultFirstByteTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = firstByteTimeout
	return &http.Client{Transport: transport}
}

func catalogModels(kind freeloader.BackendKind) []Model {
	catalog := freeloader.CatalogFor(kind)
	out := make([]Model, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, Model{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return out
}

func validateChatRequest(req *ChatRequest) error {
	if req == nil {
		return errors.New("chat request is nil")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}
	return nil
}

func cookieHeader(cookies []cookiestore.Record) string {
	return cookiestore.CookieHeader(cookies, time.Now())
}

// normalizeFinishReason 只透传 "length"，其余一律视为 "stop"。
func normalizeFinishReason(reason string) string {
	if strings.EqualFold(strings.TrimSpace(reason), "length") {
		return "length"
	}
	return "stop"
}
