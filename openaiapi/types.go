package openaiapi

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ==================== OpenAI 兼容数据结构 ====================

// OpenAIMessage OpenAI 消息格式。
// Content 可以是字符串，也可以是 content parts 数组（只取 text 部分）。
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

// OpenAIChatRequest OpenAI 聊天请求格式。
type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        any             `json:"stop,omitempty"`
}

// OpenAIUsage OpenAI token 使用统计。
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIChoice OpenAI 非流式响应选项。
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason *string       `json:"finish_reason"`
}

// OpenAIDelta OpenAI 流式响应的 delta（用于正确处理 omitempty）。
type OpenAIDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"` // 使用指针以便首个 chunk 能输出 content:""
}

// OpenAIChunkChoice OpenAI 流式响应选项。
type OpenAIChunkChoice struct {
	Index        int         `json:"index"`
	Delta        OpenAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// OpenAIChatCompletion OpenAI 非流式响应。
type OpenAIChatCompletion struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	Model             string         `json:"model"`
	SystemFingerprint string         `json:"system_fingerprint"`
	Choices           []OpenAIChoice `json:"choices"`
	Usage             OpenAIUsage    `json:"usage"`
}

// OpenAIChatChunk OpenAI 流式响应块。
type OpenAIChatChunk struct {
	ID                string              `json:"id"`
	Object            string              `json:"object"`
	Created           int64               `json:"created"`
	Model             string              `json:"model"`
	SystemFingerprint string              `json:"system_fingerprint"`
	Choices           []OpenAIChunkChoice `json:"choices"`
}

// OpenAIModel OpenAI 模型信息。
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// OpenAIModelList OpenAI 模型列表响应。
type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// OpenAIEmbeddingRequest OpenAI embeddings 请求。Input 可以是字符串或字符串数组。
type OpenAIEmbeddingRequest struct {
	Model          string         `json:"model"`
	Input          EmbeddingInput `json:"input"`
	EncodingFormat string         `json:"encoding_format,omitempty"`
}

// EmbeddingInput 兼容 "input": "text" 与 "input": ["a", "b"] 两种写法。
type EmbeddingInput []string

var errInvalidEmbeddingInput = errors.New("input must be a string or an array of strings")

// UnmarshalJSON 实现 json.Unmarshaler。
func (in *EmbeddingInput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*in = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = EmbeddingInput{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errInvalidEmbeddingInput
	}
	*in = list
	return nil
}

// OpenAIEmbedding 单条 embedding。
type OpenAIEmbedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// OpenAIEmbeddingList embeddings 响应。
type OpenAIEmbeddingList struct {
	Object string            `json:"object"`
	Data   []OpenAIEmbedding `json:"data"`
	Model  string            `json:"model"`
	Usage  OpenAIUsage       `json:"usage"`
}

// OpenAIError OpenAI 错误响应。
type OpenAIError struct {
	Error struct {
		Message string  `json:"message"`
		Type    string  `json:"type"`
		Param   any     `json:"param"`
		Code    *string `json:"code"`
	} `json:"error"`
}

// ==================== 辅助函数 ====================

// NewChatCompletionID 生成聊天完成 ID。
func NewChatCompletionID() string {
	return "chatcmpl-" + uuid.New().String()[:8]
}

// ToChatChunk 创建流式响应块。同一个流的所有 chunk 应传入相同的 id/model/created。
func ToChatChunk(id, model string, created int64, delta OpenAIDelta, finishReason *string, systemFingerprint string) OpenAIChatChunk {
	return OpenAIChatChunk{
		ID:                id,
		Object:            "chat.completion.chunk",
		Created:           created,
		Model:             model,
		SystemFingerprint: systemFingerprint,
		Choices: []OpenAIChunkChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
	}
}

// ToChatCompletion 创建非流式响应。finishReason 为空时使用 "stop"。
func ToChatCompletion(id, model string, created int64, content, finishReason string, usage OpenAIUsage, systemFingerprint string) OpenAIChatCompletion {
	if finishReason == "" {
		finishReason = "stop"
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return OpenAIChatCompletion{
		ID:                id,
		Object:            "chat.completion",
		Created:           created,
		Model:             model,
		SystemFingerprint: systemFingerprint,
		Choices: []OpenAIChoice{
			{
				Index: 0,
				Message: OpenAIMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: &finishReason,
			},
		},
		Usage: usage,
	}
}

// ToEmbeddingList 创建 embeddings 响应，index 与输入顺序一致。
func ToEmbeddingList(model string, vectors [][]float64, promptTokens int) OpenAIEmbeddingList {
	data := make([]OpenAIEmbedding, 0, len(vectors))
	for i, v := range vectors {
		data = append(data, OpenAIEmbedding{
			Object:    "embedding",
			Embedding: v,
			Index:     i,
		})
	}
	return OpenAIEmbeddingList{
		Object: "list",
		Data:   data,
		Model:  model,
		Usage: OpenAIUsage{
			PromptTokens: promptTokens,
			TotalTokens:  promptTokens,
		},
	}
}
