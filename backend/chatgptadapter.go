package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/cloudwego/eino/schema"
	log "github.com/sirupsen/logrus"
)

// chatGPTAdapter 对接 chatgpt-adapter：把网页聊天 UI 转成 API 的服务。
// 它的流会在 data 事件里夹带错误载荷，所以这里直接用 net/http + readBackendSSE。
type chatGPTAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func newChatGPTAdapter(baseURL string, httpClient *http.Client) *chatGPTAdapter {
	return &chatGPTAdapter{baseURL: baseURL, httpClient: httpClient}
}

func (a *chatGPTAdapter) Name() string {
	return string(freeloader.BackendChatGPTAdapter)
}

func (a *chatGPTAdapter) ListModels(ctx context.Context) ([]Model, error) {
	return catalogModels(freeloader.BackendChatGPTAdapter), nil
}

type adapterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type adapterRequest struct {
	Model       string           `json:"model"`
	Messages    []adapterMessage `json:"messages"`
	Stream      bool             `json:"stream"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type adapterResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *chatGPTAdapter) ChatCompletion(ctx context.Context, req *ChatRequest, cookies []cookiestore.Record) (*Reply, error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}
	resp, err := a.do(ctx, req, false, cookies)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if msg := payloadErrorMessage(raw); msg != "" {
		return nil, classifyPayload(msg)
	}
	var decoded adapterResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &Error{Kind: ErrMalformedResponse, Message: "undecodable response body", Err: err}
	}
	if len(decoded.Choices) == 0 {
		return nil, malformed("response has no choices")
	}

	choice := decoded.Choices[0]
	content := choice.Message.Content
	var usage *Usage
	if decoded.Usage != nil && (decoded.Usage.TotalTokens > 0 || decoded.Usage.PromptTokens > 0 || decoded.Usage.CompletionTokens > 0) {
		usage = &Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		}
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
	} else {
		usage = estimateUsage(req.Messages, content)
	}
	return &Reply{
		Content:      content,
		Final:        true,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage:        usage,
	}, nil
}

func (a *chatGPTAdapter) StreamChatCompletion(ctx context.Context, req *ChatRequest, cookies []cookiestore.Record) (*schema.StreamReader[*Reply], error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	resp, err := a.do(ctx, req, true, cookies)
	if err != nil {
		cancel()
		return nil, err
	}

	sr, sw := schema.Pipe[*Reply](streamBuffer)
	go func() {
		defer cancel()
		defer sw.Close()
		defer resp.Body.Close()

		finish, err := readBackendSSE(ctx, resp.Body, func(delta string) error {
			if closed := sw.Send(&Reply{Content: delta}, nil); closed {
				return errStreamDone
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("chatgpt-adapter stream cancelled")
				sw.Send(nil, ctx.Err())
				return
			}
			var be *Error
			if errors.As(err, &be) {
				sw.Send(nil, be)
			} else {
				sw.Send(nil, classifyTransport(err))
			}
			return
		}
		sw.Send(&Reply{Final: true, FinishReason: normalizeFinishReason(finish)}, nil)
	}()
	return sr, nil
}

func (a *chatGPTAdapter) Embed(ctx context.Context, req *EmbeddingRequest, cookies []cookiestore.Record) ([]float64, error) {
	return nil, &Error{Kind: ErrUnsupported, Message: "chatgpt-adapter does not provide embeddings"}
}

// do 发出请求并检查状态码；非 2xx 时读取部分 body 用于分类后关闭。
func (a *chatGPTAdapter) do(ctx context.Context, req *ChatRequest, stream bool, cookies []cookiestore.Record) (*http.Response, error) {
	payload := adapterRequest{
		Model:       freeloader.MapChatGPTAdapterModel(req.Model),
		Messages:    make([]adapterMessage, 0, len(req.Messages)),
		Stream:      stream,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, adapterMessage{Role: m.Role, Content: m.Content})
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backend request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	if header := cookieHeader(cookies); header != "" {
		httpReq.Header.Set("Cookie", header)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		msg := payloadErrorMessage(body)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, classifyStatus(resp.StatusCode, msg)
	}
	if stream {
		if err := checkEventStream(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return resp, nil
}
