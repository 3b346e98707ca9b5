package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	log "github.com/sirupsen/logrus"
)

// aiGatewayAdapter 对接 ai-gateway：一个 OpenAI 兼容的多 provider 中继，
// 直接用 openai-go SDK 调用其 /v1 接口，会话 cookie 放在 Cookie 头里。
type aiGatewayAdapter struct {
	baseURL string
	client  openai.Client
}

func newAIGatewayAdapter(baseURL string, httpClient *http.Client) *aiGatewayAdapter {
	client := openai.NewClient(
		option.WithBaseURL(baseURL+"/v1/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		// 网关靠 cookie 鉴权，不转发环境里的 OPENAI_API_KEY。
		option.WithHeaderDel("Authorization"),
	)
	return &aiGatewayAdapter{baseURL: baseURL, client: client}
}

func (a *aiGatewayAdapter) Name() string {
	return string(freeloader.BackendAIGateway)
}

func (a *aiGatewayAdapter) ListModels(ctx context.Context) ([]Model, error) {
	return catalogModels(freeloader.BackendAIGateway), nil
}

func (a *aiGatewayAdapter) requestOptions(cookies []cookiestore.Record) []option.RequestOption {
	header := cookieHeader(cookies)
	if header == "" {
		return nil
	}
	return []option.RequestOption{option.WithHeader("Cookie", header)}
}

func (a *aiGatewayAdapter) chatParams(req *ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "developer":
			msgs = append(msgs, openai.DeveloperMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

func (a *aiGatewayAdapter) ChatCompletion(ctx context.Context, req *ChatRequest, cookies []cookiestore.Record) (*Reply, error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}
	resp, err := a.client.Chat.Completions.New(ctx, a.chatParams(req), a.requestOptions(cookies)...)
	if err != nil {
		return nil, classifySDKError(err)
	}
	if len(resp.Choices) == 0 {
		if msg := payloadErrorMessage([]byte(resp.RawJSON())); msg != "" {
			return nil, classifyPayload(msg)
		}
		return nil, malformed("response has no choices")
	}

	choice := resp.Choices[0]
	content := choice.Message.Content
	usage := &Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = estimateUsage(req.Messages, content)
	}
	return &Reply{
		Content:      content,
		Final:        true,
		FinishReason: normalizeFinishReason(string(choice.FinishReason)),
		Usage:        usage,
	}, nil
}

func (a *aiGatewayAdapter) StreamChatCompletion(ctx context.Context, req *ChatRequest, cookies []cookiestore.Record) (*schema.StreamReader[*Reply], error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	// NewStreaming 同步发出请求，拿到响应头后返回；失败记录在 stream.Err()。
	opts := append(a.requestOptions(cookies), option.WithMiddleware(requireEventStream))
	stream := a.client.Chat.Completions.NewStreaming(ctx, a.chatParams(req), opts...)
	if err := stream.Err(); err != nil {
		cancel()
		return nil, classifySDKError(err)
	}

	sr, sw := schema.Pipe[*Reply](streamBuffer)
	go func() {
		defer cancel()
		defer sw.Close()
		defer stream.Close()

		finish := ""
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if closed := sw.Send(&Reply{Content: choice.Delta.Content}, nil); closed {
					log.Debug("ai-gateway stream reader closed, cancelling upstream")
					return
				}
			}
			if fr := string(choice.FinishReason); fr != "" {
				finish = fr
			}
		}
		if err := stream.Err(); err != nil {
			sw.Send(nil, classifySDKError(err))
			return
		}
		sw.Send(&Reply{Final: true, FinishReason: normalizeFinishReason(finish)}, nil)
	}()
	return sr, nil
}

func (a *aiGatewayAdapter) Embed(ctx context.Context, req *EmbeddingRequest, cookies []cookiestore.Record) ([]float64, error) {
	if req == nil {
		return nil, errors.New("embedding request is nil")
	}
	resp, err := a.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(req.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(req.Input)},
	}, a.requestOptions(cookies)...)
	if err != nil {
		return nil, classifySDKError(err)
	}
	if len(resp.Data) == 0 {
		return nil, malformed("embedding response has no data")
	}
	return resp.Data[0].Embedding, nil
}

// requireEventStream 拦截 2xx 但不是事件流的响应，SDK 的解码器会把它当成空流。
func requireEventStream(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp, err
	}
	if err := checkEventStream(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// classifySDKError 把 openai-go 返回的错误映射为错误类别。
func classifySDKError(err error) error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		e := classifyStatus(apiErr.StatusCode, msg)
		e.Err = err
		return e
	}
	if classified := classifyTransport(err); classified != nil {
		var be *Error
		if errors.As(classified, &be) && errors.Is(be, ErrMalformedResponse) {
			// 流中夹带的错误载荷（例如 "received error while streaming: ..."）。
			if containsAny(err.Error(), authHints) || containsAny(err.Error(), rateHints) {
				pe := classifyPayload(err.Error())
				pe.Err = err
				return pe
			}
		}
		return classified
	}
	return nil
}

// payloadErrorMessage 提取 {"error": ...} 形式的错误载荷；没有则返回空。
func payloadErrorMessage(raw []byte) string {
	var envelope struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	if len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		var s string
		if err := json.Unmarshal(envelope.Error, &s); err == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		}
		if err := json.Unmarshal(envelope.Error, &obj); err == nil {
			if obj.Message != "" {
				return obj.Message
			}
			if obj.Type != "" {
				return obj.Type
			}
		}
		return string(envelope.Error)
	}
	if envelope.Detail != "" {
		return envelope.Detail
	}
	return ""
}
