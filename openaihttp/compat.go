package openaihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/metrics"
	"github.com/LubyRuffy/freeloader/openaiapi"
	log "github.com/sirupsen/logrus"
)

type httpError struct {
	Status  int
	Message string
	Err     error
}

func (e *httpError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *httpError) Unwrap() error { return e.Err }

func badRequest(format string, args ...any) *httpError {
	return &httpError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

type compatConfig struct {
	Now               func() time.Time
	NewChatCompletion func() string
	WriteJSON         func(w http.ResponseWriter, data interface{})
	WriteOpenAIError  func(w http.ResponseWriter, statusCode int, code, message string)
	Adapter           backend.Adapter
	Cookies           func() []cookiestore.Record
	Metrics           *metrics.Collector
	SystemFingerprint string
}

type compatHandler struct {
	now               func() time.Time
	newChatCompletion func() string
	writeJSON         func(w http.ResponseWriter, data interface{})
	writeOpenAIError  func(w http.ResponseWriter, statusCode int, code, message string)
	adapter           backend.Adapter
	cookies           func() []cookiestore.Record
	metrics           *metrics.Collector
	systemFingerprint string
}

func newCompatHandler(cfg compatConfig) (*compatHandler, error) {
	if cfg.WriteJSON == nil {
		return nil, fmt.Errorf("WriteJSON is required")
	}
	if cfg.WriteOpenAIError == nil {
		return nil, fmt.Errorf("WriteOpenAIError is required")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("Adapter is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewChatCompletion == nil {
		cfg.NewChatCompletion = openaiapi.NewChatCompletionID
	}
	if cfg.Cookies == nil {
		cfg.Cookies = func() []cookiestore.Record { return nil }
	}
	if strings.TrimSpace(cfg.SystemFingerprint) == "" {
		cfg.SystemFingerprint = defaultSystemFingerprint
	}
	return &compatHandler{
		now:               cfg.Now,
		newChatCompletion: cfg.NewChatCompletion,
		writeJSON:         cfg.WriteJSON,
		writeOpenAIError:  cfg.WriteOpenAIError,
		adapter:           cfg.Adapter,
		cookies:           cfg.Cookies,
		metrics:           cfg.Metrics,
		systemFingerprint: cfg.SystemFingerprint,
	}, nil
}

func (h *compatHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	models, err := h.adapter.ListModels(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	modelsList := make([]openaiapi.OpenAIModel, 0, len(models))
	now := h.now().Unix()
	for _, m := range models {
		modelsList = append(modelsList, openaiapi.OpenAIModel{
			ID:      m.ID,
			Object:  "model",
			Created: now,
			OwnedBy: m.OwnedBy,
		})
	}

	h.writeJSON(w, openaiapi.OpenAIModelList{
		Object: "list",
		Data:   modelsList,
	})
}

func (h *compatHandler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	var req openaiapi.OpenAIChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		h.writeOpenAIError(w, http.StatusBadRequest, "", "model is required")
		return
	}
	messages, err := convertOpenAIChatMessages(req.Messages)
	if err != nil {
		h.writeError(w, err)
		return
	}

	chatReq := &backend.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	chatID := h.newChatCompletion()
	created := h.now().Unix()

	if req.Stream {
		h.handleStreamResponse(w, r, chatID, created, chatReq)
		return
	}

	reply, err := h.adapter.ChatCompletion(r.Context(), chatReq, h.cookies())
	if err != nil {
		h.writeError(w, err)
		return
	}

	usage := openaiapi.OpenAIUsage{}
	if reply.Usage != nil {
		usage = openaiapi.OpenAIUsage{
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
			TotalTokens:      reply.Usage.TotalTokens,
		}
	}
	h.writeJSON(w, openaiapi.ToChatCompletion(chatID, req.Model, created, reply.Content, reply.FinishReason, usage, h.systemFingerprint))
}

func (h *compatHandler) handleStreamResponse(w http.ResponseWriter, r *http.Request, chatID string, created int64, chatReq *backend.ChatRequest) {
	translator, err := newStreamTranslator(w, chatID, chatReq.Model, created, h.systemFingerprint)
	if err != nil {
		h.writeOpenAIError(w, http.StatusInternalServerError, "", "streaming not supported")
		return
	}

	// 请求结束（正常或客户端断开）时取消上游。
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sr, err := h.adapter.StreamChatCompletion(ctx, chatReq, h.cookies())
	if err != nil {
		// 还没有写出任何 SSE 字节，仍然可以返回普通的 JSON 错误。
		h.writeError(w, err)
		return
	}
	defer sr.Close()

	if err := translator.open(); err != nil {
		log.Debugf("stream %s: client gone before first chunk: %v", chatID, err)
		return
	}

	backendName := h.adapter.Name()
	for {
		reply, err := sr.Recv()
		if err != nil {
			if ctx.Err() != nil {
				log.Debugf("stream %s: client disconnected", chatID)
				return
			}
			if !isEOF(err) {
				log.Warnf("stream %s: backend error after stream opened: %v", chatID, err)
				h.recordBackendError(err)
			}
			_ = translator.close("stop")
			return
		}
		if reply == nil {
			continue
		}
		if reply.Content != "" {
			if err := translator.emit(reply.Content); err != nil {
				log.Debugf("stream %s: write failed, stop pulling: %v", chatID, err)
				return
			}
			h.metrics.StreamChunk(backendName)
		}
		if reply.Final {
			_ = translator.close(reply.FinishReason)
			return
		}
	}
}

func (h *compatHandler) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	var req openaiapi.OpenAIEmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		h.writeOpenAIError(w, http.StatusBadRequest, "", "model is required")
		return
	}
	if len(req.Input) == 0 {
		h.writeOpenAIError(w, http.StatusBadRequest, "", "input is required")
		return
	}

	cookies := h.cookies()
	vectors := make([][]float64, 0, len(req.Input))
	promptTokens := 0
	for _, input := range req.Input {
		vec, err := h.adapter.Embed(r.Context(), &backend.EmbeddingRequest{Model: req.Model, Input: input}, cookies)
		if err != nil {
			h.writeError(w, err)
			return
		}
		vectors = append(vectors, vec)
		promptTokens += backend.EstimateTokens(input)
	}
	h.writeJSON(w, openaiapi.ToEmbeddingList(req.Model, vectors, promptTokens))
}

func (h *compatHandler) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromError(err)
	if backend.KindOf(err) != nil {
		h.recordBackendError(err)
		log.Warnf("backend %s: %v", h.adapter.Name(), err)
	} else if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	h.writeOpenAIError(w, status, errorCode(err), httpMessageFromError(err))
}

func (h *compatHandler) recordBackendError(err error) {
	h.metrics.BackendError(h.adapter.Name(), backend.KindLabel(err))
}

func convertOpenAIChatMessages(messages []openaiapi.OpenAIMessage) ([]backend.Message, error) {
	if len(messages) == 0 {
		return nil, badRequest("messages is required")
	}

	result := make([]backend.Message, 0, len(messages))
	for _, msg := range messages {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			return nil, badRequest("message role is required")
		}
		content, err := openAIContentToText(msg.Content)
		if err != nil {
			return nil, badRequest("%s", err.Error())
		}
		result = append(result, backend.Message{Role: role, Content: content})
	}
	return result, nil
}

func openAIContentToText(content any) (string, error) {
	if content == nil {
		return "", nil
	}

	if text, ok := content.(string); ok {
		return text, nil
	}

	parts, ok := content.([]interface{})
	if !ok {
		return "", fmt.Errorf("unsupported message content")
	}

	builder := strings.Builder{}
	for _, part := range parts {
		partMap, ok := part.(map[string]interface{})
		if !ok {
			continue
		}
		partType, _ := partMap["type"].(string)
		if partType != "text" && partType != "input_text" {
			continue
		}
		if textValue, ok := partMap["text"].(string); ok {
			builder.WriteString(textValue)
			continue
		}
		if textObj, ok := partMap["text"].(map[string]interface{}); ok {
			if value, ok := textObj["value"].(string); ok {
				builder.WriteString(value)
			}
		}
	}

	return builder.String(), nil
}

func httpStatusFromError(err error) int {
	var httpErr *httpError
	if errors.As(err, &httpErr) && httpErr != nil && httpErr.Status != 0 {
		return httpErr.Status
	}
	switch {
	case errors.Is(err, backend.ErrAuthExpired), errors.Is(err, backend.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, backend.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, backend.ErrBackendUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, backend.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// errorCode 返回 error.code：后端错误用其分类标签，其余为空。
func errorCode(err error) string {
	switch {
	case backend.KindOf(err) != nil:
		return backend.KindLabel(err)
	case errors.Is(err, cookiestore.ErrStoreCorrupt):
		return "store_corrupt"
	}
	return ""
}

func httpMessageFromError(err error) string {
	var httpErr *httpError
	if errors.As(err, &httpErr) && httpErr != nil && strings.TrimSpace(httpErr.Message) != "" {
		return httpErr.Message
	}
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		return "backend session expired, re-import cookies (freeloader cookies import): " + err.Error()
	case errors.Is(err, backend.ErrBackendUnreachable):
		return "backend unreachable, check that the backend is running or re-import cookies: " + err.Error()
	case errors.Is(err, cookiestore.ErrStoreCorrupt):
		return "cookie store is corrupt, clear and re-import cookies: " + err.Error()
	}
	return err.Error()
}
