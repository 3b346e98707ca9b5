package openaihttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/openaiapi"
	"github.com/LubyRuffy/freeloader/openaihttp"
	"github.com/stretchr/testify/require"
)

func newHandlers(t *testing.T, cfg openaihttp.Config) (http.HandlerFunc, http.HandlerFunc, http.HandlerFunc) {
	t.Helper()
	modelsH, chatH, embeddingsH, err := openaihttp.Handlers(cfg)
	require.NoError(t, err)
	return modelsH, chatH, embeddingsH
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func chatRequest(stream bool) openaiapi.OpenAIChatRequest {
	return openaiapi.OpenAIChatRequest{
		Model:    "gpt-4",
		Messages: []openaiapi.OpenAIMessage{{Role: "user", Content: "hi"}},
		Stream:   stream,
	}
}

func TestHandlers_RequireAdapter(t *testing.T) {
	_, _, _, err := openaihttp.Handlers(openaihttp.Config{})
	require.Error(t, err)
}

func TestModels_ListsCatalogEvenWhenBackendIsDown(t *testing.T) {
	adapter, err := backend.New(backend.Config{Kind: freeloader.BackendAIGateway, BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	modelsH, _, _ := newHandlers(t, openaihttp.Config{Adapter: adapter})

	w := httptest.NewRecorder()
	modelsH(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp openaiapi.OpenAIModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "list", resp.Object)
	catalog := freeloader.CatalogFor(freeloader.BackendAIGateway)
	require.Len(t, resp.Data, len(catalog))
	for i, m := range resp.Data {
		require.Equal(t, catalog[i].ID, m.ID)
		require.Equal(t, catalog[i].OwnedBy, m.OwnedBy)
		require.Equal(t, "model", m.Object)
		require.NotZero(t, m.Created)
	}
}

func TestModels_MethodNotAllowed(t *testing.T) {
	modelsH, _, _ := newHandlers(t, openaihttp.Config{Adapter: &stubAdapter{}})
	w := httptest.NewRecorder()
	modelsH(w, httptest.NewRequest(http.MethodPost, "/v1/models", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestChatCompletions_NonStreamHello(t *testing.T) {
	stub := &stubAdapter{reply: &backend.Reply{
		Content:      "hello",
		Final:        true,
		FinishReason: "stop",
		Usage:        &backend.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(false))
	require.Equal(t, http.StatusOK, w.Code)

	var resp openaiapi.OpenAIChatCompletion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	require.Equal(t, "chat.completion", resp.Object)
	require.Equal(t, "gpt-4", resp.Model)
	require.Equal(t, "fp_freeloader", resp.SystemFingerprint)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, 0, resp.Choices[0].Index)
	require.Equal(t, "assistant", resp.Choices[0].Message.Role)
	require.Equal(t, "hello", resp.Choices[0].Message.Content)
	require.Equal(t, "stop", *resp.Choices[0].FinishReason)
	require.Equal(t, 3, resp.Usage.TotalTokens)

	require.False(t, stub.gotReq.Stream)
	require.Equal(t, []backend.Message{{Role: "user", Content: "hi"}}, stub.gotReq.Messages)
}

func TestChatCompletions_StreamHelLo(t *testing.T) {
	stub := &stubAdapter{chunks: []*backend.Reply{
		{Content: "Hel"},
		{Content: ""},
		{Content: "lo"},
		{Final: true, FinishReason: "stop"},
	}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub, SystemFingerprint: "fp_test"})

	w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(true))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	chunks, done := sseFrames(t, w.Body.String())
	require.Equal(t, 1, done)
	require.Len(t, chunks, 4)

	first := chunks[0]
	require.Equal(t, "assistant", first.Choices[0].Delta.Role)
	require.NotNil(t, first.Choices[0].Delta.Content)
	require.Equal(t, "", *first.Choices[0].Delta.Content)
	require.Nil(t, first.Choices[0].FinishReason)

	require.Equal(t, "Hel", *chunks[1].Choices[0].Delta.Content)
	require.Equal(t, "lo", *chunks[2].Choices[0].Delta.Content)

	last := chunks[3]
	require.Nil(t, last.Choices[0].Delta.Content)
	require.Equal(t, "stop", *last.Choices[0].FinishReason)

	for _, c := range chunks {
		require.Equal(t, first.ID, c.ID)
		require.Equal(t, first.Created, c.Created)
		require.Equal(t, "gpt-4", c.Model)
		require.Equal(t, "fp_test", c.SystemFingerprint)
		require.Equal(t, "chat.completion.chunk", c.Object)
	}
	require.Equal(t, "Hello", deltaText(chunks))
	require.True(t, stub.gotReq.Stream)
}

func TestChatCompletions_StreamMatchesNonStream(t *testing.T) {
	stub := &stubAdapter{
		reply: &backend.Reply{Content: "the quick brown fox", Final: true, FinishReason: "stop"},
		chunks: []*backend.Reply{
			{Content: "the "}, {Content: "quick "}, {Content: "brown "}, {Content: "fox"},
			{Final: true, FinishReason: "stop"},
		},
	}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	var full openaiapi.OpenAIChatCompletion
	w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(false))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &full))

	w = postJSON(t, chatH, "/v1/chat/completions", chatRequest(true))
	chunks, done := sseFrames(t, w.Body.String())
	require.Equal(t, 1, done)
	require.Equal(t, full.Choices[0].Message.Content, deltaText(chunks))
}

func TestChatCompletions_StreamLengthFinishReason(t *testing.T) {
	stub := &stubAdapter{chunks: []*backend.Reply{{Content: "trunc"}, {Final: true, FinishReason: "length"}}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(true))
	chunks, _ := sseFrames(t, w.Body.String())
	require.Equal(t, "length", *chunks[len(chunks)-1].Choices[0].FinishReason)
}

func TestChatCompletions_StreamBackendErrorAfterOpen(t *testing.T) {
	stub := &stubAdapter{
		chunks:  []*backend.Reply{{Content: "Hel"}},
		tailErr: &backend.Error{Kind: backend.ErrBackendUnreachable, Message: "connection reset"},
	}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(true))
	require.Equal(t, http.StatusOK, w.Code)
	chunks, done := sseFrames(t, w.Body.String())
	require.Equal(t, 1, done)
	require.Len(t, chunks, 3)
	require.Equal(t, "Hel", deltaText(chunks))
	require.Equal(t, "stop", *chunks[2].Choices[0].FinishReason)
}

func TestChatCompletions_StreamEndsWithoutFinal(t *testing.T) {
	stub := &stubAdapter{chunks: []*backend.Reply{{Content: "partial"}}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(true))
	chunks, done := sseFrames(t, w.Body.String())
	require.Equal(t, 1, done)
	require.Equal(t, "stop", *chunks[len(chunks)-1].Choices[0].FinishReason)
}

func TestChatCompletions_StreamErrorBeforeOpenIsJSON(t *testing.T) {
	stub := &stubAdapter{streamErr: &backend.Error{Kind: backend.ErrAuthExpired, Status: 401}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(true))
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp openaiapi.OpenAIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.Error.Message, "re-import cookies")
}

func TestChatCompletions_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body any
		msg  string
	}{
		{name: "invalid json", body: "{nope", msg: "invalid request body"},
		{name: "missing model", body: openaiapi.OpenAIChatRequest{Messages: []openaiapi.OpenAIMessage{{Role: "user", Content: "hi"}}}, msg: "model is required"},
		{name: "empty messages", body: openaiapi.OpenAIChatRequest{Model: "gpt-4"}, msg: "messages is required"},
		{name: "empty role", body: openaiapi.OpenAIChatRequest{Model: "gpt-4", Messages: []openaiapi.OpenAIMessage{{Content: "hi"}}}, msg: "message role is required"},
		{name: "bad content", body: `{"model":"gpt-4","messages":[{"role":"user","content":42}]}`, msg: "unsupported message content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAdapter{}
			_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})
			w := postJSON(t, chatH, "/v1/chat/completions", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp openaiapi.OpenAIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Equal(t, tc.msg, resp.Error.Message)
			require.Equal(t, "invalid_request_error", resp.Error.Type)
			require.Nil(t, stub.gotReq)
		})
	}
}

func TestChatCompletions_AnyModelIsForwarded(t *testing.T) {
	stub := &stubAdapter{reply: &backend.Reply{Content: "ok", Final: true}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	req := chatRequest(false)
	req.Model = "definitely-not-in-the-catalog"
	w := postJSON(t, chatH, "/v1/chat/completions", req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "definitely-not-in-the-catalog", stub.gotReq.Model)
}

func TestChatCompletions_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
		code   string
	}{
		{err: &backend.Error{Kind: backend.ErrAuthExpired}, status: http.StatusBadGateway, typ: "upstream_error", code: "auth_expired"},
		{err: &backend.Error{Kind: backend.ErrMalformedResponse}, status: http.StatusBadGateway, typ: "upstream_error", code: "malformed"},
		{err: &backend.Error{Kind: backend.ErrRateLimited}, status: http.StatusTooManyRequests, typ: "rate_limit_error", code: "rate_limited"},
		{err: &backend.Error{Kind: backend.ErrBackendUnreachable}, status: http.StatusServiceUnavailable, typ: "service_unavailable_error", code: "unreachable"},
		{err: &backend.Error{Kind: backend.ErrUnsupported}, status: http.StatusNotImplemented, typ: "not_implemented_error", code: "unsupported"},
		{err: fmt.Errorf("load: %w", cookiestore.ErrStoreCorrupt), status: http.StatusInternalServerError, typ: "api_error", code: "store_corrupt"},
		{err: errors.New("boom"), status: http.StatusInternalServerError, typ: "api_error"},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: &stubAdapter{replyErr: tc.err}})
			w := postJSON(t, chatH, "/v1/chat/completions", chatRequest(false))
			require.Equal(t, tc.status, w.Code)

			var resp openaiapi.OpenAIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Equal(t, tc.typ, resp.Error.Type)
			require.NotEmpty(t, resp.Error.Message)
			if tc.code == "" {
				require.Nil(t, resp.Error.Code)
			} else {
				require.Equal(t, tc.code, *resp.Error.Code)
			}
		})
	}
}

func TestChatCompletions_ForwardsStoredCookiesAndIgnoresBearer(t *testing.T) {
	store, err := cookiestore.Open(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, err)
	rec := cookiestore.Record{Name: "sid", Value: "abc", Domain: "chat.example.com", Path: "/"}
	require.NoError(t, store.ImportDomain("chat.example.com", []cookiestore.Record{rec}))

	stub := &stubAdapter{reply: &backend.Reply{Content: "ok", Final: true}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{
		Adapter:    stub,
		Cookies:    store,
		BackendURL: "http://chat.example.com:8080",
	})

	raw, err := json.Marshal(chatRequest(false))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer whatever")
	w := httptest.NewRecorder()
	chatH(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []cookiestore.Record{rec}, stub.gotCookies)
}

func TestChatCompletions_ContentParts(t *testing.T) {
	stub := &stubAdapter{reply: &backend.Reply{Content: "ok", Final: true}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	body := `{"model":"gpt-4","messages":[{"role":"system","content":"be brief"},{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"b"}]}]}`
	w := postJSON(t, chatH, "/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []backend.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "ab"}}, stub.gotReq.Messages)
}

func TestEmbeddings(t *testing.T) {
	stub := &stubAdapter{embedding: []float64{0.5, 0.25}}
	_, _, embeddingsH := newHandlers(t, openaihttp.Config{Adapter: stub})

	w := postJSON(t, embeddingsH, "/v1/embeddings", `{"model":"text-embedding","input":["first","second"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp openaiapi.OpenAIEmbeddingList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "list", resp.Object)
	require.Equal(t, "text-embedding", resp.Model)
	require.Len(t, resp.Data, 2)
	require.Equal(t, 0, resp.Data[0].Index)
	require.Equal(t, 1, resp.Data[1].Index)
	require.Equal(t, "embedding", resp.Data[1].Object)
	require.Equal(t, []float64{0.5, 0.25}, resp.Data[0].Embedding)
	require.Equal(t, []string{"first", "second"}, stub.embedCalls)

	w = postJSON(t, embeddingsH, "/v1/embeddings", `{"model":"text-embedding","input":"single"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
}

func TestEmbeddings_Errors(t *testing.T) {
	_, _, embeddingsH := newHandlers(t, openaihttp.Config{Adapter: &stubAdapter{embedErr: &backend.Error{Kind: backend.ErrUnsupported}}})

	w := postJSON(t, embeddingsH, "/v1/embeddings", `{"model":"m","input":"x"}`)
	require.Equal(t, http.StatusNotImplemented, w.Code)

	w = postJSON(t, embeddingsH, "/v1/embeddings", `{"model":"m"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, embeddingsH, "/v1/embeddings", `{"input":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, embeddingsH, "/v1/embeddings", `{"model":"m","input":[1]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

type stubHealth struct {
	up        bool
	checkedAt time.Time
	err       error
}

func (s stubHealth) Healthy() (bool, time.Time, error) { return s.up, s.checkedAt, s.err }

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name   string
		health openaihttp.HealthChecker
		status int
		want   string
	}{
		{name: "no checker", health: nil, status: http.StatusOK, want: "unknown"},
		{name: "not probed yet", health: stubHealth{}, status: http.StatusOK, want: "unknown"},
		{name: "up", health: stubHealth{up: true, checkedAt: time.Now()}, status: http.StatusOK, want: "ok"},
		{name: "down", health: stubHealth{checkedAt: time.Now(), err: errors.New("refused")}, status: http.StatusServiceUnavailable, want: "unreachable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := openaihttp.HealthHandler(openaihttp.Config{Adapter: &stubAdapter{}, BackendURL: "http://localhost:8080", Health: tc.health})
			require.NoError(t, err)
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			require.Equal(t, tc.status, w.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Equal(t, tc.want, resp["status"])
			require.Equal(t, "stub", resp["backend"])
			require.Equal(t, "http://localhost:8080", resp["backend_url"])
		})
	}
}

func TestChatCompletions_StreamHonoursCancelledContext(t *testing.T) {
	stub := &stubAdapter{chunks: []*backend.Reply{{Content: "x"}, {Final: true}}}
	_, chatH, _ := newHandlers(t, openaihttp.Config{Adapter: stub})

	raw, err := json.Marshal(chatRequest(true))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw)).WithContext(ctx)
	w := httptest.NewRecorder()
	chatH(w, req)

	_, done := sseFrames(t, w.Body.String())
	require.LessOrEqual(t, done, 1)
}
