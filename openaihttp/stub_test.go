package openaihttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/openaiapi"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

// stubAdapter 是可编排的 backend.Adapter。
type stubAdapter struct {
	reply    *backend.Reply
	replyErr error

	streamErr error
	chunks    []*backend.Reply
	// tailErr 在 chunks 之后通过流返回。
	tailErr error
	// streamFn 非空时接管 StreamChatCompletion。
	streamFn func(ctx context.Context) (*schema.StreamReader[*backend.Reply], error)

	embedding []float64
	embedErr  error

	mu         sync.Mutex
	gotReq     *backend.ChatRequest
	gotCookies []cookiestore.Record
	embedCalls []string
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) ListModels(ctx context.Context) ([]backend.Model, error) {
	return []backend.Model{{ID: "gpt-4", OwnedBy: "openai"}, {ID: "gemini-pro", OwnedBy: "google"}}, nil
}

func (s *stubAdapter) record(req *backend.ChatRequest, cookies []cookiestore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotReq = req
	s.gotCookies = cookies
}

func (s *stubAdapter) ChatCompletion(ctx context.Context, req *backend.ChatRequest, cookies []cookiestore.Record) (*backend.Reply, error) {
	s.record(req, cookies)
	if s.replyErr != nil {
		return nil, s.replyErr
	}
	return s.reply, nil
}

func (s *stubAdapter) StreamChatCompletion(ctx context.Context, req *backend.ChatRequest, cookies []cookiestore.Record) (*schema.StreamReader[*backend.Reply], error) {
	s.record(req, cookies)
	if s.streamFn != nil {
		return s.streamFn(ctx)
	}
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	if s.tailErr == nil {
		return schema.StreamReaderFromArray(s.chunks), nil
	}
	sr, sw := schema.Pipe[*backend.Reply](len(s.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range s.chunks {
			sw.Send(c, nil)
		}
		sw.Send(nil, s.tailErr)
	}()
	return sr, nil
}

func (s *stubAdapter) Embed(ctx context.Context, req *backend.EmbeddingRequest, cookies []cookiestore.Record) ([]float64, error) {
	s.mu.Lock()
	s.embedCalls = append(s.embedCalls, req.Input)
	s.mu.Unlock()
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return s.embedding, nil
}

// sseFrames 解析 SSE body：返回 chunk 列表以及 [DONE] 出现的次数。
func sseFrames(t *testing.T, raw string) ([]openaiapi.OpenAIChatChunk, int) {
	t.Helper()
	var chunks []openaiapi.OpenAIChatChunk
	done := 0
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			require.Empty(t, strings.TrimSpace(line), "unexpected line %q", line)
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done++
			continue
		}
		require.Zero(t, done, "chunk after [DONE]")
		var chunk openaiapi.OpenAIChatChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		chunks = append(chunks, chunk)
	}
	require.NoError(t, scanner.Err())
	return chunks, done
}

func deltaText(chunks []openaiapi.OpenAIChatChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		if len(c.Choices) > 0 && c.Choices[0].Delta.Content != nil {
			b.WriteString(*c.Choices[0].Delta.Content)
		}
	}
	return b.String()
}
