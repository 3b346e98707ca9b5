package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"
)

var errStreamDone = errors.New("backend stream done")

// chatChunk 是 chat.completion.chunk 中用到的字段。
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// readBackendSSE 逐个解析 `data:` 事件，把文本增量交给 onDelta，返回后端报告的 finish_reason。
// 事件中夹带的错误载荷（{"error": ...}）以 *Error 返回。
func readBackendSSE(ctx context.Context, body io.Reader, onDelta func(string) error) (string, error) {
	reader := bufio.NewReader(body)
	var dataLines []string
	finish := ""

	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		return handleBackendEvent(payload, onDelta, &finish)
	}

	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if err := flush(); err != nil && !errors.Is(err, errStreamDone) {
					return "", err
				}
				return finish, nil
			}
			return "", err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err := flush(); err != nil {
				if errors.Is(err, errStreamDone) {
					return finish, nil
				}
				return "", err
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				if err := flush(); err != nil && !errors.Is(err, errStreamDone) {
					return "", err
				}
				return finish, nil
			}
			if data != "" {
				dataLines = append(dataLines, data)
			}
		}
	}
}

func handleBackendEvent(payload string, onDelta func(string) error, finish *string) error {
	if msg := payloadErrorMessage([]byte(payload)); msg != "" {
		return classifyPayload(msg)
	}

	var chunk chatChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return malformed("undecodable stream event: %s", truncate(payload, 200))
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" && onDelta != nil {
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			*finish = *choice.FinishReason
		}
	}
	return nil
}

// checkEventStream 确认流式请求拿到的是 text/event-stream。
// 会话过期时有的后端对流式请求直接回 200 + JSON 错误载荷，这种响应按错误分类返回。
func checkEventStream(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "text/event-stream" {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return classifyTransport(err)
	}
	if msg := payloadErrorMessage(body); msg != "" {
		return classifyPayload(msg)
	}
	return malformed("expected an event stream, got %q: %s", contentType, truncate(strings.TrimSpace(string(body)), 200))
}

// truncate 按字符截断，不会切开多字节 UTF-8 字符。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
