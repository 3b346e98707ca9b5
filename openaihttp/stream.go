package openaihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/LubyRuffy/freeloader/openaiapi"
)

type streamState int

const (
	streamIdle streamState = iota
	streamOpen
	streamEmitting
	streamClosed
)

var errStreamClosed = errors.New("stream already closed")

// streamTranslator 把后端增量写成 OpenAI chat.completion.chunk SSE 帧。
// 一个流内 id/created/model/system_fingerprint 固定；[DONE] 最多写一次；
// 任何写失败之后不再写入（连接已断）。
type streamTranslator struct {
	w       http.ResponseWriter
	flusher http.Flusher

	id          string
	model       string
	created     int64
	fingerprint string

	state streamState
}

func newStreamTranslator(w http.ResponseWriter, id, model string, created int64, fingerprint string) (*streamTranslator, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	return &streamTranslator{
		w:           w,
		flusher:     flusher,
		id:          id,
		model:       model,
		created:     created,
		fingerprint: fingerprint,
	}, nil
}

// open 写 SSE 响应头和首个 chunk：delta {role:"assistant", content:""}。
func (t *streamTranslator) open() error {
	if t.state != streamIdle {
		return nil
	}
	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	t.w.WriteHeader(http.StatusOK)
	t.state = streamOpen

	empty := ""
	return t.writeChunk(openaiapi.OpenAIDelta{Role: "assistant", Content: &empty}, nil)
}

// emit 写一个内容增量；空增量忽略。
func (t *streamTranslator) emit(delta string) error {
	if t.state == streamClosed {
		return errStreamClosed
	}
	if t.state == streamIdle {
		if err := t.open(); err != nil {
			return err
		}
	}
	if delta == "" {
		return nil
	}
	t.state = streamEmitting
	return t.writeChunk(openaiapi.OpenAIDelta{Content: &delta}, nil)
}

// close 写终止 chunk（空 delta + finish_reason）与 data: [DONE]。重复调用是空操作。
func (t *streamTranslator) close(finishReason string) error {
	if t.state == streamClosed {
		return nil
	}
	if t.state == streamIdle {
		if err := t.open(); err != nil {
			return err
		}
	}
	if finishReason == "" {
		finishReason = "stop"
	}
	if err := t.writeChunk(openaiapi.OpenAIDelta{}, &finishReason); err != nil {
		return err
	}
	t.state = streamClosed
	if _, err := io.WriteString(t.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *streamTranslator) writeChunk(delta openaiapi.OpenAIDelta, finishReason *string) error {
	chunk := openaiapi.ToChatChunk(t.id, t.model, t.created, delta, finishReason, t.fingerprint)
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", data); err != nil {
		t.state = streamClosed
		return err
	}
	t.flusher.Flush()
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
