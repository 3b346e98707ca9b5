package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/freeloader/backend"
)

const DefaultProbeTimeout = 5 * time.Second

// Probe 对 baseURL 发一个 GET。只要收到任何 HTTP 响应（包括 4xx/5xx）就认为后端可达；
// 连接失败或超时返回 backend.ErrBackendUnreachable。
func Probe(ctx context.Context, baseURL string, timeout time.Duration) error {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return fmt.Errorf("probe: base url is empty")
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &backend.Error{Kind: backend.ErrBackendUnreachable, Message: "probe " + baseURL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return nil
}
