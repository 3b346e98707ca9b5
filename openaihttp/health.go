package openaihttp

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status     string `json:"status"`
	Backend    string `json:"backend"`
	BackendURL string `json:"backend_url,omitempty"`
	CheckedAt  string `json:"checked_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

type healthHandler struct {
	backend    string
	backendURL string
	checker    HealthChecker
	writeJSON  func(w http.ResponseWriter, data interface{})
}

// handle 返回最近一次探活结果。没有探活数据时报告 "unknown"（仍为 200）；
// 最近一次探活失败时报告 "unreachable" 并返回 503。
func (h *healthHandler) handle(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "unknown",
		Backend:    h.backend,
		BackendURL: h.backendURL,
	}
	if h.checker != nil {
		up, checkedAt, err := h.checker.Healthy()
		if !checkedAt.IsZero() {
			resp.CheckedAt = checkedAt.UTC().Format(time.RFC3339)
			if up {
				resp.Status = "ok"
			} else {
				resp.Status = "unreachable"
				if err != nil {
					resp.Error = err.Error()
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
	}
	h.writeJSON(w, resp)
}
