package openaihttp

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/LubyRuffy/freeloader/openaiapi"
)

const defaultBasePath = "/v1"

// errorTypes 把 HTTP 状态映射为 OpenAI error.type；未列出的状态一律 api_error。
var errorTypes = map[int]string{
	http.StatusBadRequest:          "invalid_request_error",
	http.StatusNotFound:            "not_found_error",
	http.StatusMethodNotAllowed:    "invalid_request_error",
	http.StatusTooManyRequests:     "rate_limit_error",
	http.StatusNotImplemented:      "not_implemented_error",
	http.StatusBadGateway:          "upstream_error",
	http.StatusServiceUnavailable:  "service_unavailable_error",
	http.StatusInternalServerError: "api_error",
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeOpenAIError 写 {error:{message,type,param,code}}；code 为空时输出 null。
func writeOpenAIError(w http.ResponseWriter, statusCode int, code, message string) {
	errType, ok := errorTypes[statusCode]
	if !ok {
		errType = "api_error"
	}

	var body openaiapi.OpenAIError
	body.Error.Message = message
	body.Error.Type = errType
	if code != "" {
		body.Error.Code = &code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// routePath 把 basePath（缺省 /v1，允许缺少前导 / 或带尾部 /）与 suffix 拼成 gin 路由。
func routePath(basePath, suffix string) string {
	basePath = strings.Trim(strings.TrimSpace(basePath), "/")
	if basePath == "" && suffix == "" {
		return defaultBasePath
	}
	if basePath == "" {
		basePath = strings.TrimPrefix(defaultBasePath, "/")
	}
	return path.Join("/", basePath, suffix)
}
