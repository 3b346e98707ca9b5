package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

var (
	// ErrAuthExpired 后端拒绝了会话 cookie（需要重新导入）。
	ErrAuthExpired = errors.New("backend session expired")
	// ErrRateLimited 后端限流。
	ErrRateLimited = errors.New("backend rate limited")
	// ErrBackendUnreachable 无法连接后端、首字节超时或后端 5xx。
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrMalformedResponse 后端返回了无法解析的内容。
	ErrMalformedResponse = errors.New("malformed backend response")
	// ErrUnsupported 后端不支持该操作。
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Error 携带后端错误的细节；Kind 是上面的哨兵错误之一。
type Error struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf 返回 err 对应的哨兵错误；不是后端错误时返回 nil。
func KindOf(err error) error {
	for _, kind := range []error{ErrAuthExpired, ErrRateLimited, ErrBackendUnreachable, ErrMalformedResponse, ErrUnsupported} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindLabel 返回用于日志与指标的错误类别名。
func KindLabel(err error) string {
	switch KindOf(err) {
	case ErrAuthExpired:
		return "auth_expired"
	case ErrRateLimited:
		return "rate_limited"
	case ErrBackendUnreachable:
		return "unreachable"
	case ErrMalformedResponse:
		return "malformed"
	case ErrUnsupported:
		return "unsupported"
	default:
		return "other"
	}
}

var authHints = []string{
	"expired",
	"invalid session",
	"session",
	"cookie",
	"login",
	"log in",
	"unauthorized",
	"unauthenticated",
}

var rateHints = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
}

func containsAny(s string, hints []string) bool {
	lower := strings.ToLower(s)
	for _, h := range hints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// classifyStatus 把非 2xx 响应映射为错误类别。
func classifyStatus(status int, message string) *Error {
	e := &Error{Status: status, Message: strings.TrimSpace(message)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = ErrAuthExpired
	case status == http.StatusTooManyRequests:
		e.Kind = ErrRateLimited
	case containsAny(message, rateHints):
		e.Kind = ErrRateLimited
	case containsAny(message, authHints):
		e.Kind = ErrAuthExpired
	case status >= http.StatusInternalServerError:
		e.Kind = ErrBackendUnreachable
	default:
		e.Kind = ErrMalformedResponse
	}
	return e
}

// classifyPayload 处理 2xx 响应（或流）中夹带的错误载荷。
func classifyPayload(message string) *Error {
	e := &Error{Message: strings.TrimSpace(message)}
	switch {
	case containsAny(message, rateHints):
		e.Kind = ErrRateLimited
	case containsAny(message, authHints):
		e.Kind = ErrAuthExpired
	default:
		e.Kind = ErrMalformedResponse
	}
	return e
}

// classifyTransport 把 client.Do / 读 body 的错误映射为错误类别。
// 调用方取消（ctx.Canceled）原样返回，不计入后端错误。
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTransportError(err) {
		return &Error{Kind: ErrBackendUnreachable, Err: err}
	}
	return &Error{Kind: ErrMalformedResponse, Err: err}
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: ErrMalformedResponse, Message: fmt.Sprintf(format, args...)}
}
