// Package errs 定义了跨层共享的错误分类。
// 各层使用 fmt.Errorf("...: %w", errs.ErrXxx) 包装，handler 通过 errors.Is 映射为 HTTP 状态码。
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation 表示输入不合法，例如向量批次的索引与向量数量不一致。
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 表示会话、知识库、文档或分块不存在。
	ErrNotFound = errors.New("not found")
	// ErrConflict 表示唯一性冲突，例如知识库重名。
	ErrConflict = errors.New("conflict")
	// ErrBackendUnavailable 表示向量库或大模型后端不可达。
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrPartialStream 表示流式回答在输出部分内容后中断，只记录日志，不返回给客户端。
	ErrPartialStream = errors.New("stream interrupted after partial output")
	// ErrUnauthorized 表示凭证无效。
	ErrUnauthorized = errors.New("unauthorized")
)

// HTTPStatus 将错误映射为对应的 HTTP 状态码，未知错误返回 500。
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
