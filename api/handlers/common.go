package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/types"
)

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// 编码失败时响应头已写出，只能放弃
		return
	}
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = MapErrorKindToHTTPStatus(err.Kind)
	}

	if logger != nil {
		logger.Error("API error",
			zap.String("kind", string(err.Kind)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, types.OrchestrationResponse{
		Error: &types.ErrorInfo{
			Kind:    string(err.Kind),
			Message: err.Message,
		},
	})
}

// =============================================================================
// 🔄 错误分类到 HTTP 状态码映射
// =============================================================================

// MapErrorKindToHTTPStatus 将错误分类映射为 HTTP 状态码
func MapErrorKindToHTTPStatus(kind types.ErrorKind) int {
	switch kind {
	// 4xx 客户端错误
	case types.ErrRejectedInput, types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrQuotaExceeded:
		return http.StatusPaymentRequired

	// 5xx 服务端错误
	case types.ErrDeadlineExceeded, types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError:
		return http.StatusBadGateway
	case types.ErrMemoryUnavailable, types.ErrEmbeddingError, types.ErrInternalError:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// maxBodyBytes 请求体大小上限
const maxBodyBytes = 1 << 20

// DecodeJSONBody 解码 JSON 请求体
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrRejectedInput, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrRejectedInput, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "application/json; charset=utf-8" {
		err := types.NewError(types.ErrRejectedInput, "Content-Type must be application/json")
		WriteError(w, err, logger)
		return false
	}
	return true
}
