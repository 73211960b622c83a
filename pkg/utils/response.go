package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
)

// 错误码沿用 "<type>:<surface>" 形式。
const (
	CodeBadRequest   = "bad_request:api"
	CodeUnauthorized = "unauthorized:chat"
	CodeTaskAuth     = "unauthorized:task"
	CodeForbidden    = "forbidden:chat"
	CodeNotFound     = "not_found:chat"
	CodeTaskNotFound = "not_found:task"
	CodeTaskInvalid  = "bad_request:task"
	CodeUnavailable  = "offline:stream"
	CodeInternal     = "internal:api"
)

// APIError 是所有错误响应的 JSON 结构。
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Default().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, APIError{Code: code, Message: message})
}
