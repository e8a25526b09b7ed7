package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"execution-kit/execerr"
	"execution-kit/internal/engine"
	"execution-kit/internal/store"
)

// WriteJSON 写 JSON 响应；先设置 Content-Type 再写状态码。
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError 标准错误格式 {"error": code, "message": msg}
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorResponse{Error: code, Message: message})
}

// ParseJSON 校验 Content-Type 并严格解码请求体。
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("request body must be JSON with Content-Type: application/json")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %v", err)
	}
	return nil
}

// writeErr 按错误分类映射 HTTP 状态码。
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownOrder), errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, engine.ErrDuplicateOrder):
		WriteError(w, http.StatusConflict, "duplicate_order", err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		WriteError(w, http.StatusServiceUnavailable, "engine_not_running", err.Error())
	case errors.Is(err, execerr.ErrInvalidParameter):
		WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
	case errors.Is(err, execerr.ErrCrossedBook):
		WriteError(w, http.StatusUnprocessableEntity, "crossed_book", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
