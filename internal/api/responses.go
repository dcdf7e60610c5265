package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: message,
	})
}

// writeErr 服务层错误统一出口：InternalError 按状态码返回，其余记日志后返回 500
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.StatusOf(err)
	var ie *errs.InternalError
	if status >= http.StatusInternalServerError || !errors.As(err, &ie) {
		applog.Error("[API] Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, errs.PublicMessage(err))
}

// handlerFunc 返回 error 的处理函数，由 handle 统一写错误
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeErr(w, r, err)
		}
	}
}

// decodeJSON 解析请求体；空 body 视为 {}
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errs.BadRequest("invalid JSON: %v", err)
}
