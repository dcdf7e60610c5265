package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"

	"nodeforge/internal/domain/chatflow/event"
	applog "nodeforge/internal/platform/log"
)

// sseWriter 把 chatflow 事件写成 `data: {"event":..,"data":..}` 帧
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter 写出 SSE 响应头；ResponseWriter 不支持 Flush 时返回 false
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) Emit(e event.Event) {
	payload, err := sonic.Marshal(e)
	if err != nil {
		applog.Warn("[SSE] Encode event failed", "event", string(e.Event), "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "message:\ndata: %s\n\n", payload)
	s.flusher.Flush()
}
