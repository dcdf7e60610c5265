package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nodeforge/internal/app/audio"
	applog "nodeforge/internal/platform/log"
)

// SpeechHandler 文字转语音 API
type SpeechHandler struct {
	svc *audio.Service
}

// NewSpeechHandler 创建处理器
func NewSpeechHandler(svc *audio.Service) *SpeechHandler {
	return &SpeechHandler{svc: svc}
}

// RegisterPublicRoutes 音色列表无需登录
func (h *SpeechHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/text-to-speech/voices", handle(h.ListVoices))
}

// RegisterRoutes 注册路由
func (h *SpeechHandler) RegisterRoutes(r chi.Router) {
	r.Post("/text-to-speech/generate", handle(h.Generate))
}

func (h *SpeechHandler) ListVoices(w http.ResponseWriter, r *http.Request) error {
	voices, err := h.svc.Voices(r.URL.Query().Get("provider"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, voices)
	return nil
}

func (h *SpeechHandler) Generate(w http.ResponseWriter, r *http.Request) error {
	var req audio.SynthesisRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	body, contentType, err := h.svc.Synthesize(r.Context(), &req)
	if err != nil {
		return err
	}
	defer body.Close()

	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		applog.Warn("[TTS] Stream audio failed", "error", err)
	}
	return nil
}
