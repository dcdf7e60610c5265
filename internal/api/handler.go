package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	appchatflow "nodeforge/internal/app/chatflow"
	"nodeforge/internal/domain/chatflow/port"
	applog "nodeforge/internal/platform/log"
)

// ChatflowHandler chatflow、预测与会话消息 API
type ChatflowHandler struct {
	svc          *appchatflow.Service
	maxBodyBytes int64
}

// NewChatflowHandler 创建处理器
func NewChatflowHandler(svc *appchatflow.Service, maxBodyBytes int64) *ChatflowHandler {
	return &ChatflowHandler{svc: svc, maxBodyBytes: maxBodyBytes}
}

// RegisterPublicRoutes 无需登录的路由；prediction 自行校验 chatflow 的 API Key
func (h *ChatflowHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/public-chatflows/{id}", handle(h.GetPublicChatflow))
	r.Get("/chatflows-streaming/{id}", handle(h.GetStreaming))
	r.Post("/prediction/{id}", handle(h.Predict))
}

// RegisterRoutes 需要登录的路由
func (h *ChatflowHandler) RegisterRoutes(r chi.Router) {
	r.Route("/chatflows", func(r chi.Router) {
		r.Get("/", handle(h.ListChatflows))
		r.Post("/", handle(h.CreateChatflow))
		r.Get("/{id}", handle(h.GetChatflow))
		r.Put("/{id}", handle(h.UpdateChatflow))
		r.Delete("/{id}", handle(h.DeleteChatflow))
	})
	r.Post("/internal-prediction/{id}", handle(h.Predict))
	r.Get("/chatmessage/{id}", handle(h.ListMessages))
	r.Delete("/chatmessage/{id}", handle(h.DeleteMessages))
}

// --- Chatflow CRUD ---

type createChatflowRequest struct {
	Name          string            `json:"name"`
	FlowData      string            `json:"flowData"`
	Deployed      bool              `json:"deployed"`
	IsPublic      bool              `json:"isPublic"`
	APIKeyID      string            `json:"apikeyid"`
	ChatbotConfig string            `json:"chatbotConfig"`
	APIConfig     string            `json:"apiConfig"`
	SpeechToText  string            `json:"speechToText"`
	Category      string            `json:"category"`
	Type          port.ChatflowType `json:"type"`
}

func (h *ChatflowHandler) CreateChatflow(w http.ResponseWriter, r *http.Request) error {
	var req createChatflowRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	cf := &port.ChatFlow{
		Name:          req.Name,
		FlowData:      req.FlowData,
		Deployed:      req.Deployed,
		IsPublic:      req.IsPublic,
		APIKeyID:      req.APIKeyID,
		ChatbotConfig: req.ChatbotConfig,
		APIConfig:     req.APIConfig,
		SpeechToText:  req.SpeechToText,
		Category:      req.Category,
		Type:          port.ChatflowType(strings.ToUpper(string(req.Type))),
	}
	if p := PrincipalFrom(r.Context()); p != nil {
		cf.WorkspaceID = p.WorkspaceID
	}
	created, err := h.svc.Create(r.Context(), cf)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, created)
	return nil
}

func (h *ChatflowHandler) ListChatflows(w http.ResponseWriter, r *http.Request) error {
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

func (h *ChatflowHandler) GetChatflow(w http.ResponseWriter, r *http.Request) error {
	cf, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cf)
	return nil
}

func (h *ChatflowHandler) UpdateChatflow(w http.ResponseWriter, r *http.Request) error {
	var req appchatflow.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Type != nil {
		t := port.ChatflowType(strings.ToUpper(string(*req.Type)))
		req.Type = &t
	}
	cf, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cf)
	return nil
}

func (h *ChatflowHandler) DeleteChatflow(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "deleted": "true"})
	return nil
}

func (h *ChatflowHandler) GetPublicChatflow(w http.ResponseWriter, r *http.Request) error {
	cf, err := h.svc.GetPublic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cf)
	return nil
}

func (h *ChatflowHandler) GetStreaming(w http.ResponseWriter, r *http.Request) error {
	ok, err := h.svc.IsStreaming(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isStreaming": ok})
	return nil
}

// --- Prediction ---

func (h *ChatflowHandler) Predict(w http.ResponseWriter, r *http.Request) error {
	req, err := h.decodePrediction(r)
	if err != nil {
		return err
	}
	ctx := r.Context()
	p, err := h.svc.PreparePrediction(ctx, chi.URLParam(r, "id"), req, callerOf(r))
	if err != nil {
		return err
	}

	if p.Streaming {
		if sse, ok := newSSEWriter(w); ok {
			// 错误已作为 error 事件推送
			if _, err := h.svc.RunPrediction(ctx, p, sse); err != nil {
				applog.Warn("[Prediction] Streaming run failed", "chatflow_id", p.Chatflow.ID, "error", err)
			}
			return nil
		}
		p.Streaming = false
	}

	resp, err := h.svc.RunPrediction(ctx, p, nil)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// decodePrediction 支持 JSON 与 multipart（question 等字段 + files）
func (h *ChatflowHandler) decodePrediction(r *http.Request) (*appchatflow.PredictionRequest, error) {
	req := &appchatflow.PredictionRequest{}
	if !isMultipart(r) {
		return req, decodeJSON(r, req)
	}
	form, err := readMultipart(r, h.maxBodyBytes)
	if err != nil {
		return nil, err
	}
	req.Question = form.value("question")
	req.ChatID = form.value("chatId")
	req.SessionID = form.value("sessionId")
	req.Streaming = form.value("streaming") == "true"
	if err := form.jsonValue("overrideConfig", &req.OverrideConfig); err != nil {
		return nil, err
	}
	if err := form.jsonValue("history", &req.History); err != nil {
		return nil, err
	}
	req.Uploads = form.uploads()
	return req, nil
}

// callerOf 登录用户视为控制台内部调用，其余请求携带的 Bearer 作为 API Key
func callerOf(r *http.Request) appchatflow.Caller {
	c := appchatflow.Caller{RemoteIP: clientIP(r)}
	p := PrincipalFrom(r.Context())
	switch {
	case p != nil && !p.ViaAPIKey():
		c.Internal = true
	case p != nil:
		c.APIKey = p.APIKey
	default:
		c.APIKey = bearerToken(r)
	}
	return c
}

// --- Chat messages ---

func (h *ChatflowHandler) ListMessages(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	msgs, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "id"), appchatflow.MessageQuery{
		ChatID:    q.Get("chatId"),
		SessionID: q.Get("sessionId"),
		Order:     q.Get("order"),
		ChatType:  q.Get("chatType"),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, msgs)
	return nil
}

func (h *ChatflowHandler) DeleteMessages(w http.ResponseWriter, r *http.Request) error {
	n, err := h.svc.DeleteMessages(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("chatId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	return nil
}
