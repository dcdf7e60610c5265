package chatflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"nodeforge/internal/adapter/speech"
	"nodeforge/internal/domain/chatflow/event"
	"nodeforge/internal/domain/chatflow/graph"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/domain/chatflow/runtime"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// PredictionRequest POST /prediction/{id} 请求体
type PredictionRequest struct {
	Question       string                 `json:"question"`
	ChatID         string                 `json:"chatId,omitempty"`
	SessionID      string                 `json:"sessionId,omitempty"`
	Streaming      bool                   `json:"streaming,omitempty"`
	OverrideConfig map[string]any         `json:"overrideConfig,omitempty"`
	History        []types.HistoryMessage `json:"history,omitempty"`
	Uploads        []types.FileUpload     `json:"uploads,omitempty"`
}

// Caller 请求方信息
type Caller struct {
	// Internal 已登录的控制台用户，消息记为 INTERNAL
	Internal bool
	APIKey   string
	RemoteIP string
}

// PredictionResponse 非流式响应
type PredictionResponse struct {
	Text            string           `json:"text"`
	Question        string           `json:"question"`
	ChatID          string           `json:"chatId"`
	ChatMessageID   string           `json:"chatMessageId"`
	SessionID       string           `json:"sessionId"`
	SourceDocuments []types.Document `json:"sourceDocuments,omitempty"`
	UsedTools       []types.UsedTool `json:"usedTools,omitempty"`
}

// Prediction 已通过校验、待执行的预测
type Prediction struct {
	Chatflow  *port.ChatFlow
	Graph     *graph.Graph
	Question  string
	ChatID    string
	SessionID string
	// Streaming 请求流式且结束节点可流式
	Streaming bool

	req      *PredictionRequest
	uploads  []types.FileUpload
	chatType port.ChatType
}

// PreparePrediction 依次校验 chatflow、API Key、限流、上传文件与问题
func (s *Service) PreparePrediction(ctx context.Context, chatflowID string, req *PredictionRequest, caller Caller) (*Prediction, error) {
	cf, err := s.Get(ctx, chatflowID)
	if err != nil {
		return nil, err
	}
	if s.keys != nil && !caller.Internal {
		if err := s.keys.VerifyForChatflow(ctx, cf, caller.APIKey); err != nil {
			return nil, err
		}
	}
	if err := s.checkRateLimit(ctx, cf, caller.RemoteIP); err != nil {
		return nil, err
	}

	g, err := graph.Parse(cf.FlowData)
	if err != nil {
		return nil, err
	}

	uploads, err := decodeUploads(req.Uploads)
	if err != nil {
		return nil, err
	}
	question := strings.TrimSpace(req.Question)
	if text, err := s.transcribe(ctx, cf, uploads); err != nil {
		return nil, err
	} else if text != "" {
		question = text
	}
	if question == "" && len(uploads) == 0 {
		return nil, errs.BadRequest("question or uploads is required")
	}

	p := &Prediction{
		Chatflow:  cf,
		Graph:     g,
		Question:  question,
		ChatID:    req.ChatID,
		SessionID: req.SessionID,
		Streaming: req.Streaming && s.engine.IsStreamable(g),
		req:       req,
		uploads:   uploads,
		chatType:  port.ChatTypeExternal,
	}
	if caller.Internal {
		p.chatType = port.ChatTypeInternal
	}
	if p.ChatID == "" {
		p.ChatID = uuid.NewString()
	}
	if p.SessionID == "" {
		if sid, ok := req.OverrideConfig["sessionId"].(string); ok && sid != "" {
			p.SessionID = sid
		} else {
			p.SessionID = p.ChatID
		}
	}
	return p, nil
}

// RunPrediction 执行预测并保存消息。sink 仅在 p.Streaming 时使用；
// 流式时结束前会推送 metadata 和 end，失败时推送 error
func (s *Service) RunPrediction(ctx context.Context, p *Prediction, sink event.Sink) (resp *PredictionResponse, err error) {
	if !p.Streaming {
		sink = nil
	}
	start := time.Now()
	defer func() {
		s.metrics.RecordPrediction(ctx, p.Chatflow.ID, p.Streaming, time.Since(start), err)
		if err != nil {
			event.Emit(sink, event.EventTypeError, errs.PublicMessage(err))
		}
	}()

	state := &runtime.RunState{
		ChatflowID:     p.Chatflow.ID,
		ChatID:         p.ChatID,
		SessionID:      p.SessionID,
		Question:       p.Question,
		History:        p.req.History,
		Uploads:        nonAudio(p.uploads),
		OverrideConfig: p.req.OverrideConfig,
		Sink:           sink,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	out, err := s.engine.Run(runCtx, p.Graph, state)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, errs.Newf(http.StatusGatewayTimeout, "Prediction timed out after %s", s.runTimeout)
	}
	if err != nil {
		return nil, err
	}

	resp = &PredictionResponse{
		Text:            out.Text,
		Question:        p.Question,
		ChatID:          p.ChatID,
		SessionID:       p.SessionID,
		SourceDocuments: out.SourceDocuments,
		UsedTools:       out.UsedTools,
	}
	resp.ChatMessageID = s.saveMessages(ctx, p, out)

	event.Emit(sink, event.EventTypeMetadata, map[string]any{
		"chatId":        resp.ChatID,
		"chatMessageId": resp.ChatMessageID,
		"question":      resp.Question,
		"sessionId":     resp.SessionID,
	})
	event.Emit(sink, event.EventTypeEnd, "[DONE]")
	applog.Info("[Prediction] Completed", "chatflow_id", p.Chatflow.ID, "chat_id", p.ChatID,
		"streaming", p.Streaming, "duration", time.Since(start))
	return resp, nil
}

// Predict 非流式预测
func (s *Service) Predict(ctx context.Context, chatflowID string, req *PredictionRequest, caller Caller) (*PredictionResponse, error) {
	req.Streaming = false
	p, err := s.PreparePrediction(ctx, chatflowID, req, caller)
	if err != nil {
		return nil, err
	}
	return s.RunPrediction(ctx, p, nil)
}

func (s *Service) checkRateLimit(ctx context.Context, cf *port.ChatFlow, ip string) error {
	cfg, err := ParseRateLimit(cf.APIConfig)
	if err != nil || cfg == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "prediction:"+cf.ID+":"+ip, cfg.LimitMax, cfg.LimitDuration)
	if err != nil {
		// 限流后端不可用时放行
		applog.Warn("[Prediction] Rate limiter unavailable", "chatflow_id", cf.ID, "error", err)
		return nil
	}
	if !ok {
		return errs.TooManyRequests(cfg.LimitMsg)
	}
	return nil
}

func (s *Service) transcribe(ctx context.Context, cf *port.ChatFlow, uploads []types.FileUpload) (string, error) {
	if s.audio == nil || cf.SpeechToText == "" {
		return "", nil
	}
	for _, up := range uploads {
		if !up.IsAudio() || len(up.Data) == 0 {
			continue
		}
		text, err := s.audio.Transcribe(ctx, cf.SpeechToText, &speech.Audio{
			Data:     up.Data,
			MimeType: up.Mime,
			FileName: up.Name,
		})
		if err != nil {
			return "", err
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, nil
		}
	}
	return "", nil
}

// decodeUploads 解码 data URI 形式的上传，url 类型原样保留
func decodeUploads(in []types.FileUpload) ([]types.FileUpload, error) {
	out := make([]types.FileUpload, 0, len(in))
	for _, up := range in {
		if strings.HasPrefix(up.URL, "data:") {
			decoded, err := node.DecodeDataURI(up.URL)
			if err != nil {
				return nil, errs.BadRequest("invalid upload %s: %v", up.Name, err)
			}
			if up.Name != "" {
				decoded.Name = up.Name
			}
			if up.Type != "" {
				decoded.Type = up.Type
			}
			if up.Mime != "" {
				decoded.Mime = up.Mime
			}
			up = decoded
		}
		out = append(out, up)
	}
	return out, nil
}

func nonAudio(uploads []types.FileUpload) []types.FileUpload {
	var out []types.FileUpload
	for _, up := range uploads {
		if !up.IsAudio() {
			out = append(out, up)
		}
	}
	return out
}

// saveMessages 保存问答两条消息，返回回答消息 id；保存失败只记录日志
func (s *Service) saveMessages(ctx context.Context, p *Prediction, out *node.RunOutput) string {
	memoryType := ""
	if mems := p.Graph.NodesByCategory(types.CategoryMemory); len(mems) > 0 {
		memoryType = mems[0].Data.Name
	}

	user := &port.ChatMessage{
		Role:        port.RoleUser,
		ChatflowID:  p.Chatflow.ID,
		ChatID:      p.ChatID,
		SessionID:   p.SessionID,
		Content:     p.Question,
		FileUploads: uploadsMetadata(p.uploads),
		ChatType:    p.chatType,
		MemoryType:  memoryType,
	}
	if err := s.repo.AddChatMessage(ctx, user); err != nil {
		applog.Warn("[Prediction] Save user message failed", "chatflow_id", p.Chatflow.ID, "error", err)
	}

	api := &port.ChatMessage{
		Role:            port.RoleAPI,
		ChatflowID:      p.Chatflow.ID,
		ChatID:          p.ChatID,
		SessionID:       p.SessionID,
		Content:         out.Text,
		SourceDocuments: marshalIfAny(len(out.SourceDocuments), out.SourceDocuments),
		UsedTools:       marshalIfAny(len(out.UsedTools), out.UsedTools),
		ChatType:        p.chatType,
		MemoryType:      memoryType,
	}
	if err := s.repo.AddChatMessage(ctx, api); err != nil {
		applog.Warn("[Prediction] Save api message failed", "chatflow_id", p.Chatflow.ID, "error", err)
	}
	return api.ID
}

// uploadsMetadata 仅保留文件名、类型与 url，不落库文件内容
func uploadsMetadata(uploads []types.FileUpload) json.RawMessage {
	if len(uploads) == 0 {
		return nil
	}
	meta := make([]types.FileUpload, len(uploads))
	for i, up := range uploads {
		meta[i] = types.FileUpload{Name: up.Name, Mime: up.Mime, Type: up.Type}
		if !strings.HasPrefix(up.URL, "data:") {
			meta[i].URL = up.URL
		}
	}
	return marshalIfAny(len(meta), meta)
}

func marshalIfAny(n int, v any) json.RawMessage {
	if n == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
