// Package chatflow chatflow 的增删改查、预测与向量写入服务。
// 服务层返回 errs.InternalError，由 API 层统一翻译成响应。
package chatflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nodeforge/internal/adapter/speech"
	"nodeforge/internal/domain/chatflow/engine"
	"nodeforge/internal/domain/chatflow/graph"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/platform/telemetry"
)

// Transcriber 按 chatflow.speechToText 配置转写音频
type Transcriber interface {
	Transcribe(ctx context.Context, speechToText string, audio *speech.Audio) (string, error)
}

// KeyVerifier 校验 chatflow 绑定的 API Key
type KeyVerifier interface {
	VerifyForChatflow(ctx context.Context, cf *port.ChatFlow, plain string) error
}

// Locker 分布式锁，见 redisdb.Lock
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// FileStore chatflow 删除时一并清理附件
type FileStore interface {
	DeleteAll(ctx context.Context, chatflowID string) error
}

// Options 服务依赖；除 Repo 和 Engine 外均可为 nil
type Options struct {
	Repo       port.Repository
	Engine     *engine.Engine
	Keys       KeyVerifier
	Audio      Transcriber
	Limiter    RateLimiter
	Locker     Locker
	Files      FileStore
	ChatMemory node.ChatMemoryStore
	Metrics    *telemetry.Metrics
	RunTimeout time.Duration
}

// Service chatflow 服务
type Service struct {
	repo       port.Repository
	engine     *engine.Engine
	keys       KeyVerifier
	audio      Transcriber
	limiter    RateLimiter
	locker     Locker
	files      FileStore
	chatMemory node.ChatMemoryStore
	metrics    *telemetry.Metrics
	runTimeout time.Duration
}

// NewService 创建服务
func NewService(opts Options) *Service {
	if opts.Engine == nil {
		opts.Engine = engine.New(nil)
	}
	if opts.Limiter == nil {
		opts.Limiter = NewMemoryLimiter()
	}
	if opts.Locker == nil {
		opts.Locker = NewMemoryLocker()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.DefaultMetrics()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	return &Service{
		repo:       opts.Repo,
		engine:     opts.Engine,
		keys:       opts.Keys,
		audio:      opts.Audio,
		limiter:    opts.Limiter,
		locker:     opts.Locker,
		files:      opts.Files,
		chatMemory: opts.ChatMemory,
		metrics:    opts.Metrics,
		runTimeout: opts.RunTimeout,
	}
}

// UpdateRequest 部分更新，nil 字段保持不变
type UpdateRequest struct {
	Name          *string            `json:"name,omitempty"`
	FlowData      *string            `json:"flowData,omitempty"`
	Deployed      *bool              `json:"deployed,omitempty"`
	IsPublic      *bool              `json:"isPublic,omitempty"`
	APIKeyID      *string            `json:"apikeyid,omitempty"`
	ChatbotConfig *string            `json:"chatbotConfig,omitempty"`
	APIConfig     *string            `json:"apiConfig,omitempty"`
	SpeechToText  *string            `json:"speechToText,omitempty"`
	Category      *string            `json:"category,omitempty"`
	Type          *port.ChatflowType `json:"type,omitempty"`
}

// List 按类型列出 chatflow，flowType 为空返回全部
func (s *Service) List(ctx context.Context, flowType string) ([]*port.ChatFlow, error) {
	t := port.ChatflowType(strings.ToUpper(flowType))
	if t != "" && !t.Valid() {
		return nil, errs.BadRequest("invalid chatflow type: %s", flowType)
	}
	list, err := s.repo.ListChatFlows(ctx, t)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list chatflows")
	}
	return list, nil
}

// Create 校验并保存 chatflow
func (s *Service) Create(ctx context.Context, cf *port.ChatFlow) (*port.ChatFlow, error) {
	cf.ID = ""
	cf.Name = strings.TrimSpace(cf.Name)
	if cf.Name == "" {
		return nil, errs.BadRequest("name is required")
	}
	if cf.Type == "" {
		cf.Type = port.ChatflowTypeChatflow
	}
	if err := validate(cf); err != nil {
		return nil, err
	}
	if err := s.repo.CreateChatFlow(ctx, cf); err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "create chatflow")
	}
	s.metrics.RecordChatflowCreated(ctx, string(cf.Type))
	applog.Info("[Chatflow] Created", "id", cf.ID, "name", cf.Name, "type", string(cf.Type))
	return cf, nil
}

// Get 按 id 获取
func (s *Service) Get(ctx context.Context, id string) (*port.ChatFlow, error) {
	cf, err := s.repo.GetChatFlow(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errs.NotFound("Chatflow %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "get chatflow")
	}
	return cf, nil
}

// GetPublic 仅公开的 chatflow 可以匿名读取
func (s *Service) GetPublic(ctx context.Context, id string) (*port.ChatFlow, error) {
	cf, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cf.IsPublic {
		return nil, errs.Unauthorized("Unauthorized")
	}
	return cf, nil
}

// Update 部分更新
func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*port.ChatFlow, error) {
	cf, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		cf.Name = strings.TrimSpace(*req.Name)
		if cf.Name == "" {
			return nil, errs.BadRequest("name must not be empty")
		}
	}
	assign(&cf.FlowData, req.FlowData)
	assign(&cf.Deployed, req.Deployed)
	assign(&cf.IsPublic, req.IsPublic)
	assign(&cf.APIKeyID, req.APIKeyID)
	assign(&cf.ChatbotConfig, req.ChatbotConfig)
	assign(&cf.APIConfig, req.APIConfig)
	assign(&cf.SpeechToText, req.SpeechToText)
	assign(&cf.Category, req.Category)
	assign(&cf.Type, req.Type)
	if err := validate(cf); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateChatFlow(ctx, cf); err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "update chatflow")
	}
	return cf, nil
}

// Delete 删除 chatflow 及其消息、写入记录和附件
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.DeleteChatFlow(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return errs.NotFound("Chatflow %s not found", id)
	}
	if err != nil {
		return errs.Wrap(http.StatusInternalServerError, err, "delete chatflow")
	}

	if err := s.clearChatMemory(ctx, id, ""); err != nil {
		applog.Warn("[Chatflow] Clear chat memory failed", "id", id, "error", err)
	}
	if _, err := s.repo.DeleteChatMessages(ctx, id, ""); err != nil {
		applog.Warn("[Chatflow] Delete messages failed", "id", id, "error", err)
	}
	if err := s.repo.DeleteUpsertHistory(ctx, id); err != nil {
		applog.Warn("[Chatflow] Delete upsert history failed", "id", id, "error", err)
	}
	if s.files != nil {
		if err := s.files.DeleteAll(ctx, id); err != nil {
			applog.Warn("[Chatflow] Delete files failed", "id", id, "error", err)
		}
	}
	applog.Info("[Chatflow] Deleted", "id", id)
	return nil
}

// IsStreaming 结束节点及其模型是否支持流式输出
func (s *Service) IsStreaming(ctx context.Context, id string) (bool, error) {
	cf, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	g, err := graph.Parse(cf.FlowData)
	if err != nil {
		return false, nil
	}
	return s.engine.IsStreamable(g), nil
}

// validate flowData 为空画布或合法的图；各配置字段必须是 JSON
func validate(cf *port.ChatFlow) error {
	if !cf.Type.Valid() {
		return errs.BadRequest("invalid chatflow type: %s", cf.Type)
	}
	if err := validateFlowData(cf.FlowData); err != nil {
		return err
	}
	for field, raw := range map[string]string{
		"chatbotConfig": cf.ChatbotConfig,
		"apiConfig":     cf.APIConfig,
		"speechToText":  cf.SpeechToText,
	} {
		if raw != "" && !json.Valid([]byte(raw)) {
			return errs.BadRequest("%s must be valid JSON", field)
		}
	}
	if _, err := ParseRateLimit(cf.APIConfig); err != nil {
		return errs.BadRequest("invalid apiConfig: %v", err)
	}
	return nil
}

func validateFlowData(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errs.BadRequest("flowData is required")
	}
	var shape struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(raw), &shape); err != nil {
		return errs.BadRequest("invalid flowData: %v", err)
	}
	if len(shape.Nodes) == 0 {
		return nil
	}
	_, err := graph.Parse(raw)
	return err
}

func assign[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
