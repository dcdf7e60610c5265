package runtime

import (
	"sync"

	"nodeforge/internal/domain/chatflow/event"
	types "nodeforge/internal/domain/chatflow/model"
)

// RunState 一次预测 / 写入请求的运行时状态
type RunState struct {
	ChatflowID string
	ChatID     string
	SessionID  string
	Question   string
	History    []types.HistoryMessage
	Uploads    []types.FileUpload
	// OverrideConfig 请求携带的节点输入覆盖
	OverrideConfig map[string]any
	// Sink 非 nil 表示流式请求
	Sink event.Sink

	mu        sync.RWMutex
	instances map[string]any // node_id -> Init 返回的实例
}

// SetInstance 记录节点实例
func (s *RunState) SetInstance(nodeID string, inst any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instances == nil {
		s.instances = make(map[string]any)
	}
	s.instances[nodeID] = inst
}

// Instance 取节点实例
func (s *RunState) Instance(nodeID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[nodeID]
	return inst, ok
}

// InitializedCount 已初始化的节点数
func (s *RunState) InitializedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// FormattedHistory 对话历史文本
func (s *RunState) FormattedHistory() string {
	return types.FormatHistory(s.History)
}

// Streaming 是否流式请求
func (s *RunState) Streaming() bool {
	return s.Sink != nil
}
