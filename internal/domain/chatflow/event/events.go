package event

import "sync"

// EventType 流式事件类型
type EventType string

const (
	EventTypeStart           EventType = "start"
	EventTypeToken           EventType = "token"
	EventTypeSourceDocuments EventType = "sourceDocuments"
	EventTypeUsedTools       EventType = "usedTools"
	EventTypeMetadata        EventType = "metadata"
	EventTypeEnd             EventType = "end"
	EventTypeError           EventType = "error"
)

// Event 推送给客户端的一帧事件
type Event struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}

// Sink 事件接收方（SSE 写出、测试收集等）
type Sink interface {
	Emit(e Event)
}

// SinkFunc 函数适配器
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Emit 向可能为 nil 的 sink 发送事件
func Emit(s Sink, t EventType, data any) {
	if s == nil {
		return
	}
	s.Emit(Event{Event: t, Data: data})
}

// Recorder 线程安全地收集事件
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events 返回已收集事件的副本
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types 返回已收集事件的类型序列
func (r *Recorder) Types() []EventType {
	evs := r.Events()
	out := make([]EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Event
	}
	return out
}
