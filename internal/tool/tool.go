package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/provider"
)

// Toolkit agent 可调用的工具集合，按名称索引
type Toolkit struct {
	mu    sync.RWMutex
	order []string
	tools map[string]node.Tool
}

// NewToolkit 创建工具集；同名工具后者覆盖前者
func NewToolkit(tools ...node.Tool) *Toolkit {
	k := &Toolkit{tools: make(map[string]node.Tool)}
	for _, t := range tools {
		k.Register(t)
	}
	return k
}

// Register 注册工具
func (k *Toolkit) Register(t node.Tool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	name := SanitizeName(t.Name())
	if _, ok := k.tools[name]; !ok {
		k.order = append(k.order, name)
	}
	k.tools[name] = t
}

// Get 获取工具
func (k *Toolkit) Get(name string) (node.Tool, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	t, ok := k.tools[name]
	return t, ok
}

// Len 工具数量
func (k *Toolkit) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.tools)
}

// Definitions 按注册顺序转为 Provider ToolDefinition 列表
func (k *Toolkit) Definitions() []provider.ToolDefinition {
	k.mu.RLock()
	defer k.mu.RUnlock()

	defs := make([]provider.ToolDefinition, 0, len(k.order))
	for _, name := range k.order {
		t := k.tools[name]
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        name,
				Description: t.Description(),
				Parameters:  parameters(t),
			},
		})
	}
	return defs
}

// Execute 执行指定名称的工具，arguments 为 LLM 传入的 JSON string
func (k *Toolkit) Execute(ctx context.Context, name string, arguments string) (string, error) {
	t, ok := k.Get(name)
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	input, err := ToolInput(t, arguments)
	if err != nil {
		return "", err
	}
	return t.Call(ctx, input)
}

// stringInputSchema Schema 为 nil 的工具统一包装成 {"input": string}
var stringInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"input": map[string]any{"type": "string"},
	},
	"required": []string{"input"},
}

func parameters(t node.Tool) map[string]any {
	if s := t.Schema(); s != nil {
		return s
	}
	return stringInputSchema
}

// ToolInput 把 LLM 参数转为工具输入：字符串工具取 input 字段，结构化工具原样传 JSON
func ToolInput(t node.Tool, arguments string) (string, error) {
	if t.Schema() != nil {
		return arguments, nil
	}
	var args struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		// 部分模型直接给出纯文本参数
		return arguments, nil
	}
	var s string
	if err := json.Unmarshal(args.Input, &s); err == nil {
		return s, nil
	}
	return string(args.Input), nil
}

// SanitizeName 函数名只允许字母、数字、下划线与连字符
func SanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "tool"
	}
	return sb.String()
}
