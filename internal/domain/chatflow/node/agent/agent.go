package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nodeforge/internal/domain/chatflow/event"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/provider"
	"nodeforge/internal/tool"
)

func init() {
	node.Register(&toolAgentPlugin{})
}

const (
	defaultSystemMessage = "You are a helpful AI assistant."
	defaultMaxIterations = 10
	// StoppedMessage 达到最大轮数仍未得到最终答案时的输出
	StoppedMessage = "Agent stopped due to max iterations."
)

// toolAgent 基于 function calling 的工具调用循环
type toolAgent struct {
	model         node.ChatModel
	memory        node.Memory
	toolkit       *tool.Toolkit
	system        string
	maxIterations int
}

// callResult 单次工具调用的结果
type callResult struct {
	message provider.Message
	used    types.UsedTool
	docs    []types.Document
}

func (a *toolAgent) execute(ctx context.Context, tc provider.ToolCall) callResult {
	applog.Info("[Agent] Executing tool", "tool", tc.Function.Name, "call_id", tc.ID, "arguments", tc.Function.Arguments)

	var (
		output string
		docs   []types.Document
		err    error
	)
	t, ok := a.toolkit.Get(tc.Function.Name)
	switch {
	case !ok:
		err = fmt.Errorf("tool not found: %s", tc.Function.Name)
	default:
		var input string
		if input, err = tool.ToolInput(t, tc.Function.Arguments); err != nil {
			break
		}
		if dt, isDoc := t.(node.DocumentTool); isDoc {
			output, docs, err = dt.CallWithDocuments(ctx, input)
		} else {
			output, err = t.Call(ctx, input)
		}
	}
	if err != nil {
		applog.Warn("[Agent] Tool execution failed", "tool", tc.Function.Name, "error", err)
		output = "Tool execution failed: " + err.Error()
	}

	return callResult{
		message: provider.Message{
			Role:       provider.RoleTool,
			Content:    output,
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
		},
		used: types.UsedTool{
			Tool:       tc.Function.Name,
			ToolInput:  toolInputValue(tc.Function.Arguments),
			ToolOutput: output,
		},
		docs: docs,
	}
}

// toolInputValue 参数是合法 JSON 时按对象记录
func toolInputValue(arguments string) any {
	var v any
	if err := json.Unmarshal([]byte(arguments), &v); err == nil {
		return v
	}
	return arguments
}

func (a *toolAgent) Run(ctx context.Context, in *node.RunInput) (*node.RunOutput, error) {
	history, err := node.LoadHistory(ctx, a.memory, in)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	messages := []provider.Message{{Role: provider.RoleSystem, Content: a.system}}
	messages = append(messages, node.HistoryToMessages(history)...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: in.Question})

	opts := &node.CallOptions{Tools: a.toolkit.Definitions()}
	out := &node.RunOutput{}
	final := false

	for round := 0; round < a.maxIterations; round++ {
		resp, err := a.model.Generate(ctx, messages, opts)
		if err != nil {
			return nil, fmt.Errorf("agent round %d: %w", round+1, err)
		}
		if len(resp.ToolCalls) == 0 {
			out.Text = resp.Content
			final = true
			applog.Info("[Agent] Final answer", "rounds", round+1, "used_tools", len(out.UsedTools))
			break
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// 并行执行工具调用，按原始顺序回填
		results := make([]callResult, len(resp.ToolCalls))
		var wg sync.WaitGroup
		for i, tc := range resp.ToolCalls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = a.execute(ctx, tc)
			}()
		}
		wg.Wait()

		for _, r := range results {
			messages = append(messages, r.message)
			out.UsedTools = append(out.UsedTools, r.used)
			out.SourceDocuments = append(out.SourceDocuments, r.docs...)
		}
	}

	if !final {
		applog.Warn("[Agent] Max iterations reached", "max_iterations", a.maxIterations)
		out.Text = StoppedMessage
	}
	if out.Text != "" {
		event.Emit(in.Sink, event.EventTypeToken, out.Text)
	}
	if err := node.SaveTurn(ctx, a.memory, in, out.Text); err != nil {
		applog.Warn("[Agent] Save memory failed", "chat_id", in.ChatID, "error", err)
	}
	return out, nil
}

type toolAgentPlugin struct{}

func (p *toolAgentPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "toolAgent",
		Label:       "Tool Agent",
		Version:     1,
		Type:        "AgentExecutor",
		Icon:        "toolAgent.png",
		Category:    string(types.CategoryAgents),
		Description: "Agent that uses Function Calling to pick the tools and args to call",
		BaseClasses: []string{"AgentExecutor", "BaseChain", "Runnable"},
		Inputs: []node.InputParam{
			{Label: "Tools", Name: "tools", Type: "Tool", List: true},
			{Label: "Memory", Name: "memory", Type: "BaseChatMemory", Optional: true},
			{Label: "Tool Calling Chat Model", Name: "model", Type: "BaseChatModel",
				Description: "Only compatible with models that are capable of function calling"},
			{Label: "System Message", Name: "systemMessage", Type: "string", Rows: 4, Optional: true, Additional: true,
				Default: defaultSystemMessage},
			{Label: "Max Iterations", Name: "maxIterations", Type: "number", Optional: true, Additional: true},
		},
		Streamable: true,
	}
}

func (p *toolAgentPlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	model, err := node.GetInstance[node.ChatModel](data, "model")
	if err != nil {
		return nil, err
	}
	tools, err := node.GetInstances[node.Tool](data, "tools")
	if err != nil {
		return nil, err
	}
	a := &toolAgent{
		model:         model,
		toolkit:       tool.NewToolkit(tools...),
		system:        node.GetString(data, "systemMessage"),
		maxIterations: node.GetInt(data, "maxIterations", defaultMaxIterations),
	}
	if a.system == "" {
		a.system = defaultSystemMessage
	}
	if a.maxIterations <= 0 {
		a.maxIterations = defaultMaxIterations
	}
	if m, ok := node.GetOptionalInstance[node.Memory](data, "memory"); ok {
		a.memory = m
	}
	return a, nil
}
