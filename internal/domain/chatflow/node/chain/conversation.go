package chain

import (
	"context"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/provider"
)

func init() {
	node.Register(&conversationPlugin{})
}

var defaultConversationPrompt = heredoc.Doc(`
	The following is a friendly conversation between a human and an AI.
	The AI is talkative and provides lots of specific details from its context.
	If the AI does not know the answer to a question, it truthfully says it does not know.
`)

// conversationChain 带记忆的多轮对话
type conversationChain struct {
	model  node.ChatModel
	memory node.Memory
	system string
	prompt node.PromptTemplate
}

func (c *conversationChain) messages(history []types.HistoryMessage, question string) ([]provider.Message, error) {
	if c.prompt == nil {
		msgs := []provider.Message{{Role: provider.RoleSystem, Content: c.system}}
		msgs = append(msgs, node.HistoryToMessages(history)...)
		return append(msgs, provider.Message{Role: provider.RoleUser, Content: question}), nil
	}

	// 自定义模板：system 在前，历史插在模板输出与最终问题之间
	formatted, err := c.prompt.FormatMessages(promptVars(c.prompt, question, map[string]string{
		"input":        question,
		"question":     question,
		"chat_history": types.FormatHistory(history),
	}))
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	var msgs []provider.Message
	for _, m := range formatted {
		if m.Role == provider.RoleSystem {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, node.HistoryToMessages(history)...)
	for _, m := range formatted {
		if m.Role != provider.RoleSystem {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (c *conversationChain) Run(ctx context.Context, in *node.RunInput) (*node.RunOutput, error) {
	history, err := node.LoadHistory(ctx, c.memory, in)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs, err := c.messages(history, in.Question)
	if err != nil {
		return nil, err
	}
	resp, err := node.Call(ctx, c.model, msgs, nil, in.Sink)
	if err != nil {
		return nil, err
	}
	if err := node.SaveTurn(ctx, c.memory, in, resp.Content); err != nil {
		applog.Warn("[Chain/Conversation] Save memory failed", "chat_id", in.ChatID, "error", err)
	}
	return &node.RunOutput{Text: resp.Content}, nil
}

type conversationPlugin struct{}

func (p *conversationPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "conversationChain",
		Label:       "Conversation Chain",
		Version:     1,
		Type:        "ConversationChain",
		Icon:        "conv.svg",
		Category:    string(types.CategoryChains),
		Description: "Chat models specific conversational chain with memory",
		BaseClasses: append([]string{"ConversationChain", "LLMChain"}, chainClasses...),
		Inputs: []node.InputParam{
			{Label: "Chat Model", Name: "model", Type: "BaseChatModel"},
			{Label: "Memory", Name: "memory", Type: "BaseMemory", Optional: true},
			{Label: "Chat Prompt Template", Name: "chatPromptTemplate", Type: "ChatPromptTemplate", Optional: true,
				Description: "Override existing prompt with Chat Prompt Template. Human Message must includes {input} variable"},
			{Label: "System Message", Name: "systemMessagePrompt", Type: "string", Rows: 4, Optional: true, Additional: true,
				Default: defaultConversationPrompt},
		},
		Streamable: true,
	}
}

func (p *conversationPlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	model, err := node.GetInstance[node.ChatModel](data, "model")
	if err != nil {
		return nil, err
	}
	c := &conversationChain{model: model, system: node.GetString(data, "systemMessagePrompt")}
	if c.system == "" {
		c.system = defaultConversationPrompt
	}
	if m, ok := node.GetOptionalInstance[node.Memory](data, "memory"); ok {
		c.memory = m
	}
	if t, ok := node.GetOptionalInstance[node.PromptTemplate](data, "chatPromptTemplate"); ok {
		c.prompt = t
	}
	return c, nil
}
