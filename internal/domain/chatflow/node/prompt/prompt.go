package prompt

import (
	"context"
	"fmt"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/provider"
)

func init() {
	node.Register(&promptPlugin{})
	node.Register(&chatPromptPlugin{})
}

var promptClasses = []string{"BasePromptTemplate", "Runnable"}

var valuesInput = node.InputParam{
	Label: "Format Prompt Values", Name: "promptValues", Type: "json", Optional: true, Additional: true,
	Description: "Values for the prompt variables, e.g. {\"name\": \"{{question}}\"}",
}

// Template 单段提示词模板
type Template struct {
	segs   []segment
	values map[string]string
}

// NewTemplate 解析模板；values 为节点上配置的固定取值，优先于调用方传入的变量
func NewTemplate(text string, values map[string]string) (*Template, error) {
	segs, err := parseFString(text)
	if err != nil {
		return nil, err
	}
	return &Template{segs: segs, values: values}, nil
}

func (t *Template) InputVariables() []string { return variables(t.segs) }

func (t *Template) Format(vars map[string]string) (string, error) {
	return render(t.segs, merge(vars, t.values))
}

func (t *Template) FormatMessages(vars map[string]string) ([]provider.Message, error) {
	text, err := t.Format(vars)
	if err != nil {
		return nil, err
	}
	return []provider.Message{{Role: provider.RoleUser, Content: text}}, nil
}

// ChatTemplate system + human 两段模板
type ChatTemplate struct {
	system []segment
	human  []segment
	values map[string]string
}

func NewChatTemplate(system, human string, values map[string]string) (*ChatTemplate, error) {
	s, err := parseFString(system)
	if err != nil {
		return nil, fmt.Errorf("system message: %w", err)
	}
	h, err := parseFString(human)
	if err != nil {
		return nil, fmt.Errorf("human message: %w", err)
	}
	return &ChatTemplate{system: s, human: h, values: values}, nil
}

func (t *ChatTemplate) InputVariables() []string { return variables(t.system, t.human) }

func (t *ChatTemplate) Format(vars map[string]string) (string, error) {
	msgs, err := t.FormatMessages(vars)
	if err != nil {
		return "", err
	}
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "\n"
		}
		if m.Role == provider.RoleSystem {
			out += "System: " + m.Content
		} else {
			out += "Human: " + m.Content
		}
	}
	return out, nil
}

func (t *ChatTemplate) FormatMessages(vars map[string]string) ([]provider.Message, error) {
	all := merge(vars, t.values)
	var out []provider.Message
	if len(t.system) > 0 {
		s, err := render(t.system, all)
		if err != nil {
			return nil, err
		}
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: s})
	}
	h, err := render(t.human, all)
	if err != nil {
		return nil, err
	}
	return append(out, provider.Message{Role: provider.RoleUser, Content: h}), nil
}

func merge(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// promptValues 读取 promptValues 输入，非字符串值转为 JSON 文本
func promptValues(data *node.NodeData) (map[string]string, error) {
	raw, err := node.GetJSON(data, "promptValues")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k := range raw {
		out[k] = node.GetString(&node.NodeData{Inputs: raw}, k)
	}
	return out, nil
}

type promptPlugin struct{}

func (p *promptPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "promptTemplate",
		Label:       "Prompt Template",
		Version:     1,
		Type:        "PromptTemplate",
		Icon:        "prompt.svg",
		Category:    string(types.CategoryPrompts),
		Description: "Schema to represent a basic prompt for an LLM",
		BaseClasses: append([]string{"PromptTemplate", "BaseStringPromptTemplate"}, promptClasses...),
		Inputs: []node.InputParam{
			{Label: "Template", Name: "template", Type: "string", Rows: 4,
				Default: "What is a good name for a company that makes {product}?"},
			valuesInput,
		},
	}
}

func (p *promptPlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	values, err := promptValues(data)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	t, err := NewTemplate(node.GetString(data, "template"), values)
	if err != nil {
		return nil, fmt.Errorf("node %s: invalid template: %w", data.ID, err)
	}
	return t, nil
}

type chatPromptPlugin struct{}

func (p *chatPromptPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "chatPromptTemplate",
		Label:       "Chat Prompt Template",
		Version:     1,
		Type:        "ChatPromptTemplate",
		Icon:        "prompt.svg",
		Category:    string(types.CategoryPrompts),
		Description: "Schema to represent a chat prompt",
		BaseClasses: append([]string{"ChatPromptTemplate", "BaseChatPromptTemplate"}, promptClasses...),
		Inputs: []node.InputParam{
			{Label: "System Message", Name: "systemMessagePrompt", Type: "string", Rows: 4,
				Default: "You are a helpful assistant that translates {input_language} to {output_language}."},
			{Label: "Human Message", Name: "humanMessagePrompt", Type: "string", Rows: 4,
				Default: "{text}"},
			valuesInput,
		},
	}
}

func (p *chatPromptPlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	values, err := promptValues(data)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	t, err := NewChatTemplate(node.GetString(data, "systemMessagePrompt"), node.GetString(data, "humanMessagePrompt"), values)
	if err != nil {
		return nil, fmt.Errorf("node %s: invalid template: %w", data.ID, err)
	}
	return t, nil
}
