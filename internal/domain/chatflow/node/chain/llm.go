package chain

import (
	"context"
	"fmt"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	applog "nodeforge/internal/platform/log"
)

func init() {
	node.Register(&llmChainPlugin{})
}

var chainClasses = []string{"BaseChain", "Runnable"}

// llmChain 用问题填充提示词模板后调用模型
type llmChain struct {
	name   string
	model  node.ChatModel
	prompt node.PromptTemplate
}

// promptVars 模板中的变量都可由问题填充，节点配置的 promptValues 优先
func promptVars(tmpl node.PromptTemplate, question string, extra map[string]string) map[string]string {
	vars := make(map[string]string, len(tmpl.InputVariables())+len(extra))
	for _, v := range tmpl.InputVariables() {
		vars[v] = question
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func (c *llmChain) Run(ctx context.Context, in *node.RunInput) (*node.RunOutput, error) {
	msgs, err := c.prompt.FormatMessages(promptVars(c.prompt, in.Question, nil))
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	resp, err := node.Call(ctx, c.model, msgs, nil, in.Sink)
	if err != nil {
		return nil, err
	}
	applog.Debug("[Chain/LLM] Completed", "chain", c.name, "model", c.model.ModelName(), "output_length", len(resp.Content))
	return &node.RunOutput{Text: resp.Content}, nil
}

type llmChainPlugin struct{}

func (p *llmChainPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "llmChain",
		Label:       "LLM Chain",
		Version:     1,
		Type:        "LLMChain",
		Icon:        "LLM_Chain.svg",
		Category:    string(types.CategoryChains),
		Description: "Chain to run queries against LLMs",
		BaseClasses: append([]string{"LLMChain"}, chainClasses...),
		Inputs: []node.InputParam{
			{Label: "Language Model", Name: "model", Type: "BaseLanguageModel"},
			{Label: "Prompt", Name: "prompt", Type: "BasePromptTemplate"},
			{Label: "Chain Name", Name: "chainName", Type: "string", Optional: true},
		},
		Streamable: true,
	}
}

func (p *llmChainPlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	model, err := node.GetInstance[node.ChatModel](data, "model")
	if err != nil {
		return nil, err
	}
	prompt, err := node.GetInstance[node.PromptTemplate](data, "prompt")
	if err != nil {
		return nil, err
	}
	name := node.GetString(data, "chainName")
	if name == "" {
		name = data.ID
	}
	return &llmChain{name: name, model: model, prompt: prompt}, nil
}
