package tools

import (
	"context"
	"fmt"
	"strings"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

func init() {
	node.Register(&retrieverToolPlugin{})
}

// retrieverTool 把检索器包装成 agent 工具
type retrieverTool struct {
	name          string
	description   string
	retriever     node.Retriever
	returnSources bool
}

func (t *retrieverTool) Name() string           { return t.name }
func (t *retrieverTool) Description() string    { return t.description }
func (t *retrieverTool) Schema() map[string]any { return nil }

func (t *retrieverTool) Call(ctx context.Context, input string) (string, error) {
	text, _, err := t.CallWithDocuments(ctx, input)
	return text, err
}

// CallWithDocuments returnSourceDocuments 关闭时不返回文档
func (t *retrieverTool) CallWithDocuments(ctx context.Context, input string) (string, []types.Document, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", nil, fmt.Errorf("query is required")
	}
	docs, err := t.retriever.Retrieve(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(docs) == 0 {
		return "No relevant documents found.", nil, nil
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	text := strings.Join(parts, "\n\n")
	if !t.returnSources {
		return text, nil, nil
	}
	return text, docs, nil
}

type retrieverToolPlugin struct{}

func (p *retrieverToolPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "retrieverTool",
		Label:       "Retriever Tool",
		Version:     1,
		Type:        "RetrieverTool",
		Icon:        "retrievertool.svg",
		Category:    string(types.CategoryTools),
		Description: "Use a retriever as allowed tool for agent",
		BaseClasses: append([]string{"RetrieverTool", "DynamicTool"}, toolClasses...),
		Inputs: []node.InputParam{
			{Label: "Retriever Name", Name: "name", Type: "string", Default: "search_state_of_union"},
			{Label: "Retriever Description", Name: "description", Type: "string", Rows: 3,
				Description: "When should agent uses to retrieve documents",
				Default:     "Searches and returns documents regarding the state-of-the-union."},
			{Label: "Retriever", Name: "retriever", Type: "BaseRetriever"},
			{Label: "Return Source Documents", Name: "returnSourceDocuments", Type: "boolean", Optional: true},
		},
	}
}

func (p *retrieverToolPlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	retriever, err := node.GetInstance[node.Retriever](data, "retriever")
	if err != nil {
		return nil, err
	}
	name := node.GetString(data, "name")
	if name == "" {
		return nil, fmt.Errorf("node %s: retriever name is required", data.ID)
	}
	desc := node.GetString(data, "description")
	if desc == "" {
		return nil, fmt.Errorf("node %s: retriever description is required", data.ID)
	}
	return &retrieverTool{
		name:          name,
		description:   desc,
		retriever:     retriever,
		returnSources: node.GetBool(data, "returnSourceDocuments", false),
	}, nil
}
