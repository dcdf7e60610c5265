package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/rag"
)

func init() {
	node.Register(&recursivePlugin{})
}

type recursivePlugin struct{}

func (p *recursivePlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "recursiveCharacterTextSplitter",
		Label:       "Recursive Character Text Splitter",
		Version:     1,
		Type:        "RecursiveCharacterTextSplitter",
		Icon:        "textsplitter.svg",
		Category:    string(types.CategoryTextSplitters),
		Description: `Split documents recursively by different characters - starting with "\n\n", then "\n", then " "`,
		BaseClasses: []string{"RecursiveCharacterTextSplitter", "TextSplitter"},
		Inputs: []node.InputParam{
			{Label: "Chunk Size", Name: "chunkSize", Type: "number", Default: 1000, Optional: true,
				Description: "Number of characters in each chunk"},
			{Label: "Chunk Overlap", Name: "chunkOverlap", Type: "number", Default: 200, Optional: true,
				Description: "Number of characters to overlap between chunks"},
			{Label: "Custom Separators", Name: "separators", Type: "string", Rows: 4, Optional: true, Additional: true,
				Description: `Array of custom separators, e.g. ["|", "##", "\n"]`},
		},
	}
}

func (p *recursivePlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	seps, err := parseSeparators(node.GetString(data, "separators"))
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	return rag.NewRecursiveSplitter(node.GetInt(data, "chunkSize", 1000), node.GetInt(data, "chunkOverlap", 200), seps...), nil
}

// parseSeparators 自定义分隔符为 JSON 字符串数组
func parseSeparators(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var seps []string
	if err := json.Unmarshal([]byte(s), &seps); err != nil {
		return nil, fmt.Errorf("invalid separators: %w", err)
	}
	// 兜底按字符切分，保证任何文本都能切到 chunkSize 以内
	if len(seps) > 0 && seps[len(seps)-1] != "" {
		seps = append(seps, "")
	}
	return seps, nil
}
