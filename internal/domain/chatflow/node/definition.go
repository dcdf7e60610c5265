package node

import (
	"strings"

	types "nodeforge/internal/domain/chatflow/model"
)

// InputParam 节点输入参数声明
type InputParam struct {
	Label       string         `json:"label"`
	Name        string         `json:"name"`
	Type        string         `json:"type"` // string | number | boolean | password | options | json | file | 或上游 baseClass
	Description string         `json:"description,omitempty"`
	Default     any            `json:"default,omitempty"`
	Optional    bool           `json:"optional,omitempty"`
	Additional  bool           `json:"additionalParams,omitempty"`
	List        bool           `json:"list,omitempty"`
	Options     []InputOption  `json:"options,omitempty"`
	Rows        int            `json:"rows,omitempty"`
	Step        float64        `json:"step,omitempty"`
	FileType    string         `json:"fileType,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// InputOption options 类型参数的候选值
type InputOption struct {
	Label string `json:"label"`
	Name  string `json:"name"`
}

// OutputParam 节点输出声明
type OutputParam struct {
	Label       string   `json:"label"`
	Name        string   `json:"name"`
	BaseClasses []string `json:"baseClasses"`
}

// CredentialParam 节点所需凭据
type CredentialParam struct {
	Label           string   `json:"label"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	CredentialNames []string `json:"credentialNames"`
	Optional        bool     `json:"optional,omitempty"`
}

// Definition 节点的声明式元数据
type Definition struct {
	Name        string           `json:"name"`
	Label       string           `json:"label"`
	Version     float64          `json:"version"`
	Type        string           `json:"type"`
	Icon        string           `json:"icon,omitempty"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	BaseClasses []string         `json:"baseClasses"`
	Credential  *CredentialParam `json:"credential,omitempty"`
	Inputs      []InputParam     `json:"inputs"`
	Outputs     []OutputParam    `json:"outputs,omitempty"`
	// Streamable 结束节点是否能逐 token 输出
	Streamable bool `json:"-"`
}

// Is 判断 Definition 是否声明了某个 baseClass
func (d *Definition) Is(baseClass string) bool {
	for _, bc := range d.BaseClasses {
		if bc == baseClass {
			return true
		}
	}
	return false
}

// NodeCategory 返回类型化的分类
func (d *Definition) NodeCategory() types.NodeCategory {
	return types.NodeCategory(d.Category)
}

// CredentialSchema 凭据类型的字段声明（components-credentials）
type CredentialSchema struct {
	Name        string       `json:"name"`
	Label       string       `json:"label"`
	Description string       `json:"description,omitempty"`
	Inputs      []InputParam `json:"inputs"`
}

// PasswordFields 返回 password 类型字段名
func (s *CredentialSchema) PasswordFields() []string {
	var out []string
	for _, in := range s.Inputs {
		if in.Type == "password" {
			out = append(out, in.Name)
		}
	}
	return out
}

// NodeData 流程图中单个节点实例的数据（flowData.nodes[].data）
type NodeData struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Label       string         `json:"label,omitempty"`
	Category    string         `json:"category,omitempty"`
	Type        string         `json:"type,omitempty"`
	Version     float64        `json:"version,omitempty"`
	BaseClasses []string       `json:"baseClasses,omitempty"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Credential  string         `json:"credential,omitempty"`
}

// CredentialID 节点引用的凭据 id；兼容写在 inputs.credential 中的旧格式
func (d *NodeData) CredentialID() string {
	if d.Credential != "" {
		return d.Credential
	}
	if v, ok := d.Inputs["credential"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
