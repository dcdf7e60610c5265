package runtime

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tiendc/go-deepcopy"

	"nodeforge/internal/domain/chatflow/node"
)

// 变量语法：{{question}}、{{chat_history}}、{{<nodeId>.data.instance}}
var reVariable = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

const instanceSuffix = ".data.instance"

// ResolveInputs 返回输入已解析的节点数据副本，原数据不变
func (s *RunState) ResolveInputs(data *node.NodeData) (*node.NodeData, error) {
	out := *data
	out.Inputs = make(map[string]any, len(data.Inputs))
	for k, v := range data.Inputs {
		rv, err := s.resolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("node %s input %q: %w", data.ID, k, err)
		}
		out.Inputs[k] = rv
	}
	return &out, nil
}

func (s *RunState) resolveValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return s.resolveString(t)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			rv, err := s.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rv)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			rv, err := s.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func (s *RunState) resolveString(str string) (any, error) {
	trimmed := strings.TrimSpace(str)
	// 整个值是一个实例引用时，直接替换为实例本身
	if m := reVariable.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed && strings.HasSuffix(m[1], instanceSuffix) {
		nodeID := strings.TrimSuffix(m[1], instanceSuffix)
		inst, ok := s.Instance(nodeID)
		if !ok {
			return nil, fmt.Errorf("upstream node %s is not initialized", nodeID)
		}
		return inst, nil
	}
	if !strings.Contains(str, "{{") {
		return str, nil
	}

	var resolveErr error
	out := reVariable.ReplaceAllStringFunc(str, func(match string) string {
		name := reVariable.FindStringSubmatch(match)[1]
		switch {
		case name == "question":
			return s.Question
		case name == "chat_history":
			return s.FormattedHistory()
		case strings.HasSuffix(name, instanceSuffix):
			inst, ok := s.Instance(strings.TrimSuffix(name, instanceSuffix))
			if !ok {
				resolveErr = fmt.Errorf("upstream node %s is not initialized", strings.TrimSuffix(name, instanceSuffix))
				return match
			}
			if text, ok := inst.(string); ok {
				return text
			}
			return match
		default:
			return match
		}
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

// ApplyOverrideConfig 在节点数据的深拷贝上应用覆盖配置。
// 只替换节点已有的输入键；值为对象且包含当前节点 id 时按节点取值；
// 引用上游实例的输入不可覆盖。
func ApplyOverrideConfig(data *node.NodeData, override map[string]any) (*node.NodeData, error) {
	var out node.NodeData
	if err := deepcopy.Copy(&out, data); err != nil {
		return nil, fmt.Errorf("copy node %s: %w", data.ID, err)
	}
	if len(override) == 0 {
		return &out, nil
	}
	if out.Inputs == nil {
		out.Inputs = make(map[string]any)
	}

	for key, current := range out.Inputs {
		ov, ok := override[key]
		if !ok || isInstanceReference(current) {
			continue
		}
		if perNode, ok := ov.(map[string]any); ok {
			if v, hit := perNode[data.ID]; hit {
				out.Inputs[key] = v
				continue
			}
			// 对象覆盖只作用于本身是对象的输入
			if _, isObj := current.(map[string]any); !isObj {
				continue
			}
		}
		out.Inputs[key] = ov
	}
	return &out, nil
}

func isInstanceReference(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(t, instanceSuffix)
	case []any:
		for _, item := range t {
			if isInstanceReference(item) {
				return true
			}
		}
	}
	return false
}
