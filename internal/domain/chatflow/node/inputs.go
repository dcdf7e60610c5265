package node

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetString 读取字符串输入，非字符串值按 JSON 文本返回
func GetString(data *NodeData, key string) string {
	v, ok := data.Inputs[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64, int, int64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// GetFloat 读取数字输入；UI 可能以字符串保存数字
func GetFloat(data *NodeData, key string, def float64) float64 {
	switch t := data.Inputs[key].(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

// GetInt 读取整数输入
func GetInt(data *NodeData, key string, def int) int {
	f := GetFloat(data, key, float64(def))
	return int(f)
}

// GetBool 读取布尔输入
func GetBool(data *NodeData, key string, def bool) bool {
	switch t := data.Inputs[key].(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return def
}

// GetJSON 读取 json 类型输入（对象或 JSON 字符串）
func GetJSON(data *NodeData, key string) (map[string]any, error) {
	switch t := data.Inputs[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		out := make(map[string]any)
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, fmt.Errorf("input %q is not valid JSON: %w", key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("input %q has unsupported type %T", key, t)
	}
}

// GetInstance 读取已解析的上游实例
func GetInstance[T any](data *NodeData, key string) (T, error) {
	var zero T
	v, ok := data.Inputs[key]
	if !ok || v == nil {
		return zero, fmt.Errorf("node %s: missing input %q", data.ID, key)
	}
	inst, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("node %s: input %q has type %T, want %T", data.ID, key, v, zero)
	}
	return inst, nil
}

// GetOptionalInstance 读取可选实例，未连接时返回零值
func GetOptionalInstance[T any](data *NodeData, key string) (T, bool) {
	v, ok := data.Inputs[key].(T)
	return v, ok
}

// GetInstances 读取 list 类型输入（多个上游实例），单个实例也按列表处理
func GetInstances[T any](data *NodeData, key string) ([]T, error) {
	v, ok := data.Inputs[key]
	if !ok || v == nil {
		return nil, nil
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	default:
		items = []any{t}
	}
	out := make([]T, 0, len(items))
	for i, it := range items {
		if it == nil {
			continue
		}
		// 列表中的实例可能本身是切片（例如 loader 返回的多个文档）
		if nested, ok := it.([]T); ok {
			out = append(out, nested...)
			continue
		}
		inst, ok := it.(T)
		if !ok {
			return nil, fmt.Errorf("node %s: input %q[%d] has type %T", data.ID, key, i, it)
		}
		out = append(out, inst)
	}
	return out, nil
}

// CredentialValue 取凭据字段，凭据未配置或字段为空时回退到 fallback
func CredentialValue(ctx context.Context, data *NodeData, opts *InitOptions, field, fallback string) (string, error) {
	id := data.CredentialID()
	if id == "" || opts == nil || opts.Deps == nil || opts.Deps.Credentials == nil {
		return fallback, nil
	}
	plain, err := opts.Deps.Credentials.ResolveCredential(ctx, id)
	if err != nil {
		return "", fmt.Errorf("node %s: resolve credential: %w", data.ID, err)
	}
	if s, ok := plain[field].(string); ok && s != "" {
		return s, nil
	}
	return fallback, nil
}

// DefaultsOf 从 InitOptions 取服务端默认配置
func DefaultsOf(opts *InitOptions) Defaults {
	if opts == nil || opts.Deps == nil {
		return Defaults{}
	}
	return opts.Deps.Defaults
}
