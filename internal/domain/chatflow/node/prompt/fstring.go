package prompt

import (
	"fmt"
	"strings"
)

// segment 模板片段：literal 为原文，name 非空时为变量
type segment struct {
	literal string
	name    string
}

// parseFString 解析 {var} 形式的模板；{{ 与 }} 表示字面量花括号
func parseFString(tmpl string) ([]segment, error) {
	var (
		out []segment
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, segment{literal: buf.String()})
			buf.Reset()
		}
	}
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			buf.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			buf.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '{' at position %d", i)
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			if name == "" {
				return nil, fmt.Errorf("empty variable at position %d", i)
			}
			flush()
			out = append(out, segment{name: name})
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("single '}' at position %d", i)
		default:
			buf.WriteByte(c)
		}
	}
	flush()
	return out, nil
}

// variables 按首次出现顺序去重
func variables(segs ...[]segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ss := range segs {
		for _, s := range ss {
			if s.name != "" && !seen[s.name] {
				seen[s.name] = true
				out = append(out, s.name)
			}
		}
	}
	return out
}

func render(segs []segment, vars map[string]string) (string, error) {
	var sb strings.Builder
	for _, s := range segs {
		if s.name == "" {
			sb.WriteString(s.literal)
			continue
		}
		v, ok := vars[s.name]
		if !ok {
			return "", fmt.Errorf("missing value for prompt variable %q", s.name)
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}
