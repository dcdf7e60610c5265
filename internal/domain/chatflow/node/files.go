package node

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	types "nodeforge/internal/domain/chatflow/model"
)

// DecodeFileInput 解析 file 类型输入。
// 画布保存的格式为 "data:<mime>;base64,<payload>,filename:<name>"，多个文件时为其 JSON 数组。
func DecodeFileInput(value string) ([]types.FileUpload, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var items []string
	if strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), &items); err != nil {
			return nil, fmt.Errorf("decode file list: %w", err)
		}
	} else {
		items = []string{value}
	}

	out := make([]types.FileUpload, 0, len(items))
	for _, item := range items {
		f, err := DecodeDataURI(item)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// DecodeDataURI 解析单个 data URI，可带 ",filename:<name>" 后缀
func DecodeDataURI(s string) (types.FileUpload, error) {
	var f types.FileUpload
	if !strings.HasPrefix(s, "data:") {
		return f, fmt.Errorf("file input is not a data URI")
	}
	if i := strings.LastIndex(s, ",filename:"); i >= 0 {
		f.Name = s[i+len(",filename:"):]
		s = s[:i]
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return f, fmt.Errorf("malformed data URI")
	}
	mime, isBase64 := strings.CutSuffix(header, ";base64")
	f.Mime = mime
	f.Type = "file"
	if !isBase64 {
		f.Data = []byte(payload)
		return f, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return f, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	f.Data = data
	return f, nil
}

// UploadsWithExt 挑出扩展名匹配的上传文件（ext 带点，大小写不敏感）
func UploadsWithExt(uploads []types.FileUpload, exts ...string) []types.FileUpload {
	var out []types.FileUpload
	for _, u := range uploads {
		if u.IsAudio() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(u.Name))
		for _, want := range exts {
			if ext == want {
				out = append(out, u)
				break
			}
		}
	}
	return out
}
