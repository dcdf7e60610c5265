package rag

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ParserRegistry 文档解析器注册表
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser // key = ".ext"
}

// NewParserRegistry 创建解析器注册表并注册内置解析器
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{
		parsers: make(map[string]Parser),
	}

	// 注册内置解析器
	r.Register(&MarkdownParser{})
	r.Register(&PlainTextParser{})
	r.Register(&PDFParser{})
	r.Register(&DOCXParser{})

	return r
}

// Register 注册解析器
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedTypes() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Get 根据文件名获取解析器
func (r *ParserRegistry) Get(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, fmt.Errorf("no file extension in filename: %s", filename)
	}

	r.mu.RLock()
	p, ok := r.parsers[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s (supported: %s)", ext, r.SupportedTypes())
	}
	return p, nil
}

// Supports 是否有解析器能处理该文件
func (r *ParserRegistry) Supports(filename string) bool {
	_, err := r.Get(filename)
	return err == nil
}

// ParseBytes 按文件扩展名选择解析器解析内存中的文件
func (r *ParserRegistry) ParseBytes(filename string, data []byte) (*ParseResult, error) {
	p, err := r.Get(filename)
	if err != nil {
		return nil, err
	}
	return p.Parse(bytes.NewReader(data), filename)
}

// SupportedTypes 返回所有支持的文件扩展名
func (r *ParserRegistry) SupportedTypes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
