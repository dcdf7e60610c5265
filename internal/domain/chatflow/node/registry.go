package node

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 节点插件注册表
// 插件在各自包的 init() 中注册
type Registry struct {
	mu          sync.RWMutex
	plugins     map[string]Plugin
	credentials map[string]*CredentialSchema
}

// NewRegistry 创建空注册表（测试中使用独立实例）
func NewRegistry() *Registry {
	return &Registry{
		plugins:     make(map[string]Plugin),
		credentials: make(map[string]*CredentialSchema),
	}
}

// globalRegistry 全局节点注册表实例
var globalRegistry = NewRegistry()

// Default 返回全局注册表
func Default() *Registry {
	return globalRegistry
}

// Register 注册节点插件，名称重复时 panic
func Register(p Plugin) {
	globalRegistry.Register(p)
}

// RegisterCredential 注册凭据类型
func RegisterCredential(s *CredentialSchema) {
	globalRegistry.RegisterCredential(s)
}

// Lookup 在全局注册表中查找插件
func Lookup(name string) (Plugin, bool) {
	return globalRegistry.Lookup(name)
}

func (r *Registry) Register(p Plugin) {
	def := p.Definition()
	if def == nil || def.Name == "" {
		panic("node: plugin without name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.plugins[def.Name]; dup {
		panic(fmt.Sprintf("node: duplicate plugin %q", def.Name))
	}
	r.plugins[def.Name] = p
}

func (r *Registry) RegisterCredential(s *CredentialSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.credentials[s.Name]; dup {
		panic(fmt.Sprintf("node: duplicate credential %q", s.Name))
	}
	r.credentials[s.Name] = s
}

func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List 按名称排序返回全部节点定义
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByCategory 返回某分类下的节点定义
func (r *Registry) ListByCategory(category string) []*Definition {
	all := r.List()
	out := make([]*Definition, 0)
	for _, d := range all {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Credential(name string) (*CredentialSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.credentials[name]
	return s, ok
}

// Credentials 按名称排序返回全部凭据类型
func (r *Registry) Credentials() []*CredentialSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CredentialSchema, 0, len(r.credentials))
	for _, s := range r.credentials {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
