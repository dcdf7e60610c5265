package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config 创建供应商实例所需的连接参数，通常来自凭据
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Factory 按连接参数构造供应商实例
type Factory func(cfg Config) (LLMProvider, error)

// EmbeddingFactory 按连接参数构造向量化供应商
type EmbeddingFactory func(cfg Config) (EmbeddingProvider, error)

// Registry 供应商工厂注册表。凭据按 chatflow 节点配置，因此注册工厂而非单例
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]Factory
	embeddings map[string]EmbeddingFactory
}

var globalProviderRegistry = &Registry{
	llm:        make(map[string]Factory),
	embeddings: make(map[string]EmbeddingFactory),
}

// RegisterProvider 注册 LLM 供应商工厂
func RegisterProvider(name string, f Factory) {
	globalProviderRegistry.mu.Lock()
	defer globalProviderRegistry.mu.Unlock()
	globalProviderRegistry.llm[name] = f
}

// RegisterEmbedding 注册向量化供应商工厂
func RegisterEmbedding(name string, f EmbeddingFactory) {
	globalProviderRegistry.mu.Lock()
	defer globalProviderRegistry.mu.Unlock()
	globalProviderRegistry.embeddings[name] = f
}

// New 创建 LLM 供应商实例
func New(name string, cfg Config) (LLMProvider, error) {
	globalProviderRegistry.mu.RLock()
	f, ok := globalProviderRegistry.llm[name]
	globalProviderRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("LLM provider not found: %s", name)
	}
	return f(cfg)
}

// NewEmbedding 创建向量化供应商实例
func NewEmbedding(name string, cfg Config) (EmbeddingProvider, error) {
	globalProviderRegistry.mu.RLock()
	f, ok := globalProviderRegistry.embeddings[name]
	globalProviderRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("embedding provider not found: %s", name)
	}
	return f(cfg)
}

// ListProviders 列出所有 LLM 供应商
func ListProviders() []string {
	globalProviderRegistry.mu.RLock()
	defer globalProviderRegistry.mu.RUnlock()
	names := make([]string, 0, len(globalProviderRegistry.llm))
	for name := range globalProviderRegistry.llm {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
