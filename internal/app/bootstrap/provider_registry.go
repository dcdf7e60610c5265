package bootstrap

import (
	// LLM / Embedding 供应商工厂注册到 provider 全局注册表
	_ "nodeforge/internal/adapter/provider/llm/anthropic"
	_ "nodeforge/internal/adapter/provider/llm/gemini"
	_ "nodeforge/internal/adapter/provider/llm/openai"

	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/provider"
)

// LogProviders 输出已注册的供应商
func LogProviders() {
	applog.Info("[Bootstrap] LLM providers registered", "providers", provider.ListProviders())
}
