package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

type fakeModel struct{ name string }

func TestResolveInputs(t *testing.T) {
	st := &RunState{
		Question: "what is go?",
		History: []types.HistoryMessage{
			{Role: types.HistoryUser, Content: "hi"},
			{Role: types.HistoryAPI, Content: "hello"},
		},
	}
	model := &fakeModel{name: "m"}
	st.SetInstance("chatOpenAI_0", model)
	st.SetInstance("plainText_0", "loaded text")

	data := &node.NodeData{
		ID: "chain_0",
		Inputs: map[string]any{
			"model":    "{{chatOpenAI_0.data.instance}}",
			"tools":    []any{"{{chatOpenAI_0.data.instance}}", "{{ plainText_0.data.instance }}"},
			"prompt":   "Q: {{question}}\n{{chat_history}}",
			"inline":   "text: {{plainText_0.data.instance}}",
			"literal":  "{format} stays",
			"unknown":  "{{other}}",
			"number":   0.5,
			"settings": map[string]any{"q": "{{question}}"},
		},
	}

	out, err := st.ResolveInputs(data)
	require.NoError(t, err)

	assert.Same(t, model, out.Inputs["model"])
	tools := out.Inputs["tools"].([]any)
	assert.Same(t, model, tools[0])
	assert.Equal(t, "loaded text", tools[1])
	assert.Equal(t, "Q: what is go?\nHuman: hi\nAssistant: hello", out.Inputs["prompt"])
	assert.Equal(t, "text: loaded text", out.Inputs["inline"])
	assert.Equal(t, "{format} stays", out.Inputs["literal"])
	assert.Equal(t, "{{other}}", out.Inputs["unknown"])
	assert.Equal(t, 0.5, out.Inputs["number"])
	assert.Equal(t, map[string]any{"q": "what is go?"}, out.Inputs["settings"])

	assert.Equal(t, "{{chatOpenAI_0.data.instance}}", data.Inputs["model"], "source data untouched")
}

func TestResolveInputs_MissingUpstream(t *testing.T) {
	st := &RunState{}
	_, err := st.ResolveInputs(&node.NodeData{ID: "x", Inputs: map[string]any{"model": "{{llm_0.data.instance}}"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm_0")
}

func TestApplyOverrideConfig(t *testing.T) {
	data := &node.NodeData{
		ID: "chatOpenAI_0",
		Inputs: map[string]any{
			"temperature": 0.9,
			"modelName":   "gpt-4o-mini",
			"cache":       "{{redisCache_0.data.instance}}",
			"headers":     map[string]any{"a": "1"},
		},
	}

	out, err := ApplyOverrideConfig(data, map[string]any{
		"temperature": map[string]any{"chatOpenAI_0": 0.1, "chatOpenAI_1": 0.2},
		"modelName":   "gpt-4o",
		"cache":       "{{evil_0.data.instance}}",
		"headers":     map[string]any{"b": "2"},
		"notAnInput":  true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.1, out.Inputs["temperature"])
	assert.Equal(t, "gpt-4o", out.Inputs["modelName"])
	assert.Equal(t, "{{redisCache_0.data.instance}}", out.Inputs["cache"])
	assert.Equal(t, map[string]any{"b": "2"}, out.Inputs["headers"])
	assert.NotContains(t, out.Inputs, "notAnInput")

	assert.Equal(t, 0.9, data.Inputs["temperature"], "persisted flow is not mutated")
	assert.Equal(t, map[string]any{"a": "1"}, data.Inputs["headers"])
}

func TestApplyOverrideConfig_ObjectForOtherNode(t *testing.T) {
	data := &node.NodeData{ID: "a", Inputs: map[string]any{"temperature": 0.5}}
	out, err := ApplyOverrideConfig(data, map[string]any{"temperature": map[string]any{"b": 0.1}})
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Inputs["temperature"])
}
