package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

func initTool(t *testing.T, name string, inputs map[string]any) node.Tool {
	t.Helper()
	p, ok := node.Lookup(name)
	require.True(t, ok, name)
	inst, err := p.Init(context.Background(), &node.NodeData{ID: name + "_0", Inputs: inputs}, &node.InitOptions{Deps: &node.Deps{}})
	require.NoError(t, err)
	return inst.(node.Tool)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{expr: "2 + 3 * 4", want: "14"},
		{expr: "10 / 4", want: "2.5"},
		{expr: "sqrt(16) + pow(2, 3)", want: "12"},
		{expr: "round(pi * 100) / 100", want: "3.14"},
		{expr: "", wantErr: true},
		{expr: "2 +", wantErr: true},
		{expr: `"text"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculatorNode(t *testing.T) {
	calc := initTool(t, "calculator", nil)
	assert.Equal(t, "calculator", calc.Name())
	assert.Nil(t, calc.Schema())
	out, err := calc.Call(context.Background(), "(1 + 2) * 3")
	require.NoError(t, err)
	assert.Equal(t, "9", out)
}

func TestRequestsGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "page "+r.URL.Path)
	}))
	defer srv.Close()

	t.Run("url from input", func(t *testing.T) {
		tool := initTool(t, "requestsGet", map[string]any{"headers": `{"X-Token":"secret"}`})
		out, err := tool.Call(context.Background(), srv.URL+"/a")
		require.NoError(t, err)
		assert.Equal(t, "page /a", out)
		assert.Contains(t, tool.Description(), "GET request")
	})

	t.Run("configured url wins", func(t *testing.T) {
		tool := initTool(t, "requestsGet", map[string]any{"url": srv.URL + "/fixed", "headers": map[string]any{"X-Token": "secret"}})
		out, err := tool.Call(context.Background(), "ignored")
		require.NoError(t, err)
		assert.Equal(t, "page /fixed", out)
	})

	t.Run("error status is reported to the agent", func(t *testing.T) {
		tool := initTool(t, "requestsGet", map[string]any{"headers": `{"X-Token":"secret"}`})
		out, err := tool.Call(context.Background(), srv.URL+"/missing")
		require.NoError(t, err)
		assert.Contains(t, out, "HTTP 404")
	})
}

func TestRequestsPost(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	tool := initTool(t, "requestsPost", map[string]any{})
	out, err := tool.Call(context.Background(), `{"url":"`+srv.URL+`","data":{"name":"bob"}}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, map[string]any{"name": "bob"}, got)

	fixed := initTool(t, "requestsPost", map[string]any{"url": srv.URL, "body": `{"fixed":true}`})
	_, err = fixed.Call(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fixed": true}, got)

	_, err = tool.Call(context.Background(), "not json")
	assert.ErrorContains(t, err, "json string")
}

type fixedRetriever struct{ docs []types.Document }

func (r fixedRetriever) Retrieve(context.Context, string) ([]types.Document, error) {
	return r.docs, nil
}

func TestRetrieverTool(t *testing.T) {
	docs := []types.Document{{PageContent: "alpha"}, {PageContent: "beta"}}
	tool := initTool(t, "retrieverTool", map[string]any{
		"name": "search_docs", "description": "search the docs",
		"retriever": fixedRetriever{docs: docs}, "returnSourceDocuments": true,
	})
	assert.Equal(t, "search_docs", tool.Name())

	text, sources, err := tool.(node.DocumentTool).CallWithDocuments(context.Background(), "greek letters")
	require.NoError(t, err)
	assert.Equal(t, "alpha\n\nbeta", text)
	assert.Equal(t, docs, sources)

	empty := initTool(t, "retrieverTool", map[string]any{
		"name": "n", "description": "d", "retriever": fixedRetriever{},
	})
	out, err := empty.Call(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "No relevant documents found.", out)

	p, _ := node.Lookup("retrieverTool")
	_, err = p.Init(context.Background(), &node.NodeData{ID: "r", Inputs: map[string]any{"retriever": fixedRetriever{}}}, nil)
	assert.ErrorContains(t, err, "name is required")
}
