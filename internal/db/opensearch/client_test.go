package opensearch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainrag "nodeforge/internal/domain/rag"
)

func TestIndexName(t *testing.T) {
	assert.Equal(t, "nf_flow-abc_node_1", IndexName("NF", "flow-ABC node/1"))
	assert.Equal(t, "docs", IndexName("", "Docs"))
}

func TestEnsureIndex(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/idx", r.URL.Path)
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			fmt.Fprint(w, `{"acknowledged":true}`)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	require.NoError(t, c.EnsureIndex(context.Background(), "idx", 3))
	require.NotNil(t, created)
	props := created["mappings"].(map[string]any)["properties"].(map[string]any)
	vector := props["vector"].(map[string]any)
	assert.Equal(t, "knn_vector", vector["type"])
	assert.EqualValues(t, 3, vector["dimension"])
}

func TestBulkIndex(t *testing.T) {
	var lines []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_bulk", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin:secret", user+":"+pass)
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		fmt.Fprint(w, `{"errors":false,"items":[]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Username: "admin", Password: "secret"})
	err := c.BulkIndex(context.Background(), "idx", []domainrag.ChunkDocument{
		{ChunkID: "c1", Content: "hello", Vector: []float32{0.5}},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"index":{"_index":"idx","_id":"c1"}}`, lines[0])
	assert.Contains(t, lines[1], `"content":"hello"`)
}

func TestBulkIndex_ItemErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":true,"items":[{"index":{"status":400}}]}`)
	}))
	defer srv.Close()

	err := NewClient(Config{URL: srv.URL}).BulkIndex(context.Background(), "idx", []domainrag.ChunkDocument{{ChunkID: "c1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item errors")
}

func TestSearchKNN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/idx/_search", r.URL.Path)
		var q map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.EqualValues(t, 2, q["size"])
		knn := q["query"].(map[string]any)["knn"].(map[string]any)["vector"].(map[string]any)
		assert.NotNil(t, knn["filter"])

		fmt.Fprint(w, `{"hits":{"hits":[
			{"_id":"c1","_score":0.9,"_source":{"chunk_id":"c1","content":"alpha","metadata":{"source":"a.txt"}}},
			{"_id":"c2","_score":0.1,"_source":{"content":"beta"}}
		]}}`)
	}))
	defer srv.Close()

	res, err := NewClient(Config{URL: srv.URL}).SearchKNN(context.Background(), []float32{1, 0}, &domainrag.SearchRequest{
		Index:          "idx",
		TopK:           2,
		ScoreThreshold: 0.5,
		Filters:        map[string]string{"source": "a.txt"},
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "alpha", res.Documents[0].Content)
	assert.Equal(t, "a.txt", res.Documents[0].Metadata["source"])
}

func TestSearch_MissingIndexIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"index_not_found_exception"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	res, err := NewClient(Config{URL: srv.URL}).SearchBM25(context.Background(), &domainrag.SearchRequest{Index: "nope", Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.True(t, strings.EqualFold(string(res.Mode), "bm25"))
}
