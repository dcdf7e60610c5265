package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	domainrag "nodeforge/internal/domain/rag"
	applog "nodeforge/internal/platform/log"
)

// Config OpenSearch 连接配置
type Config struct {
	URL      string
	Username string
	Password string
	// Insecure 跳过 TLS 校验（自签名证书的开发集群）
	Insecure bool
	Timeout  time.Duration
}

// Client OpenSearch HTTP 客户端，实现 domainrag.SearchClient
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

var _ domainrag.SearchClient = (*Client)(nil)

// NewClient 创建 OpenSearch 客户端
func NewClient(cfg Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // 开发环境
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

var reIndexInvalid = regexp.MustCompile(`[^a-z0-9_\-]+`)

// IndexName 由前缀和名称生成合法的索引名（小写，仅字母数字下划线连字符）
func IndexName(prefix, name string) string {
	n := reIndexInvalid.ReplaceAllString(strings.ToLower(name), "_")
	if prefix == "" {
		return strings.TrimLeft(n, "_-")
	}
	return strings.ToLower(prefix) + "_" + n
}

// EnsureIndex 确保索引存在，如不存在则创建
func (c *Client) EnsureIndex(ctx context.Context, index string, dims int) error {
	resp, err := c.doRequest(ctx, http.MethodHead, "/"+index, nil)
	if err != nil {
		return fmt.Errorf("check index existence: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	settings := map[string]any{}
	properties := map[string]any{
		"chunk_id":   map[string]string{"type": "keyword"},
		"content":    map[string]string{"type": "text"},
		"metadata":   map[string]string{"type": "object"},
		"created_at": map[string]string{"type": "date"},
	}
	// OpenSearch 使用 knn_vector 而非 dense_vector
	if dims > 0 {
		settings["index.knn"] = true
		properties["vector"] = map[string]any{
			"type":      "knn_vector",
			"dimension": dims,
			"method": map[string]any{
				"name":       "hnsw",
				"space_type": "cosinesimil",
				"engine":     "lucene",
			},
		}
	}

	mapping := map[string]any{
		"settings": settings,
		"mappings": map[string]any{"properties": properties},
	}
	body, _ := json.Marshal(mapping)
	resp, err = c.doRequest(ctx, http.MethodPut, "/"+index, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		// 并发创建时另一请求可能已建好
		if strings.Contains(string(respBody), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed (%d): %s", resp.StatusCode, string(respBody))
	}

	applog.Info("[OpenSearch] Index created", "index", index, "dims", dims)
	return nil
}

// BulkIndex 批量写入文档
func (c *Client) BulkIndex(ctx context.Context, index string, docs []domainrag.ChunkDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		action := map[string]any{
			"index": map[string]any{
				"_index": index,
				"_id":    doc.ChunkID,
			},
		}
		actionLine, _ := json.Marshal(action)
		buf.Write(actionLine)
		buf.WriteByte('\n')

		docLine, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode chunk %s: %w", doc.ChunkID, err)
		}
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/_bulk?refresh=true", &buf)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bulk index failed (%d): %s", resp.StatusCode, string(respBody))
	}
	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &bulkResp); err == nil && bulkResp.Errors {
		return fmt.Errorf("bulk index reported item errors: %s", truncate(string(respBody), 512))
	}

	applog.Debug("[OpenSearch] Bulk indexed", "index", index, "count", len(docs))
	return nil
}

// SearchBM25 BM25 全文检索
func (c *Client) SearchBM25(ctx context.Context, req *domainrag.SearchRequest) (*domainrag.SearchResult, error) {
	start := time.Now()

	boolQuery := map[string]any{
		"must": []any{
			map[string]any{"match": map[string]any{"content": req.Query}},
		},
	}
	if filters := metadataFilters(req.Filters); len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	query := map[string]any{
		"size":  topK(req),
		"query": map[string]any{"bool": boolQuery},
	}
	return c.executeSearch(ctx, req.Index, query, start, domainrag.RetrievalModeBM25, req.ScoreThreshold)
}

// SearchKNN kNN 向量检索
func (c *Client) SearchKNN(ctx context.Context, vector []float32, req *domainrag.SearchRequest) (*domainrag.SearchResult, error) {
	start := time.Now()
	k := topK(req)

	knn := map[string]any{
		"vector": vector,
		"k":      k,
	}
	if filters := metadataFilters(req.Filters); len(filters) > 0 {
		knn["filter"] = map[string]any{"bool": map[string]any{"filter": filters}}
	}

	query := map[string]any{
		"size":  k,
		"query": map[string]any{"knn": map[string]any{"vector": knn}},
	}
	return c.executeSearch(ctx, req.Index, query, start, domainrag.RetrievalModeSimilarity, req.ScoreThreshold)
}

func topK(req *domainrag.SearchRequest) int {
	if req.TopK <= 0 {
		return 4
	}
	return req.TopK
}

func metadataFilters(filters map[string]string) []any {
	var out []any
	for k, v := range filters {
		out = append(out, map[string]any{
			"term": map[string]string{"metadata." + k: v},
		})
	}
	return out
}

// executeSearch 执行 OpenSearch 查询并解析结果
func (c *Client) executeSearch(ctx context.Context, index string, query map[string]any, start time.Time, mode domainrag.RetrievalMode, scoreThreshold float64) (*domainrag.SearchResult, error) {
	body, _ := json.Marshal(query)
	resp, err := c.doRequest(ctx, http.MethodPost, "/"+index+"/_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	// 索引尚未创建（还没有 upsert 过）视为空结果
	if resp.StatusCode == http.StatusNotFound {
		return &domainrag.SearchResult{Mode: mode, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var osResp struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &osResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var docs []domainrag.ResultDocument
	for _, hit := range osResp.Hits.Hits {
		if scoreThreshold > 0 && hit.Score < scoreThreshold {
			continue
		}
		var src domainrag.ChunkDocument
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			applog.Warn("[OpenSearch] Failed to parse hit source", "id", hit.ID, "error", err)
			continue
		}
		if src.ChunkID == "" {
			src.ChunkID = hit.ID
		}
		docs = append(docs, domainrag.ResultDocument{
			ChunkID:  src.ChunkID,
			Content:  src.Content,
			Metadata: src.Metadata,
			Score:    hit.Score,
		})
	}

	return &domainrag.SearchResult{
		Documents: docs,
		Mode:      mode,
		ElapsedMs: time.Since(start).Milliseconds(),
	}, nil
}

// Ping 检查 OpenSearch 连通性
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return fmt.Errorf("ping opensearch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensearch returned status %d", resp.StatusCode)
	}
	return nil
}

// doRequest 执行 HTTP 请求
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	contentType := "application/json"
	if strings.HasPrefix(path, "/_bulk") {
		contentType = "application/x-ndjson"
	}
	req.Header.Set("Content-Type", contentType)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.httpClient.Do(req)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
