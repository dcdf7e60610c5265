package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

func init() {
	node.Register(&requestsGetPlugin{})
	node.Register(&requestsPostPlugin{})
}

var toolClasses = []string{"Tool", "StructuredTool", "Runnable"}

// maxResponseBytes 返回给模型的响应体上限
const maxResponseBytes = 64 << 10

const (
	defaultGetDescription = "A portal to the internet. Use this when you need to get specific content from a website. " +
		"Input should be a url (i.e. https://www.google.com). The output will be the text response of the GET request."
	defaultPostDescription = "Use this when you want to POST to a website. Input should be a json string with two keys: " +
		`"url" and "data". The value of "url" should be a string, and the value of "data" should be a dictionary of ` +
		"key-value pairs you want to POST to the url as a JSON body. Be careful to always use double quotes for strings " +
		"in the json string. The output will be the text response of the POST request."
)

// requestTool 发起 HTTP 请求；节点配置了 url/body 时忽略模型给出的对应部分
type requestTool struct {
	name        string
	description string
	method      string
	url         string
	headers     map[string]string
	body        map[string]any
	client      *http.Client
}

func (t *requestTool) Name() string           { return t.name }
func (t *requestTool) Description() string    { return t.description }
func (t *requestTool) Schema() map[string]any { return nil }

func (t *requestTool) Call(ctx context.Context, input string) (string, error) {
	url, body := t.url, t.body
	if t.method == http.MethodGet {
		if url == "" {
			url = strings.TrimSpace(input)
		}
	} else if url == "" || len(body) == 0 {
		var in struct {
			URL  string         `json:"url"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(input), &in); err != nil {
			return "", fmt.Errorf("input must be a json string with url and data: %w", err)
		}
		if url == "" {
			url = in.URL
		}
		if len(body) == 0 {
			body = in.Data
		}
	}
	if url == "" {
		return "", fmt.Errorf("url is required")
	}

	var reader io.Reader
	if t.method != http.MethodGet {
		b, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, url, reader)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", t.method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, data), nil
	}
	return string(data), nil
}

func headers(data *node.NodeData) (map[string]string, error) {
	raw, err := node.GetJSON(data, "headers")
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

func requestInputs(description string, withBody bool) []node.InputParam {
	in := []node.InputParam{
		{Label: "URL", Name: "url", Type: "string", Optional: true,
			Description: "Agent will make call to this exact URL. If not specified, agent will try to figure out itself from AIPlugin if provided"},
	}
	if withBody {
		in = append(in, node.InputParam{Label: "Body", Name: "body", Type: "json", Optional: true, Additional: true,
			Description: "JSON body for the POST request. If not specified, agent will try to figure out itself from AIPlugin if provided"})
	}
	return append(in,
		node.InputParam{Label: "Description", Name: "description", Type: "string", Rows: 4, Optional: true, Additional: true,
			Default: description, Description: "Acts like a prompt to tell agent when it should use this tool"},
		node.InputParam{Label: "Headers", Name: "headers", Type: "json", Optional: true, Additional: true},
	)
}

func newRequestTool(data *node.NodeData, opts *node.InitOptions, name, method, description string) (*requestTool, error) {
	h, err := headers(data)
	if err != nil {
		return nil, err
	}
	t := &requestTool{
		name:        name,
		description: node.GetString(data, "description"),
		method:      method,
		url:         node.GetString(data, "url"),
		headers:     h,
		client:      http.DefaultClient,
	}
	if opts != nil {
		t.client = opts.Deps.HTTP()
	}
	if t.description == "" {
		t.description = description
	}
	return t, nil
}

type requestsGetPlugin struct{}

func (p *requestsGetPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "requestsGet",
		Label:       "Requests Get",
		Version:     1,
		Type:        "RequestsGet",
		Icon:        "requestsget.svg",
		Category:    string(types.CategoryTools),
		Description: "Execute HTTP GET requests",
		BaseClasses: append([]string{"RequestsGet"}, toolClasses...),
		Inputs:      requestInputs(defaultGetDescription, false),
	}
}

func (p *requestsGetPlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	return newRequestTool(data, opts, "requests_get", http.MethodGet, defaultGetDescription)
}

type requestsPostPlugin struct{}

func (p *requestsPostPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "requestsPost",
		Label:       "Requests Post",
		Version:     1,
		Type:        "RequestsPost",
		Icon:        "requestspost.svg",
		Category:    string(types.CategoryTools),
		Description: "Execute HTTP POST requests",
		BaseClasses: append([]string{"RequestsPost"}, toolClasses...),
		Inputs:      requestInputs(defaultPostDescription, true),
	}
}

func (p *requestsPostPlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	t, err := newRequestTool(data, opts, "requests_post", http.MethodPost, defaultPostDescription)
	if err != nil {
		return nil, err
	}
	if t.body, err = node.GetJSON(data, "body"); err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	return t, nil
}
