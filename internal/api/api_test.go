package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/adapter/storage/local"
	"nodeforge/internal/app/account"
	"nodeforge/internal/app/apikey"
	"nodeforge/internal/app/attachment"
	"nodeforge/internal/app/audio"
	appchatflow "nodeforge/internal/app/chatflow"
	"nodeforge/internal/app/credential"
	"nodeforge/internal/db/sqlstore"
	"nodeforge/internal/domain/chatflow/engine"
	"nodeforge/internal/domain/chatflow/event"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/platform/crypto"
)

// ── fake nodes ───────────────────────────────────────────────

type fakePlugin struct {
	def  *node.Definition
	init func(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (any, error)
}

func (p *fakePlugin) Definition() *node.Definition { return p.def }
func (p *fakePlugin) Init(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	return p.init(ctx, data, opts)
}

type fakeStorePlugin struct{ fakePlugin }

func (p *fakeStorePlugin) Upsert(_ context.Context, data *node.NodeData, _ *node.InitOptions) (*types.UpsertResult, error) {
	docs, err := node.GetInstances[types.Document](data, "document")
	if err != nil {
		return nil, err
	}
	return &types.UpsertResult{NumAdded: len(docs), AddedDocs: docs}, nil
}

type echoChain struct{}

func (echoChain) Run(_ context.Context, in *node.RunInput) (*node.RunOutput, error) {
	text := "echo: " + in.Question
	for _, tok := range strings.SplitAfter(text, " ") {
		event.Emit(in.Sink, event.EventTypeToken, tok)
	}
	return &node.RunOutput{Text: text}, nil
}

func testRegistry() *node.Registry {
	reg := node.NewRegistry()
	reg.Register(&fakePlugin{
		def: &node.Definition{Name: "fakeModel", Label: "Fake Model", Category: string(types.CategoryChatModels)},
		init: func(context.Context, *node.NodeData, *node.InitOptions) (any, error) {
			return "model", nil
		},
	})
	reg.Register(&fakePlugin{
		def: &node.Definition{Name: "fakeChain", Label: "Fake Chain", Category: string(types.CategoryChains), Streamable: true},
		init: func(context.Context, *node.NodeData, *node.InitOptions) (any, error) {
			return echoChain{}, nil
		},
	})
	reg.Register(&fakePlugin{
		def: &node.Definition{Name: "fakeLoader", Category: string(types.CategoryDocumentLoaders)},
		init: func(_ context.Context, _ *node.NodeData, opts *node.InitOptions) (any, error) {
			var docs []types.Document
			for _, up := range opts.Uploads {
				docs = append(docs, types.Document{PageContent: string(up.Data)})
			}
			return docs, nil
		},
	})
	reg.Register(&fakeStorePlugin{fakePlugin{
		def: &node.Definition{Name: "fakeStore", Category: string(types.CategoryVectorStores)},
		init: func(context.Context, *node.NodeData, *node.InitOptions) (any, error) {
			return "store", nil
		},
	}})
	reg.RegisterCredential(&node.CredentialSchema{
		Name:  "fakeApi",
		Label: "Fake API",
		Inputs: []node.InputParam{
			{Name: "apiKey", Type: "password"},
			{Name: "region", Type: "string"},
		},
	})
	return reg
}

const chainFlow = `{"nodes":[{"id":"model_0","data":{"name":"fakeModel","category":"Chat Models","inputs":{"streaming":true}}},{"id":"chain_0","data":{"name":"fakeChain","category":"Chains","inputs":{"model":"{{model_0.data.instance}}"}}}],"edges":[{"source":"model_0","target":"chain_0"}]}`

const upsertFlow = `{"nodes":[{"id":"loader_0","data":{"name":"fakeLoader","category":"Document Loaders"}},{"id":"store_0","data":{"name":"fakeStore","category":"Vector Stores","inputs":{"document":["{{loader_0.data.instance}}"]}}}],"edges":[{"source":"loader_0","target":"store_0"}]}`

// ── fixture ──────────────────────────────────────────────────

type testEnv struct {
	handler http.Handler
	keys    *apikey.Service
	token   string
}

func newTestEnv(t *testing.T, opts ...func(*ServerConfig)) *testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.SetAdminEmail(ctx, "admin@example.com"))

	reg := testRegistry()
	enc, err := crypto.NewEncryptor("test-key")
	require.NoError(t, err)
	backend, err := local.New(t.TempDir())
	require.NoError(t, err)

	keys := apikey.NewService(store)
	creds := credential.NewService(store, enc, reg)
	files := attachment.NewService(store, backend, nil, 1<<20)
	accounts := account.NewService(account.Config{
		JWTSecret:     "test-secret",
		JWTIssuer:     "nodeforge",
		TokenTTL:      time.Hour,
		AdminEmail:    "admin@example.com",
		AdminPassword: "pw",
	}, store)
	chatflows := appchatflow.NewService(appchatflow.Options{
		Repo:   store,
		Engine: engine.New(&engine.Config{MaxWorkers: 2, Registry: reg}),
		Keys:   keys,
		Files:  files,
	})

	cfg := DefaultServerConfig()
	cfg.JWTSecret = "test-secret"
	cfg.JWTIssuer = "nodeforge"
	cfg.MaxBodyBytes = 2 << 20
	for _, opt := range opts {
		opt(cfg)
	}
	server := NewServer(cfg, &Services{
		Chatflows:   chatflows,
		Credentials: creds,
		APIKeys:     keys,
		Accounts:    accounts,
		Attachments: files,
		Audio:       audio.NewService(audio.Config{}, creds, nil),
		Registry:    reg,
	})

	login, err := accounts.Login(ctx, "admin@example.com", "pw")
	require.NoError(t, err)
	return &testEnv{handler: server.Handler(), keys: keys, token: login.Token}
}

func (e *testEnv) createAPIKey(t *testing.T, name string) string {
	t.Helper()
	created, err := e.keys.Create(context.Background(), name)
	require.NoError(t, err)
	return created.Key
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do 以管理员身份发送 JSON 请求
func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	return e.serve(t, req)
}

func (e *testEnv) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func (e *testEnv) createChatflow(t *testing.T, body map[string]any) string {
	t.Helper()
	rr, env := e.do(t, http.MethodPost, "/api/v1/chatflows", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var cf struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cf))
	return cf.ID
}

// ── tests ────────────────────────────────────────────────────

func TestChatflowCRUD(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "demo", "flowData": chainFlow})

	rr, body := env.do(t, http.MethodGet, "/api/v1/chatflows/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusOK, body.Code)
	assert.Contains(t, string(body.Data), `"name":"demo"`)

	rr, body = env.do(t, http.MethodPut, "/api/v1/chatflows/"+id, map[string]any{"isPublic": true})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), `"isPublic":true`)

	rr, body = env.do(t, http.MethodGet, "/api/v1/chatflows", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Len(t, list, 1)

	rr, _ = env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/public-chatflows/"+id, nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, body = env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/chatflows-streaming/"+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"isStreaming":true}`, string(body.Data))

	rr, _ = env.do(t, http.MethodDelete, "/api/v1/chatflows/"+id, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, body = env.do(t, http.MethodGet, "/api/v1/chatflows/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Contains(t, body.Message, "not found")
}

func TestChatflowValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body any
	}{
		{name: "missing name", body: map[string]any{"flowData": chainFlow}},
		{name: "bad flow", body: map[string]any{"name": "x", "flowData": "{"}},
		{name: "bad type", body: map[string]any{"name": "x", "flowData": chainFlow, "type": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := env.do(t, http.MethodPost, "/api/v1/chatflows", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, http.StatusBadRequest, body.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chatflows", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	rr, _ := env.serve(t, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPrivateChatflowNotPublic(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "demo", "flowData": chainFlow})
	rr, _ := env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/public-chatflows/"+id, nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPrediction(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "demo", "flowData": chainFlow})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prediction/"+id, strings.NewReader(`{"question":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rr, body := env.serve(t, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp appchatflow.PredictionResponse
	require.NoError(t, json.Unmarshal(body.Data, &resp))
	assert.Equal(t, "echo: hello", resp.Text)
	assert.NotEmpty(t, resp.ChatID)
	assert.NotEmpty(t, resp.ChatMessageID)

	rr, body = env.do(t, http.MethodGet, "/api/v1/chatmessage/"+id+"?chatId="+resp.ChatID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "EXTERNAL", msgs[0]["chatType"])

	rr, body = env.do(t, http.MethodDelete, "/api/v1/chatmessage/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":2}`, string(body.Data))
}

func TestInternalPredictionMarksMessages(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "demo", "flowData": chainFlow})

	rr, _ := env.do(t, http.MethodPost, "/api/v1/internal-prediction/"+id, map[string]any{"question": "hi", "chatId": "c1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	_, body := env.do(t, http.MethodGet, "/api/v1/chatmessage/"+id+"?chatType=INTERNAL", nil)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &msgs))
	assert.Len(t, msgs, 2)
}

func TestPredictionStreaming(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "demo", "flowData": chainFlow})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prediction/"+id, strings.NewReader(`{"question":"hi there","streaming":true}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	var events []string
	var tokens strings.Builder
	scanner := bufio.NewScanner(rr.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev struct {
			Event string `json:"event"`
			Data  any    `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev.Event)
		if ev.Event == "token" {
			tokens.WriteString(ev.Data.(string))
		}
	}
	assert.Equal(t, []string{"start", "token", "token", "token", "metadata", "end"}, events)
	assert.Equal(t, "echo: hi there", tokens.String())
}

func TestPredictionAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key := env.createAPIKey(t, "prod")

	_, body := env.do(t, http.MethodGet, "/api/v1/apikey", nil)
	var keys []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &keys))
	require.Len(t, keys, 1)
	id := env.createChatflow(t, map[string]any{"name": "locked", "flowData": chainFlow, "apikeyid": keys[0]["id"]})

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{name: "no key", status: http.StatusUnauthorized},
		{name: "wrong key", auth: "Bearer nf-wrong", status: http.StatusUnauthorized},
		{name: "right key", auth: "Bearer " + key, status: http.StatusOK},
		{name: "console user", auth: "Bearer " + env.token, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/prediction/"+id, strings.NewReader(`{"question":"q"}`))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr, _ := env.serve(t, req)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}
}

func TestPredictionErrors(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "demo", "flowData": chainFlow})

	rr, _ := env.serve(t, httptest.NewRequest(http.MethodPost, "/api/v1/prediction/missing", strings.NewReader(`{"question":"q"}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, body := env.serve(t, httptest.NewRequest(http.MethodPost, "/api/v1/prediction/"+id, strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body.Message, "question")
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestVectorUpsertMultipart(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "kb", "flowData": upsertFlow})

	buf, ct := multipartBody(t, map[string]string{"stopNodeId": "store_0"}, map[string]string{"a.txt": "alpha"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vector/upsert/"+id, buf)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rr, body := env.serve(t, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res types.UpsertResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, 1, res.NumAdded)
	assert.Equal(t, "alpha", res.AddedDocs[0].PageContent)

	rr, body = env.do(t, http.MethodGet, "/api/v1/upsert-history/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var hist []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &hist))
	assert.Len(t, hist, 1)
}

func TestVectorUpsertJSONNoStore(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "chat", "flowData": chainFlow})
	rr, _ := env.do(t, http.MethodPost, "/api/v1/vector/upsert/"+id, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAttachments(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "demo", "flowData": chainFlow})

	buf, ct := multipartBody(t, nil, map[string]string{"notes.txt": "some notes"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments/"+id+"/chat-1", buf)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rr, body := env.serve(t, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, string(body.Data), `"content":"some notes"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/get-upload-file?chatflowId="+id+"&chatId=chat-1&fileName=notes.txt", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "some notes", rr.Body.String())

	rr, _ = env.do(t, http.MethodGet, "/api/v1/get-upload-file?chatflowId="+id+"&chatId=chat-1&fileName=missing.txt", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCredentials(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/v1/credentials", map[string]any{
		"name":           "mine",
		"credentialName": "fakeApi",
		"plainDataObj":   map[string]any{"apiKey": "sk-secret", "region": "eu"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "sk-secret")
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))

	rr, body = env.do(t, http.MethodGet, "/api/v1/credentials/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, string(body.Data), "sk-secret")
	assert.Contains(t, string(body.Data), `"region":"eu"`)

	rr, body = env.do(t, http.MethodGet, "/api/v1/credentials?credentialName=fakeApi", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), created.ID)

	rr, body = env.do(t, http.MethodGet, "/api/v1/components-credentials", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), `"name":"fakeApi"`)

	rr, _ = env.do(t, http.MethodPost, "/api/v1/credentials", map[string]any{"name": "x", "credentialName": "unknown"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = env.do(t, http.MethodDelete, "/api/v1/credentials/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = env.do(t, http.MethodDelete, "/api/v1/credentials/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNodesCatalog(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodGet, "/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var defs []node.Definition
	require.NoError(t, json.Unmarshal(body.Data, &defs))
	assert.Len(t, defs, 4)

	rr, body = env.do(t, http.MethodGet, "/api/v1/nodes/fakeChain", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), `"label":"Fake Chain"`)

	rr, body = env.do(t, http.MethodGet, "/api/v1/nodes/category/Chains", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(body.Data, &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "fakeChain", defs[0].Name)

	rr, _ = env.do(t, http.MethodGet, "/api/v1/nodes/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAccountStubs(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"admin@example.com","password":"nope"}`))
	rr, _ := env.serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, body := env.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), "admin@example.com")

	rr, _ = env.do(t, http.MethodGet, "/api/v1/organizations", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = env.do(t, http.MethodGet, "/api/v1/workspaces", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	for _, path := range []string{"/api/v1/account/register", "/api/v1/account/invite"} {
		rr, body = env.serve(t, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusForbidden, rr.Code, path)
		assert.Equal(t, "not available in this build", body.Message)
	}
	rr, _ = env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/sso/google", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/v1/apikey", map[string]string{"keyName": "ci"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created struct {
		ID     string `json:"id"`
		APIKey string `json:"apiKey"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.True(t, strings.HasPrefix(created.APIKey, "nf-"))

	_, body = env.do(t, http.MethodGet, "/api/v1/apikey", nil)
	assert.NotContains(t, string(body.Data), created.APIKey)

	rr, _ = env.do(t, http.MethodDelete, "/api/v1/apikey/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chatflows", nil)
	req.Header.Set("Authorization", "Bearer "+created.APIKey)
	rr, _ = env.serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestVoices(t *testing.T) {
	env := newTestEnv(t)
	rr, body := env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/text-to-speech/voices?provider=openai", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), "alloy")

	rr, _ = env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/text-to-speech/voices?provider=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = env.do(t, http.MethodPost, "/api/v1/text-to-speech/generate", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestEnv(t)
	rr, body := env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "metrics are disabled", body.Message)
}

const limitedConfig = `{"rateLimit":{"status":true,"limitMax":1,"limitDuration":60,"limitMsg":"slow down"}}`

func predictFrom(t *testing.T, env *testEnv, id, remoteAddr, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prediction/"+id, strings.NewReader(`{"question":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set("X-Real-IP", forwardedFor)
	}
	rr, _ := env.serve(t, req)
	return rr.Code
}

func TestPredictionRateLimitIgnoresSpoofedHeaders(t *testing.T) {
	env := newTestEnv(t)
	id := env.createChatflow(t, map[string]any{"name": "limited", "flowData": chainFlow, "apiConfig": limitedConfig})

	var codes []int
	for i := 0; i < 5; i++ {
		codes = append(codes, predictFrom(t, env, id, "192.0.2.7:4000", fmt.Sprintf("10.0.0.%d", i)))
	}
	assert.Equal(t, []int{200, 429, 429, 429, 429}, codes)

	assert.Equal(t, http.StatusOK, predictFrom(t, env, id, "192.0.2.8:4000", ""))
}

func TestPredictionRateLimitTrustedProxy(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.TrustedProxies = 1 })
	id := env.createChatflow(t, map[string]any{"name": "limited", "flowData": chainFlow, "apiConfig": limitedConfig})

	// 代理把真实对端追加到末尾，客户端伪造的前缀不影响限流 key
	assert.Equal(t, http.StatusOK, predictFrom(t, env, id, "10.1.0.1:80", "1.1.1.1, 203.0.113.5"))
	assert.Equal(t, http.StatusTooManyRequests, predictFrom(t, env, id, "10.1.0.1:80", "2.2.2.2, 203.0.113.5"))
	assert.Equal(t, http.StatusOK, predictFrom(t, env, id, "10.1.0.1:80", "203.0.113.6"))
}

func TestForwardedFor(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		hops   int
		want   string
	}{
		{"single hop", []string{"1.1.1.1, 203.0.113.5"}, 1, "203.0.113.5"},
		{"two hops", []string{"203.0.113.5, 10.0.0.2"}, 2, "203.0.113.5"},
		{"repeated headers", []string{"9.9.9.9", "203.0.113.5"}, 1, "203.0.113.5"},
		{"fewer entries than hops", []string{"203.0.113.5"}, 3, "203.0.113.5"},
		{"not an ip", []string{"evil"}, 1, ""},
		{"empty", nil, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, forwardedFor(tt.values, tt.hops))
		})
	}
}
