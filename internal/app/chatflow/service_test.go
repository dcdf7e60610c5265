package chatflow

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/adapter/speech"
	"nodeforge/internal/app/apikey"
	"nodeforge/internal/db/sqlstore"
	"nodeforge/internal/domain/chatflow/engine"
	"nodeforge/internal/domain/chatflow/event"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/errs"
)

// ── fakes ────────────────────────────────────────────────────

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

type echoChain struct{ fail bool }

func (c *echoChain) Run(_ context.Context, in *node.RunInput) (*node.RunOutput, error) {
	if c.fail {
		return nil, errors.New("upstream exploded")
	}
	text := "echo: " + in.Question
	for _, tok := range strings.SplitAfter(text, " ") {
		event.Emit(in.Sink, event.EventTypeToken, tok)
	}
	return &node.RunOutput{
		Text:      text,
		UsedTools: []types.UsedTool{{Tool: "calculator", ToolInput: "1+1", ToolOutput: "2"}},
	}, nil
}

func testRegistry() *node.Registry {
	reg := node.NewRegistry()
	reg.Register(&fakePlugin{
		def: &node.Definition{Name: "fakeModel", Category: string(types.CategoryChatModels)},
		init: func(context.Context, *node.NodeData, *node.InitOptions) (any, error) {
			return "model", nil
		},
	})
	reg.Register(&fakePlugin{
		def: &node.Definition{Name: "fakeMemory", Category: string(types.CategoryMemory)},
		init: func(context.Context, *node.NodeData, *node.InitOptions) (any, error) {
			return "memory", nil
		},
	})
	reg.Register(&fakePlugin{
		def: &node.Definition{Name: "fakeChain", Category: string(types.CategoryChains), Streamable: true},
		init: func(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
			return &echoChain{fail: node.GetBool(data, "fail", false)}, nil
		},
	})
	reg.Register(&fakePlugin{
		def: &node.Definition{Name: "fakeLoader", Category: string(types.CategoryDocumentLoaders)},
		init: func(_ context.Context, _ *node.NodeData, opts *node.InitOptions) (any, error) {
			var docs []types.Document
			for _, up := range opts.Uploads {
				docs = append(docs, types.Document{PageContent: string(up.Data), Metadata: map[string]any{"source": up.Name}})
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
	return reg
}

const chainFlow = `{
  "nodes": [
    {"id": "model_0", "data": {"name": "fakeModel", "category": "Chat Models", "inputs": {"streaming": true}}},
    {"id": "memory_0", "data": {"name": "fakeMemory", "category": "Memory"}},
    {"id": "chain_0", "data": {"name": "fakeChain", "category": "Chains", "inputs": {"model": "{{model_0.data.instance}}", "memory": "{{memory_0.data.instance}}"}}}
  ],
  "edges": [{"source": "model_0", "target": "chain_0"}, {"source": "memory_0", "target": "chain_0"}]
}`

const upsertFlow = `{
  "nodes": [
    {"id": "loader_0", "data": {"name": "fakeLoader", "category": "Document Loaders"}},
    {"id": "store_0", "data": {"name": "fakeStore", "category": "Vector Stores", "inputs": {"document": ["{{loader_0.data.instance}}"]}}}
  ],
  "edges": [{"source": "loader_0", "target": "store_0"}]
}`

type fakeTranscriber struct{ text string }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, audio *speech.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", errors.New("empty audio")
	}
	return f.text, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Acquire(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}

type fakeMemoryStore struct {
	cleared []string
}

func (m *fakeMemoryStore) Load(context.Context, string, int) ([]types.HistoryMessage, error) {
	return nil, nil
}
func (m *fakeMemoryStore) Append(context.Context, string, time.Duration, ...types.HistoryMessage) error {
	return nil
}
func (m *fakeMemoryStore) Clear(_ context.Context, key string) error {
	m.cleared = append(m.cleared, key)
	return nil
}

type fixture struct {
	svc    *Service
	store  *sqlstore.Store
	keys   *apikey.Service
	locker *fakeLocker
	memory *fakeMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))

	f := &fixture{
		store:  store,
		keys:   apikey.NewService(store),
		locker: &fakeLocker{held: map[string]bool{}},
		memory: &fakeMemoryStore{},
	}
	f.svc = NewService(Options{
		Repo:       store,
		Engine:     engine.New(&engine.Config{MaxWorkers: 2, Registry: testRegistry()}),
		Keys:       f.keys,
		Audio:      &fakeTranscriber{text: "transcribed question"},
		Locker:     f.locker,
		ChatMemory: f.memory,
	})
	return f
}

func (f *fixture) create(t *testing.T, cf *port.ChatFlow) *port.ChatFlow {
	t.Helper()
	out, err := f.svc.Create(context.Background(), cf)
	require.NoError(t, err)
	return out
}

// ── CRUD ─────────────────────────────────────────────────────

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cf := f.create(t, &port.ChatFlow{Name: " demo ", FlowData: chainFlow})
	assert.NotEmpty(t, cf.ID)
	assert.Equal(t, "demo", cf.Name)
	assert.Equal(t, port.ChatflowTypeChatflow, cf.Type)

	got, err := f.svc.Get(ctx, cf.ID)
	require.NoError(t, err)
	assert.Equal(t, chainFlow, got.FlowData)

	draft := f.create(t, &port.ChatFlow{Name: "draft", FlowData: `{"nodes":[],"edges":[]}`, Type: port.ChatflowTypeAgentflow})
	list, err := f.svc.List(ctx, "agentflow")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, draft.ID, list[0].ID)
}

func TestCreate_Invalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		cf   *port.ChatFlow
	}{
		{name: "missing name", cf: &port.ChatFlow{FlowData: chainFlow}},
		{name: "missing flow data", cf: &port.ChatFlow{Name: "x"}},
		{name: "not json", cf: &port.ChatFlow{Name: "x", FlowData: "{"}},
		{name: "cycle", cf: &port.ChatFlow{Name: "x", FlowData: `{"nodes":[{"id":"a","data":{"name":"fakeChain"}},{"id":"b","data":{"name":"fakeChain"}}],"edges":[{"source":"a","target":"b"},{"source":"b","target":"a"}]}`}},
		{name: "bad type", cf: &port.ChatFlow{Name: "x", FlowData: chainFlow, Type: "WORKFLOW"}},
		{name: "bad api config", cf: &port.ChatFlow{Name: "x", FlowData: chainFlow, APIConfig: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.cf)
			assert.True(t, errs.Is(err, http.StatusBadRequest), "got %v", err)
		})
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: chainFlow})

	name, public := "renamed", true
	updated, err := f.svc.Update(ctx, cf.ID, &UpdateRequest{Name: &name, IsPublic: &public})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.IsPublic)
	assert.Equal(t, chainFlow, updated.FlowData)

	bad := "{"
	_, err = f.svc.Update(ctx, cf.ID, &UpdateRequest{ChatbotConfig: &bad})
	assert.True(t, errs.Is(err, http.StatusBadRequest))

	_, err = f.svc.Update(ctx, "missing", &UpdateRequest{Name: &name})
	assert.True(t, errs.Is(err, http.StatusNotFound))
}

func TestGetPublic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	private := f.create(t, &port.ChatFlow{Name: "private", FlowData: chainFlow})
	public := f.create(t, &port.ChatFlow{Name: "public", FlowData: chainFlow, IsPublic: true})

	_, err := f.svc.GetPublic(ctx, private.ID)
	assert.True(t, errs.Is(err, http.StatusUnauthorized))

	got, err := f.svc.GetPublic(ctx, public.ID)
	require.NoError(t, err)
	assert.Equal(t, "public", got.Name)

	_, err = f.svc.GetPublic(ctx, "missing")
	assert.True(t, errs.Is(err, http.StatusNotFound))
}

func TestIsStreaming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streaming := f.create(t, &port.ChatFlow{Name: "s", FlowData: chainFlow})
	blocking := f.create(t, &port.ChatFlow{Name: "b", FlowData: strings.Replace(chainFlow, `"streaming": true`, `"streaming": false`, 1)})
	draft := f.create(t, &port.ChatFlow{Name: "d", FlowData: `{"nodes":[]}`})

	for id, want := range map[string]bool{streaming.ID: true, blocking.ID: false, draft.ID: false} {
		got, err := f.svc.IsStreaming(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}

func TestDelete_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: chainFlow})

	_, err := f.svc.Predict(ctx, cf.ID, &PredictionRequest{Question: "hi", ChatID: "chat-x", SessionID: "sess-x"}, Caller{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, cf.ID))
	assert.Equal(t, []string{"sess-x"}, f.memory.cleared)
	msgs, err := f.store.ListChatMessages(ctx, port.ChatMessageQuery{ChatflowID: cf.ID})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = f.svc.Delete(ctx, cf.ID)
	assert.True(t, errs.Is(err, http.StatusNotFound))
}

// ── prediction ───────────────────────────────────────────────

func TestPredict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: chainFlow})

	resp, err := f.svc.Predict(ctx, cf.ID, &PredictionRequest{Question: "hello world"}, Caller{Internal: true})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello world", resp.Text)
	assert.Equal(t, "hello world", resp.Question)
	assert.NotEmpty(t, resp.ChatID)
	assert.Equal(t, resp.ChatID, resp.SessionID)
	assert.NotEmpty(t, resp.ChatMessageID)
	require.Len(t, resp.UsedTools, 1)

	msgs, err := f.svc.ListMessages(ctx, cf.ID, MessageQuery{ChatID: resp.ChatID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	byRole := map[port.MessageRole]*port.ChatMessage{}
	for _, m := range msgs {
		byRole[m.Role] = m
		assert.Equal(t, port.ChatTypeInternal, m.ChatType)
		assert.Equal(t, "fakeMemory", m.MemoryType)
	}
	assert.Equal(t, "hello world", byRole[port.RoleUser].Content)
	assert.Equal(t, "echo: hello world", byRole[port.RoleAPI].Content)
	assert.Equal(t, resp.ChatMessageID, byRole[port.RoleAPI].ID)
	assert.JSONEq(t, `[{"tool":"calculator","toolInput":"1+1","toolOutput":"2"}]`, string(byRole[port.RoleAPI].UsedTools))
}

func TestPredict_SessionFromOverrideConfig(t *testing.T) {
	f := newFixture(t)
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: chainFlow})

	resp, err := f.svc.Predict(context.Background(), cf.ID, &PredictionRequest{
		Question:       "q",
		ChatID:         "chat-1",
		OverrideConfig: map[string]any{"sessionId": "session-9"},
	}, Caller{})
	require.NoError(t, err)
	assert.Equal(t, "chat-1", resp.ChatID)
	assert.Equal(t, "session-9", resp.SessionID)
}

func TestPredict_Streaming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: chainFlow})

	p, err := f.svc.PreparePrediction(ctx, cf.ID, &PredictionRequest{Question: "hi there", Streaming: true}, Caller{})
	require.NoError(t, err)
	require.True(t, p.Streaming)

	rec := &event.Recorder{}
	resp, err := f.svc.RunPrediction(ctx, p, rec)
	require.NoError(t, err)

	want := []event.EventType{
		event.EventTypeStart,
		event.EventTypeToken, event.EventTypeToken, event.EventTypeToken,
		event.EventTypeUsedTools,
		event.EventTypeMetadata,
		event.EventTypeEnd,
	}
	if diff := cmp.Diff(want, rec.Types()); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
	evs := rec.Events()
	meta := evs[len(evs)-2].Data.(map[string]any)
	assert.Equal(t, resp.ChatMessageID, meta["chatMessageId"])
	assert.Equal(t, "hi there", meta["question"])
}

func TestPredict_StreamingFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := strings.Replace(chainFlow, `"streaming": true`, `"streaming": false`, 1)
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: raw})

	p, err := f.svc.PreparePrediction(ctx, cf.ID, &PredictionRequest{Question: "q", Streaming: true}, Caller{})
	require.NoError(t, err)
	assert.False(t, p.Streaming)

	rec := &event.Recorder{}
	_, err = f.svc.RunPrediction(ctx, p, rec)
	require.NoError(t, err)
	assert.Empty(t, rec.Events())
}

func TestPredict_StreamingError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := strings.Replace(chainFlow, `"memory": "{{memory_0.data.instance}}"`, `"memory": "{{memory_0.data.instance}}", "fail": true`, 1)
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: raw})

	p, err := f.svc.PreparePrediction(ctx, cf.ID, &PredictionRequest{Question: "q", Streaming: true}, Caller{})
	require.NoError(t, err)
	rec := &event.Recorder{}
	_, err = f.svc.RunPrediction(ctx, p, rec)
	require.Error(t, err)

	seq := rec.Types()
	assert.Equal(t, event.EventTypeError, seq[len(seq)-1])
}

func TestPredict_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := f.keys.Create(ctx, "prod")
	require.NoError(t, err)
	protected := f.create(t, &port.ChatFlow{Name: "p", FlowData: chainFlow, APIKeyID: key.ID})
	open := f.create(t, &port.ChatFlow{Name: "o", FlowData: chainFlow})

	tests := []struct {
		name   string
		id     string
		req    *PredictionRequest
		caller Caller
		status int
	}{
		{name: "unknown chatflow", id: "missing", req: &PredictionRequest{Question: "q"}, status: http.StatusNotFound},
		{name: "missing key", id: protected.ID, req: &PredictionRequest{Question: "q"}, status: http.StatusUnauthorized},
		{name: "wrong key", id: protected.ID, req: &PredictionRequest{Question: "q"}, caller: Caller{APIKey: "nf-wrong"}, status: http.StatusUnauthorized},
		{name: "no question", id: open.ID, req: &PredictionRequest{}, status: http.StatusBadRequest},
		{name: "bad upload", id: open.ID, req: &PredictionRequest{Uploads: []types.FileUpload{{Name: "a", URL: "data:text/plain;base64,%%%"}}}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Predict(ctx, tt.id, tt.req, tt.caller)
			assert.True(t, errs.Is(err, tt.status), "got %v", err)
		})
	}

	resp, err := f.svc.Predict(ctx, protected.ID, &PredictionRequest{Question: "q"}, Caller{APIKey: key.Key})
	require.NoError(t, err)
	assert.Equal(t, "echo: q", resp.Text)
}

func TestPredict_RateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{
		Name:      "limited",
		FlowData:  chainFlow,
		APIConfig: `{"rateLimit":{"status":true,"limitMax":"2","limitDuration":"60","limitMsg":"slow down"}}`,
	})

	caller := Caller{RemoteIP: "10.0.0.1"}
	for i := 0; i < 2; i++ {
		_, err := f.svc.Predict(ctx, cf.ID, &PredictionRequest{Question: "q"}, caller)
		require.NoError(t, err)
	}
	_, err := f.svc.Predict(ctx, cf.ID, &PredictionRequest{Question: "q"}, caller)
	require.True(t, errs.Is(err, http.StatusTooManyRequests), "got %v", err)
	assert.Equal(t, "slow down", errs.PublicMessage(err))

	_, err = f.svc.Predict(ctx, cf.ID, &PredictionRequest{Question: "q"}, Caller{RemoteIP: "10.0.0.2"})
	assert.NoError(t, err)
}

func TestPredict_AudioUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{
		Name:         "voice",
		FlowData:     chainFlow,
		SpeechToText: `{"openAIWhisper":{"status":true}}`,
	})

	resp, err := f.svc.Predict(ctx, cf.ID, &PredictionRequest{
		Uploads: []types.FileUpload{{Name: "audio.webm", Type: "audio", Mime: "audio/webm", URL: "data:audio/webm;base64,AAEC"}},
	}, Caller{})
	require.NoError(t, err)
	assert.Equal(t, "transcribed question", resp.Question)
	assert.Equal(t, "echo: transcribed question", resp.Text)

	msgs, err := f.svc.ListMessages(ctx, cf.ID, MessageQuery{ChatID: resp.ChatID})
	require.NoError(t, err)
	for _, m := range msgs {
		if m.Role == port.RoleUser {
			assert.JSONEq(t, `[{"name":"audio.webm","mime":"audio/webm","type":"audio"}]`, string(m.FileUploads))
		}
	}
}

// ── messages ─────────────────────────────────────────────────

func TestMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{Name: "demo", FlowData: chainFlow})

	a, err := f.svc.Predict(ctx, cf.ID, &PredictionRequest{Question: "a", ChatID: "chat-a"}, Caller{})
	require.NoError(t, err)
	_, err = f.svc.Predict(ctx, cf.ID, &PredictionRequest{Question: "b", ChatID: "chat-b", SessionID: "sess-b"}, Caller{Internal: true})
	require.NoError(t, err)

	all, err := f.svc.ListMessages(ctx, cf.ID, MessageQuery{Order: "desc"})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	external, err := f.svc.ListMessages(ctx, cf.ID, MessageQuery{ChatType: "external"})
	require.NoError(t, err)
	assert.Len(t, external, 2)

	_, err = f.svc.ListMessages(ctx, cf.ID, MessageQuery{Order: "sideways"})
	assert.True(t, errs.Is(err, http.StatusBadRequest))

	n, err := f.svc.DeleteMessages(ctx, cf.ID, a.ChatID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"chat-a"}, f.memory.cleared)

	n, err = f.svc.DeleteMessages(ctx, cf.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"chat-a", "sess-b"}, f.memory.cleared)
}

// ── upsert ───────────────────────────────────────────────────

func TestUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cf := f.create(t, &port.ChatFlow{Name: "kb", FlowData: upsertFlow})

	res, err := f.svc.Upsert(ctx, cf.ID, &UpsertRequest{Files: []types.FileUpload{
		{Name: "a.txt", Data: []byte("alpha")},
		{Name: "b.txt", Data: []byte("beta")},
	}}, Caller{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumAdded)
	assert.Equal(t, "alpha", res.AddedDocs[0].PageContent)

	hist, err := f.svc.UpsertHistory(ctx, cf.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.JSONEq(t, `{"numAdded":2,"numDeleted":0,"numUpdated":0,"numSkipped":0}`, string(hist[0].Result))
	assert.JSONEq(t, `{"stopNodeId":"","files":["a.txt","b.txt"]}`, string(hist[0].FlowData))
}

func TestUpsert_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kb := f.create(t, &port.ChatFlow{Name: "kb", FlowData: upsertFlow})
	chat := f.create(t, &port.ChatFlow{Name: "chat", FlowData: chainFlow})

	_, err := f.svc.Upsert(ctx, "missing", &UpsertRequest{}, Caller{})
	assert.True(t, errs.Is(err, http.StatusNotFound))

	_, err = f.svc.Upsert(ctx, chat.ID, &UpsertRequest{}, Caller{})
	assert.True(t, errs.Is(err, http.StatusBadRequest), "got %v", err)

	_, err = f.svc.Upsert(ctx, kb.ID, &UpsertRequest{StopNodeID: "loader_0"}, Caller{})
	assert.True(t, errs.Is(err, http.StatusBadRequest), "got %v", err)

	release, ok, err := f.locker.Acquire(ctx, "upsert:"+kb.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.svc.Upsert(ctx, kb.ID, &UpsertRequest{}, Caller{})
	assert.True(t, errs.Is(err, http.StatusConflict), "got %v", err)
	release()

	_, err = f.svc.Upsert(ctx, kb.ID, &UpsertRequest{}, Caller{})
	assert.NoError(t, err)
}

func TestParseRateLimit(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *RateLimitConfig
	}{
		{name: "empty"},
		{name: "disabled", raw: `{"rateLimit":{"status":false,"limitMax":5,"limitDuration":10}}`},
		{name: "numbers", raw: `{"rateLimit":{"status":true,"limitMax":5,"limitDuration":10}}`,
			want: &RateLimitConfig{Status: true, LimitMax: 5, LimitDuration: 10 * time.Second, LimitMsg: defaultRateLimitMessage}},
		{name: "strings", raw: `{"rateLimit":{"status":true,"limitMax":"3","limitDuration":"1","limitMsg":"wait"}}`,
			want: &RateLimitConfig{Status: true, LimitMax: 3, LimitDuration: time.Second, LimitMsg: "wait"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRateLimit(tt.raw)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := ParseRateLimit(`{"rateLimit":{"limitMax":"many"}}`)
	assert.Error(t, err)
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k", 3, time.Hour)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "other", 3, time.Hour)
	assert.True(t, ok)
}

func TestMemoryLimiter_EvictsIdleBuckets(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Allow(ctx, "cf:10.0.0."+string(rune('0'+i)), 1, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, l.Len())

	now = now.Add(2 * time.Minute)
	ok, err := l.Allow(ctx, "cf:10.0.0.9", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_CapsBucketCount(t *testing.T) {
	l := NewMemoryLimiter()
	l.maxKeys = 2
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a", 1, time.Hour)
	now = now.Add(time.Second)
	_, _ = l.Allow(ctx, "b", 1, time.Hour)
	now = now.Add(time.Second)
	_, _ = l.Allow(ctx, "c", 1, time.Hour)
	assert.Equal(t, 2, l.Len())

	// a 被淘汰后重新获得满桶，c 仍受限
	ok, _ := l.Allow(ctx, "a", 1, time.Hour)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "c", 1, time.Hour)
	assert.False(t, ok)
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "upsert:a")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "upsert:a")
	assert.False(t, ok)
	_, ok, _ = l.Acquire(ctx, "upsert:b")
	assert.True(t, ok)

	release()
	release()
	_, ok, _ = l.Acquire(ctx, "upsert:a")
	assert.True(t, ok)
}
