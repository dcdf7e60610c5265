package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"nodeforge/internal/domain/chatflow/event"
	"nodeforge/internal/domain/chatflow/graph"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/chatflow/runtime"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/platform/telemetry"
)

// Config 引擎配置
type Config struct {
	MaxWorkers int            // 同一依赖层内并行初始化的节点数
	Registry   *node.Registry // nil 时使用全局注册表
	Deps       *node.Deps
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{MaxWorkers: 4}
}

// Result 结束节点的输出
type Result = node.RunOutput

// Engine 按依赖顺序初始化节点并执行结束节点
type Engine struct {
	config   *Config
	registry *node.Registry
	logger   *slog.Logger
}

// New 创建引擎
func New(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	reg := config.Registry
	if reg == nil {
		reg = node.Default()
	}
	return &Engine{
		config:   config,
		registry: reg,
		logger:   applog.With("component", "chatflow_engine"),
	}
}

// Registry 引擎使用的节点注册表
func (e *Engine) Registry() *node.Registry {
	return e.registry
}

// Build 初始化目标节点及其全部上游
func (e *Engine) Build(ctx context.Context, g *graph.Graph, state *runtime.RunState, targetID string) error {
	if _, ok := g.Node(targetID); !ok {
		return errs.NotFound("node %s not found in flow", targetID)
	}
	return e.initNodes(ctx, g, state, g.Subgraph(targetID))
}

// initNodes 分层初始化：同层并发（受 MaxWorkers 限制），任一失败即取消其余节点
func (e *Engine) initNodes(ctx context.Context, g *graph.Graph, state *runtime.RunState, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	levels, err := g.TopoLevels(ids)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartFlowSpan(ctx, "build", state.ChatflowID, state.ChatID)
	start := time.Now()

	for _, level := range levels {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(e.config.MaxWorkers)
		for _, id := range level {
			n := g.Nodes[id]
			eg.Go(func() error {
				return e.initNode(egCtx, n, state)
			})
		}
		if err := eg.Wait(); err != nil {
			telemetry.EndSpan(span, err)
			return err
		}
	}

	e.logger.Debug("[Engine] Flow built",
		"chatflow_id", state.ChatflowID,
		"nodes", len(ids),
		"levels", len(levels),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	telemetry.EndSpan(span, nil)
	return nil
}

func (e *Engine) initNode(ctx context.Context, n *graph.Node, state *runtime.RunState) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := telemetry.StartNodeSpan(ctx, n.ID, n.Data.Name)
	defer func() { telemetry.EndSpan(span, err) }()

	plugin, ok := e.registry.Lookup(n.Data.Name)
	if !ok {
		return errs.Newf(http.StatusInternalServerError, "Node %s not found", n.Data.Name)
	}

	resolved, err := e.prepare(n, state)
	if err != nil {
		return err
	}

	inst, err := plugin.Init(ctx, resolved, e.initOptions(state))
	if err != nil {
		return errs.Wrap(http.StatusInternalServerError, err, fmt.Sprintf("Error initializing node %s", n.ID))
	}
	state.SetInstance(n.ID, inst)
	return nil
}

// prepare 应用覆盖配置并解析变量
func (e *Engine) prepare(n *graph.Node, state *runtime.RunState) (*node.NodeData, error) {
	data := n.Data
	if len(state.OverrideConfig) > 0 {
		overridden, err := runtime.ApplyOverrideConfig(data, state.OverrideConfig)
		if err != nil {
			return nil, errs.Wrap(http.StatusInternalServerError, err, "apply override config")
		}
		data = overridden
	}
	resolved, err := state.ResolveInputs(data)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, fmt.Sprintf("Error resolving inputs of node %s", n.ID))
	}
	return resolved, nil
}

func (e *Engine) initOptions(state *runtime.RunState) *node.InitOptions {
	return &node.InitOptions{
		ChatflowID: state.ChatflowID,
		ChatID:     state.ChatID,
		SessionID:  state.SessionID,
		Question:   state.Question,
		Uploads:    state.Uploads,
		Deps:       e.config.Deps,
	}
}

// Run 初始化结束节点所需的全部节点并执行结束节点。
// 流式请求时推送 start / token / sourceDocuments / usedTools，end 由调用方在写入元数据后发送。
func (e *Engine) Run(ctx context.Context, g *graph.Graph, state *runtime.RunState) (*Result, error) {
	ending, err := g.EndingNode()
	if err != nil {
		return nil, err
	}
	if err := e.Build(ctx, g, state, ending.ID); err != nil {
		return nil, err
	}

	inst, _ := state.Instance(ending.ID)
	runnable, ok := inst.(node.Runnable)
	if !ok {
		return nil, errs.Newf(http.StatusInternalServerError, "Ending node %s is not runnable", ending.ID)
	}

	ctx, span := telemetry.StartFlowSpan(ctx, "run", state.ChatflowID, state.ChatID)
	event.Emit(state.Sink, event.EventTypeStart, "")

	out, err := runnable.Run(ctx, &node.RunInput{
		Question:  state.Question,
		ChatID:    state.ChatID,
		SessionID: state.SessionID,
		History:   state.History,
		Sink:      state.Sink,
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "Error running chatflow")
	}
	if out == nil {
		out = &Result{}
	}

	if len(out.SourceDocuments) > 0 {
		event.Emit(state.Sink, event.EventTypeSourceDocuments, out.SourceDocuments)
	}
	if len(out.UsedTools) > 0 {
		event.Emit(state.Sink, event.EventTypeUsedTools, out.UsedTools)
	}
	return out, nil
}

// Upsert 初始化向量库节点的上游，并调用其写入能力。
// stopNodeID 为空时要求流程中恰好有一个向量库节点。
func (e *Engine) Upsert(ctx context.Context, g *graph.Graph, state *runtime.RunState, stopNodeID string) (*types.UpsertResult, error) {
	target, err := e.upsertTarget(g, stopNodeID)
	if err != nil {
		return nil, err
	}

	plugin, ok := e.registry.Lookup(target.Data.Name)
	if !ok {
		return nil, errs.Newf(http.StatusInternalServerError, "Node %s not found", target.Data.Name)
	}
	upserter, ok := plugin.(node.Upserter)
	if !ok {
		return nil, errs.BadRequest("node %s does not support upsert", target.ID)
	}

	if err := e.initNodes(ctx, g, state, g.Ancestors(target.ID)); err != nil {
		return nil, err
	}
	resolved, err := e.prepare(target, state)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartNodeSpan(ctx, target.ID, target.Data.Name+".upsert")
	res, err := upserter.Upsert(ctx, resolved, e.initOptions(state))
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, fmt.Sprintf("Error upserting node %s", target.ID))
	}
	e.logger.Info("[Engine] Upsert finished", "chatflow_id", state.ChatflowID, "node_id", target.ID, "result", res.String())
	return res, nil
}

func (e *Engine) upsertTarget(g *graph.Graph, stopNodeID string) (*graph.Node, error) {
	if stopNodeID != "" {
		n, ok := g.Node(stopNodeID)
		if !ok {
			return nil, errs.NotFound("node %s not found in flow", stopNodeID)
		}
		if n.Category() != types.CategoryVectorStores {
			return nil, errs.BadRequest("node %s is not a vector store", stopNodeID)
		}
		return n, nil
	}
	stores := g.NodesByCategory(types.CategoryVectorStores)
	switch len(stores) {
	case 0:
		return nil, errs.BadRequest("no vector store node found in flow")
	case 1:
		return stores[0], nil
	default:
		return nil, errs.BadRequest("multiple vector store nodes found, stopNodeId is required")
	}
}

// IsStreamable 结束节点支持流式，且其上游对话模型未关闭 streaming
func (e *Engine) IsStreamable(g *graph.Graph) bool {
	ending, err := g.EndingNode()
	if err != nil {
		return false
	}
	plugin, ok := e.registry.Lookup(ending.Data.Name)
	if !ok || !plugin.Definition().Streamable {
		return false
	}
	hasModel := false
	for _, id := range g.Ancestors(ending.ID) {
		n := g.Nodes[id]
		if n.Category() != types.CategoryChatModels {
			continue
		}
		hasModel = true
		if !node.GetBool(n.Data, "streaming", true) {
			return false
		}
	}
	return hasModel
}
