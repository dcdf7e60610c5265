// Package telemetry 提供 chatflow 执行的 trace 与指标。
// 使用全局 OTel provider，未安装 provider 时为空操作。
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	applog "nodeforge/internal/platform/log"
)

const instrumentation = "nodeforge"

func tracer() trace.Tracer { return otel.Tracer(instrumentation) }

// StartFlowSpan 一次 chatflow 执行（预测或 upsert）的根 span
func StartFlowSpan(ctx context.Context, op, chatflowID, chatID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "chatflow."+op,
		trace.WithAttributes(
			attribute.String("chatflow.id", chatflowID),
			attribute.String("chat.id", chatID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartNodeSpan 单个节点初始化/执行的子 span
func StartNodeSpan(ctx context.Context, nodeID, nodeName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "node."+nodeName,
		trace.WithAttributes(
			attribute.String("node.id", nodeID),
			attribute.String("node.name", nodeName),
		),
	)
}

// EndSpan 结束 span，有错误时记录
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Metrics 业务指标
type Metrics struct {
	predictions       metric.Int64Counter
	predictionLatency metric.Float64Histogram
	upserts           metric.Int64Counter
	chatflowsCreated  metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// DefaultMetrics 懒加载全局指标；创建失败时退化为空操作
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter(instrumentation))
		if err != nil {
			applog.Warn("[Telemetry] metrics init failed, recording disabled", "error", err)
			m = &Metrics{}
		}
		metricsInst = m
	})
	return metricsInst
}

// NewMetrics 基于指定 meter 创建指标
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	predictions, err := meter.Int64Counter("nodeforge.prediction.count",
		metric.WithDescription("Number of prediction requests"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("nodeforge.prediction.latency_ms",
		metric.WithDescription("Prediction latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	upserts, err := meter.Int64Counter("nodeforge.upsert.count",
		metric.WithDescription("Number of vector upsert requests"))
	if err != nil {
		return nil, err
	}
	created, err := meter.Int64Counter("nodeforge.chatflow.created",
		metric.WithDescription("Number of chatflows created"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		predictions:       predictions,
		predictionLatency: latency,
		upserts:           upserts,
		chatflowsCreated:  created,
	}, nil
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "success")
}

// RecordPrediction 记录一次预测
func (m *Metrics) RecordPrediction(ctx context.Context, chatflowID string, streaming bool, d time.Duration, err error) {
	if m == nil || m.predictions == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("chatflow_id", chatflowID),
		attribute.Bool("streaming", streaming),
		outcome(err),
	)
	m.predictions.Add(ctx, 1, attrs)
	m.predictionLatency.Record(ctx, float64(d.Milliseconds()), attrs)
}

// RecordUpsert 记录一次向量写入
func (m *Metrics) RecordUpsert(ctx context.Context, chatflowID string, err error) {
	if m == nil || m.upserts == nil {
		return
	}
	m.upserts.Add(ctx, 1, metric.WithAttributes(attribute.String("chatflow_id", chatflowID), outcome(err)))
}

// RecordChatflowCreated 记录 chatflow 创建
func (m *Metrics) RecordChatflowCreated(ctx context.Context, flowType string) {
	if m == nil || m.chatflowsCreated == nil {
		return
	}
	m.chatflowsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("type", flowType)))
}
