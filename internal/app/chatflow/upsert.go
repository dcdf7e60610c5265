package chatflow

import (
	"context"
	"encoding/json"
	"net/http"

	"nodeforge/internal/domain/chatflow/graph"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/domain/chatflow/runtime"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// UpsertRequest 向量写入请求
type UpsertRequest struct {
	StopNodeID     string             `json:"stopNodeId,omitempty"`
	OverrideConfig map[string]any     `json:"overrideConfig,omitempty"`
	Files          []types.FileUpload `json:"-"`
}

// Upsert 对 chatflow 的向量库节点执行写入并记录历史。
// 同一 chatflow 同时只允许一个写入
func (s *Service) Upsert(ctx context.Context, chatflowID string, req *UpsertRequest, caller Caller) (res *types.UpsertResult, err error) {
	cf, err := s.Get(ctx, chatflowID)
	if err != nil {
		return nil, err
	}
	if s.keys != nil && !caller.Internal {
		if err := s.keys.VerifyForChatflow(ctx, cf, caller.APIKey); err != nil {
			return nil, err
		}
	}
	g, err := graph.Parse(cf.FlowData)
	if err != nil {
		return nil, err
	}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, "upsert:"+cf.ID)
		if err != nil {
			applog.Warn("[Upsert] Lock unavailable", "chatflow_id", cf.ID, "error", err)
		} else if !ok {
			return nil, errs.Conflict("an upsert for chatflow %s is already running", cf.ID)
		} else {
			defer release()
		}
	}

	defer func() { s.metrics.RecordUpsert(ctx, cf.ID, err) }()

	state := &runtime.RunState{
		ChatflowID:     cf.ID,
		Uploads:        req.Files,
		OverrideConfig: req.OverrideConfig,
	}
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	res, err = s.engine.Upsert(runCtx, g, state, req.StopNodeID)
	if err != nil {
		return nil, err
	}
	s.saveUpsertHistory(ctx, cf.ID, req, res)
	return res, nil
}

// UpsertHistory 写入历史，按时间倒序
func (s *Service) UpsertHistory(ctx context.Context, chatflowID string) ([]*port.UpsertHistory, error) {
	if _, err := s.Get(ctx, chatflowID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListUpsertHistory(ctx, chatflowID)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list upsert history")
	}
	return list, nil
}

func (s *Service) saveUpsertHistory(ctx context.Context, chatflowID string, req *UpsertRequest, res *types.UpsertResult) {
	result, _ := json.Marshal(map[string]int{
		"numAdded":   res.NumAdded,
		"numDeleted": res.NumDeleted,
		"numUpdated": res.NumUpdated,
		"numSkipped": res.NumSkipped,
	})
	names := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		names = append(names, f.Name)
	}
	flowData, _ := json.Marshal(map[string]any{
		"stopNodeId": req.StopNodeID,
		"files":      names,
	})
	h := &port.UpsertHistory{ChatflowID: chatflowID, Result: result, FlowData: flowData}
	if err := s.repo.AddUpsertHistory(ctx, h); err != nil {
		applog.Warn("[Upsert] Save history failed", "chatflow_id", chatflowID, "error", err)
	}
}
