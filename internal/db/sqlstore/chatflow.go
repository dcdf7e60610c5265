package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"nodeforge/internal/domain/chatflow/port"
)

const chatflowColumns = `id, name, flow_data, deployed, is_public, apikeyid, chatbot_config, api_config,
	speech_to_text, category, type, workspace_id, created_date, updated_date`

func (s *Store) CreateChatFlow(ctx context.Context, cf *port.ChatFlow) error {
	if cf.ID == "" {
		cf.ID = uuid.NewString()
	}
	if cf.Type == "" {
		cf.Type = port.ChatflowTypeChatflow
	}
	now := nowUTC()
	cf.CreatedDate, cf.UpdatedDate = now, now
	cf.WorkspaceID = workspaceFor(ctx, cf.WorkspaceID)

	_, err := s.exec(ctx,
		`INSERT INTO chat_flow (`+chatflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cf.ID, cf.Name, cf.FlowData, cf.Deployed, cf.IsPublic, nullIfEmpty(cf.APIKeyID),
		nullIfEmpty(cf.ChatbotConfig), nullIfEmpty(cf.APIConfig), nullIfEmpty(cf.SpeechToText),
		nullIfEmpty(cf.Category), string(cf.Type), cf.WorkspaceID, toMillis(cf.CreatedDate), toMillis(cf.UpdatedDate),
	)
	return err
}

func (s *Store) GetChatFlow(ctx context.Context, id string) (*port.ChatFlow, error) {
	q, args := scopeFilter(ctx, `SELECT `+chatflowColumns+` FROM chat_flow WHERE id = ?`, []any{id})
	cf, err := scanChatFlow(s.queryRow(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return cf, err
}

func (s *Store) ListChatFlows(ctx context.Context, flowType port.ChatflowType) ([]*port.ChatFlow, error) {
	q := `SELECT ` + chatflowColumns + ` FROM chat_flow WHERE 1 = 1`
	var args []any
	if flowType != "" {
		q += ` AND type = ?`
		args = append(args, string(flowType))
	}
	q, args = scopeFilter(ctx, q, args)
	q += ` ORDER BY updated_date DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.ChatFlow, 0)
	for rows.Next() {
		cf, err := scanChatFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, rows.Err()
}

func (s *Store) UpdateChatFlow(ctx context.Context, cf *port.ChatFlow) error {
	cf.UpdatedDate = nowUTC()
	q, args := scopeFilter(ctx,
		`UPDATE chat_flow SET name = ?, flow_data = ?, deployed = ?, is_public = ?, apikeyid = ?, chatbot_config = ?,
		 api_config = ?, speech_to_text = ?, category = ?, type = ?, updated_date = ? WHERE id = ?`,
		[]any{cf.Name, cf.FlowData, cf.Deployed, cf.IsPublic, nullIfEmpty(cf.APIKeyID), nullIfEmpty(cf.ChatbotConfig),
			nullIfEmpty(cf.APIConfig), nullIfEmpty(cf.SpeechToText), nullIfEmpty(cf.Category), string(cf.Type),
			toMillis(cf.UpdatedDate), cf.ID},
	)
	return notFoundIfZero(s.exec(ctx, q, args...))
}

func (s *Store) DeleteChatFlow(ctx context.Context, id string) error {
	q, args := scopeFilter(ctx, `DELETE FROM chat_flow WHERE id = ?`, []any{id})
	return notFoundIfZero(s.exec(ctx, q, args...))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatFlow(row rowScanner) (*port.ChatFlow, error) {
	var (
		cf                                        port.ChatFlow
		apiKeyID, chatbot, apiCfg, stt, cat, wsID sql.NullString
		flowType                                  string
		created, updated                          int64
	)
	if err := row.Scan(&cf.ID, &cf.Name, &cf.FlowData, &cf.Deployed, &cf.IsPublic, &apiKeyID, &chatbot, &apiCfg,
		&stt, &cat, &flowType, &wsID, &created, &updated); err != nil {
		return nil, err
	}
	cf.APIKeyID = apiKeyID.String
	cf.ChatbotConfig = chatbot.String
	cf.APIConfig = apiCfg.String
	cf.SpeechToText = stt.String
	cf.Category = cat.String
	cf.Type = port.ChatflowType(flowType)
	cf.WorkspaceID = wsID.String
	cf.CreatedDate = fromMillis(created)
	cf.UpdatedDate = fromMillis(updated)
	return &cf, nil
}
