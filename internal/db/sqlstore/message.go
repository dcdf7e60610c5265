package sqlstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"nodeforge/internal/domain/chatflow/port"
)

const messageColumns = `id, role, chatflowid, chat_id, session_id, content, source_documents, used_tools,
	file_uploads, chat_type, memory_type, created_date`

func (s *Store) AddChatMessage(ctx context.Context, m *port.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedDate.IsZero() {
		m.CreatedDate = nowUTC()
	}
	if m.ChatType == "" {
		m.ChatType = port.ChatTypeInternal
	}
	_, err := s.exec(ctx,
		`INSERT INTO chat_message (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Role), m.ChatflowID, m.ChatID, nullIfEmpty(m.SessionID), m.Content,
		nullableJSON(m.SourceDocuments), nullableJSON(m.UsedTools), nullableJSON(m.FileUploads),
		string(m.ChatType), nullIfEmpty(m.MemoryType), toMillis(m.CreatedDate),
	)
	return err
}

func (s *Store) ListChatMessages(ctx context.Context, q port.ChatMessageQuery) ([]*port.ChatMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_message WHERE chatflowid = ?`
	args := []any{q.ChatflowID}
	if q.ChatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, q.ChatID)
	}
	if q.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	if q.ChatType != "" {
		query += ` AND chat_type = ?`
		args = append(args, string(q.ChatType))
	}
	if q.Descending {
		query += ` ORDER BY created_date DESC, id DESC`
	} else {
		query += ` ORDER BY created_date ASC, id ASC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.ChatMessage, 0)
	for rows.Next() {
		var (
			m                           port.ChatMessage
			role, chatType              string
			session, memType            sql.NullString
			srcDocs, usedTools, uploads sql.NullString
			created                     int64
		)
		if err := rows.Scan(&m.ID, &role, &m.ChatflowID, &m.ChatID, &session, &m.Content, &srcDocs, &usedTools,
			&uploads, &chatType, &memType, &created); err != nil {
			return nil, err
		}
		m.Role = port.MessageRole(role)
		m.ChatType = port.ChatType(chatType)
		m.SessionID = session.String
		m.MemoryType = memType.String
		if srcDocs.Valid {
			m.SourceDocuments = []byte(srcDocs.String)
		}
		if usedTools.Valid {
			m.UsedTools = []byte(usedTools.String)
		}
		if uploads.Valid {
			m.FileUploads = []byte(uploads.String)
		}
		m.CreatedDate = fromMillis(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteChatMessages chatID 为空时删除该 chatflow 的全部消息
func (s *Store) DeleteChatMessages(ctx context.Context, chatflowID, chatID string) (int64, error) {
	query := `DELETE FROM chat_message WHERE chatflowid = ?`
	args := []any{chatflowID}
	if chatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}
