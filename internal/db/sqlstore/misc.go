package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"nodeforge/internal/domain/chatflow/port"
)

// --- Attachment ---

func (s *Store) CreateAttachment(ctx context.Context, a *port.Attachment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedDate = nowUTC()
	_, err := s.exec(ctx,
		`INSERT INTO attachment (id, chatflowid, chat_id, file_name, mime_type, size, storage_path, content, created_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ChatflowID, a.ChatID, a.FileName, a.MimeType, a.Size, a.StoragePath, a.Content, toMillis(a.CreatedDate),
	)
	return err
}

func (s *Store) ListAttachments(ctx context.Context, chatflowID, chatID string) ([]*port.Attachment, error) {
	rows, err := s.query(ctx,
		`SELECT id, chatflowid, chat_id, file_name, mime_type, size, storage_path, content, created_date
		 FROM attachment WHERE chatflowid = ? AND chat_id = ? ORDER BY created_date ASC`,
		chatflowID, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.Attachment, 0)
	for rows.Next() {
		var (
			a       port.Attachment
			content sql.NullString
			created int64
		)
		if err := rows.Scan(&a.ID, &a.ChatflowID, &a.ChatID, &a.FileName, &a.MimeType, &a.Size, &a.StoragePath,
			&content, &created); err != nil {
			return nil, err
		}
		a.Content = content.String
		a.CreatedDate = fromMillis(created)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- UpsertHistory ---

func (s *Store) AddUpsertHistory(ctx context.Context, h *port.UpsertHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Date.IsZero() {
		h.Date = nowUTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO upsert_history (id, chatflowid, result, flow_data, date) VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.ChatflowID, string(h.Result), string(h.FlowData), toMillis(h.Date),
	)
	return err
}

func (s *Store) ListUpsertHistory(ctx context.Context, chatflowID string) ([]*port.UpsertHistory, error) {
	rows, err := s.query(ctx,
		`SELECT id, chatflowid, result, flow_data, date FROM upsert_history WHERE chatflowid = ? ORDER BY date DESC`,
		chatflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.UpsertHistory, 0)
	for rows.Next() {
		var (
			h            port.UpsertHistory
			result, flow string
			date         int64
		)
		if err := rows.Scan(&h.ID, &h.ChatflowID, &result, &flow, &date); err != nil {
			return nil, err
		}
		h.Result = []byte(result)
		h.FlowData = []byte(flow)
		h.Date = fromMillis(date)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// DeleteUpsertHistory 删除 chatflow 的全部写入记录
func (s *Store) DeleteUpsertHistory(ctx context.Context, chatflowID string) error {
	_, err := s.exec(ctx, `DELETE FROM upsert_history WHERE chatflowid = ?`, chatflowID)
	return err
}

// --- APIKey ---

const apikeyColumns = `id, key_name, key_hash, key_prefix, workspace_id, created_date`

func (s *Store) CreateAPIKey(ctx context.Context, k *port.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	k.CreatedDate = nowUTC()
	k.WorkspaceID = workspaceFor(ctx, k.WorkspaceID)
	_, err := s.exec(ctx,
		`INSERT INTO apikey (`+apikeyColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID, k.KeyName, k.KeyHash, k.KeyPrefix, k.WorkspaceID, toMillis(k.CreatedDate),
	)
	return err
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (*port.APIKey, error) {
	return s.getAPIKey(ctx, `id = ?`, id)
}

// FindAPIKeyByHash 不受工作区作用域限制，用于请求鉴权
func (s *Store) FindAPIKeyByHash(ctx context.Context, hash string) (*port.APIKey, error) {
	row := s.queryRow(ctx, `SELECT `+apikeyColumns+` FROM apikey WHERE key_hash = ?`, hash)
	k, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return k, err
}

func (s *Store) getAPIKey(ctx context.Context, cond string, arg any) (*port.APIKey, error) {
	q, args := scopeFilter(ctx, `SELECT `+apikeyColumns+` FROM apikey WHERE `+cond, []any{arg})
	k, err := scanAPIKey(s.queryRow(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return k, err
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*port.APIKey, error) {
	q, args := scopeFilter(ctx, `SELECT `+apikeyColumns+` FROM apikey WHERE 1 = 1`, nil)
	rows, err := s.query(ctx, q+` ORDER BY created_date DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	q, args := scopeFilter(ctx, `DELETE FROM apikey WHERE id = ?`, []any{id})
	return notFoundIfZero(s.exec(ctx, q, args...))
}

func scanAPIKey(row rowScanner) (*port.APIKey, error) {
	var (
		k       port.APIKey
		wsID    sql.NullString
		created int64
	)
	if err := row.Scan(&k.ID, &k.KeyName, &k.KeyHash, &k.KeyPrefix, &wsID, &created); err != nil {
		return nil, err
	}
	k.WorkspaceID = wsID.String
	k.CreatedDate = fromMillis(created)
	return &k, nil
}

// --- 企业版占位 ---

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*port.User, error) {
	var (
		u       port.User
		created int64
	)
	err := s.queryRow(ctx, `SELECT id, name, email, status, created_date FROM app_user WHERE LOWER(email) = LOWER(?)`, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedDate = fromMillis(created)
	return &u, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]*port.Organization, error) {
	rows, err := s.query(ctx, `SELECT id, name, created_date FROM organization ORDER BY created_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.Organization, 0)
	for rows.Next() {
		var (
			o       port.Organization
			created int64
		)
		if err := rows.Scan(&o.ID, &o.Name, &created); err != nil {
			return nil, err
		}
		o.CreatedDate = fromMillis(created)
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *Store) ListWorkspaces(ctx context.Context, organizationID string) ([]*port.Workspace, error) {
	q := `SELECT id, name, organization_id, created_date FROM workspace`
	var args []any
	if organizationID != "" {
		q += ` WHERE organization_id = ?`
		args = append(args, organizationID)
	}
	rows, err := s.query(ctx, q+` ORDER BY created_date ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.Workspace, 0)
	for rows.Next() {
		var (
			w       port.Workspace
			created int64
		)
		if err := rows.Scan(&w.ID, &w.Name, &w.OrganizationID, &created); err != nil {
			return nil, err
		}
		w.CreatedDate = fromMillis(created)
		out = append(out, &w)
	}
	return out, rows.Err()
}
