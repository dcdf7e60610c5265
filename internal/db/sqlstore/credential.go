package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"nodeforge/internal/domain/chatflow/port"
)

const credentialColumns = `id, name, credential_name, encrypted_data, workspace_id, created_date, updated_date`

func (s *Store) CreateCredential(ctx context.Context, c *port.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := nowUTC()
	c.CreatedDate, c.UpdatedDate = now, now
	c.WorkspaceID = workspaceFor(ctx, c.WorkspaceID)
	_, err := s.exec(ctx,
		`INSERT INTO credential (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.CredentialName, c.EncryptedData, c.WorkspaceID, toMillis(now), toMillis(now),
	)
	return err
}

func (s *Store) GetCredential(ctx context.Context, id string) (*port.Credential, error) {
	q, args := scopeFilter(ctx, `SELECT `+credentialColumns+` FROM credential WHERE id = ?`, []any{id})
	c, err := scanCredential(s.queryRow(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return c, err
}

// ListCredentials 按凭据类型过滤；不传类型返回全部
func (s *Store) ListCredentials(ctx context.Context, credentialNames ...string) ([]*port.Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM credential WHERE 1 = 1`
	var args []any
	if len(credentialNames) > 0 {
		q += ` AND credential_name IN (?` + strings.Repeat(", ?", len(credentialNames)-1) + `)`
		for _, n := range credentialNames {
			args = append(args, n)
		}
	}
	q, args = scopeFilter(ctx, q, args)
	q += ` ORDER BY updated_date DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*port.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCredential(ctx context.Context, c *port.Credential) error {
	c.UpdatedDate = nowUTC()
	q, args := scopeFilter(ctx,
		`UPDATE credential SET name = ?, credential_name = ?, encrypted_data = ?, updated_date = ? WHERE id = ?`,
		[]any{c.Name, c.CredentialName, c.EncryptedData, toMillis(c.UpdatedDate), c.ID},
	)
	return notFoundIfZero(s.exec(ctx, q, args...))
}

func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	q, args := scopeFilter(ctx, `DELETE FROM credential WHERE id = ?`, []any{id})
	return notFoundIfZero(s.exec(ctx, q, args...))
}

func scanCredential(row rowScanner) (*port.Credential, error) {
	var (
		c                port.Credential
		wsID             sql.NullString
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.CredentialName, &c.EncryptedData, &wsID, &created, &updated); err != nil {
		return nil, err
	}
	c.WorkspaceID = wsID.String
	c.CreatedDate = fromMillis(created)
	c.UpdatedDate = fromMillis(updated)
	return &c, nil
}
