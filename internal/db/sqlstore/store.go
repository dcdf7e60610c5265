// Package sqlstore 基于 database/sql 的持久化实现，支持 sqlite 与 postgres。
// SQL 统一用 ? 占位符书写，postgres 下改写为 $n。
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"nodeforge/internal/domain/chatflow/port"
	applog "nodeforge/internal/platform/log"
)

// Dialect 数据库方言
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Options 连接参数
type Options struct {
	Dialect         Dialect
	DSN             string // sqlite 为文件路径或 :memory:
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store port.Repository 的 SQL 实现
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ port.Repository = (*Store)(nil)

// Open 打开数据库连接并检查连通性
func Open(ctx context.Context, opts Options) (*Store, error) {
	var driver string
	switch opts.Dialect {
	case DialectSQLite:
		driver = "sqlite"
		if opts.DSN != ":memory:" && !strings.HasPrefix(opts.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(opts.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", opts.Dialect)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if opts.Dialect == DialectSQLite {
		// 单写者；内存库每个连接是独立实例，必须限制为 1
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
		if opts.DSN != ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("enable WAL mode: %w", err)
			}
		}
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Store{db: db, dialect: opts.Dialect}, nil
}

// NewWithDB 使用已有连接（测试用）
func NewWithDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB 底层连接
func (s *Store) DB() *sql.DB { return s.db }

// Dialect 当前方言
func (s *Store) Dialect() Dialect { return s.dialect }

// Close 关闭连接
func (s *Store) Close() error { return s.db.Close() }

// rebind 将 ? 占位符改写为 postgres 的 $n
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// scopeFilter 追加工作区过滤条件
func scopeFilter(ctx context.Context, query string, args []any) (string, []any) {
	if ws, ok := port.RepoScopeFrom(ctx); ok {
		query += " AND workspace_id = ?"
		args = append(args, ws)
	}
	return query, args
}

// workspaceFor 写入时使用的工作区
func workspaceFor(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if ws, ok := port.RepoScopeFrom(ctx); ok {
		return ws
	}
	return port.DefaultWorkspaceID
}

// 时间统一以 UTC 毫秒整数保存，两种方言行为一致
func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nowUTC() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func notFoundIfZero(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return port.ErrNotFound
	}
	return nil
}

// EnsureSchema 建表（幂等）并写入精简版的内置组织/工作区/用户
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	if err := s.seedDefaults(ctx); err != nil {
		return err
	}
	applog.Info("[Storage] schema ready", "dialect", string(s.dialect))
	return nil
}

// 两种方言共用的 DDL：只使用 TEXT / BIGINT / BOOLEAN / INTEGER
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS organization (
		id           VARCHAR(36) PRIMARY KEY,
		name         TEXT NOT NULL,
		created_date BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workspace (
		id              VARCHAR(36) PRIMARY KEY,
		name            TEXT NOT NULL,
		organization_id VARCHAR(36) NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
		created_date    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_user (
		id           VARCHAR(36) PRIMARY KEY,
		name         TEXT NOT NULL,
		email        TEXT NOT NULL UNIQUE,
		status       VARCHAR(32) NOT NULL DEFAULT 'active',
		created_date BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_flow (
		id             VARCHAR(36) PRIMARY KEY,
		name           TEXT NOT NULL,
		flow_data      TEXT NOT NULL,
		deployed       BOOLEAN NOT NULL DEFAULT FALSE,
		is_public      BOOLEAN NOT NULL DEFAULT FALSE,
		apikeyid       VARCHAR(36),
		chatbot_config TEXT,
		api_config     TEXT,
		speech_to_text TEXT,
		category       TEXT,
		type           VARCHAR(20) NOT NULL DEFAULT 'CHATFLOW',
		workspace_id   VARCHAR(36),
		created_date   BIGINT NOT NULL,
		updated_date   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_flow_ws ON chat_flow(workspace_id, updated_date)`,
	`CREATE TABLE IF NOT EXISTS credential (
		id              VARCHAR(36) PRIMARY KEY,
		name            TEXT NOT NULL,
		credential_name TEXT NOT NULL,
		encrypted_data  TEXT NOT NULL,
		workspace_id    VARCHAR(36),
		created_date    BIGINT NOT NULL,
		updated_date    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
		id               VARCHAR(36) PRIMARY KEY,
		role             VARCHAR(20) NOT NULL,
		chatflowid       VARCHAR(36) NOT NULL,
		chat_id          VARCHAR(255) NOT NULL,
		session_id       VARCHAR(255),
		content          TEXT NOT NULL,
		source_documents TEXT,
		used_tools       TEXT,
		file_uploads     TEXT,
		chat_type        VARCHAR(20) NOT NULL DEFAULT 'INTERNAL',
		memory_type      VARCHAR(255),
		created_date     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_message_flow_chat ON chat_message(chatflowid, chat_id, created_date)`,
	`CREATE TABLE IF NOT EXISTS attachment (
		id           VARCHAR(36) PRIMARY KEY,
		chatflowid   VARCHAR(36) NOT NULL,
		chat_id      VARCHAR(255) NOT NULL,
		file_name    TEXT NOT NULL,
		mime_type    TEXT NOT NULL,
		size         BIGINT NOT NULL,
		storage_path TEXT NOT NULL,
		content      TEXT,
		created_date BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS upsert_history (
		id         VARCHAR(36) PRIMARY KEY,
		chatflowid VARCHAR(36) NOT NULL,
		result     TEXT NOT NULL,
		flow_data  TEXT NOT NULL,
		date       BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS apikey (
		id           VARCHAR(36) PRIMARY KEY,
		key_name     TEXT NOT NULL,
		key_hash     VARCHAR(64) NOT NULL UNIQUE,
		key_prefix   VARCHAR(16) NOT NULL,
		workspace_id VARCHAR(36),
		created_date BIGINT NOT NULL
	)`,
}

func (s *Store) seedDefaults(ctx context.Context) error {
	now := toMillis(nowUTC())
	seeds := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO organization (id, name, created_date) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			[]any{port.DefaultOrganizationID, "Default Organization", now}},
		{`INSERT INTO workspace (id, name, organization_id, created_date) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			[]any{port.DefaultWorkspaceID, "Default Workspace", port.DefaultOrganizationID, now}},
		{`INSERT INTO app_user (id, name, email, status, created_date) VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			[]any{port.DefaultUserID, "admin", "admin@localhost", "active", now}},
	}
	for _, seed := range seeds {
		if _, err := s.exec(ctx, seed.query, seed.args...); err != nil {
			return fmt.Errorf("seed defaults: %w", err)
		}
	}
	return nil
}

// SetAdminEmail 将内置用户的邮箱更新为配置的管理员账号
func (s *Store) SetAdminEmail(ctx context.Context, email string) error {
	if email == "" {
		return nil
	}
	_, err := s.exec(ctx, `UPDATE app_user SET email = ? WHERE id = ?`, email, port.DefaultUserID)
	return err
}
