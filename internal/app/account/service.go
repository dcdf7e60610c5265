// Package account 精简版的企业账号占位：单一管理员登录签发 JWT，组织/工作区返回内置的默认行。
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// ErrNotAvailable 注册、SSO、邀请等企业功能在精简版中关闭
var ErrNotAvailable = errs.Forbidden("not available in this build")

// Config 登录配置
type Config struct {
	JWTSecret     string
	JWTIssuer     string
	TokenTTL      time.Duration
	AdminEmail    string
	AdminPassword string
}

// Claims 签发的 token 声明
type Claims struct {
	Email       string `json:"email"`
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// LoginResult 登录结果
type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      *port.User `json:"user"`
	Workspace string     `json:"activeWorkspaceId"`
}

// Service 账号服务
type Service struct {
	cfg  Config
	repo port.Repository
	now  func() time.Time
}

// NewService 创建账号服务
func NewService(cfg Config, repo port.Repository) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{cfg: cfg, repo: repo, now: time.Now}
}

// Login 校验配置的管理员账号并签发 JWT
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, errs.BadRequest("email and password are required")
	}
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return nil, errs.Unauthorized("login is not configured")
	}
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(strings.ToLower(s.cfg.AdminEmail))) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) == 1
	if !emailOK || !passOK {
		applog.Warn("[Account] Login failed", "email", email)
		return nil, errs.Unauthorized("Incorrect email or password")
	}

	user, err := s.user(ctx, email)
	if err != nil {
		return nil, err
	}
	token, expires, err := s.issue(user)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "sign token")
	}
	return &LoginResult{Token: token, ExpiresAt: expires, User: user, Workspace: port.DefaultWorkspaceID}, nil
}

func (s *Service) issue(user *port.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		Email:       user.Email,
		WorkspaceID: port.DefaultWorkspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	return token, expires, err
}

// Me 当前登录用户
func (s *Service) Me(ctx context.Context, email string) (*port.User, error) {
	if email == "" {
		return nil, errs.Unauthorized("Unauthorized")
	}
	return s.user(ctx, email)
}

func (s *Service) user(ctx context.Context, email string) (*port.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errs.NotFound("User %s not found", email)
	}
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "get user")
	}
	return u, nil
}

// Organizations 组织列表
func (s *Service) Organizations(ctx context.Context) ([]*port.Organization, error) {
	orgs, err := s.repo.ListOrganizations(ctx)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list organizations")
	}
	return orgs, nil
}

// Workspaces 组织下的工作区，organizationID 为空时使用默认组织
func (s *Service) Workspaces(ctx context.Context, organizationID string) ([]*port.Workspace, error) {
	if organizationID == "" {
		organizationID = port.DefaultOrganizationID
	}
	wss, err := s.repo.ListWorkspaces(ctx, organizationID)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list workspaces")
	}
	return wss, nil
}
