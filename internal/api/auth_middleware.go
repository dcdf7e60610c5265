package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"nodeforge/internal/app/account"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// apiKeyPrefix 区分 API Key 与 JWT
const apiKeyPrefix = "nf-"

// JWTConfig JWT 鉴权配置
type JWTConfig struct {
	Secret string // HMAC 签名密钥
	Issuer string // 可选签发者校验
}

// APIKeyVerifier 校验 API Key 明文
type APIKeyVerifier interface {
	Verify(ctx context.Context, plain string) (*port.APIKey, error)
}

type authenticator struct {
	cfg  *JWTConfig
	keys APIKeyVerifier
}

// authenticate 解析 Bearer 凭据；未携带凭据时返回 nil, nil
func (a *authenticator) authenticate(r *http.Request) (*Principal, error) {
	token := bearerToken(r)
	if token == "" {
		if r.Header.Get("Authorization") != "" {
			return nil, errs.Unauthorized("Invalid Authorization header format")
		}
		return nil, nil
	}

	if strings.HasPrefix(token, apiKeyPrefix) {
		if a.keys == nil {
			return nil, errs.Unauthorized("Invalid API key")
		}
		k, err := a.keys.Verify(r.Context(), token)
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: "apikey:" + k.ID, WorkspaceID: k.WorkspaceID, APIKey: token}, nil
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.cfg.Issuer))
	}
	claims := &account.Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.Secret), nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		applog.Warn("[Auth] Invalid JWT token", "error", err)
		return nil, errs.Unauthorized("Invalid or expired token")
	}
	return &Principal{Subject: claims.Subject, Email: claims.Email, WorkspaceID: claims.WorkspaceID}, nil
}

func (a *authenticator) inject(r *http.Request, p *Principal) *http.Request {
	ctx := WithPrincipal(r.Context(), p)
	ctx = port.WithRepoScope(ctx, p.WorkspaceID)
	applog.Debug("[Auth] Principal injected", "subject", p.Subject, "workspace_id", p.WorkspaceID)
	return r.WithContext(ctx)
}

// authMiddleware 要求 JWT 或 API Key
func authMiddleware(cfg *JWTConfig, keys APIKeyVerifier) func(http.Handler) http.Handler {
	a := &authenticator{cfg: cfg, keys: keys}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.authenticate(r)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			if p == nil {
				writeError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}
			next.ServeHTTP(w, a.inject(r, p))
		})
	}
}

// optionalAuthMiddleware 公开路由：凭据有效时注入 Principal，无效或缺失时按匿名处理。
// prediction 等路由自行校验 chatflow 绑定的 API Key
func optionalAuthMiddleware(cfg *JWTConfig, keys APIKeyVerifier) func(http.Handler) http.Handler {
	a := &authenticator{cfg: cfg, keys: keys}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || strings.HasPrefix(token, apiKeyPrefix) {
				next.ServeHTTP(w, r)
				return
			}
			if p, err := a.authenticate(r); err == nil && p != nil {
				r = a.inject(r, p)
			}
			next.ServeHTTP(w, r)
		})
	}
}
