package api

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Principal 已认证的调用方（注入到 context）
type Principal struct {
	Subject     string `json:"subject"`
	Email       string `json:"email,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	// APIKey 通过 API Key 认证时的明文 key
	APIKey string `json:"-"`
}

// ViaAPIKey 是否通过 API Key 认证
func (p *Principal) ViaAPIKey() bool { return p != nil && p.APIKey != "" }

type principalContextKey struct{}

// WithPrincipal 注入 Principal 到 context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom 从 context 提取 Principal，未认证时返回 nil
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// bearerToken Authorization: Bearer <token>
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// clientIP 限流使用的客户端地址
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// trustedProxyAddr 仅在配置了可信代理层数时，按 X-Forwarded-For 从右数第 hops 个地址改写 RemoteAddr。
// hops 为 0 时忽略代理头，直接使用连接地址。
func trustedProxyAddr(hops int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hops <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := forwardedFor(r.Header.Values("X-Forwarded-For"), hops); ip != "" {
				r.RemoteAddr = net.JoinHostPort(ip, "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedFor(values []string, hops int) string {
	var chain []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				chain = append(chain, part)
			}
		}
	}
	if len(chain) == 0 {
		return ""
	}
	i := len(chain) - hops
	if i < 0 {
		i = 0
	}
	if net.ParseIP(chain[i]) == nil {
		return ""
	}
	return chain[i]
}
