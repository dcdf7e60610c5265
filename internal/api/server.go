package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nodeforge/internal/app/account"
	"nodeforge/internal/app/apikey"
	"nodeforge/internal/app/attachment"
	"nodeforge/internal/app/audio"
	appchatflow "nodeforge/internal/app/chatflow"
	"nodeforge/internal/app/credential"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/platform/telemetry"
)

// Version 服务版本，构建时通过 -ldflags 覆盖
var Version = "dev"

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64  // multipart 上传上限
	CORSOrigins  string // 逗号分隔，* 表示任意
	JWTSecret    string // JWT 签名密钥（必填）
	JWTIssuer    string // JWT 签发者（可选）
	// TrustedProxies 前置反向代理层数，0 表示不信任 X-Forwarded-For
	TrustedProxies int
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         3000,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // SSE 需要较长写超时
		MaxBodyBytes: 50 << 20,
		CORSOrigins:  "*",
	}
}

// Services 处理器依赖的应用服务
type Services struct {
	Chatflows   *appchatflow.Service
	Credentials *credential.Service
	APIKeys     *apikey.Service
	Accounts    *account.Service
	Attachments *attachment.Service
	Audio       *audio.Service
	Registry    *node.Registry
	Telemetry   *telemetry.Runtime // nil 表示未启用指标
}

// Server HTTP 服务器
type Server struct {
	config  *ServerConfig
	svcs    *Services
	httpSrv *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, svcs *Services) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if svcs == nil {
		svcs = &Services{}
	}
	return &Server{config: config, svcs: svcs}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("[Server] API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(trustedProxyAddr(s.config.TrustedProxies))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.config.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	jwtCfg := &JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	}
	var keys APIKeyVerifier
	if s.svcs.APIKeys != nil {
		keys = s.svcs.APIKeys
	}

	chatflowHandler := NewChatflowHandler(s.svcs.Chatflows, s.config.MaxBodyBytes)
	documentHandler := NewDocumentHandler(s.svcs.Chatflows, s.svcs.Attachments, s.config.MaxBodyBytes)
	credentialHandler := NewCredentialHandler(s.svcs.Credentials)
	nodeHandler := NewNodeHandler(s.svcs.Registry)
	speechHandler := NewSpeechHandler(s.svcs.Audio)
	accountHandler := NewAccountHandler(s.svcs.Accounts, s.svcs.APIKeys)

	r.Route("/api/v1", func(r chi.Router) {
		// 公开路由
		r.Group(func(r chi.Router) {
			r.Use(optionalAuthMiddleware(jwtCfg, keys))
			r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("pong"))
			})
			r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"version": Version})
			})
			chatflowHandler.RegisterPublicRoutes(r)
			speechHandler.RegisterPublicRoutes(r)
			accountHandler.RegisterPublicRoutes(r)
		})

		// 需要 JWT 或 API Key
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(jwtCfg, keys))
			chatflowHandler.RegisterRoutes(r)
			documentHandler.RegisterRoutes(r)
			credentialHandler.RegisterRoutes(r)
			nodeHandler.RegisterRoutes(r)
			speechHandler.RegisterRoutes(r)
			accountHandler.RegisterRoutes(r)
			r.Get("/metrics", handle(s.metrics))
		})
	})
	return r, nil
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) error {
	if s.svcs.Telemetry == nil {
		return errs.NotFound("metrics are disabled")
	}
	points, err := s.svcs.Telemetry.Snapshot(r.Context())
	if err != nil {
		return errs.Wrap(http.StatusInternalServerError, err, "collect metrics")
	}
	writeJSON(w, http.StatusOK, points)
	return nil
}

// corsMiddleware CORS 中间件
func corsMiddleware(origins string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"] || len(allowed) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
