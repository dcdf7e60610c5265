// Package bootstrap 按配置装配存储、缓存、节点依赖与 HTTP 服务。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"nodeforge/internal/adapter/speech"
	"nodeforge/internal/adapter/speech/google"
	"nodeforge/internal/adapter/speech/tencent"
	"nodeforge/internal/adapter/storage"
	"nodeforge/internal/adapter/storage/gcs"
	"nodeforge/internal/adapter/storage/local"
	"nodeforge/internal/api"
	"nodeforge/internal/app/account"
	"nodeforge/internal/app/apikey"
	"nodeforge/internal/app/attachment"
	"nodeforge/internal/app/audio"
	appchatflow "nodeforge/internal/app/chatflow"
	"nodeforge/internal/app/credential"
	redisdb "nodeforge/internal/db/redis"
	"nodeforge/internal/db/sqlstore"
	"nodeforge/internal/domain/chatflow/engine"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/rag"
	"nodeforge/internal/platform/config"
	"nodeforge/internal/platform/crypto"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/platform/telemetry"
)

// App 装配完成的服务
type App struct {
	Server *api.Server
	Store  *sqlstore.Store

	srv     runner // 为空时使用 Server
	closers []func(context.Context) error
}

type runner interface {
	Start() error
	Stop(ctx context.Context) error
}

// Run 阻塞运行 HTTP 服务直到 ctx 取消。在途请求排空后才释放存储与缓存连接
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	var srv runner = a.Server
	if a.srv != nil {
		srv = a.srv
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		applog.Info("🔄 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stopped <- srv.Stop(shutdownCtx)
	}()

	var runErr error
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		runErr = fmt.Errorf("serve: %w", err)
	} else if err := <-stopped; err != nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		applog.Warn("⚠️  Release resources", "error", err)
	}
	return runErr
}

// Build 按配置创建全部依赖。Redis、Google Speech 不可用时降级运行
func Build(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.Background())
		}
	}()

	tel := telemetry.Setup(telemetry.Config{Enabled: cfg.Telemetry.Enabled, ServiceName: cfg.Telemetry.ServiceName})
	app.onClose(tel.Shutdown)

	store, err := openStore(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.onClose(func(context.Context) error { return store.Close() })

	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if cfg.Auth.AdminEmail != "" {
		if err := store.SetAdminEmail(ctx, cfg.Auth.AdminEmail); err != nil {
			return nil, fmt.Errorf("set admin email: %w", err)
		}
	}
	applog.Info("✅ Database ready", "type", cfg.Database.Type)

	backend, err := openStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}
	if c, isCloser := backend.(interface{ Close() error }); isCloser {
		app.onClose(func(context.Context) error { return c.Close() })
	}

	encryptor, err := crypto.NewEncryptor(cfg.Secret.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("init encryptor: %w", err)
	}

	rdb := openRedis(ctx, cfg.Redis.URL)
	if rdb != nil {
		app.onClose(func(context.Context) error { redisdb.CloseShared(); return nil })
	}

	registry := node.Default()
	credentials := credential.NewService(store, encryptor, registry)
	keys := apikey.NewService(store)
	maxUpload := int64(cfg.Storage.MaxUploadMB) << 20
	attachments := attachment.NewService(store, backend, rag.NewParserRegistry(), maxUpload)
	accounts := account.NewService(account.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		JWTIssuer:     cfg.Auth.JWTIssuer,
		TokenTTL:      time.Duration(cfg.Auth.JWTTTLMinutes) * time.Minute,
		AdminEmail:    cfg.Auth.AdminEmail,
		AdminPassword: cfg.Auth.AdminPassword,
	}, store)

	var googleSTT speech.Transcriber
	if cfg.Speech.GoogleEnabled {
		t, err := google.New(ctx)
		if err != nil {
			applog.Warn("⚠️  Google Speech disabled", "error", err)
		} else {
			googleSTT = t
			app.onClose(func(context.Context) error { return t.Close() })
		}
	}
	httpClient := &http.Client{Timeout: 2 * time.Minute}
	audioSvc := audio.NewService(audio.Config{
		OpenAIAPIKey:  cfg.Providers.OpenAIAPIKey,
		OpenAIBaseURL: cfg.Providers.OpenAIBaseURL,
		TTSModel:      cfg.Speech.TTSModel,
		TTSVoice:      cfg.Speech.TTSVoice,
		Tencent: tencent.Config{
			SecretID:  cfg.Speech.TencentSecretID,
			SecretKey: cfg.Speech.TencentSecretKey,
			Region:    cfg.Speech.TencentRegion,
		},
		HTTPClient: httpClient,
	}, credentials, googleSTT)

	deps := &node.Deps{
		Credentials: credentials,
		Messages:    store,
		HTTPClient:  httpClient,
		Defaults: node.Defaults{
			OpenAIAPIKey:          cfg.Providers.OpenAIAPIKey,
			OpenAIBaseURL:         cfg.Providers.OpenAIBaseURL,
			AnthropicAPIKey:       cfg.Providers.AnthropicAPIKey,
			GoogleAPIKey:          cfg.Providers.GeminiAPIKey,
			OpenSearchURL:         cfg.Vector.OpenSearchURL,
			OpenSearchUsername:    cfg.Vector.OpenSearchUsername,
			OpenSearchPassword:    cfg.Vector.OpenSearchPassword,
			OpenSearchIndexPrefix: cfg.Vector.IndexPrefix,
			EmbeddingBatchSize:    cfg.Vector.EmbeddingBatchSize,
			CacheTTL:              time.Duration(cfg.Redis.CacheTTLSeconds) * time.Second,
			MemoryTTL:             time.Duration(cfg.Redis.MemoryTTLSeconds) * time.Second,
		},
	}

	opts := appchatflow.Options{
		Repo:       store,
		Keys:       keys,
		Audio:      audioSvc,
		Files:      attachments,
		RunTimeout: time.Duration(cfg.Server.RunTimeoutSeconds) * time.Second,
	}
	if rdb != nil {
		memory := redisdb.NewChatMemory(redisdb.ChatMemoryConfig{
			Client: rdb,
			TTL:    deps.Defaults.MemoryTTL,
		})
		deps.ChatMemory = memory
		deps.Cache = redisdb.NewKVCache(rdb)
		deps.SearchCache = redisdb.NewSearchCache(rdb, deps.Defaults.CacheTTL)
		opts.ChatMemory = memory
		opts.Locker = redisdb.NewLock(rdb, opts.RunTimeout)
		if cfg.Redis.RateLimitBackend {
			opts.Limiter = redisdb.NewRateLimiter(rdb)
		}
	}
	opts.Engine = engine.New(&engine.Config{
		MaxWorkers: cfg.Server.EngineWorkers,
		Registry:   registry,
		Deps:       deps,
	})
	chatflows := appchatflow.NewService(opts)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverCfg.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverCfg.MaxBodyBytes = int64(cfg.Server.MaxBodyMB) << 20
	serverCfg.CORSOrigins = cfg.Server.CORSOrigins
	serverCfg.TrustedProxies = cfg.Server.TrustedProxies
	serverCfg.JWTSecret = cfg.Auth.JWTSecret
	serverCfg.JWTIssuer = cfg.Auth.JWTIssuer

	app.Server = api.NewServer(serverCfg, &api.Services{
		Chatflows:   chatflows,
		Credentials: credentials,
		APIKeys:     keys,
		Accounts:    accounts,
		Attachments: attachments,
		Audio:       audioSvc,
		Registry:    registry,
		Telemetry:   tel,
	})

	LogProviders()
	applog.Info("✅ Node registry ready", "nodes", len(registry.List()), "credentials", len(registry.Credentials()))
	ok = true
	return app, nil
}

// Close 逆序释放资源
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig) (*sqlstore.Store, error) {
	opts := sqlstore.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
	}
	switch cfg.Type {
	case "postgres":
		opts.Dialect, opts.DSN = sqlstore.DialectPostgres, cfg.URL
	default:
		opts.Dialect, opts.DSN = sqlstore.DialectSQLite, cfg.SQLitePath
	}
	store, err := sqlstore.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Dialect, err)
	}
	return store, nil
}

func openStorage(ctx context.Context, cfg *config.StorageConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "gcs":
		b, err := gcs.New(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("open gcs storage: %w", err)
		}
		applog.Info("✅ Using Google Cloud Storage", "bucket", cfg.GCSBucket)
		return b, nil
	default:
		b, err := local.New(cfg.BasePath)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		applog.Info("✅ Using local storage", "path", cfg.BasePath)
		return b, nil
	}
}

// openRedis 连接失败时返回 nil，会话记忆、缓存与分布式锁退化为进程内实现
func openRedis(ctx context.Context, url string) *goredis.Client {
	if url == "" {
		applog.Info("ℹ️  No REDIS_URL set, using in-process cache, locks and rate limits")
		return nil
	}
	rdb, err := redisdb.Shared(ctx, url)
	if err != nil {
		applog.Warn("⚠️  Redis unavailable, falling back to in-process state", "error", err)
		return nil
	}
	return rdb
}
