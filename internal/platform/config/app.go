package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// AppConfig 全局配置。启动时统一加载，再按模块取用。
type AppConfig struct {
	LogLevel  string `json:"log_level" yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" envconfig:"LOG_FORMAT"`

	Server    ServerConfig    `json:"server" yaml:"server"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Secret    SecretConfig    `json:"secret" yaml:"secret"`
	Vector    VectorConfig    `json:"vector" yaml:"vector"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Speech    SpeechConfig    `json:"speech" yaml:"speech"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

type ServerConfig struct {
	Host                string `json:"host" yaml:"host" envconfig:"HOST"`
	Port                int    `json:"port" yaml:"port" envconfig:"PORT"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds" envconfig:"SERVER_WRITE_TIMEOUT"`
	RunTimeoutSeconds   int    `json:"run_timeout_seconds" yaml:"run_timeout_seconds" envconfig:"PREDICTION_TIMEOUT"`
	MaxBodyMB           int    `json:"max_body_mb" yaml:"max_body_mb" envconfig:"FILE_SIZE_LIMIT"`
	CORSOrigins         string `json:"cors_origins" yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
	EngineWorkers       int    `json:"engine_workers" yaml:"engine_workers" envconfig:"ENGINE_MAX_WORKERS"`
	TrustedProxies      int    `json:"trusted_proxies" yaml:"trusted_proxies" envconfig:"NUMBER_OF_PROXIES"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret" yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	JWTIssuer     string `json:"jwt_issuer" yaml:"jwt_issuer" envconfig:"JWT_ISSUER"`
	JWTTTLMinutes int    `json:"jwt_ttl_minutes" yaml:"jwt_ttl_minutes" envconfig:"JWT_TOKEN_EXPIRY_IN_MINUTES"`
	AdminEmail    string `json:"admin_email" yaml:"admin_email" envconfig:"ADMIN_EMAIL"`
	AdminPassword string `json:"admin_password" yaml:"admin_password" envconfig:"ADMIN_PASSWORD"`
}

type DatabaseConfig struct {
	Type                   string `json:"type" yaml:"type" envconfig:"DATABASE_TYPE"` // sqlite | postgres
	SQLitePath             string `json:"sqlite_path" yaml:"sqlite_path" envconfig:"DATABASE_PATH"`
	URL                    string `json:"url" yaml:"url" envconfig:"DATABASE_URL"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns" envconfig:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns" envconfig:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds" envconfig:"DATABASE_CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	URL              string `json:"url" yaml:"url" envconfig:"REDIS_URL"`
	CacheTTLSeconds  int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" envconfig:"REDIS_CACHE_TTL"`
	MemoryTTLSeconds int    `json:"memory_ttl_seconds" yaml:"memory_ttl_seconds" envconfig:"REDIS_MEMORY_TTL"`
	RateLimitBackend bool   `json:"rate_limit_backend" yaml:"rate_limit_backend" envconfig:"RATE_LIMIT_REDIS"`
}

type StorageConfig struct {
	Type        string `json:"type" yaml:"type" envconfig:"STORAGE_TYPE"` // local | gcs
	BasePath    string `json:"base_path" yaml:"base_path" envconfig:"BLOB_STORAGE_PATH"`
	GCSBucket   string `json:"gcs_bucket" yaml:"gcs_bucket" envconfig:"GOOGLE_CLOUD_STORAGE_BUCKET_NAME"`
	MaxUploadMB int    `json:"max_upload_mb" yaml:"max_upload_mb" envconfig:"MAX_UPLOAD_MB"`
}

type SecretConfig struct {
	EncryptionKey string `json:"encryption_key" yaml:"encryption_key" envconfig:"SECRETKEY_OVERWRITE"`
}

type VectorConfig struct {
	OpenSearchURL      string `json:"opensearch_url" yaml:"opensearch_url" envconfig:"OPENSEARCH_URL"`
	OpenSearchUsername string `json:"opensearch_username" yaml:"opensearch_username" envconfig:"OPENSEARCH_USERNAME"`
	OpenSearchPassword string `json:"opensearch_password" yaml:"opensearch_password" envconfig:"OPENSEARCH_PASSWORD"`
	IndexPrefix        string `json:"index_prefix" yaml:"index_prefix" envconfig:"OPENSEARCH_INDEX_PREFIX"`
	EmbeddingBatchSize int    `json:"embedding_batch_size" yaml:"embedding_batch_size" envconfig:"EMBEDDING_BATCH_SIZE"`
}

type ProvidersConfig struct {
	OpenAIAPIKey    string `json:"openai_api_key" yaml:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `json:"openai_base_url" yaml:"openai_base_url" envconfig:"OPENAI_BASE_URL"`
	AnthropicAPIKey string `json:"anthropic_api_key" yaml:"anthropic_api_key" envconfig:"ANTHROPIC_API_KEY"`
	GeminiAPIKey    string `json:"gemini_api_key" yaml:"gemini_api_key" envconfig:"GOOGLE_API_KEY"`
}

type SpeechConfig struct {
	TencentSecretID  string `json:"tencent_secret_id" yaml:"tencent_secret_id" envconfig:"TENCENT_SECRET_ID"`
	TencentSecretKey string `json:"tencent_secret_key" yaml:"tencent_secret_key" envconfig:"TENCENT_SECRET_KEY"`
	TencentRegion    string `json:"tencent_region" yaml:"tencent_region" envconfig:"TENCENT_REGION"`
	GoogleEnabled    bool   `json:"google_enabled" yaml:"google_enabled" envconfig:"GOOGLE_SPEECH_ENABLED"`
	TTSModel         string `json:"tts_model" yaml:"tts_model" envconfig:"TTS_MODEL"`
	TTSVoice         string `json:"tts_voice" yaml:"tts_voice" envconfig:"TTS_VOICE"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" envconfig:"ENABLE_METRICS"`
	ServiceName string `json:"service_name" yaml:"service_name" envconfig:"METRICS_SERVICE_NAME"`
}

// Default 返回默认配置
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "console",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                3000,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 600,
			RunTimeoutSeconds:   300,
			MaxBodyMB:           50,
			CORSOrigins:         "*",
			EngineWorkers:       4,
		},
		Auth: AuthConfig{
			JWTIssuer:     "nodeforge",
			JWTTTLMinutes: 60,
		},
		Database: DatabaseConfig{
			Type:                   "sqlite",
			SQLitePath:             "./data/nodeforge.sqlite",
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Redis: RedisConfig{
			CacheTTLSeconds:  3600,
			MemoryTTLSeconds: 86400,
		},
		Storage: StorageConfig{
			Type:        "local",
			BasePath:    "./data/storage",
			MaxUploadMB: 50,
		},
		Vector: VectorConfig{
			IndexPrefix:        "nodeforge",
			EmbeddingBatchSize: 64,
		},
		Providers: ProvidersConfig{
			OpenAIBaseURL: "https://api.openai.com/v1",
		},
		Speech: SpeechConfig{
			TencentRegion: "ap-guangzhou",
			TTSModel:      "tts-1",
			TTSVoice:      "alloy",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "nodeforge",
		},
	}
}

// Load 加载配置：默认值 -> 配置文件(APP_CONFIG_FILE, json/yaml) -> 环境变量
func Load() (*AppConfig, error) {
	// .env 可选，已存在的环境变量优先
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("apply env config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) normalize() {
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Providers.OpenAIBaseURL == "" {
		c.Providers.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	c.Providers.OpenAIBaseURL = strings.TrimRight(c.Providers.OpenAIBaseURL, "/")
	if c.Server.EngineWorkers <= 0 {
		c.Server.EngineWorkers = 4
	}
	if c.Vector.EmbeddingBatchSize <= 0 {
		c.Vector.EmbeddingBatchSize = 64
	}
	if c.Auth.JWTTTLMinutes <= 0 {
		c.Auth.JWTTTLMinutes = 60
	}
	// 未配置加密密钥时沿用 JWT 密钥，避免凭据明文落库
	if c.Secret.EncryptionKey == "" {
		c.Secret.EncryptionKey = c.Auth.JWTSecret
	}
}

func (c *AppConfig) validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("DATABASE_PATH is required for sqlite"))
		}
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_TYPE %q", c.Database.Type))
	}
	switch c.Storage.Type {
	case "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_STORAGE_BUCKET_NAME is required for gcs storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_TYPE %q", c.Storage.Type))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Server.Port))
	}
	return errors.Join(errs...)
}
