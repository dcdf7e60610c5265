// Package audio 语音转文字与文字转语音服务。
// 预测请求中的音频按 chatflow.speechToText 配置选择转写供应商；TTS 走 OpenAI speech 接口。
package audio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"nodeforge/internal/adapter/speech"
	"nodeforge/internal/adapter/speech/openai"
	"nodeforge/internal/adapter/speech/tencent"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// Config 服务端默认的语音配置
type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	TTSModel      string
	TTSVoice      string
	Tencent       tencent.Config
	HTTPClient    *http.Client
}

// ProviderConfig chatflow.speechToText 中单个供应商的配置
type ProviderConfig struct {
	Status       bool   `json:"status"`
	CredentialID string `json:"credentialId,omitempty"`
	Language     string `json:"language,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Service 语音服务
type Service struct {
	cfg         Config
	credentials node.CredentialResolver
	google      speech.Transcriber

	// 测试替换
	newOpenAI  func(cfg openai.Config) (*openai.Client, error)
	newTencent func(cfg tencent.Config) (speech.Transcriber, error)
}

// NewService 创建语音服务。google 为 nil 表示未启用 Google Speech
func NewService(cfg Config, credentials node.CredentialResolver, google speech.Transcriber) *Service {
	return &Service{
		cfg:         cfg,
		credentials: credentials,
		google:      google,
		newOpenAI:   openai.New,
		newTencent: func(c tencent.Config) (speech.Transcriber, error) {
			return tencent.New(c)
		},
	}
}

// ParseSpeechToText 解析 chatflow.speechToText，返回第一个启用的供应商
func ParseSpeechToText(raw string) (string, *ProviderConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, nil
	}
	var providers map[string]*ProviderConfig
	if err := json.Unmarshal([]byte(raw), &providers); err != nil {
		return "", nil, errs.BadRequest("invalid speechToText config: %v", err)
	}
	for _, name := range []string{speech.ProviderOpenAIWhisper, speech.ProviderTencentASR, speech.ProviderGoogleSpeech} {
		if p, ok := providers[name]; ok && p != nil && p.Status {
			return name, p, nil
		}
	}
	return "", nil, nil
}

// Transcribe 按 chatflow 配置转写音频
func (s *Service) Transcribe(ctx context.Context, speechToText string, audio *speech.Audio) (string, error) {
	name, pc, err := ParseSpeechToText(speechToText)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errs.BadRequest("speech to text is not enabled for this chatflow")
	}
	if pc.Language != "" && audio.Language == "" {
		audio.Language = pc.Language
	}

	t, err := s.transcriber(ctx, name, pc)
	if err != nil {
		return "", err
	}
	text, err := t.Transcribe(ctx, audio)
	if err != nil {
		return "", errs.Wrap(http.StatusInternalServerError, err, "speech to text failed")
	}
	applog.Info("[Audio] Transcribed", "provider", name, "bytes", len(audio.Data), "chars", len(text))
	return text, nil
}

func (s *Service) transcriber(ctx context.Context, name string, pc *ProviderConfig) (speech.Transcriber, error) {
	switch name {
	case speech.ProviderOpenAIWhisper:
		key, err := s.openAIKey(ctx, pc.CredentialID)
		if err != nil {
			return nil, err
		}
		return s.newOpenAI(openai.Config{
			APIKey:   key,
			BaseURL:  s.cfg.OpenAIBaseURL,
			STTModel: pc.Model,
			Client:   s.cfg.HTTPClient,
		})
	case speech.ProviderTencentASR:
		cfg := s.cfg.Tencent
		if pc.CredentialID != "" && s.credentials != nil {
			data, err := s.credentials.ResolveCredential(ctx, pc.CredentialID)
			if err != nil {
				return nil, err
			}
			if v, _ := data["secretId"].(string); v != "" {
				cfg.SecretID = v
			}
			if v, _ := data["secretKey"].(string); v != "" {
				cfg.SecretKey = v
			}
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return nil, errs.BadRequest("tencent asr is not configured")
		}
		return s.newTencent(cfg)
	case speech.ProviderGoogleSpeech:
		if s.google == nil {
			return nil, errs.BadRequest("google speech is not configured")
		}
		return s.google, nil
	default:
		return nil, errs.BadRequest("unsupported speech to text provider: %s", name)
	}
}

func (s *Service) openAIKey(ctx context.Context, credentialID string) (string, error) {
	if credentialID != "" && s.credentials != nil {
		data, err := s.credentials.ResolveCredential(ctx, credentialID)
		if err != nil {
			return "", err
		}
		if key, _ := data["openAIApiKey"].(string); key != "" {
			return key, nil
		}
	}
	if s.cfg.OpenAIAPIKey == "" {
		return "", errs.BadRequest("openai api key is not configured")
	}
	return s.cfg.OpenAIAPIKey, nil
}

// SynthesisRequest POST /text-to-speech/generate 请求体
type SynthesisRequest struct {
	Text         string `json:"text"`
	Provider     string `json:"provider,omitempty"`
	CredentialID string `json:"credentialId,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Synthesize 生成语音，调用方负责关闭返回的流
func (s *Service) Synthesize(ctx context.Context, req *SynthesisRequest) (io.ReadCloser, string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, "", errs.BadRequest("text is required")
	}
	if req.Provider != "" && req.Provider != speech.ProviderOpenAITTS {
		return nil, "", errs.BadRequest("unsupported text to speech provider: %s", req.Provider)
	}
	key, err := s.openAIKey(ctx, req.CredentialID)
	if err != nil {
		return nil, "", err
	}
	client, err := s.newOpenAI(openai.Config{
		APIKey:   key,
		BaseURL:  s.cfg.OpenAIBaseURL,
		TTSModel: s.cfg.TTSModel,
		Voice:    s.cfg.TTSVoice,
		Client:   s.cfg.HTTPClient,
	})
	if err != nil {
		return nil, "", err
	}
	body, contentType, err := client.Synthesize(ctx, &speech.SynthesisRequest{Text: req.Text, Voice: req.Voice, Model: req.Model})
	if err != nil {
		return nil, "", errs.Wrap(http.StatusBadGateway, err, "text to speech failed")
	}
	return body, contentType, nil
}

// Voices 列出供应商可用音色
func (s *Service) Voices(provider string) ([]speech.Voice, error) {
	switch provider {
	case "", speech.ProviderOpenAITTS:
		return openai.Voices(), nil
	default:
		return nil, errs.BadRequest("unsupported text to speech provider: %s", provider)
	}
}
