package tencent

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	asr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"

	"nodeforge/internal/adapter/speech"
)

// 一句话识别接口对 base64 前音频大小的限制
const maxAudioBytes = 3 * 1024 * 1024

// Config 腾讯云 ASR 配置
type Config struct {
	SecretID  string
	SecretKey string
	Region    string
	// EngineType 引擎模型，默认 16k_zh
	EngineType string
}

// Transcriber 腾讯云一句话识别
type Transcriber struct {
	client     *asr.Client
	engineType string
}

var _ speech.Transcriber = (*Transcriber)(nil)

// New 创建 ASR 客户端
func New(cfg Config) (*Transcriber, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("tencent asr: secret id and key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "ap-guangzhou"
	}
	client, err := asr.NewClient(common.NewCredential(cfg.SecretID, cfg.SecretKey), region, profile.NewClientProfile())
	if err != nil {
		return nil, fmt.Errorf("create tencent asr client: %w", err)
	}
	engine := cfg.EngineType
	if engine == "" {
		engine = "16k_zh"
	}
	return &Transcriber{client: client, engineType: engine}, nil
}

// Transcribe 以内联数据（SourceType=1）提交一句话识别
func (t *Transcriber) Transcribe(ctx context.Context, audio *speech.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("tencent asr: empty audio")
	}
	if len(audio.Data) > maxAudioBytes {
		return "", fmt.Errorf("tencent asr: audio exceeds %d bytes", maxAudioBytes)
	}
	format, err := voiceFormat(audio)
	if err != nil {
		return "", err
	}

	req := asr.NewSentenceRecognitionRequest()
	req.EngSerViceType = common.StringPtr(engineFor(t.engineType, audio.Language))
	req.SourceType = common.Uint64Ptr(1)
	req.VoiceFormat = common.StringPtr(format)
	req.Data = common.StringPtr(base64.StdEncoding.EncodeToString(audio.Data))
	req.DataLen = common.Int64Ptr(int64(len(audio.Data)))

	resp, err := t.client.SentenceRecognitionWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tencent asr: %w", err)
	}
	if resp.Response == nil || resp.Response.Result == nil {
		return "", nil
	}
	return strings.TrimSpace(*resp.Response.Result), nil
}

// voiceFormat 一句话识别支持的格式
func voiceFormat(audio *speech.Audio) (string, error) {
	switch f := audio.Format(); f {
	case "wav", "pcm", "ogg-opus", "speex", "silk", "mp3", "m4a", "aac", "amr":
		return f, nil
	case "ogg", "opus":
		return "ogg-opus", nil
	default:
		return "", fmt.Errorf("tencent asr: unsupported audio format %q", f)
	}
}

// engineFor 英文语言码切换到英文引擎，其他情况使用配置的引擎
func engineFor(engine, language string) string {
	if strings.HasPrefix(strings.ToLower(language), "en") {
		return "16k_en"
	}
	return engine
}
