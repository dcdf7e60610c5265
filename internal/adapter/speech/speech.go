package speech

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// 语音转文字供应商名称，与 chatflow.speechToText 配置中的 key 对应
const (
	ProviderOpenAIWhisper = "openAIWhisper"
	ProviderTencentASR    = "tencentASR"
	ProviderGoogleSpeech  = "googleSpeech"

	// 文字转语音
	ProviderOpenAITTS = "openai"
)

// Audio 待转写的音频
type Audio struct {
	Data     []byte
	MimeType string
	FileName string
	Language string // BCP-47，空表示由供应商自动识别或使用默认值
}

// Format 音频格式（小写扩展名，不含点），优先取 mime 子类型
func (a *Audio) Format() string {
	if a.MimeType != "" {
		sub := a.MimeType
		if i := strings.Index(sub, "/"); i >= 0 {
			sub = sub[i+1:]
		}
		if i := strings.Index(sub, ";"); i >= 0 {
			sub = sub[:i]
		}
		switch sub = strings.TrimSpace(strings.ToLower(sub)); sub {
		case "mpeg", "mp3":
			return "mp3"
		case "x-wav", "wave", "wav":
			return "wav"
		case "x-m4a", "mp4", "m4a":
			return "m4a"
		case "":
		default:
			return strings.TrimPrefix(sub, "x-")
		}
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(a.FileName)), ".")
}

// Transcriber 语音转文字
type Transcriber interface {
	Transcribe(ctx context.Context, audio *Audio) (string, error)
}

// TranscriberFunc 适配普通函数
type TranscriberFunc func(ctx context.Context, audio *Audio) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio *Audio) (string, error) {
	return f(ctx, audio)
}

// SynthesisRequest 文字转语音请求
type SynthesisRequest struct {
	Text  string
	Voice string
	Model string
}

// Voice 可选音色
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Synthesizer 文字转语音，返回的音频流由调用方关闭
type Synthesizer interface {
	Synthesize(ctx context.Context, req *SynthesisRequest) (io.ReadCloser, string, error)
	Voices() []Voice
}
