package google

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	gspeech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"nodeforge/internal/adapter/speech"
)

// Transcriber Google Cloud Speech-to-Text（同步识别）
type Transcriber struct {
	client *gspeech.Client
}

var _ speech.Transcriber = (*Transcriber)(nil)

// New 使用应用默认凭据创建客户端
func New(ctx context.Context) (*Transcriber, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: gspeech.DefaultAuthScopes(),
	})
	if err != nil {
		return nil, fmt.Errorf("get credentials for speech: %w", err)
	}
	client, err := gspeech.NewClient(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create gRPC speech client: %w", err)
	}
	return &Transcriber{client: client}, nil
}

// Close 关闭 gRPC 连接
func (t *Transcriber) Close() error { return t.client.Close() }

// Transcribe 拼接所有结果的首选转写
func (t *Transcriber) Transcribe(ctx context.Context, audio *speech.Audio) (string, error) {
	resp, err := t.client.Recognize(ctx, buildRequest(audio))
	if err != nil {
		return "", fmt.Errorf("google speech: %w", err)
	}
	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		parts = append(parts, strings.TrimSpace(result.Alternatives[0].Transcript))
	}
	return strings.Join(parts, " "), nil
}

func buildRequest(audio *speech.Audio) *speechpb.RecognizeRequest {
	lang := audio.Language
	if lang == "" {
		lang = "en-US"
	}
	config := &speechpb.RecognitionConfig{
		Encoding:                   encodingOf(audio.Format()),
		LanguageCode:               lang,
		EnableAutomaticPunctuation: true,
	}
	// Opus 容器需要显式采样率，wav/flac 从文件头读取
	if config.Encoding == speechpb.RecognitionConfig_WEBM_OPUS || config.Encoding == speechpb.RecognitionConfig_OGG_OPUS {
		config.SampleRateHertz = 48000
	}
	return &speechpb.RecognizeRequest{
		Config: config,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Data},
		},
	}
}

func encodingOf(format string) speechpb.RecognitionConfig_AudioEncoding {
	switch format {
	case "webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case "ogg", "opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "mp3":
		return speechpb.RecognitionConfig_MP3
	case "amr":
		return speechpb.RecognitionConfig_AMR
	default:
		// wav / flac 由服务端根据文件头识别
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
