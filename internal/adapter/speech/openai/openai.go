package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"nodeforge/internal/adapter/speech"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultSTTModel   = "whisper-1"
	defaultTTSModel   = "tts-1"
	defaultVoice      = "alloy"
	defaultTTSTimeout = 2 * time.Minute
)

var voices = []speech.Voice{
	{ID: "alloy", Name: "Alloy"},
	{ID: "ash", Name: "Ash"},
	{ID: "coral", Name: "Coral"},
	{ID: "echo", Name: "Echo"},
	{ID: "fable", Name: "Fable"},
	{ID: "nova", Name: "Nova"},
	{ID: "onyx", Name: "Onyx"},
	{ID: "sage", Name: "Sage"},
	{ID: "shimmer", Name: "Shimmer"},
}

// Config OpenAI 语音配置
type Config struct {
	APIKey   string
	BaseURL  string
	STTModel string
	TTSModel string
	Voice    string
	Client   *http.Client
}

// Client OpenAI Whisper 转写 + TTS 合成
type Client struct {
	apiKey   string
	baseURL  string
	sttModel string
	ttsModel string
	voice    string
	http     *http.Client
}

var (
	_ speech.Transcriber = (*Client)(nil)
	_ speech.Synthesizer = (*Client)(nil)
)

// New 创建客户端
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai speech: api key is required")
	}
	c := &Client{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		sttModel: cfg.STTModel,
		ttsModel: cfg.TTSModel,
		voice:    cfg.Voice,
		http:     cfg.Client,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.sttModel == "" {
		c.sttModel = defaultSTTModel
	}
	if c.ttsModel == "" {
		c.ttsModel = defaultTTSModel
	}
	if c.voice == "" {
		c.voice = defaultVoice
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTTSTimeout}
	}
	return c, nil
}

// Transcribe 调用 /audio/transcriptions
func (c *Client) Transcribe(ctx context.Context, audio *speech.Audio) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	name := audio.FileName
	if name == "" {
		name = "audio." + audio.Format()
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", err
	}
	_ = w.WriteField("model", c.sttModel)
	if audio.Language != "" {
		_ = w.WriteField("language", audio.Language)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("whisper API error: status %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Synthesize 调用 /audio/speech，返回 mp3 音频流
func (c *Client) Synthesize(ctx context.Context, r *speech.SynthesisRequest) (io.ReadCloser, string, error) {
	if strings.TrimSpace(r.Text) == "" {
		return nil, "", fmt.Errorf("text is required")
	}
	model, voice := r.Model, r.Voice
	if model == "" {
		model = c.ttsModel
	}
	if voice == "" {
		voice = c.voice
	}
	payload, _ := json.Marshal(map[string]string{
		"model":           model,
		"input":           r.Text,
		"voice":           voice,
		"response_format": "mp3",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts request: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("tts API error: status %d: %s", resp.StatusCode, string(data))
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return resp.Body, contentType, nil
}

// Voices 返回内置音色列表
func (c *Client) Voices() []speech.Voice { return Voices() }

// Voices 无需凭据即可列出的音色
func Voices() []speech.Voice {
	out := make([]speech.Voice, len(voices))
	copy(out, voices)
	return out
}
