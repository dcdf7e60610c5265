package google

import (
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"

	"nodeforge/internal/adapter/speech"
)

func TestBuildRequest(t *testing.T) {
	req := buildRequest(&speech.Audio{Data: []byte("x"), MimeType: "audio/webm;codecs=opus"})
	assert.Equal(t, speechpb.RecognitionConfig_WEBM_OPUS, req.Config.Encoding)
	assert.EqualValues(t, 48000, req.Config.SampleRateHertz)
	assert.Equal(t, "en-US", req.Config.LanguageCode)
	assert.Equal(t, []byte("x"), req.Audio.GetContent())

	req = buildRequest(&speech.Audio{FileName: "a.wav", Language: "fr-FR"})
	assert.Equal(t, speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, req.Config.Encoding)
	assert.Zero(t, req.Config.SampleRateHertz)
	assert.Equal(t, "fr-FR", req.Config.LanguageCode)
}
