package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioFormat(t *testing.T) {
	tests := []struct {
		audio Audio
		want  string
	}{
		{Audio{MimeType: "audio/webm;codecs=opus"}, "webm"},
		{Audio{MimeType: "audio/mpeg"}, "mp3"},
		{Audio{MimeType: "audio/x-wav"}, "wav"},
		{Audio{MimeType: "audio/x-flac"}, "flac"},
		{Audio{FileName: "note.M4A"}, "m4a"},
		{Audio{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.audio.Format())
		})
	}
}
