package node

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "nodeforge/internal/domain/chatflow/model"
)

func TestDecodeFileInput(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("hello, world"))

	files, err := DecodeFileInput("data:text/plain;base64," + payload + ",filename:a.txt")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "text/plain", files[0].Mime)
	assert.Equal(t, "hello, world", string(files[0].Data))

	files, err = DecodeFileInput(`["data:application/pdf;base64,` + payload + `,filename:x.pdf","data:text/plain;base64,` + payload + `,filename:y.txt"]`)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "y.txt", files[1].Name)

	files, err = DecodeFileInput("")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = DecodeFileInput("not-a-data-uri")
	assert.Error(t, err)
	_, err = DecodeFileInput("data:text/plain;base64,@@@,filename:bad.txt")
	assert.Error(t, err)
}

func TestUploadsWithExt(t *testing.T) {
	uploads := []types.FileUpload{
		{Name: "a.PDF"},
		{Name: "b.docx"},
		{Name: "voice.webm", Type: "audio"},
		{Name: "c.pdf"},
	}
	got := UploadsWithExt(uploads, ".pdf")
	require.Len(t, got, 2)
	assert.Equal(t, "a.PDF", got[0].Name)
	assert.Empty(t, UploadsWithExt(uploads, ".webm"), "audio is never a document")
}
