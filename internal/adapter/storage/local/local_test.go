package local

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/adapter/storage"
)

func TestBackend(t *testing.T) {
	ctx := context.Background()
	b, err := New(t.TempDir())
	require.NoError(t, err)

	n, err := b.Put(ctx, storage.Key("flow1", "chat1", "notes.txt"), strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	obj, err := b.Get(ctx, "flow1/chat1/notes.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(obj.Body)
	obj.Body.Close()
	assert.Equal(t, "hello", string(data))
	assert.Contains(t, obj.ContentType, "text/plain")
	assert.EqualValues(t, 5, obj.Size)

	_, err = b.Get(ctx, "flow1/chat1/missing.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.DeletePrefix(ctx, "flow1"))
	_, err = b.Get(ctx, "flow1/chat1/notes.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = b.Put(ctx, "..", strings.NewReader("x"), "")
	assert.Error(t, err)
}
