package apikey

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/db/sqlstore"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/errs"
)

func newService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	return NewService(store)
}

func TestCreateVerifyDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "ci")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Key, "nf-"))
	assert.True(t, strings.HasPrefix(created.Key, created.KeyPrefix))
	assert.NotEqual(t, created.Key, created.KeyHash)

	raw, err := json.Marshal(created)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"apiKey":"`+created.Key+`"`)
	assert.NotContains(t, string(raw), created.KeyHash)

	k, err := svc.Verify(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, created.ID, k.ID)

	_, err = svc.Verify(ctx, "nf-wrong")
	assert.True(t, errs.Is(err, http.StatusUnauthorized))

	keys, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.True(t, errs.Is(svc.Delete(ctx, created.ID), http.StatusNotFound))
	_, err = svc.Verify(ctx, created.Key)
	assert.True(t, errs.Is(err, http.StatusUnauthorized))
}

func TestCreate_RequiresName(t *testing.T) {
	_, err := newService(t).Create(context.Background(), "  ")
	assert.True(t, errs.Is(err, http.StatusBadRequest))
}

func TestVerifyForChatflow(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	bound, err := svc.Create(ctx, "bound")
	require.NoError(t, err)
	other, err := svc.Create(ctx, "other")
	require.NoError(t, err)

	open := &port.ChatFlow{ID: "open"}
	assert.NoError(t, svc.VerifyForChatflow(ctx, open, ""))

	cf := &port.ChatFlow{ID: "locked", APIKeyID: bound.ID}
	assert.NoError(t, svc.VerifyForChatflow(ctx, cf, bound.Key))
	assert.True(t, errs.Is(svc.VerifyForChatflow(ctx, cf, other.Key), http.StatusUnauthorized))
	assert.True(t, errs.Is(svc.VerifyForChatflow(ctx, cf, ""), http.StatusUnauthorized))
}
