package account

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
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
	require.NoError(t, store.SetAdminEmail(ctx, "Admin@Example.com"))

	return NewService(Config{
		JWTSecret:     "secret",
		JWTIssuer:     "nodeforge",
		TokenTTL:      30 * time.Minute,
		AdminEmail:    "Admin@Example.com",
		AdminPassword: "pw",
	}, store)
}

func TestLogin(t *testing.T) {
	svc := newService(t)
	fixed := time.Now().Truncate(time.Second)
	svc.now = func() time.Time { return fixed }

	res, err := svc.Login(context.Background(), "admin@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, port.DefaultUserID, res.User.ID)
	assert.Equal(t, fixed.Add(30*time.Minute), res.ExpiresAt)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(res.Token, claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil },
		jwt.WithIssuer("nodeforge"))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, port.DefaultUserID, claims.Subject)
	assert.Equal(t, port.DefaultWorkspaceID, claims.WorkspaceID)
}

func TestLogin_Rejected(t *testing.T) {
	svc := newService(t)
	tests := []struct {
		name     string
		email    string
		password string
		status   int
	}{
		{name: "wrong password", email: "admin@example.com", password: "nope", status: http.StatusUnauthorized},
		{name: "wrong email", email: "other@example.com", password: "pw", status: http.StatusUnauthorized},
		{name: "missing fields", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.email, tt.password)
			assert.True(t, errs.Is(err, tt.status), "got %v", err)
		})
	}
}

func TestMeAndDirectory(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	u, err := svc.Me(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Admin@Example.com", u.Email)

	_, err = svc.Me(ctx, "")
	assert.True(t, errs.Is(err, http.StatusUnauthorized))

	orgs, err := svc.Organizations(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 1)

	wss, err := svc.Workspaces(ctx, "")
	require.NoError(t, err)
	require.Len(t, wss, 1)
	assert.Equal(t, port.DefaultWorkspaceID, wss[0].ID)

	assert.True(t, errs.Is(ErrNotAvailable, http.StatusForbidden))
}
