package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPublicRoutesBypassJWT(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "ping", method: http.MethodGet, path: "/api/v1/ping"},
		{name: "version", method: http.MethodGet, path: "/api/v1/version"},
		{name: "login", method: http.MethodPost, path: "/api/v1/auth/login", body: `{}`},
		{name: "voices", method: http.MethodGet, path: "/api/v1/text-to-speech/voices"},
		{name: "public chatflow", method: http.MethodGet, path: "/api/v1/public-chatflows/missing"},
		{name: "streaming check", method: http.MethodGet, path: "/api/v1/chatflows-streaming/missing"},
		{name: "prediction", method: http.MethodPost, path: "/api/v1/prediction/missing", body: `{"question":"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			env.handler.ServeHTTP(rr, req)

			if rr.Code == http.StatusUnauthorized {
				t.Fatalf("expected public route %s to bypass JWT, got 401", tt.path)
			}
		})
	}
}

func TestProtectedRoutesStillRequireJWT(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
	}{
		{name: "list chatflows", method: http.MethodGet, path: "/api/v1/chatflows"},
		{name: "create chatflow", method: http.MethodPost, path: "/api/v1/chatflows"},
		{name: "credentials", method: http.MethodGet, path: "/api/v1/credentials"},
		{name: "nodes", method: http.MethodGet, path: "/api/v1/nodes"},
		{name: "upsert", method: http.MethodPost, path: "/api/v1/vector/upsert/x"},
		{name: "apikey", method: http.MethodGet, path: "/api/v1/apikey"},
		{name: "me", method: http.MethodGet, path: "/api/v1/auth/me"},
		{name: "garbage token", method: http.MethodGet, path: "/api/v1/chatflows", auth: "Bearer not-a-jwt"},
		{name: "unknown api key", method: http.MethodGet, path: "/api/v1/chatflows", auth: "Bearer nf-unknown"},
		{name: "wrong scheme", method: http.MethodGet, path: "/api/v1/chatflows", auth: "Basic abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()

			env.handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 for protected route %s, got %d", tt.path, rr.Code)
			}
		})
	}
}

func TestProtectedRoutesAcceptAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key := env.createAPIKey(t, "automation")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chatflows", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestBuildRouterRequiresSecret(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)
	if _, err := server.buildRouter(); err == nil {
		t.Fatal("expected error without JWT secret")
	}
}
