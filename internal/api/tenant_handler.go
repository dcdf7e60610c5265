package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nodeforge/internal/app/account"
	"nodeforge/internal/app/apikey"
	"nodeforge/internal/platform/errs"
)

// AccountHandler 登录、组织/工作区占位接口与 API Key 管理
type AccountHandler struct {
	accounts *account.Service
	keys     *apikey.Service
}

// NewAccountHandler 创建处理器
func NewAccountHandler(accounts *account.Service, keys *apikey.Service) *AccountHandler {
	return &AccountHandler{accounts: accounts, keys: keys}
}

// RegisterPublicRoutes 登录与精简版不提供的企业功能
func (h *AccountHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/login", handle(h.Login))

	notAvailable := handle(func(http.ResponseWriter, *http.Request) error { return account.ErrNotAvailable })
	r.Post("/account/register", notAvailable)
	r.Post("/account/invite", notAvailable)
	r.Post("/account/forgot-password", notAvailable)
	r.Post("/account/reset-password", notAvailable)
	r.Get("/auth/sso/{provider}", notAvailable)
	r.Get("/auth/sso/{provider}/callback", notAvailable)
}

// RegisterRoutes 需要登录的路由
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/auth/me", handle(h.Me))
	r.Get("/organizations", handle(h.ListOrganizations))
	r.Get("/workspaces", handle(h.ListWorkspaces))
	r.Route("/apikey", func(r chi.Router) {
		r.Get("/", handle(h.ListAPIKeys))
		r.Post("/", handle(h.CreateAPIKey))
		r.Delete("/{id}", handle(h.DeleteAPIKey))
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) error {
	p := PrincipalFrom(r.Context())
	if p == nil || p.ViaAPIKey() {
		return errs.Unauthorized("login required")
	}
	u, err := h.accounts.Me(r.Context(), p.Email)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":              u,
		"activeWorkspaceId": p.WorkspaceID,
	})
	return nil
}

func (h *AccountHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) error {
	orgs, err := h.accounts.Organizations(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, orgs)
	return nil
}

func (h *AccountHandler) ListWorkspaces(w http.ResponseWriter, r *http.Request) error {
	wss, err := h.accounts.Workspaces(r.Context(), r.URL.Query().Get("organizationId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, wss)
	return nil
}

// --- API Key ---

type createAPIKeyRequest struct {
	KeyName string `json:"keyName"`
}

func (h *AccountHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) error {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, keys)
	return nil
}

func (h *AccountHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) error {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	created, err := h.keys.Create(r.Context(), req.KeyName)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, created)
	return nil
}

func (h *AccountHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.keys.Delete(r.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "deleted": "true"})
	return nil
}
