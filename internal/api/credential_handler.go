package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nodeforge/internal/app/credential"
)

// CredentialHandler 凭据 API
type CredentialHandler struct {
	svc *credential.Service
}

// NewCredentialHandler 创建处理器
func NewCredentialHandler(svc *credential.Service) *CredentialHandler {
	return &CredentialHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *CredentialHandler) RegisterRoutes(r chi.Router) {
	r.Route("/credentials", func(r chi.Router) {
		r.Get("/", handle(h.ListCredentials))
		r.Post("/", handle(h.CreateCredential))
		r.Get("/{id}", handle(h.GetCredential))
		r.Put("/{id}", handle(h.UpdateCredential))
		r.Delete("/{id}", handle(h.DeleteCredential))
	})
	r.Get("/components-credentials", handle(h.ListSchemas))
	r.Get("/components-credentials/{name}", handle(h.GetSchema))
}

func (h *CredentialHandler) ListCredentials(w http.ResponseWriter, r *http.Request) error {
	list, err := h.svc.List(r.Context(), r.URL.Query()["credentialName"]...)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

func (h *CredentialHandler) CreateCredential(w http.ResponseWriter, r *http.Request) error {
	var req credential.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	c, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, c)
	return nil
}

func (h *CredentialHandler) GetCredential(w http.ResponseWriter, r *http.Request) error {
	v, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

func (h *CredentialHandler) UpdateCredential(w http.ResponseWriter, r *http.Request) error {
	var req credential.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	c, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, c)
	return nil
}

func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "deleted": "true"})
	return nil
}

func (h *CredentialHandler) ListSchemas(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.svc.Schemas())
	return nil
}

func (h *CredentialHandler) GetSchema(w http.ResponseWriter, r *http.Request) error {
	s, err := h.svc.Schema(chi.URLParam(r, "name"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s)
	return nil
}
