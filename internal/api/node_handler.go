package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/platform/errs"
)

// NodeHandler 节点目录 API
type NodeHandler struct {
	registry *node.Registry
}

// NewNodeHandler registry 为 nil 时使用全局注册表
func NewNodeHandler(registry *node.Registry) *NodeHandler {
	if registry == nil {
		registry = node.Default()
	}
	return &NodeHandler{registry: registry}
}

// RegisterRoutes 注册路由
func (h *NodeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/nodes", handle(h.ListNodes))
	r.Get("/nodes/category/{category}", handle(h.ListByCategory))
	r.Get("/nodes/{name}", handle(h.GetNode))
}

func (h *NodeHandler) ListNodes(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.registry.List())
	return nil
}

func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	p, ok := h.registry.Lookup(name)
	if !ok {
		return errs.NotFound("Node %s not found", name)
	}
	writeJSON(w, http.StatusOK, p.Definition())
	return nil
}

func (h *NodeHandler) ListByCategory(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.registry.ListByCategory(chi.URLParam(r, "category")))
	return nil
}
