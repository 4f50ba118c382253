package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/kvbridge/internal/namespace"
	"github.com/rzbill/kvbridge/internal/runtime"
)

// GeneralController serves health probes and the namespace registry.
type GeneralController struct {
	rt *runtime.Runtime
}

func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers:
//   - GET /healthz (alias /v1/healthz): local storage usable
//   - GET /readyz: downstream answers PING
//   - GET, POST /v1/namespaces
func (c *GeneralController) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", c.handleHealth)
	r.Get("/v1/healthz", c.handleHealth)
	r.Get("/readyz", c.handleReady)
	r.Get("/v1/namespaces", c.handleListNamespaces)
	r.Post("/v1/namespaces", c.handleNSCreate)
}

func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GeneralController) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckReady(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

func (c *GeneralController) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	list, err := c.rt.Namespaces()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list namespaces")
		return
	}
	if list == nil {
		list = []namespace.Meta{}
	}
	writeJSON(w, map[string]any{"namespaces": list})
}

type nsCreateReq struct {
	Namespace string `json:"namespace"`
	DB        int    `json:"db"`
}

// handleNSCreate registers a namespace and routes it to the requested DB.
// Returns 201 with the stored metadata.
func (c *GeneralController) handleNSCreate(w http.ResponseWriter, r *http.Request) {
	var req nsCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := namespace.ValidateName(req.Namespace); err != nil || req.DB < 0 {
		writeError(w, http.StatusBadRequest, "Invalid namespace or db")
		return
	}
	meta, err := c.rt.EnsureNamespace(req.Namespace, req.DB)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create namespace")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(meta)
}
