package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/runtime"
)

// BridgeController serves the replication status views.
type BridgeController struct {
	rt *runtime.Runtime
}

func NewBridgeController(rt *runtime.Runtime) *BridgeController {
	return &BridgeController{rt: rt}
}

func (c *BridgeController) RegisterRoutes(r chi.Router) {
	r.Get("/v1/status", c.handleStatus)
	r.Get("/v1/lag", c.handleLag)
}

func (c *BridgeController) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.rt.Status())
}

// LagResponse is the body of GET /v1/lag.
type LagResponse struct {
	Checkpoint   mutation.Position `json:"checkpoint"`
	UpstreamLast mutation.Position `json:"upstreamLast"`
	Lag          uint64            `json:"lag"`
}

func (c *BridgeController) handleLag(w http.ResponseWriter, r *http.Request) {
	st := c.rt.Status()
	resp := LagResponse{UpstreamLast: st.UpstreamLast, Lag: st.Lag}
	if st.Checkpoint != nil {
		resp.Checkpoint = st.Checkpoint.Position
	}
	writeJSON(w, resp)
}
