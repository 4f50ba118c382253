package controllers

import (
	"github.com/go-chi/chi/v5"

	"github.com/rzbill/kvbridge/internal/runtime"
)

// ControllerRegistry groups the HTTP controllers and registers their routes.
type ControllerRegistry struct {
	general *GeneralController
	bridge  *BridgeController
}

func NewControllerRegistry(rt *runtime.Runtime) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		bridge:  NewBridgeController(rt),
	}
}

// RegisterAllRoutes registers every controller's routes on r.
func (c *ControllerRegistry) RegisterAllRoutes(r chi.Router) {
	c.general.RegisterRoutes(r)
	c.bridge.RegisterRoutes(r)
}
