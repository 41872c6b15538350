package api

import (
	"net/http"

	"github.com/tzfnuist/ClimWIP/internal/config"
	"github.com/tzfnuist/ClimWIP/internal/store"
)

type AdminHandler struct {
	store store.Store
	cfg   *config.Config
}

func NewAdminHandler(s store.Store, cfg *config.Config) *AdminHandler {
	return &AdminHandler{store: s, cfg: cfg}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no run store configured")
		return
	}
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Config returns the weighting section requests default to.
func (h *AdminHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Weighting)
}
