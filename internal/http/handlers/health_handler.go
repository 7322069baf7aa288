package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string  `json:"status"  example:"ok"`
	Uptime  float64 `json:"uptime"  example:"12.5"`
	Version string  `json:"version" example:"1.0.0"`
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(h.opts.StartedAt).Seconds(),
		Version: h.opts.Version,
	})
}
