package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRequest is the optional registration payload. The fingerprint is
// accepted for client compatibility and is never stored or logged.
type RegisterRequest struct {
	DeviceFingerprint string `json:"deviceFingerprint,omitempty" example:"ios-4f1c"`
}

// RegisterResponse carries the new identity. Token is shown only once.
type RegisterResponse struct {
	ShadowID string `json:"shadowId" example:"9c1f0e7a5b..."`
	Token    string `json:"token"    example:"3f9a..."`
}

// Register godoc
// @ID          register
// @Summary     Create a pseudonymous identity
// @Description Issues a bearer token and a public shadow id. Only a keyed hash of the token is stored.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest   false  "Optional device fingerprint"
// @Success     201   {object}  handlers.RegisterResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	reg, err := h.users.Register(c.Request.Context(), req.DeviceFingerprint)
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, http.StatusCreated, RegisterResponse{ShadowID: reg.ShadowID, Token: reg.Token})
}
