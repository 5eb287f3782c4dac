package handlers

import (
	"errors"
	"net/http"
	"strings"

	root "cadence_scheduler"
	"cadence_scheduler/internal/service"

	"github.com/gin-gonic/gin"
)

// Single, shared credentials payload for both sign-up and sign-in.
type authCredentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// bindJSONOrBadRequest tries to bind the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled (aborted), true otherwise.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if h.log != nil {
			h.log.Infow("bad_request_body", "path", c.FullPath(), "err", err)
		}
		c.JSON(http.StatusBadRequest, root.ErrorResponse{Error: errInvalidBodyPref + err.Error()})
		return false
	}
	return true
}

// @Summary      Sign up
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body   authCredentials  true  "Credentials"
// @Success      200   {object}  map[string]int
// @Failure      400   {object}  cadence_scheduler.ErrorResponse
// @Failure      409   {object}  cadence_scheduler.ErrorResponse
// @Router       /auth/sign-up [post]
func (h *Handler) signUp(c *gin.Context) {
	var input authCredentials
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}
	username := strings.TrimSpace(input.Username)

	id, err := h.services.SignUp(c.Request.Context(), username, input.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, root.ErrorResponse{Error: err.Error()})
			return
		}
		if h.log != nil {
			h.log.Infow("auth_sign_up_failed", "username", username, "err", err)
		}
		h.respondServiceError(c, "failed to create user", "auth_sign_up_error", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// @Summary      Sign in
// @Description  Returns a bearer token for the /api/v1 routes.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body   authCredentials  true  "Credentials"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  cadence_scheduler.ErrorResponse
// @Failure      401   {object}  cadence_scheduler.ErrorResponse
// @Router       /auth/sign-in [post]
func (h *Handler) signIn(c *gin.Context) {
	var input authCredentials
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}
	username := strings.TrimSpace(input.Username)

	token, err := h.services.GenerateToken(c.Request.Context(), username, input.Password)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidCredentials) {
			h.logAndJSONError(c, http.StatusInternalServerError, "failed to sign in", "auth_sign_in_error", err, "username", username)
			return
		}
		if h.log != nil {
			h.log.Infow("auth_sign_in_failed", "username", username)
		}
		c.JSON(http.StatusUnauthorized, root.ErrorResponse{Error: "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
