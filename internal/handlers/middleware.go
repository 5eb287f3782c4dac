package handlers

import (
	"net/http"
	"strings"

	root "cadence_scheduler"

	"github.com/gin-gonic/gin"
)

// userCtxKey is the gin context key holding the authenticated user id.
const userCtxKey = "userId"

func (h *Handler) userIdMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, root.ErrorResponse{Error: "missing Authorization header"})
		return
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, root.ErrorResponse{Error: "invalid Authorization header format"})
		return
	}

	userId, err := h.services.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, root.ErrorResponse{Error: "invalid or expired token"})
		return
	}

	c.Set(userCtxKey, userId)
	c.Next()
}
