package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stillmind/backend/pkg/ledger"
	"github.com/stillmind/backend/pkg/services"
)

// respondError maps service errors to HTTP responses. Everything not
// explicitly classified is a 500 with a generic body; details go to the
// log, never to the client.
func (s *Server) respondError(c *gin.Context, err error) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
		return
	}

	var ice *ledger.InsufficientCreditsError
	if errors.As(err, &ice) {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":    "Insufficient credits",
			"required": ice.Required,
		})
		return
	}

	if errors.Is(err, ledger.ErrUserNotFound) {
		// Token subject with no account row: treat as a bad credential.
		unauthorized(c)
		return
	}

	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	s.logger.Error("request failed",
		"method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
