package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bookswap/internal/models"
)

// writeError maps error kinds to HTTP statuses
func (h *handlers) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, models.ErrState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, models.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		)
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.JSON(status, gin.H{"error": code, "msg": err.Error()})
}
