package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Process is the external trigger: it runs one processing pass immediately
// and reports the batch summary. Safe to call concurrently with the internal
// scheduler; item claiming makes double-invocation harmless.
func (a Api) Process(c *gin.Context) {
	result, err := a.engine.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":       err.Error(),
			"processed":   result.Processed,
			"errors":      result.Errors,
			"duration_ms": result.DurationMs,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
