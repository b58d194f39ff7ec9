package api

import (
	"net/http"

	"github.com/replyloop/autopilot/internal/apierror"
	"github.com/replyloop/autopilot/model"

	"github.com/gin-gonic/gin"
)

func (a Api) GetPolicy(c *gin.Context) {
	accountID, passed := c.Params.Get("account_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required. pass id in the route /:account_id"})
		return
	}

	resp, err := a.engine.GetPolicy(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdatePolicy(c *gin.Context) {
	accountID, passed := c.Params.Get("account_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required. pass id in the route /:account_id"})
		return
	}

	var update model.PolicyUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.engine.UpdatePolicy(c.Request.Context(), accountID, update)
	if err != nil {
		// Apply rejects invalid windows and filter values before anything
		// is persisted.
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
