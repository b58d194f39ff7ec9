package api

import (
	"net/http"

	model2 "github.com/replyloop/autopilot/api/model"
	"github.com/replyloop/autopilot/internal/apierror"

	"github.com/gin-gonic/gin"
)

func (a Api) ConnectAccount(c *gin.Context) {
	var connect model2.ConnectAccount
	if err := c.ShouldBindJSON(&connect); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := connect.ValidateConnectAccount()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.engine.ConnectAccount(c.Request.Context(), connect.ToCredential()); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"connected": true, "account_id": connect.AccountID})
}

func (a Api) DisconnectAccount(c *gin.Context) {
	accountID, passed := c.Params.Get("account_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required. pass id in the route /:account_id"})
		return
	}

	if err := a.engine.DisconnectAccount(c.Request.Context(), accountID); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"disconnected": true, "account_id": accountID})
}
