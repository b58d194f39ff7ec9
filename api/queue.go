package api

import (
	"net/http"

	model2 "github.com/replyloop/autopilot/api/model"
	"github.com/replyloop/autopilot/internal/apierror"

	"github.com/gin-gonic/gin"
)

func (a Api) EnqueueReply(c *gin.Context) {
	var newReply model2.EnqueueReply
	if err := c.ShouldBindJSON(&newReply); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := newReply.ValidateEnqueueReply()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.engine.EnqueueReply(c.Request.Context(), newReply.ToQueueItem())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetQueueItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.engine.GetQueueItem(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelReply(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	cancelled, err := a.engine.CancelReply(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "item is not pending; it may already be processing or finished"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (a Api) QueueStats(c *gin.Context) {
	stats, err := a.engine.QueueStats(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}
