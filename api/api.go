package api

import (
	"github.com/replyloop/autopilot/config"

	"github.com/replyloop/autopilot/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/replyloop/autopilot"
)

type Api struct {
	engine *autopilot.Autopilot
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/queue/replies", a.EnqueueReply)
	router.GET("/queue/replies/:id", a.GetQueueItem)
	router.POST("/queue/replies/:id/cancel", a.CancelReply)
	router.GET("/queue/stats", a.QueueStats)

	router.POST("/posts", a.SchedulePost)
	router.GET("/posts/:id", a.GetScheduledPost)

	router.GET("/policies/:account_id", a.GetPolicy)
	router.PUT("/policies/:account_id", a.UpdatePolicy)

	router.POST("/accounts/connect", a.ConnectAccount)
	router.POST("/accounts/:account_id/disconnect", a.DisconnectAccount)

	router.POST("/process", middleware.TriggerAuthMiddleware(), a.Process)
	return a.router
}

func NewAPI(engine *autopilot.Autopilot) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{engine: engine, router: r}
}
