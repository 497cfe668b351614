package httpapi

import (
	"outbound-dialer/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Mount registers the authenticated API on v1. The caller installs the access
// token middleware on v1 first.
func (h Handlers) Mount(v1 *gin.RouterGroup) {
	v1.Use(rbac.RequireWorkspace(), withActor())

	run := rbac.Require(rbac.PermQueueRun)
	manage := rbac.Require(rbac.PermQueueManage)
	report := rbac.Require(rbac.PermReportRead)

	queues := v1.Group("/queues")
	{
		queues.POST("", manage, h.CreateQueue)
		queues.GET("/:queue_id", run, h.GetQueue)
		queues.GET("/:queue_id/summary", report, h.QueueSummary)
		queues.GET("/:queue_id/activity", report, h.QueueActivity)
	}

	sess := queues.Group("/:queue_id/session", run)
	{
		sess.POST("", h.OpenSession)
		sess.GET("", h.GetSession)
		sess.DELETE("", h.CloseSession)
		sess.GET("/events", h.StreamEvents)

		sess.POST("/start", h.Start())
		sess.POST("/next", h.Next())
		sess.POST("/pause", h.Pause())
		sess.POST("/resume", h.Resume())
		sess.POST("/hangup", h.HangUp())
		sess.POST("/legs/:call_sid/hangup", h.HangUpLeg())

		sess.POST("/items/:item_id/skip", h.Skip)
		sess.POST("/items/:item_id/result", h.RecordResult)
		sess.POST("/items/:item_id/disposition", h.SetDisposition)
		sess.POST("/items/:item_id/requeue", manage, h.Requeue())

		sess.PUT("/settings", manage, h.UpdateSettings)
		sess.PUT("/parallel", h.SetParallel)
		sess.PUT("/caller-id", h.SetCallerID)
		sess.PUT("/local-presence", h.SetLocalPresence)
		sess.POST("/caller-id/refresh", h.RefreshNumbers)
	}

	if h.Lines != nil {
		v1.GET("/lines", report, h.LineUsage)
	}

	if h.Sandbox != nil {
		v1.POST("/sandbox/legs/:call_sid/events", run, h.SandboxSignal)
	}
}
