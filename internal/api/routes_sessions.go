package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, sessions *handlers.SessionHandler, records *handlers.RecordsHandler) {
	group := api.Group("/sessions")
	{
		group.POST("", sessions.Schedule)
		group.GET("/:id", sessions.Get)
		group.POST("/:id/start", sessions.Start)
		group.GET("/:id/join/qr", sessions.JoinQR)
		group.POST("/:id/live", sessions.GoLive)
		group.POST("/:id/end", sessions.End)
		group.POST("/:id/cancel", sessions.Cancel)
		group.DELETE("/:id/participants/:participantID", sessions.RemoveParticipant)

		group.GET("/:id/attendance", records.Attendance)
		group.POST("/:id/violations", records.ReportViolation)
		group.GET("/:id/violations", records.Violations)
	}

	api.GET("/teachers/:id/sessions/count", records.TeacherSessionCount)
}
