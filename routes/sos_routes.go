package routes

import (
	handlers "goride-sos/internal/handlers/shared"
	"goride-sos/internal/middleware"
	"goride-sos/pkg/realtime"

	"github.com/gin-gonic/gin"
)

// SetupSOSRoutes sets up routes for emergency functionality
func SetupSOSRoutes(r *gin.RouterGroup, sosHandler *handlers.SOSHandler, wsHandler *realtime.Handler, jwtSecret string) {
	// Reporter-facing routes (riders and drivers)
	sos := r.Group("/sos")
	sos.Use(middleware.AuthRequired(jwtSecret))
	{
		sos.POST("/trigger", sosHandler.TriggerSOS)
		sos.POST("/:id/location", sosHandler.ReportLocation)
		sos.GET("/:id", sosHandler.GetEmergency)
		sos.POST("/:id/cancel", sosHandler.CancelOwn)
	}

	// Operator console routes
	admin := r.Group("/admin/emergencies")
	admin.Use(middleware.AuthRequired(jwtSecret), middleware.OperatorRequired())
	{
		admin.GET("/", sosHandler.ListEmergencies)
		admin.GET("/:id", sosHandler.GetEmergency)
		admin.POST("/:id/acknowledge", sosHandler.Acknowledge)
		admin.POST("/:id/dispatch", sosHandler.DispatchHelp)
		admin.POST("/:id/escalate", sosHandler.Escalate)
		admin.POST("/:id/resolve", sosHandler.Resolve)
		admin.POST("/:id/cancel", sosHandler.Cancel)
		admin.POST("/:id/responders", sosHandler.AssignResponder)
		admin.DELETE("/:id/responders", sosHandler.UnassignResponder)
	}

	// Realtime subscriptions; both reporters and operators join topics here
	ws := r.Group("/ws")
	ws.Use(middleware.AuthRequired(jwtSecret))
	{
		ws.GET("/emergencies", wsHandler.HandleWebSocket)
	}
}
