package http

import (
	"github.com/gin-gonic/gin"

	"coroner-assist/internal/bootstrap"
	"coroner-assist/internal/transport/http/handler"
	"coroner-assist/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLog(app.Logger, app.Metrics), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	threadHandler := handler.NewThreadHandler(app.Threads)
	documentHandler := handler.NewDocumentHandler(app.Documents, app.Config.MaxUploadBytes())

	api := router.Group("/")
	if app.Config.Auth.Enabled {
		api.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	}

	api.POST("/threads/", threadHandler.Create)
	api.GET("/threads/", threadHandler.ListAll)
	api.GET("/threads/:owner", threadHandler.ListByOwner)
	api.GET("/threads/:owner/:thread_id", threadHandler.Get)
	api.PUT("/threads/:owner/:thread_id", threadHandler.Update)
	api.DELETE("/threads/:owner/:thread_id", threadHandler.Delete)

	api.POST("/upload_and_query/", documentHandler.UploadAndQuery)
	api.POST("/upload_and_continue_chat/", documentHandler.UploadAndContinueChat)

	return router
}
