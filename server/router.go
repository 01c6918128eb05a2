package server

import (
	"time"

	httpHandler "smm-publisher/interfaces/http"
	"smm-publisher/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func InitiateRouter(
	publishHandler httpHandler.IPublishHandler,
	credentialsHandler httpHandler.ICredentialsHandler,
	stream gin.HandlerFunc,
	allowOrigins []string,
	secretKey string,
) *gin.Engine {
	origins := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		origins[o] = true
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) bool {
			return origins[origin]
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/healthz", httpHandler.Health)

	api := router.Group("api")
	api.Use(middleware.Auth(secretKey))

	publish := api.Group("/publish")
	{
		publish.POST("/:contentId", publishHandler.Publish)
		publish.GET("/:contentId/status", publishHandler.GetStatus)
		publish.GET("/:contentId/history", publishHandler.GetHistory)
	}
	credentials := api.Group("/credentials")
	{
		credentials.PUT("/:platform", credentialsHandler.Put)
		credentials.GET("/:platform", credentialsHandler.Status)
	}
	if stream != nil {
		api.GET("/stream/publications", stream)
	}

	return router
}
