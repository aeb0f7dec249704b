package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	appsvc "github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/bootstrap"
	"github.com/dnaforca/backend/internal/cache"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/platform/rabbitmq"
	"github.com/dnaforca/backend/internal/rag"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/transport/http/handler"
	"github.com/dnaforca/backend/internal/transport/http/middleware"
)

const webhookMaxBody = 1 << 20

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		cors.New(corsConfig(app.Config.CORS.AllowedOrigins)),
		middleware.RequestLogger(app.Logger),
		gin.Recovery(),
	)

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.DB)
	sessionRepo := repository.NewChatSessionRepository(app.DB)
	messageRepo := repository.NewChatMessageRepository(app.DB)
	materialRepo := repository.NewMaterialRepository(app.DB)
	configRepo := repository.NewAssistantConfigRepository(app.DB)

	persistPublisher := rabbitmq.NewPublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)
	ingestPublisher := rabbitmq.NewPublisher(app.MQConn, app.Config.RabbitMQ.IngestQueue)
	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	retriever := rag.NewRetriever(app.VectorStore, app.LLMClient, app.EmbeddingConfig())

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	userService := appsvc.NewUserService(userRepo, sessionRepo, messageRepo)
	webhookService := appsvc.NewWebhookService(userRepo, app.Config.Webhook.Secret)
	materialService := appsvc.NewMaterialService(materialRepo, app.Files, app.VectorStore, ingestPublisher)
	chatService := appsvc.NewChatService(
		sessionRepo,
		messageRepo,
		materialRepo,
		configRepo,
		retriever,
		app.LLMClient,
		app.ChatConfig(),
		persistPublisher,
		historyCache,
		app.Config.LLM.MaxContextMessage,
	)
	configService := appsvc.NewAssistantConfigService(configRepo)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	webhookHandler := handler.NewWebhookHandler(webhookService)
	materialHandler := handler.NewMaterialHandler(materialService)
	chatHandler := handler.NewChatHandler(chatService)
	assistantHandler := handler.NewAssistantHandler(configService)

	authJWT := middleware.AuthJWT(app.Config.Auth.JWTSecret)
	adminOnly := middleware.RequireRoles(model.RoleAdmin)
	uploaderRoles := middleware.RequireRoles(model.RoleInstructor, model.RoleAdmin)

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", authJWT, authHandler.Me)
	authGroup.POST("/webhook/users",
		middleware.WebhookGuard(app.Config.Webhook.RatePerSec, app.Config.Webhook.Burst, webhookMaxBody),
		webhookHandler.HandleUserEvent,
	)

	usersGroup := v1.Group("/users", authJWT, adminOnly)
	usersGroup.GET("", userHandler.List)
	usersGroup.POST("/:id/approve", userHandler.Approve)
	usersGroup.PUT("/:id/role", userHandler.ChangeRole)
	usersGroup.DELETE("/:id", userHandler.Delete)

	materialsGroup := v1.Group("/materials", authJWT)
	materialsGroup.GET("", materialHandler.List)
	materialsGroup.GET("/:id", materialHandler.Get)
	materialsGroup.GET("/:id/download", materialHandler.Download)
	materialsGroup.POST("", uploaderRoles, materialHandler.Upload)
	materialsGroup.PUT("/:id", uploaderRoles, materialHandler.Update)
	materialsGroup.POST("/:id/reindex", uploaderRoles, materialHandler.Reindex)
	materialsGroup.DELETE("/:id", uploaderRoles, materialHandler.Delete)

	chatGroup := v1.Group("/chat", authJWT)
	chatGroup.POST("/sessions", chatHandler.CreateSession)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)
	chatGroup.POST("/messages", chatHandler.SendMessage)
	chatGroup.POST("/messages/stream", chatHandler.StreamMessage)
	chatGroup.GET("/history", chatHandler.GetHistory)
	chatGroup.POST("/learning-path", chatHandler.LearningPath)

	assistantGroup := v1.Group("/assistant", authJWT)
	assistantGroup.GET("/config", assistantHandler.GetConfig)
	assistantGroup.PUT("/config", adminOnly, assistantHandler.UpdateConfig)

	return router
}

func corsConfig(origins []string) cors.Config {
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}
