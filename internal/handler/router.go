package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kbqa-go/internal/metrics"
	"kbqa-go/internal/middleware"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/token"
)

// Services 汇集路由需要的全部业务服务。
type Services struct {
	JWT       *token.JWTManager
	Users     service.UserService
	Sessions  service.SessionService
	Knowledge service.KnowledgeService
	Contexts  service.ContextService
	Chat      service.ChatService
	// HealthChecks 在 /healthz 中逐个执行，任一失败返回 503。
	HealthChecks map[string]func(ctx context.Context) error
}

// NewRouter 创建 gin 引擎并注册全部路由。
func NewRouter(mode string, s Services) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	metrics.Init()

	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", healthz(s.HealthChecks))
	r.GET("/metrics", metrics.Handler())

	userHandler := NewUserHandler(s.Users)
	knowledgeHandler := NewKnowledgeHandler(s.Knowledge, s.Contexts)
	sessionHandler := NewSessionHandler(s.Sessions)
	chatHandler := NewChatHandler(s.Chat, s.Users, s.JWT)
	authed := middleware.AuthMiddleware(s.JWT, s.Users)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", NewAuthHandler(s.Users).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)
			users.GET("/me", authed, userHandler.GetProfile)
		}

		knowledge := apiV1.Group("/knowledge")
		knowledge.Use(authed)
		{
			knowledge.POST("/bases", knowledgeHandler.CreateBase)
			knowledge.GET("/bases", knowledgeHandler.ListBases)
			knowledge.DELETE("/bases/:kbId", knowledgeHandler.DeleteBase)
			knowledge.POST("/bases/:kbId/documents", knowledgeHandler.UploadDocument)
			knowledge.GET("/bases/:kbId/documents", knowledgeHandler.ListDocuments)
			knowledge.DELETE("/documents/:docId", knowledgeHandler.DeleteDocument)
			knowledge.GET("/documents/:docId/chunks", knowledgeHandler.ListChunks)
			knowledge.PUT("/chunks/:chunkId", knowledgeHandler.UpdateChunk)
			knowledge.DELETE("/chunks/:chunkId", knowledgeHandler.DeleteChunk)
			knowledge.POST("/search", knowledgeHandler.Search)
		}

		chat := apiV1.Group("/chat")
		{
			// WebSocket 无法携带 Authorization 头，token 放在路径中
			chat.GET("/ws/:token", chatHandler.Handle)

			chatAuthed := chat.Group("")
			chatAuthed.Use(authed)
			chatAuthed.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
			chatAuthed.POST("/stream", chatHandler.Stream)
			chatAuthed.POST("/sessions", sessionHandler.Create)
			chatAuthed.GET("/sessions", sessionHandler.List)
			chatAuthed.DELETE("/sessions/:sessionId", sessionHandler.Delete)
			chatAuthed.GET("/sessions/:sessionId/messages", sessionHandler.Messages)
		}
	}
	return r
}

func healthz(checks map[string]func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		status := gin.H{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		c.JSON(code, gin.H{"code": code, "message": http.StatusText(code), "data": status})
	}
}
