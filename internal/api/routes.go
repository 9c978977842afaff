package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat/internal/api/handlers"
	"roomchat/internal/middleware"
	"roomchat/internal/service"
	"roomchat/internal/utils"
)

func SetupRoutes(r *gin.Engine, services *service.Services, tokens *utils.TokenManager, allowedOrigins []string) {
	// 初始化 handlers
	authHandler := handlers.NewAuthHandler(services.User)
	roomHandler := handlers.NewRoomHandler(services.Room, services.User)
	moderationHandler := handlers.NewModerationHandler(services.Moderation, services.User)
	wsHandler := handlers.NewWebSocketHandler(services.Sessions, allowedOrigins)

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "找不到該路徑",
		})
	})

	// WebSocket 連接，token 由連線本身驗證
	ws := r.Group("/ws")
	{
		ws.GET("/chat/:slug", wsHandler.Chat)
		ws.GET("/presence", wsHandler.Presence)
		ws.GET("/notifications", wsHandler.Notifications)
	}

	// API 路由群組
	api := r.Group("/api")

	// 公開路由
	{
		// 用戶認證相關
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)

		// 基本的健康檢查
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	// 需要驗證的路由
	authorized := api.Group("/")
	authorized.Use(middleware.AuthMiddleware(tokens))
	{
		// 聊天室相關
		rooms := authorized.Group("/rooms")
		{
			rooms.GET("", roomHandler.ListRooms)     // 獲取房間列表
			rooms.POST("", roomHandler.CreateRoom)   // 創建房間
			rooms.GET("/:slug", roomHandler.GetRoom) // 獲取房間信息
			rooms.DELETE("/:slug", roomHandler.DeleteRoom)

			// 房間參與
			rooms.POST("/:slug/join", roomHandler.JoinRoom)
			rooms.POST("/:slug/leave", roomHandler.LeaveRoom)
			rooms.POST("/:slug/invite", roomHandler.InviteUser)
			rooms.GET("/:slug/messages", roomHandler.GetMessages)
			rooms.POST("/:slug/messages", roomHandler.SendMessage)
			rooms.GET("/:slug/online", roomHandler.GetOnlineMembers)
		}

		// 管理指令
		moderation := authorized.Group("/moderation")
		{
			room := moderation.Group("/rooms/:slug")
			room.POST("/ban", moderationHandler.Ban)
			room.POST("/unban", moderationHandler.Unban)
			room.POST("/mute", moderationHandler.Mute)
			room.POST("/unmute", moderationHandler.Unmute)
			room.POST("/kick", moderationHandler.Kick)
			room.POST("/warn", moderationHandler.Warn)
			room.GET("/mutes/:user_id", moderationHandler.CheckMuted)
			room.GET("/actions", moderationHandler.ListActions)
			room.GET("/reports", moderationHandler.ListReports)

			// 全域指令
			moderation.POST("/ban", moderationHandler.Ban)
			moderation.POST("/unban", moderationHandler.Unban)
			moderation.POST("/warn", moderationHandler.Warn)
			moderation.GET("/actions", moderationHandler.ListActions)
			moderation.GET("/reports", moderationHandler.ListReports)

			moderation.POST("/messages/:id/delete", moderationHandler.DeleteMessage)
			moderation.POST("/messages/:id/report", moderationHandler.ReportMessage)
			moderation.POST("/reports/:id/review", moderationHandler.ReviewReport)
		}
	}
}
