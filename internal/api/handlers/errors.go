package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat/internal/middleware"
	"roomchat/internal/models"
	"roomchat/internal/service"
)

// statusOf 把服務層錯誤對應到 HTTP 狀態碼
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrMuted), errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError 回傳錯誤，5xx 不把內部細節送給客戶端
func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "request_id", c.GetString("requestID"), "error", err)
		c.JSON(status, gin.H{"error": "伺服器內部錯誤"})
		return
	}
	c.JSON(status, gin.H{"error": service.PublicMessage(err)})
}

// currentUser 載入 AuthMiddleware 驗證過的用戶
func currentUser(c *gin.Context, users *service.UserService) (*models.User, bool) {
	id, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return nil, false
	}
	user, err := users.GetUser(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return nil, false
		}
		respondError(c, err)
		return nil, false
	}
	return user, true
}
