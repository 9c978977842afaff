package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roomchat/internal/utils"
)

const (
	// ContextUserID 與 ContextUsername 是驗證後寫入 gin.Context 的鍵
	ContextUserID   = "userID"
	ContextUsername = "username"
)

// AuthMiddleware 是一個 Gin 中間件，用於驗證請求的 JWT token
func AuthMiddleware(tokens *utils.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 從請求頭中獲取 Authorization 字段
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		token, ok := bearerToken(authHeader)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			c.Abort()
			return
		}

		claims, err := tokens.ParseToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

// RequestToken 從 Authorization 標頭或 token 查詢參數取出 token。
// 瀏覽器的 WebSocket 無法設定標頭，所以連線端點也接受查詢參數。
func RequestToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// CurrentUserID 取得 AuthMiddleware 設定的用戶 ID
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
