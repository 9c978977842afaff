package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roomchat/internal/middleware"
	"roomchat/internal/service"
)

// WebSocketHandler 升級連線後交給 SessionService，token 在升級後才驗證，
// 失敗時直接關閉連線
type WebSocketHandler struct {
	sessions       *service.SessionService
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
}

// NewWebSocketHandler 創建一個新的 WebSocketHandler 實例。
// allowedOrigins 為空時只接受同源連線，"*" 表示接受所有來源。
func NewWebSocketHandler(sessions *service.SessionService, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{sessions: sessions, allowedOrigins: make(map[string]bool, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		h.allowedOrigins[strings.TrimRight(strings.TrimSpace(origin), "/")] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.allowedOrigins["*"] || h.allowedOrigins[strings.TrimRight(origin, "/")] {
		return true
	}
	if len(h.allowedOrigins) > 0 {
		return false
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// upgrade 升級 HTTP 連接為 WebSocket 連接，失敗時 Upgrader 已經回應錯誤
func (h *WebSocketHandler) upgrade(c *gin.Context) (*websocket.Conn, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "path", c.FullPath(), "error", err)
		return nil, false
	}
	return conn, true
}

// Chat 處理 /ws/chat/:slug
func (h *WebSocketHandler) Chat(c *gin.Context) {
	token := middleware.RequestToken(c.Request)
	conn, ok := h.upgrade(c)
	if !ok {
		return
	}
	h.sessions.ServeChat(c.Request.Context(), conn, token, c.Param("slug"))
}

// Presence 處理 /ws/presence
func (h *WebSocketHandler) Presence(c *gin.Context) {
	token := middleware.RequestToken(c.Request)
	conn, ok := h.upgrade(c)
	if !ok {
		return
	}
	h.sessions.ServePresence(c.Request.Context(), conn, token)
}

// Notifications 處理 /ws/notifications
func (h *WebSocketHandler) Notifications(c *gin.Context) {
	token := middleware.RequestToken(c.Request)
	conn, ok := h.upgrade(c)
	if !ok {
		return
	}
	h.sessions.ServeNotifications(c.Request.Context(), conn, token)
}
