package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/models"
	"roomchat/internal/moderation"
	"roomchat/internal/realtime"
	"roomchat/internal/repository"
)

// SessionService 處理三種 websocket 連線：聊天室、在線狀態與通知
type SessionService struct {
	users         *UserService
	rooms         *RoomService
	notifications *NotificationService
	resolver      *moderation.Resolver
	profiles      repository.ProfileRepository
	bus           EventBus
	registry      *realtime.Registry
	settings      SessionSettings
	logger        *slog.Logger
	now           func() time.Time

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewSessionService(users *UserService, rooms *RoomService, notifications *NotificationService, resolver *moderation.Resolver,
	profiles repository.ProfileRepository, bus EventBus, registry *realtime.Registry, settings SessionSettings, logger *slog.Logger) *SessionService {
	return &SessionService{
		users:         users,
		rooms:         rooms,
		notifications: notifications,
		resolver:      resolver,
		profiles:      profiles,
		bus:           bus,
		registry:      registry,
		settings:      settings,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		shutdown:      make(chan struct{}),
	}
}

func (s *SessionService) SetClock(now func() time.Time) { s.now = now }

// Shutdown 關閉所有進行中的連線，可重複呼叫
func (s *SessionService) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// authenticate 驗證失敗時直接關閉連線，不送出錯誤事件
func (s *SessionService) authenticate(ctx context.Context, conn Conn, token string) (*models.User, bool) {
	user, err := s.users.Authenticate(ctx, token)
	if err != nil {
		s.logger.Debug("websocket authentication failed", "error", err)
		_ = conn.Close()
		return nil, false
	}
	return user, true
}

func (s *SessionService) reject(conn Conn, reason string) {
	deadline := time.Now().Add(s.settings.WriteWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}
