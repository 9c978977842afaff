package service

import (
	"log/slog"
	"time"

	"roomchat/internal/moderation"
	"roomchat/internal/realtime"
	"roomchat/internal/repository"
	"roomchat/internal/utils"
)

// Dependencies 是建立所有服務需要的元件
type Dependencies struct {
	Repos     *repository.Repositories
	Registry  *realtime.Registry
	Broker    EventBus
	Tokens    *utils.TokenManager
	Session   SessionSettings
	Scheduler ExpiryScheduler // nil 表示不排程，到期狀態在下次查詢時處理
	Logger    *slog.Logger
	Now       func() time.Time // nil 表示使用 time.Now
}

type Services struct {
	User         *UserService
	Room         *RoomService
	Moderation   *ModerationService
	Notification *NotificationService
	Sessions     *SessionService
	Resolver     *moderation.Resolver
}

func NewServices(deps Dependencies) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	repos := deps.Repos

	resolverOpts := []moderation.Option{moderation.WithLogger(logger)}
	if deps.Now != nil {
		resolverOpts = append(resolverOpts, moderation.WithClock(deps.Now))
	}
	resolver := moderation.NewResolver(repos.Profile, repos.Moderation, resolverOpts...)

	notifications := NewNotificationService(repos.Notification, deps.Broker, logger)
	users := NewUserService(repos.User, repos.Profile, deps.Tokens)
	rooms := NewRoomService(repos, resolver, deps.Broker, deps.Registry, notifications, deps.Session.MaxMessageLength, logger)
	mod := NewModerationService(repos, resolver, deps.Broker, notifications, deps.Scheduler, logger)
	sessions := NewSessionService(users, rooms, notifications, resolver, repos.Profile, deps.Broker, deps.Registry, deps.Session, logger)

	if deps.Now != nil {
		rooms.SetClock(deps.Now)
		mod.SetClock(deps.Now)
		sessions.SetClock(deps.Now)
	}

	return &Services{
		User:         users,
		Room:         rooms,
		Moderation:   mod,
		Notification: notifications,
		Sessions:     sessions,
		Resolver:     resolver,
	}
}
