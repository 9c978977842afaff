package service

import (
	"context"

	"roomchat/internal/models"
	"roomchat/internal/realtime"
)

// ServePresence 處理在線狀態連線。最後一條連線離開時才發佈 offline。
func (s *SessionService) ServePresence(ctx context.Context, conn Conn, token string) {
	user, ok := s.authenticate(ctx, conn, token)
	if !ok {
		return
	}

	sess := newSession(context.WithoutCancel(ctx), conn, user, s.bus, s.registry, s.settings, s.logger.With("key", realtime.PresenceKey))
	sess.join(realtime.PresenceKey, realtime.PresenceTopic)
	s.setStatus(sess.ctx, user, models.StatusOnline)

	sess.onLeave = func(stillPresent bool) {
		if stillPresent {
			return
		}
		s.markOffline(context.Background(), user)
	}

	sess.run(s.shutdown, func(frame inboundFrame) {
		switch frame.Type {
		case "heartbeat":
			if err := s.profiles.Touch(sess.ctx, user.ID, s.now()); err != nil {
				sess.logger.Warn("update last seen", "error", err)
			}
		case "status_change":
			status := models.OnlineStatus(frame.Status)
			if !status.Valid() {
				sess.sendError("invalid status: " + frame.Status)
				return
			}
			s.setStatus(sess.ctx, user, status)
		default:
			sess.sendError("unknown frame type: " + frame.Type)
		}
	})
}

// markOffline 在最後一條連線離開後寫入 offline。
// 離開與寫入之間若有新的連線登記，用戶仍然在線，不發佈 offline。
func (s *SessionService) markOffline(ctx context.Context, user *models.User) {
	if s.registry.IsPresent(realtime.PresenceKey, user.ID) {
		return
	}
	s.setStatus(ctx, user, models.StatusOffline)
}

func (s *SessionService) setStatus(ctx context.Context, user *models.User, status models.OnlineStatus) {
	if err := s.profiles.SetStatus(ctx, user.ID, status); err != nil {
		s.logger.Warn("update online status", "user_id", user.ID, "status", status, "error", err)
	}
	s.bus.Publish(realtime.PresenceTopic, realtime.MustEvent(&realtime.StatusFrame{
		UserID:   user.ID,
		Username: user.Username,
		Status:   status,
	}))
}
