package service

import (
	"context"

	"roomchat/internal/realtime"
)

// ServeNotifications 處理通知連線，連線時先送出未讀數
func (s *SessionService) ServeNotifications(ctx context.Context, conn Conn, token string) {
	user, ok := s.authenticate(ctx, conn, token)
	if !ok {
		return
	}

	sess := newSession(context.WithoutCancel(ctx), conn, user, s.bus, s.registry, s.settings, s.logger.With("key", realtime.NotificationKey))
	sess.join(realtime.NotificationKey, realtime.NotificationTopic(user.ID))

	if count, err := s.notifications.UnreadCount(sess.ctx, user.ID); err != nil {
		sess.logger.Warn("load unread count", "error", err)
	} else {
		sess.send(&realtime.UnreadCountFrame{Count: count})
	}

	sess.run(s.shutdown, func(frame inboundFrame) {
		switch frame.Type {
		case "mark_read":
			count, err := s.notifications.MarkRead(sess.ctx, user.ID, frame.NotificationID)
			if err != nil {
				sess.logger.Warn("mark notification read", "notification_id", frame.NotificationID, "error", err)
				sess.sendError("failed to mark notification read")
				return
			}
			sess.send(&realtime.UnreadCountFrame{Count: count})
		case "heartbeat":
		default:
			sess.sendError("unknown frame type: " + frame.Type)
		}
	})
}
