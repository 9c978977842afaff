package service

import (
	"context"
	"errors"

	"roomchat/internal/models"
	"roomchat/internal/realtime"
)

const mutedMessage = "You are muted in this room"

// ServeChat 處理房間聊天連線，阻塞到連線結束
func (s *SessionService) ServeChat(ctx context.Context, conn Conn, token, slug string) {
	user, ok := s.authenticate(ctx, conn, token)
	if !ok {
		return
	}
	room, err := s.rooms.GetRoom(ctx, slug)
	if err != nil {
		s.logger.Debug("chat join denied", "user_id", user.ID, "room", slug, "error", err)
		s.reject(conn, "room not found")
		return
	}
	if _, err := s.rooms.AuthorizeJoin(ctx, room, user); err != nil {
		s.logger.Info("chat join denied", "user_id", user.ID, "room", slug, "error", err)
		s.reject(conn, "access denied")
		return
	}

	sess := newSession(context.WithoutCancel(ctx), conn, user, s.bus, s.registry, s.settings, s.logger.With("room", room.Slug))
	sess.join(room.Slug,
		realtime.RoomTopic(room.Slug),
		realtime.UserRoomTopic(user.ID, room.Slug),
		realtime.UserTopic(user.ID),
	)

	// 檢查與訂閱之間發出的封鎖
	if allowed, err := s.resolver.CanAccess(sess.ctx, user.ID, room.ID); err == nil && !allowed {
		sess.send(&realtime.ForceDisconnectFrame{Action: "ban", Reason: "You are banned from this room"})
	}
	if mute, err := s.resolver.MuteStatus(sess.ctx, user.ID, room.ID); err != nil {
		sess.logger.Warn("load mute status", "error", err)
	} else if mute.Muted {
		sess.send(&realtime.MuteStatusFrame{IsMuted: true, ExpiresAt: mute.ExpiresAt})
	}

	sess.logger.Info("chat session joined")
	sess.run(s.shutdown, func(frame inboundFrame) {
		s.handleChatFrame(sess, room, frame)
	})
}

func (s *SessionService) handleChatFrame(sess *session, room *models.Room, frame inboundFrame) {
	switch frame.Type {
	case "message":
		_, err := s.rooms.SendMessage(sess.ctx, room, sess.user, MessageInput{
			Text:     frame.Message,
			ImageURL: frame.ImageURL,
			ParentID: frame.ParentID,
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrForbidden):
			sess.send(&realtime.ForceDisconnectFrame{Action: "ban", Reason: "You are banned from this room"})
		case errors.Is(err, ErrMuted), errors.Is(err, ErrValidation):
			sess.sendError(PublicMessage(err))
		default:
			sess.logger.Error("send message", "error", err)
			sess.sendError("failed to send message")
		}

	case "typing":
		s.bus.Publish(realtime.RoomTopic(room.Slug), realtime.MustEvent(&realtime.TypingFrame{
			Username: sess.user.Username,
			UserID:   sess.user.ID,
			IsTyping: frame.IsTyping,
		}, realtime.FromUser(sess.user.ID)))

	case "heartbeat":
		// 讀取期限已在 readPump 延長

	default:
		sess.sendError("unknown frame type: " + frame.Type)
	}
}
