package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roomchat/internal/models"
	"roomchat/internal/moderation"
	"roomchat/internal/realtime"
	"roomchat/internal/repository"
)

const (
	defaultActionLimit = 50
	// maxDurationMinutes 限制定時封鎖與禁言最長一年，更長請改用永久
	maxDurationMinutes = 365 * 24 * 60
)

// ModerationRequest 描述一個針對用戶的管理操作。RoomSlug 為空表示全域。
type ModerationRequest struct {
	Actor    *models.User
	TargetID uint
	RoomSlug string
	Reason   string
	Duration *int // 分鐘，nil 表示永久
}

// ExpiryNotice 是定時禁言或封鎖到期時要處理的記錄
type ExpiryNotice struct {
	Kind      models.ActionKind `json:"kind"`
	UserID    uint              `json:"user_id"`
	RoomID    uint              `json:"room_id"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ExpiryScheduler 在記錄到期時觸發 HandleExpiry
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, notice ExpiryNotice) error
}

type noopScheduler struct{}

func (noopScheduler) ScheduleExpiry(context.Context, ExpiryNotice) error { return nil }

// ModerationService 執行管理指令：每個指令在一個交易中寫入效果與審計記錄，
// 成功提交後才發佈事件。
type ModerationService struct {
	repos         *repository.Repositories
	resolver      *moderation.Resolver
	publisher     realtime.Publisher
	notifications *NotificationService
	scheduler     ExpiryScheduler
	logger        *slog.Logger
	now           func() time.Time
}

func NewModerationService(repos *repository.Repositories, resolver *moderation.Resolver, publisher realtime.Publisher,
	notifications *NotificationService, scheduler ExpiryScheduler, logger *slog.Logger) *ModerationService {
	if scheduler == nil {
		scheduler = noopScheduler{}
	}
	return &ModerationService{
		repos:         repos,
		resolver:      resolver,
		publisher:     publisher,
		notifications: notifications,
		scheduler:     scheduler,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替換時間來源
func (s *ModerationService) SetClock(now func() time.Time) { s.now = now }

// command 是通過授權檢查後的指令內容
type command struct {
	actor     *models.User
	target    *models.User
	room      *models.Room
	reason    string
	duration  *int
	expiresAt *time.Time
}

func (c *command) roomID() *uint {
	if c.room == nil {
		return nil
	}
	id := c.room.ID
	return &id
}

func (c *command) action(kind models.ActionKind) *models.ModerationAction {
	return &models.ModerationAction{
		ModeratorID:  c.actor.ID,
		TargetUserID: c.target.ID,
		Kind:         kind,
		RoomID:       c.roomID(),
		Reason:       c.reason,
		Duration:     c.duration,
		ExpiresAt:    c.expiresAt,
		Active:       true,
	}
}

func (c *command) notification(kind models.NotificationKind, title, body string) *models.Notification {
	actorID := c.actor.ID
	return &models.Notification{
		RecipientID:   c.target.ID,
		Kind:          kind,
		Title:         title,
		Message:       body,
		RoomID:        c.roomID(),
		RelatedUserID: &actorID,
	}
}

func (c *command) scope() string {
	if c.room == nil {
		return "globally"
	}
	return "in " + c.room.Name
}

// prepare 依序檢查房間、權限與目標，任何一步失敗都不會修改資料
func (s *ModerationService) prepare(ctx context.Context, req ModerationRequest, kind models.ActionKind, roomRequired bool) (*command, error) {
	if req.Actor == nil {
		return nil, ErrUnauthenticated
	}
	cmd := &command{actor: req.Actor, reason: strings.TrimSpace(req.Reason)}

	if req.RoomSlug != "" {
		room, err := s.repos.Room.FindBySlug(ctx, req.RoomSlug)
		if err != nil {
			return nil, storeErr(err, "room "+req.RoomSlug)
		}
		cmd.room = room
	} else if roomRequired {
		return nil, validationf("%s requires a room", kind)
	}

	if cmd.room != nil {
		ok, err := canModerate(ctx, s.repos.Membership, cmd.room, req.Actor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, forbiddenf("user %d cannot moderate %s", req.Actor.ID, cmd.room.Slug)
		}
	} else if !req.Actor.IsStaff && !req.Actor.IsSuperuser {
		return nil, forbiddenf("only staff can %s globally", kind)
	}

	target, err := s.repos.User.FindByID(ctx, req.TargetID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("user %d", req.TargetID))
	}
	cmd.target = target

	if target.ID == req.Actor.ID {
		return nil, validationf("you cannot %s yourself", kind)
	}
	if cmd.room != nil && cmd.room.IsOwner(target.ID) {
		return nil, forbiddenf("the room owner cannot be targeted by %s", kind)
	}
	if kind == models.ActionBan && (target.IsStaff || target.IsSuperuser) && !req.Actor.IsSuperuser {
		return nil, forbiddenf("only superusers can ban staff members")
	}

	if req.Duration != nil {
		if *req.Duration <= 0 {
			return nil, validationf("duration must be a positive number of minutes")
		}
		if *req.Duration > maxDurationMinutes {
			return nil, validationf("duration cannot exceed %d minutes", maxDurationMinutes)
		}
		d := *req.Duration
		expires := s.now().Add(time.Duration(d) * time.Minute)
		cmd.duration, cmd.expiresAt = &d, &expires
	}
	return cmd, nil
}

// Ban 房間封鎖會移除成員資格；全域封鎖寫入 Profile
func (s *ModerationService) Ban(ctx context.Context, req ModerationRequest) (*models.ModerationAction, error) {
	cmd, err := s.prepare(ctx, req, models.ActionBan, false)
	if err != nil {
		return nil, err
	}
	if cmd.reason == "" {
		cmd.reason = "No reason given"
	}

	action := cmd.action(models.ActionBan)
	note := cmd.notification(models.NotifyModeration, "You have been banned",
		fmt.Sprintf("You were banned %s: %s", cmd.scope(), cmd.reason))
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if cmd.room != nil {
			if _, err := tx.Membership.Delete(ctx, cmd.target.ID, cmd.room.ID); err != nil {
				return err
			}
		} else if err := tx.Profile.SetBan(ctx, cmd.target.ID, cmd.reason, cmd.expiresAt); err != nil {
			return err
		}
		if err := tx.Moderation.CreateAction(ctx, action); err != nil {
			return err
		}
		return tx.Notification.Create(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "ban")
	}

	disconnect := realtime.MustEvent(&realtime.ForceDisconnectFrame{Action: "ban", Reason: cmd.reason}, realtime.ForUser(cmd.target.ID))
	if cmd.room != nil {
		s.publisher.Publish(realtime.UserRoomTopic(cmd.target.ID, cmd.room.Slug), disconnect)
		s.publishMemberRemoved(cmd)
		s.schedule(ctx, models.ActionBan, cmd)
	} else {
		s.publisher.Publish(realtime.UserTopic(cmd.target.ID), disconnect)
	}
	s.notifications.Push(ctx, note)
	s.logger.Info("user banned", "actor_id", cmd.actor.ID, "target_id", cmd.target.ID, "room", req.RoomSlug, "expires_at", cmd.expiresAt)
	return action, nil
}

// Unban 失效房間封鎖記錄或清除全域封鎖
func (s *ModerationService) Unban(ctx context.Context, req ModerationRequest) (*models.ModerationAction, error) {
	cmd, err := s.prepare(ctx, req, models.ActionUnban, false)
	if err != nil {
		return nil, err
	}
	if cmd.reason == "" {
		cmd.reason = "Ban removed"
	}
	cmd.duration, cmd.expiresAt = nil, nil

	action := cmd.action(models.ActionUnban)
	note := cmd.notification(models.NotifyModeration, "You have been unbanned",
		fmt.Sprintf("Your ban %s was removed", cmd.scope()))
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if cmd.room != nil {
			if _, err := tx.Moderation.DeactivateBans(ctx, cmd.target.ID, cmd.room.ID); err != nil {
				return err
			}
		} else if err := tx.Profile.ClearBan(ctx, cmd.target.ID); err != nil {
			return err
		}
		if err := tx.Moderation.CreateAction(ctx, action); err != nil {
			return err
		}
		return tx.Notification.Create(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "unban")
	}
	s.notifications.Push(ctx, note)
	s.logger.Info("user unbanned", "actor_id", cmd.actor.ID, "target_id", cmd.target.ID, "room", req.RoomSlug)
	return action, nil
}

// Mute 建立或更新房間禁言
func (s *ModerationService) Mute(ctx context.Context, req ModerationRequest) (*models.ModerationAction, error) {
	cmd, err := s.prepare(ctx, req, models.ActionMute, true)
	if err != nil {
		return nil, err
	}

	action := cmd.action(models.ActionMute)
	note := cmd.notification(models.NotifyModeration, "You have been muted",
		fmt.Sprintf("You were muted %s: %s", cmd.scope(), cmd.reason))
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		mute := &models.Mute{
			UserID:    cmd.target.ID,
			RoomID:    cmd.room.ID,
			MutedByID: cmd.actor.ID,
			Reason:    cmd.reason,
			ExpiresAt: cmd.expiresAt,
			CreatedAt: s.now(),
		}
		if err := tx.Moderation.UpsertMute(ctx, mute); err != nil {
			return err
		}
		if err := tx.Moderation.CreateAction(ctx, action); err != nil {
			return err
		}
		return tx.Notification.Create(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "mute")
	}

	s.publisher.Publish(realtime.UserRoomTopic(cmd.target.ID, cmd.room.Slug), realtime.MustEvent(
		&realtime.MuteStatusFrame{IsMuted: true, ExpiresAt: cmd.expiresAt}, realtime.ForUser(cmd.target.ID)))
	s.notifications.Push(ctx, note)
	s.schedule(ctx, models.ActionMute, cmd)
	s.logger.Info("user muted", "actor_id", cmd.actor.ID, "target_id", cmd.target.ID, "room", cmd.room.Slug, "expires_at", cmd.expiresAt)
	return action, nil
}

// Unmute 刪除房間禁言
func (s *ModerationService) Unmute(ctx context.Context, req ModerationRequest) (*models.ModerationAction, error) {
	cmd, err := s.prepare(ctx, req, models.ActionUnmute, true)
	if err != nil {
		return nil, err
	}
	if cmd.reason == "" {
		cmd.reason = "Mute removed"
	}
	cmd.duration, cmd.expiresAt = nil, nil

	action := cmd.action(models.ActionUnmute)
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if _, err := tx.Moderation.DeleteMute(ctx, cmd.target.ID, cmd.room.ID); err != nil {
			return err
		}
		return tx.Moderation.CreateAction(ctx, action)
	})
	if err != nil {
		return nil, storeErr(err, "unmute")
	}

	s.publishUnmuted(cmd.target.ID, cmd.room.Slug)
	s.logger.Info("user unmuted", "actor_id", cmd.actor.ID, "target_id", cmd.target.ID, "room", cmd.room.Slug)
	return action, nil
}

// Kick 移除成員資格與禁言並中斷連線，用戶之後仍可重新加入公開房間
func (s *ModerationService) Kick(ctx context.Context, req ModerationRequest) (*models.ModerationAction, error) {
	cmd, err := s.prepare(ctx, req, models.ActionKick, true)
	if err != nil {
		return nil, err
	}
	if cmd.reason == "" {
		cmd.reason = "You have been removed from this room"
	}
	cmd.duration, cmd.expiresAt = nil, nil

	action := cmd.action(models.ActionKick)
	note := cmd.notification(models.NotifyModeration, "You have been kicked",
		fmt.Sprintf("You were removed from %s: %s", cmd.room.Name, cmd.reason))
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if _, err := tx.Membership.Delete(ctx, cmd.target.ID, cmd.room.ID); err != nil {
			return err
		}
		if _, err := tx.Moderation.DeleteMute(ctx, cmd.target.ID, cmd.room.ID); err != nil {
			return err
		}
		if err := tx.Moderation.CreateAction(ctx, action); err != nil {
			return err
		}
		return tx.Notification.Create(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "kick")
	}

	s.publisher.Publish(realtime.UserRoomTopic(cmd.target.ID, cmd.room.Slug), realtime.MustEvent(
		&realtime.ForceDisconnectFrame{Action: "kick", Reason: cmd.reason}, realtime.ForUser(cmd.target.ID)))
	s.publishMemberRemoved(cmd)
	s.notifications.Push(ctx, note)
	s.logger.Info("user kicked", "actor_id", cmd.actor.ID, "target_id", cmd.target.ID, "room", cmd.room.Slug)
	return action, nil
}

// Warn 建立警告，房間警告送到該房間的連線，全域警告送到用戶所有房間
func (s *ModerationService) Warn(ctx context.Context, req ModerationRequest) (*models.ModerationAction, error) {
	cmd, err := s.prepare(ctx, req, models.ActionWarn, false)
	if err != nil {
		return nil, err
	}
	if cmd.reason == "" {
		return nil, validationf("a warning needs a reason")
	}
	cmd.duration, cmd.expiresAt = nil, nil

	action := cmd.action(models.ActionWarn)
	note := cmd.notification(models.NotifyWarning, "You received a warning", cmd.reason)
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		warning := &models.Warning{
			UserID:     cmd.target.ID,
			IssuedByID: cmd.actor.ID,
			RoomID:     cmd.roomID(),
			Reason:     cmd.reason,
		}
		if err := tx.Moderation.CreateWarning(ctx, warning); err != nil {
			return err
		}
		if err := tx.Moderation.CreateAction(ctx, action); err != nil {
			return err
		}
		return tx.Notification.Create(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "warning")
	}

	frame := &realtime.WarningFrame{Reason: cmd.reason, IssuedBy: cmd.actor.Username}
	topic := realtime.UserTopic(cmd.target.ID)
	if cmd.room != nil {
		frame.RoomName = cmd.room.Name
		topic = realtime.UserRoomTopic(cmd.target.ID, cmd.room.Slug)
	}
	s.publisher.Publish(topic, realtime.MustEvent(frame, realtime.ForUser(cmd.target.ID)))
	s.notifications.Push(ctx, note)
	s.logger.Info("user warned", "actor_id", cmd.actor.ID, "target_id", cmd.target.ID, "room", req.RoomSlug)
	return action, nil
}

// DeleteMessage 軟刪除訊息，審計記錄的目標是訊息的發送者
func (s *ModerationService) DeleteMessage(ctx context.Context, actor *models.User, messageID uint, reason string) (*models.ModerationAction, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	msg, err := s.repos.Message.FindByID(ctx, messageID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("message %d", messageID))
	}
	room, err := s.repos.Room.FindByID(ctx, msg.RoomID)
	if err != nil {
		return nil, storeErr(err, "room")
	}
	ok, err := canModerate(ctx, s.repos.Membership, room, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbiddenf("user %d cannot moderate %s", actor.ID, room.Slug)
	}

	roomID := room.ID
	action := &models.ModerationAction{
		ModeratorID:  actor.ID,
		TargetUserID: msg.SenderID,
		Kind:         models.ActionDelete,
		RoomID:       &roomID,
		Reason:       strings.TrimSpace(reason),
		Active:       true,
	}
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		deleted, err := tx.Message.SoftDelete(ctx, msg.ID, actor.ID, s.now())
		if err != nil {
			return err
		}
		if !deleted {
			return validationf("message %d is already deleted", msg.ID)
		}
		return tx.Moderation.CreateAction(ctx, action)
	})
	if err != nil {
		return nil, storeErr(err, "message")
	}

	s.publisher.Publish(realtime.RoomTopic(room.Slug), realtime.MustEvent(&realtime.MessageDeletedFrame{MessageID: msg.ID}))
	s.logger.Info("message deleted", "actor_id", actor.ID, "message_id", msg.ID, "room", room.Slug)
	return action, nil
}

// CheckMuted 回傳用戶在房間的禁言狀態，管理者或用戶本人可以查詢
func (s *ModerationService) CheckMuted(ctx context.Context, actor *models.User, slug string, userID uint) (moderation.MuteState, error) {
	room, err := s.repos.Room.FindBySlug(ctx, slug)
	if err != nil {
		return moderation.MuteState{}, storeErr(err, "room "+slug)
	}
	if actor.ID != userID {
		ok, err := canModerate(ctx, s.repos.Membership, room, actor)
		if err != nil {
			return moderation.MuteState{}, err
		}
		if !ok {
			return moderation.MuteState{}, forbiddenf("user %d cannot moderate %s", actor.ID, room.Slug)
		}
	}
	state, err := s.resolver.MuteStatus(ctx, userID, room.ID)
	if err != nil {
		return moderation.MuteState{}, storeErr(err, "mute")
	}
	return state, nil
}

// ListActions 回傳房間最近的管理記錄；slug 為空時回傳全部記錄，只限 staff
func (s *ModerationService) ListActions(ctx context.Context, actor *models.User, slug string, limit int) ([]models.ModerationAction, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultActionLimit
	}
	var roomID *uint
	if slug != "" {
		room, err := s.repos.Room.FindBySlug(ctx, slug)
		if err != nil {
			return nil, storeErr(err, "room "+slug)
		}
		ok, err := canModerate(ctx, s.repos.Membership, room, actor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, forbiddenf("user %d cannot moderate %s", actor.ID, room.Slug)
		}
		roomID = &room.ID
	} else if !actor.IsStaff && !actor.IsSuperuser {
		return nil, forbiddenf("only staff can list all actions")
	}
	actions, err := s.repos.Moderation.ListActions(ctx, roomID, limit)
	return actions, storeErr(err, "actions")
}

// HandleExpiry 在定時記錄到期時執行。解析器會順便失效記錄，禁言解除時通知用戶。
func (s *ModerationService) HandleExpiry(ctx context.Context, notice ExpiryNotice) error {
	room, err := s.repos.Room.FindByID(ctx, notice.RoomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err, "room")
	}

	switch notice.Kind {
	case models.ActionMute:
		state, err := s.resolver.MuteStatus(ctx, notice.UserID, room.ID)
		if err != nil {
			return err
		}
		if !state.Muted {
			s.publishUnmuted(notice.UserID, room.Slug)
		}
	case models.ActionBan:
		if _, err := s.resolver.RoomBanned(ctx, notice.UserID, room.ID); err != nil {
			return err
		}
	default:
		s.logger.Warn("unknown expiry kind", "kind", notice.Kind)
	}
	return nil
}

func (s *ModerationService) publishUnmuted(userID uint, slug string) {
	s.publisher.Publish(realtime.UserRoomTopic(userID, slug), realtime.MustEvent(
		&realtime.MuteStatusFrame{IsMuted: false}, realtime.ForUser(userID)))
}

func (s *ModerationService) publishMemberRemoved(cmd *command) {
	s.publisher.Publish(realtime.RoomTopic(cmd.room.Slug), realtime.MustEvent(&realtime.MemberRemovedFrame{
		UserID:   cmd.target.ID,
		Username: cmd.target.Username,
	}))
}

func (s *ModerationService) schedule(ctx context.Context, kind models.ActionKind, cmd *command) {
	if cmd.expiresAt == nil || cmd.room == nil {
		return
	}
	notice := ExpiryNotice{Kind: kind, UserID: cmd.target.ID, RoomID: cmd.room.ID, ExpiresAt: *cmd.expiresAt}
	if err := s.scheduler.ScheduleExpiry(ctx, notice); err != nil {
		s.logger.Warn("schedule expiry notice", "kind", kind, "user_id", cmd.target.ID, "room_id", cmd.room.ID, "error", err)
	}
}
