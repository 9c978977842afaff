package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"roomchat/internal/models"
	"roomchat/internal/moderation"
	"roomchat/internal/realtime"
	"roomchat/internal/repository"
)

const (
	maxRoomNameLength  = 100
	defaultPageSize    = 50
	maxPageSize        = 200
	deletedPlaceholder = "[Message deleted]"
)

var (
	slugInvalid = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	mentionExpr = regexp.MustCompile(`@([\p{L}\p{N}_.\-]+)`)
)

// MessageInput 是送出訊息時的輸入
type MessageInput struct {
	Text     string
	ImageURL *string
	ParentID *uint
}

// OnlineMember 是房間中目前有連線的用戶
type OnlineMember struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

type RoomService struct {
	repos         *repository.Repositories
	resolver      *moderation.Resolver
	publisher     realtime.Publisher
	registry      *realtime.Registry
	notifications *NotificationService
	logger        *slog.Logger
	now           func() time.Time

	maxMessageLength int
}

func NewRoomService(repos *repository.Repositories, resolver *moderation.Resolver, publisher realtime.Publisher,
	registry *realtime.Registry, notifications *NotificationService, maxMessageLength int, logger *slog.Logger) *RoomService {
	return &RoomService{
		repos:            repos,
		resolver:         resolver,
		publisher:        publisher,
		registry:         registry,
		notifications:    notifications,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
		maxMessageLength: maxMessageLength,
	}
}

// SetClock 替換時間來源
func (s *RoomService) SetClock(now func() time.Time) { s.now = now }

// Slugify 把房間名稱轉成網址用的 slug，只保留字母與數字
func Slugify(name string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "room"
	}
	return slug
}

// CreateRoom 建立房間，slug 衝突時加上數字後綴。建立者同時成為 admin 成員。
func (s *RoomService) CreateRoom(ctx context.Context, owner *models.User, name, description string, visibility models.RoomVisibility) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLength {
		return nil, validationf("room name must be 1-%d characters", maxRoomNameLength)
	}
	if visibility == "" {
		visibility = models.RoomPublic
	}
	if visibility != models.RoomPublic && visibility != models.RoomPrivate {
		return nil, validationf("unknown visibility %q", visibility)
	}

	room := &models.Room{
		Name:        name,
		Description: strings.TrimSpace(description),
		Visibility:  visibility,
		OwnerID:     owner.ID,
	}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		slug, err := uniqueSlug(ctx, tx.Room, Slugify(name))
		if err != nil {
			return err
		}
		room.Slug = slug
		if err := tx.Room.Create(ctx, room); err != nil {
			return err
		}
		_, _, err = tx.Membership.Ensure(ctx, owner.ID, room.ID, models.RoleAdmin)
		return err
	})
	if err != nil {
		return nil, storeErr(err, "room")
	}
	s.logger.Info("room created", "room", room.Slug, "owner_id", owner.ID)
	return room, nil
}

func uniqueSlug(ctx context.Context, rooms repository.RoomRepository, base string) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		exists, err := rooms.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

func (s *RoomService) GetRoom(ctx context.Context, slug string) (*models.Room, error) {
	room, err := s.repos.Room.FindBySlug(ctx, slug)
	if err != nil {
		return nil, storeErr(err, "room "+slug)
	}
	return room, nil
}

// ListRooms 回傳公開房間與用戶擁有或加入的私人房間
func (s *RoomService) ListRooms(ctx context.Context, userID uint) ([]models.Room, error) {
	all, err := s.repos.Room.FindAll(ctx)
	if err != nil {
		return nil, storeErr(err, "rooms")
	}
	rooms := make([]models.Room, 0, len(all))
	for _, room := range all {
		if room.Visibility == models.RoomPublic || room.IsOwner(userID) {
			rooms = append(rooms, room)
			continue
		}
		if _, err := s.repos.Membership.Find(ctx, userID, room.ID); err == nil {
			rooms = append(rooms, room)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, storeErr(err, "membership")
		}
	}
	return rooms, nil
}

// CanModerate 判斷 actor 是否可以管理房間：staff、擁有者或 admin/moderator 成員
func (s *RoomService) CanModerate(ctx context.Context, room *models.Room, actor *models.User) (bool, error) {
	return canModerate(ctx, s.repos.Membership, room, actor)
}

func canModerate(ctx context.Context, memberships repository.MembershipRepository, room *models.Room, actor *models.User) (bool, error) {
	if actor.IsStaff || actor.IsSuperuser || room.IsOwner(actor.ID) {
		return true, nil
	}
	m, err := memberships.Find(ctx, actor.ID, room.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, "membership")
	}
	return m.Role.CanModerate(), nil
}

// EnsureMembership 冪等地建立一般成員資格，回傳是否為新建立
func (s *RoomService) EnsureMembership(ctx context.Context, room *models.Room, userID uint) (bool, error) {
	_, created, err := s.repos.Membership.Ensure(ctx, userID, room.ID, models.RoleMember)
	if err != nil {
		return false, storeErr(err, "membership")
	}
	return created, nil
}

// AuthorizeJoin 檢查用戶能否進入房間，公開房間會自動加入。
// 只有實際新增成員時才發佈 member_added。
func (s *RoomService) AuthorizeJoin(ctx context.Context, room *models.Room, user *models.User) (bool, error) {
	allowed, err := s.resolver.CanAccess(ctx, user.ID, room.ID)
	if err != nil {
		return false, storeErr(err, "moderation state")
	}
	if !allowed {
		return false, forbiddenf("user %d is banned from %s", user.ID, room.Slug)
	}

	if room.IsOwner(user.ID) {
		return false, nil
	}
	if room.Visibility == models.RoomPrivate {
		if _, err := s.repos.Membership.Find(ctx, user.ID, room.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return false, forbiddenf("%s is a private room", room.Slug)
			}
			return false, storeErr(err, "membership")
		}
		return false, nil
	}

	created, err := s.EnsureMembership(ctx, room, user.ID)
	if err != nil {
		return false, err
	}
	if created {
		s.publisher.Publish(realtime.RoomTopic(room.Slug), realtime.MustEvent(&realtime.MemberAddedFrame{
			UserID:   user.ID,
			Username: user.Username,
			IsOwner:  false,
		}))
	}
	return created, nil
}

// JoinRoom 供 HTTP 介面使用的加入房間
func (s *RoomService) JoinRoom(ctx context.Context, slug string, user *models.User) (bool, error) {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return false, err
	}
	return s.AuthorizeJoin(ctx, room, user)
}

// LeaveRoom 刪除成員資格並關閉用戶在房間中的連線。擁有者不能離開。
func (s *RoomService) LeaveRoom(ctx context.Context, slug string, user *models.User) error {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return err
	}
	if room.IsOwner(user.ID) {
		return validationf("the owner cannot leave the room")
	}
	deleted, err := s.repos.Membership.Delete(ctx, user.ID, room.ID)
	if err != nil {
		return storeErr(err, "membership")
	}
	if !deleted {
		return nil
	}
	s.publisher.Publish(realtime.UserRoomTopic(user.ID, room.Slug), realtime.MustEvent(
		&realtime.ForceDisconnectFrame{Action: "leave", Reason: "You left this room"}, realtime.ForUser(user.ID)))
	s.publisher.Publish(realtime.RoomTopic(room.Slug), realtime.MustEvent(&realtime.MemberRemovedFrame{
		UserID: user.ID, Username: user.Username,
	}))
	return nil
}

// DeleteRoom 由擁有者或 staff 刪除房間，並斷開房間中所有連線
func (s *RoomService) DeleteRoom(ctx context.Context, slug string, actor *models.User) error {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return err
	}
	if !room.IsOwner(actor.ID) && !actor.IsStaff && !actor.IsSuperuser {
		return forbiddenf("only the room owner can delete %s", room.Slug)
	}

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		deleted, err := tx.Room.Delete(ctx, room.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return repository.ErrNotFound
		}
		_, err = tx.Membership.DeleteByRoom(ctx, room.ID)
		return err
	})
	if err != nil {
		return storeErr(err, "room")
	}

	n := s.publisher.Publish(realtime.RoomTopic(room.Slug), realtime.MustEvent(&realtime.ForceDisconnectFrame{
		Action: "room_deleted",
		Reason: fmt.Sprintf("Room %q has been deleted", room.Name),
	}))
	s.logger.Info("room deleted", "room", room.Slug, "actor_id", actor.ID, "disconnected", n)
	return nil
}

// InviteUser 把用戶加入私人房間並通知對方
func (s *RoomService) InviteUser(ctx context.Context, slug string, actor *models.User, username string) (bool, error) {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return false, err
	}
	if room.Visibility != models.RoomPrivate {
		return false, validationf("%s is public, anyone can join", room.Slug)
	}
	ok, err := s.CanModerate(ctx, room, actor)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, forbiddenf("user %d cannot invite to %s", actor.ID, room.Slug)
	}
	target, err := s.repos.User.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return false, storeErr(err, fmt.Sprintf("user %q", username))
	}

	var notification *models.Notification
	var created bool
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		_, created, err = tx.Membership.Ensure(ctx, target.ID, room.ID, models.RoleMember)
		if err != nil || !created {
			return err
		}
		roomID, actorID := room.ID, actor.ID
		notification = &models.Notification{
			RecipientID:   target.ID,
			Kind:          models.NotifyInvite,
			Title:         "Room Invitation",
			Message:       fmt.Sprintf("%s invited you to join %q", actor.Username, room.Name),
			RoomID:        &roomID,
			RelatedUserID: &actorID,
		}
		return tx.Notification.Create(ctx, notification)
	})
	if err != nil {
		return false, storeErr(err, "membership")
	}
	if created {
		s.notifications.Push(ctx, notification)
		s.publisher.Publish(realtime.RoomTopic(room.Slug), realtime.MustEvent(&realtime.MemberAddedFrame{
			UserID: target.ID, Username: target.Username,
		}))
	}
	return created, nil
}

// canRead 判斷用戶能否讀取房間內容
func (s *RoomService) canRead(ctx context.Context, room *models.Room, user *models.User) error {
	allowed, err := s.resolver.CanAccess(ctx, user.ID, room.ID)
	if err != nil {
		return storeErr(err, "moderation state")
	}
	if !allowed {
		return forbiddenf("user %d is banned from %s", user.ID, room.Slug)
	}
	if room.Visibility == models.RoomPublic || room.IsOwner(user.ID) || user.IsStaff {
		return nil
	}
	if _, err := s.repos.Membership.Find(ctx, user.ID, room.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return forbiddenf("%s is a private room", room.Slug)
		}
		return storeErr(err, "membership")
	}
	return nil
}

// ViewRoom 回傳用戶可以讀取的房間
func (s *RoomService) ViewRoom(ctx context.Context, slug string, user *models.User) (*models.Room, error) {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, room, user); err != nil {
		return nil, err
	}
	return room, nil
}

// History 依 id 游標回傳較舊的訊息（遞增排序），已刪除訊息的內容會被遮蔽
func (s *RoomService) History(ctx context.Context, slug string, user *models.User, beforeID uint, limit int) ([]models.Message, error) {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, room, user); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	messages, err := s.repos.Message.FindByRoom(ctx, room.ID, beforeID, limit)
	if err != nil {
		return nil, storeErr(err, "messages")
	}
	placeholder := deletedPlaceholder
	for i := range messages {
		if messages[i].IsDeleted {
			messages[i].Content = &placeholder
			messages[i].ImageURL = nil
		}
	}
	if err := s.repos.Membership.MarkRead(ctx, user.ID, room.ID, s.now()); err != nil {
		s.logger.Warn("mark room read", "room", room.Slug, "user_id", user.ID, "error", err)
	}
	return messages, nil
}

// OnlineMembers 回傳房間中目前在線的用戶
func (s *RoomService) OnlineMembers(ctx context.Context, slug string, user *models.User) ([]OnlineMember, error) {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, room, user); err != nil {
		return nil, err
	}
	ids := s.registry.MembersOf(room.Slug)
	members := make([]OnlineMember, 0, len(ids))
	for _, id := range ids {
		handles := s.registry.HandlesOf(room.Slug, id)
		if len(handles) == 0 {
			continue
		}
		members = append(members, OnlineMember{UserID: id, Username: handles[0].Username()})
	}
	return members, nil
}

// PostMessage 供 HTTP 介面送出訊息，存取規則與 WebSocket 加入時相同
func (s *RoomService) PostMessage(ctx context.Context, slug string, sender *models.User, in MessageInput) (*models.Message, error) {
	room, err := s.GetRoom(ctx, slug)
	if err != nil {
		return nil, err
	}
	if _, err := s.AuthorizeJoin(ctx, room, sender); err != nil {
		return nil, err
	}
	return s.SendMessage(ctx, room, sender, in)
}

// SendMessage 在送出時重新檢查封鎖與禁言，通過後儲存並廣播。
// 被封鎖回傳 ErrForbidden，被禁言回傳 ErrMuted，兩者都不會寫入任何資料。
func (s *RoomService) SendMessage(ctx context.Context, room *models.Room, sender *models.User, in MessageInput) (*models.Message, error) {
	status, err := s.resolver.Resolve(ctx, sender.ID, room.ID)
	if err != nil {
		return nil, storeErr(err, "moderation state")
	}
	if status.Denied() {
		return nil, forbiddenf("user %d is banned from %s", sender.ID, room.Slug)
	}
	if status.RoomMuted {
		return nil, fmt.Errorf("%w: user %d in %s", ErrMuted, sender.ID, room.Slug)
	}

	text := strings.TrimSpace(in.Text)
	var image *string
	if in.ImageURL != nil && strings.TrimSpace(*in.ImageURL) != "" {
		url := strings.TrimSpace(*in.ImageURL)
		image = &url
	}
	if text == "" && image == nil {
		return nil, validationf("message cannot be empty")
	}
	if utf8.RuneCountInString(text) > s.maxMessageLength {
		return nil, validationf("message exceeds %d characters", s.maxMessageLength)
	}

	var parent *models.Message
	if in.ParentID != nil {
		parent, err = s.repos.Message.FindByID(ctx, *in.ParentID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && parent.RoomID != room.ID) {
			return nil, validationf("reply target %d is not in this room", *in.ParentID)
		}
		if err != nil {
			return nil, storeErr(err, "message")
		}
	}

	msg := &models.Message{
		RoomID:    room.ID,
		SenderID:  sender.ID,
		ImageURL:  image,
		ParentID:  in.ParentID,
		CreatedAt: s.now(),
	}
	if text != "" {
		msg.Content = &text
	}
	if err := s.repos.Message.Create(ctx, msg); err != nil {
		return nil, storeErr(err, "message")
	}

	s.publisher.Publish(realtime.RoomTopic(room.Slug), realtime.MustEvent(realtime.NewMessageFrame(msg, sender.Username), realtime.FromUser(sender.ID)))
	s.notifyMessage(ctx, room, sender, msg, parent)
	return msg, nil
}

// notifyMessage 為回覆與 @提及 建立通知，失敗只記錄
func (s *RoomService) notifyMessage(ctx context.Context, room *models.Room, sender *models.User, msg *models.Message, parent *models.Message) {
	roomID, msgID, senderID := room.ID, msg.ID, sender.ID
	notified := map[uint]bool{sender.ID: true}

	send := func(recipient uint, kind models.NotificationKind, title, body string) {
		if notified[recipient] {
			return
		}
		notified[recipient] = true
		n := &models.Notification{
			RecipientID:   recipient,
			Kind:          kind,
			Title:         title,
			Message:       body,
			RoomID:        &roomID,
			MessageID:     &msgID,
			RelatedUserID: &senderID,
		}
		if err := s.notifications.Notify(ctx, n); err != nil {
			s.logger.Warn("create message notification", "kind", kind, "recipient_id", recipient, "error", err)
		}
	}

	if parent != nil {
		send(parent.SenderID, models.NotifyReply, "New reply",
			fmt.Sprintf("%s replied to your message in %s", sender.Username, room.Name))
	}
	for _, match := range mentionExpr.FindAllStringSubmatch(msg.Text(), -1) {
		user, err := s.repos.User.FindByUsername(ctx, match[1])
		if err != nil {
			continue
		}
		send(user.ID, models.NotifyMention, "You were mentioned",
			fmt.Sprintf("%s mentioned you in %s", sender.Username, room.Name))
	}
}
