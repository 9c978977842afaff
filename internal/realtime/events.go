package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"roomchat/internal/models"
)

// EventType 是送給客戶端的 frame 類型
type EventType string

const (
	EventMessage         EventType = "message"
	EventTyping          EventType = "typing"
	EventMessageDeleted  EventType = "message_deleted"
	EventMemberAdded     EventType = "member_added"
	EventMemberRemoved   EventType = "member_removed"
	EventMuteStatus      EventType = "mute_status"
	EventForceDisconnect EventType = "force_disconnect"
	EventWarning         EventType = "warning"
	EventError           EventType = "error"
	EventStatus          EventType = "status"
	EventNotification    EventType = "notification"
	EventUnreadCount     EventType = "unread_count"
)

// Event 是在 Broker 中流動的單位，Frame 只編碼一次，所有訂閱者共用
type Event struct {
	Type     EventType       `json:"type"`
	SenderID uint            `json:"sender_id,omitempty"` // typing 不回送給自己
	TargetID uint            `json:"target_id,omitempty"` // 非零時只送給該用戶
	Frame    json.RawMessage `json:"frame"`
}

// DeliverableTo 判斷事件是否應該送給 userID 的連線
func (e Event) DeliverableTo(userID uint) bool {
	if e.TargetID != 0 && e.TargetID != userID {
		return false
	}
	if e.Type == EventTyping && e.SenderID == userID {
		return false
	}
	return true
}

// Frame 是所有送出 frame 的共同介面
type Frame interface {
	FrameType() EventType
	setType(EventType)
}

type frameHeader struct {
	Type EventType `json:"type"`
}

func (h *frameHeader) setType(t EventType) { h.Type = t }

// EventOption 調整 NewEvent 建立的事件
type EventOption func(*Event)

// FromUser 標記事件的發送者
func FromUser(userID uint) EventOption {
	return func(e *Event) { e.SenderID = userID }
}

// ForUser 限制事件只送給指定用戶
func ForUser(userID uint) EventOption {
	return func(e *Event) { e.TargetID = userID }
}

// NewEvent 編碼 frame 並建立事件
func NewEvent(frame Frame, opts ...EventOption) (Event, error) {
	t := frame.FrameType()
	frame.setType(t)
	raw, err := json.Marshal(frame)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s frame: %w", t, err)
	}
	ev := Event{Type: t, Frame: raw}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev, nil
}

// MustEvent 與 NewEvent 相同，但編碼失敗時 panic。只用於結構固定的 frame。
func MustEvent(frame Frame, opts ...EventOption) Event {
	ev, err := NewEvent(frame, opts...)
	if err != nil {
		panic(err)
	}
	return ev
}

type MessageFrame struct {
	frameHeader
	Message   string  `json:"message"`
	Username  string  `json:"username"`
	UserID    uint    `json:"user_id"`
	ImageURL  *string `json:"image_url"`
	MessageID uint    `json:"message_id"`
	ParentID  *uint   `json:"parent_id,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func (MessageFrame) FrameType() EventType { return EventMessage }

// NewMessageFrame 由已儲存的訊息建立 frame
func NewMessageFrame(msg *models.Message, username string) *MessageFrame {
	return &MessageFrame{
		Message:   msg.Text(),
		Username:  username,
		UserID:    msg.SenderID,
		ImageURL:  msg.ImageURL,
		MessageID: msg.ID,
		ParentID:  msg.ParentID,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type TypingFrame struct {
	frameHeader
	Username string `json:"username"`
	UserID   uint   `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

func (TypingFrame) FrameType() EventType { return EventTyping }

type MessageDeletedFrame struct {
	frameHeader
	MessageID uint `json:"message_id"`
}

func (MessageDeletedFrame) FrameType() EventType { return EventMessageDeleted }

type MemberAddedFrame struct {
	frameHeader
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsOwner  bool   `json:"is_owner"`
}

func (MemberAddedFrame) FrameType() EventType { return EventMemberAdded }

type MemberRemovedFrame struct {
	frameHeader
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

func (MemberRemovedFrame) FrameType() EventType { return EventMemberRemoved }

type MuteStatusFrame struct {
	frameHeader
	IsMuted   bool       `json:"is_muted"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (MuteStatusFrame) FrameType() EventType { return EventMuteStatus }

// ForceDisconnectFrame 寫出後伺服器會關閉連線
type ForceDisconnectFrame struct {
	frameHeader
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (ForceDisconnectFrame) FrameType() EventType { return EventForceDisconnect }

type WarningFrame struct {
	frameHeader
	Reason   string `json:"reason"`
	IssuedBy string `json:"issued_by"`
	RoomName string `json:"room_name"`
}

func (WarningFrame) FrameType() EventType { return EventWarning }

type ErrorFrame struct {
	frameHeader
	Message string `json:"message"`
}

func (ErrorFrame) FrameType() EventType { return EventError }

type StatusFrame struct {
	frameHeader
	UserID   uint                `json:"user_id"`
	Username string              `json:"username"`
	Status   models.OnlineStatus `json:"status"`
}

func (StatusFrame) FrameType() EventType { return EventStatus }

type NotificationFrame struct {
	frameHeader
	Notification *models.Notification `json:"notification"`
}

func (NotificationFrame) FrameType() EventType { return EventNotification }

type UnreadCountFrame struct {
	frameHeader
	Count int64 `json:"count"`
}

func (UnreadCountFrame) FrameType() EventType { return EventUnreadCount }

// PresenceTopic 是所有在線狀態連線共用的主題
const PresenceTopic = "presence"

// RoomTopic 房間內所有連線
func RoomTopic(slug string) string { return "room:" + slug }

// UserRoomTopic 某用戶在某房間的連線
func UserRoomTopic(userID uint, slug string) string {
	return fmt.Sprintf("user:%d:%s", userID, slug)
}

// UserTopic 某用戶所有房間的連線，用於全域封鎖與全域警告
func UserTopic(userID uint) string { return fmt.Sprintf("user:%d", userID) }

// NotificationTopic 某用戶的通知連線
func NotificationTopic(userID uint) string { return fmt.Sprintf("notif:%d", userID) }
