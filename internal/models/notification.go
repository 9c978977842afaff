package models

import "time"

// NotificationKind 定義通知類型
type NotificationKind string

const (
	NotifyMention    NotificationKind = "mention"
	NotifyMessage    NotificationKind = "message"
	NotifyInvite     NotificationKind = "invite"
	NotifyReply      NotificationKind = "reply"
	NotifyWarning    NotificationKind = "warning"
	NotifyModeration NotificationKind = "moderation"
)

// Notification 表示發送給用戶的通知
type Notification struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	RecipientID   uint             `gorm:"not null;index:idx_notification_unread" json:"recipient_id"`
	Kind          NotificationKind `gorm:"type:varchar(20);not null" json:"notification_type"`
	Title         string           `gorm:"size:200;not null" json:"title"`
	Message       string           `gorm:"type:text" json:"message"`
	IsRead        bool             `gorm:"not null;default:false;index:idx_notification_unread" json:"is_read"`
	RoomID        *uint            `json:"related_room_id,omitempty"`
	MessageID     *uint            `json:"related_message_id,omitempty"`
	RelatedUserID *uint            `json:"related_user_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// All 回傳所有需要遷移的模型
func All() []interface{} {
	return []interface{}{
		&User{}, &Profile{}, &Room{}, &Membership{}, &Message{},
		&ModerationAction{}, &Mute{}, &Warning{}, &Report{}, &Notification{},
	}
}
