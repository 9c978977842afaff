package models

import (
	"time"
)

// Message 表示房間中的一則訊息，建立後除了軟刪除欄位外不可修改
type Message struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	RoomID      uint       `gorm:"not null;index" json:"room_id"`
	SenderID    uint       `gorm:"not null;index" json:"sender_id"`
	Content     *string    `gorm:"type:text" json:"content"` // 純圖片訊息時為 nil
	ImageURL    *string    `json:"image_url"`
	ParentID    *uint      `gorm:"index" json:"parent_id"`
	IsDeleted   bool       `gorm:"not null;default:false" json:"is_deleted"`
	DeletedByID *uint      `json:"deleted_by_id"`
	DeletedAt   *time.Time `json:"deleted_at"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
}

// Text 回傳訊息文字，純圖片訊息回傳空字串
func (m *Message) Text() string {
	if m == nil || m.Content == nil {
		return ""
	}
	return *m.Content
}
