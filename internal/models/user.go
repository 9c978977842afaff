package models

import (
	"time"

	"gorm.io/gorm"
)

// User 表示系統中的用戶
type User struct {
	gorm.Model         // 內嵌 gorm.Model，提供 ID、CreatedAt、UpdatedAt 和 DeletedAt 字段
	Username    string `gorm:"uniqueIndex;not null" json:"username"` // 用戶名，必須唯一
	Password    string `gorm:"not null" json:"-"`                    // 密碼，json 序列化時會被忽略
	IsStaff     bool   `gorm:"not null;default:false" json:"is_staff"`
	IsSuperuser bool   `gorm:"not null;default:false" json:"is_superuser"`
}

// OnlineStatus 定義用戶在線狀態
type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "online"
	StatusAway    OnlineStatus = "away"
	StatusOffline OnlineStatus = "offline"
)

// Valid 檢查狀態是否為允許的值
func (s OnlineStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// Profile 保存用戶的在線狀態與全域封鎖資訊，每個用戶只有一筆
type Profile struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	UserID       uint         `gorm:"uniqueIndex;not null" json:"user_id"`
	OnlineStatus OnlineStatus `gorm:"type:varchar(20);not null;default:offline" json:"online_status"`
	LastSeen     time.Time    `json:"last_seen"`
	IsBanned     bool         `gorm:"not null;default:false" json:"is_banned"`
	BanReason    string       `gorm:"type:text" json:"ban_reason"`
	BannedUntil  *time.Time   `json:"banned_until"` // nil 表示永久封鎖
	IsDisabled   bool         `gorm:"not null;default:false" json:"is_disabled"`
	CreatedAt    time.Time    `json:"created_at"`
}

// BannedAt 判斷在 now 時刻全域封鎖是否仍然有效
func (p *Profile) BannedAt(now time.Time) bool {
	if p == nil || !p.IsBanned {
		return false
	}
	if p.BannedUntil == nil {
		return true
	}
	return now.Before(*p.BannedUntil)
}
