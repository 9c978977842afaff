package models

import (
	"time"

	"gorm.io/gorm"
)

// Room 表示一個聊天室
type Room struct {
	gorm.Model
	Name        string         `gorm:"not null" json:"name"`
	Slug        string         `gorm:"uniqueIndex;not null" json:"slug"`
	Description string         `gorm:"type:text" json:"description"`
	Visibility  RoomVisibility `gorm:"type:varchar(10);not null;default:public" json:"visibility"`
	OwnerID     uint           `gorm:"not null;index" json:"owner_id"`
}

// RoomVisibility 定義房間可見性
type RoomVisibility string

const (
	RoomPublic  RoomVisibility = "public"
	RoomPrivate RoomVisibility = "private"
)

// IsOwner 判斷用戶是否為房間擁有者
func (r *Room) IsOwner(userID uint) bool {
	return r != nil && r.OwnerID == userID
}

// MemberRole 定義成員在房間中的角色，擁有者不需要 Membership 記錄
type MemberRole string

const (
	RoleAdmin     MemberRole = "admin"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

// CanModerate 判斷角色是否具備管理權限
func (r MemberRole) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Membership 表示用戶與房間的關係，(user, room) 唯一
type Membership struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;uniqueIndex:idx_membership_user_room" json:"user_id"`
	RoomID     uint       `gorm:"not null;uniqueIndex:idx_membership_user_room;index" json:"room_id"`
	Role       MemberRole `gorm:"type:varchar(20);not null;default:member" json:"role"`
	JoinedAt   time.Time  `gorm:"not null" json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at"`
}
